package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/luckyswap/pkg/app/core/gasdesk"
	"github.com/uhyunpark/luckyswap/pkg/app/core/ledger"
	"github.com/uhyunpark/luckyswap/pkg/app/core/mempool"
	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
	"github.com/uhyunpark/luckyswap/pkg/app/core/randomness"
	"github.com/uhyunpark/luckyswap/pkg/app/core/settle"
	"github.com/uhyunpark/luckyswap/pkg/metrics"
)

type Config struct {
	// Operator is the member address batch calls are made as.
	Operator       common.Address
	AllowedOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	engine  *settle.Engine
	desk    *gasdesk.Desk
	auth    *gasdesk.Authorizer
	source  randomness.Source
	metrics *metrics.Metrics
	pool    *mempool.Mempool
	cfg     Config

	router *mux.Router
	hub    *Hub
	http   *http.Server
	log    *zap.SugaredLogger
}

func NewServer(cfg Config, engine *settle.Engine, desk *gasdesk.Desk, source randomness.Source, m *metrics.Metrics, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		engine:  engine,
		desk:    desk,
		auth:    gasdesk.NewAuthorizer(engine.EIP712()),
		source:  source,
		metrics: m,
		cfg:     cfg,
		router:  mux.NewRouter(),
		pool:    mempool.NewMempool(),
		hub:     NewHub(logger),
		log:     logger,
	}
	s.setupRoutes()
	return s
}

// Hub is the websocket fan-out; attach it to the event bus.
func (s *Server) Hub() *Hub { return s.hub }

// Mempool holds paid match requests; attach it to the event bus.
func (s *Server) Mempool() *mempool.Mempool { return s.pool }

// Handler returns the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Orders
	api.HandleFunc("/orders/hash", s.handleHashOrder).Methods("POST")
	api.HandleFunc("/orders/validate", s.handleValidate).Methods("POST")
	api.HandleFunc("/orders/{hash}/status", s.handleGetStatus).Methods("GET")
	api.HandleFunc("/counters/{address}", s.handleGetCounter).Methods("GET")

	// Randomness
	api.HandleFunc("/randomness", s.handleRequestRandomness).Methods("POST")
	api.HandleFunc("/randomness/{token}/draw", s.handleDraw).Methods("POST")

	// Batches
	api.HandleFunc("/batches/prepare", s.handlePrepare).Methods("POST")
	api.HandleFunc("/batches/match", s.handleMatch).Methods("POST")
	api.HandleFunc("/batches/{token}/abort", s.handleAbort).Methods("POST")
	api.HandleFunc("/batches/{token}", s.handleGetBatch).Methods("GET")

	// Fee desk
	api.HandleFunc("/requests", s.handleRequestMatch).Methods("POST")
	api.HandleFunc("/requests/pending", s.handlePending).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Start serves until Shutdown is called.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Infow("api_server_starting", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHashOrder(w http.ResponseWriter, r *http.Request) {
	var req OrderComponents
	if !decode(w, r, &req) {
		return
	}
	c, err := req.toOrder()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	h, err := s.engine.HashOrder(c)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to hash order", err.Error())
		return
	}
	respondJSON(w, HashOrderResponse{OrderHash: h, Digest: s.engine.EIP712().Digest(h)})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if !decode(w, r, &req) {
		return
	}
	orders, err := ordersOf(req.Orders)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	if err := s.engine.Validate(r.Context(), orders); err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]any{"status": "validated", "orders": len(orders)})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	h, ok := hashVar(w, r, "hash")
	if !ok {
		return
	}
	st, err := s.engine.GetStatus(h)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, newStatusInfo(h, st))
}

func (s *Server) handleGetCounter(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}
	addr := common.HexToAddress(addressStr)
	counter, err := s.engine.GetCounter(addr)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, CounterInfo{Address: addr, Counter: counter.String()})
}

func (s *Server) handleRequestRandomness(w http.ResponseWriter, r *http.Request) {
	var req RandomnessRequest
	if !decode(w, r, &req) {
		return
	}
	if req.NumWords == 0 {
		req.NumWords = 1
	}
	token, err := s.engine.RequestRandomness(r.Context(), s.cfg.Operator, req.NumWords)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, RandomnessResponse{Token: token})
}

func (s *Server) handleDraw(w http.ResponseWriter, r *http.Request) {
	token, ok := hashVar(w, r, "token")
	if !ok {
		return
	}
	var req DrawRequest
	if !decode(w, r, &req) {
		return
	}
	words, err := s.source.RandomWords(r.Context(), token)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, randomness.ErrUnknownRequest):
			status = http.StatusNotFound
		case errors.Is(err, randomness.ErrNotFulfilled):
			status = http.StatusConflict
		}
		respondError(w, status, "randomness unavailable", err.Error())
		return
	}
	resolvers, err := randomness.DeriveResolvers(words, req.Orders, req.odds())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid draw", err.Error())
		return
	}
	resp := make([]LuckResolver, len(resolvers))
	for i, lr := range resolvers {
		resp[i] = LuckResolver(lr)
	}
	respondJSON(w, resp)
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if !decode(w, r, &req) {
		return
	}
	pr, err := req.toSettle()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	if err := s.engine.Prepare(r.Context(), s.cfg.Operator, pr); err != nil {
		s.respondEngineError(w, err)
		return
	}
	b, err := s.engine.Batch(req.Token)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, b)
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if !decode(w, r, &req) {
		return
	}
	mr, err := req.toSettle()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order", err.Error())
		return
	}
	out, err := s.engine.Match(r.Context(), s.cfg.Operator, mr)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, newBatchOutcome(out))
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	token, ok := hashVar(w, r, "token")
	if !ok {
		return
	}
	if err := s.engine.Abort(r.Context(), s.cfg.Operator, token); err != nil {
		s.respondEngineError(w, err)
		return
	}
	b, err := s.engine.Batch(token)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, b)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	token, ok := hashVar(w, r, "token")
	if !ok {
		return
	}
	b, err := s.engine.Batch(token)
	if err != nil {
		s.respondEngineError(w, err)
		return
	}
	respondJSON(w, b)
}

func (s *Server) handleRequestMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchFeeRequest
	if !decode(w, r, &req) {
		return
	}
	if s.desk == nil {
		respondError(w, http.StatusNotFound, "fee desk disabled", "")
		return
	}
	h, err := s.auth.Authorize(req.toRequest(), req.Signature, s.engine.Clock.Now())
	if err != nil {
		status := http.StatusUnauthorized
		if errors.Is(err, gasdesk.ErrRequestReplayed) {
			status = http.StatusConflict
		}
		respondError(w, status, "request not authorized", err.Error())
		return
	}
	payment := toBig(req.Payment)
	refund, err := s.desk.RequestMatch(r.Context(), req.Requester, req.Orders, payment)
	if err != nil {
		s.auth.Release(h)
		status := http.StatusUnprocessableEntity
		if errors.Is(err, ledger.ErrInsufficientApproval) || errors.Is(err, ledger.ErrInsufficientBalance) {
			status = http.StatusPaymentRequired
		}
		respondError(w, status, "request rejected", err.Error())
		return
	}
	respondJSON(w, MatchFeeResponse{Fee: new(big.Int).Sub(payment, refund).String(), Refund: refund.String()})
}

// handlePending lists paid requests oldest first; ?limit=N caps the list.
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = n
	}
	respondJSON(w, PendingResponse{Total: s.pool.Len(), Requests: s.pool.Pending(limit)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func ordersOf(in []Order) ([]order.Order, error) {
	out := make([]order.Order, len(in))
	for i, o := range in {
		v, err := o.toOrder()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func hashVar(w http.ResponseWriter, r *http.Request, name string) (common.Hash, bool) {
	raw := mux.Vars(r)[name]
	b, err := hexutil.Decode(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid "+name, raw)
		return common.Hash{}, false
	}
	return common.BytesToHash(b), true
}

// respondEngineError maps settlement failures to HTTP statuses: access
// failures are 403, unknown tokens 404, every other settlement reason 422.
func (s *Server) respondEngineError(w http.ResponseWriter, err error) {
	var se *settle.Error
	if !errors.As(err, &se) {
		s.log.Errorw("engine_call_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "internal error", err.Error())
		return
	}
	status := http.StatusUnprocessableEntity
	switch {
	case errors.Is(err, settle.AccessError):
		status = http.StatusForbidden
	case errors.Is(err, settle.ErrUnknownToken):
		status = http.StatusNotFound
	}
	resp := ErrorResponse{
		Error:   se.Reason.Code,
		Message: err.Error(),
		Kind:    string(se.Reason.Kind),
	}
	if se.OrderHash != (common.Hash{}) {
		h := se.OrderHash
		resp.OrderHash = &h
	}
	if se.OrderIndex >= 0 {
		i := se.OrderIndex
		resp.OrderIndex = &i
	}
	if se.ItemIndex >= 0 {
		i := se.ItemIndex
		resp.ItemIndex = &i
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
