package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/luckyswap/params"
	"github.com/uhyunpark/luckyswap/pkg/api"
	"github.com/uhyunpark/luckyswap/pkg/app/core/gasdesk"
	"github.com/uhyunpark/luckyswap/pkg/app/core/ledger"
	"github.com/uhyunpark/luckyswap/pkg/app/core/randomness"
	"github.com/uhyunpark/luckyswap/pkg/app/core/settle"
	"github.com/uhyunpark/luckyswap/pkg/app/core/state"
	"github.com/uhyunpark/luckyswap/pkg/events"
	"github.com/uhyunpark/luckyswap/pkg/metrics"
	"github.com/uhyunpark/luckyswap/pkg/util"
)

func main() {
	// Priority: ENV > .env file > defaults
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var logger *zap.Logger
	if cfg.Log.File != "" {
		var closeLog func() error
		logger, closeLog, err = util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
		if err == nil {
			defer closeLog()
		}
	} else {
		logger, err = util.NewLogger(cfg.Log.Level)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "level", cfg.Log.Level, "log_file", cfg.Log.File)

	// ---- State ----
	var store *state.Store
	if cfg.Node.InMemory {
		store, err = state.OpenInMemory()
	} else {
		store, err = state.Open(cfg.Node.DataDir)
	}
	if err != nil {
		sugar.Fatalw("state_open_failed", "data_dir", cfg.Node.DataDir, "err", err)
	}
	defer store.Close()

	// Custody is the ledger operator: escrowed assets sit there between
	// prepare and match. The ledger shares the state database so every
	// settlement commits both in one batch.
	led, err := ledger.OpenPebble(store.DB(), cfg.Node.Custody)
	if err != nil {
		sugar.Fatalw("ledger_open_failed", "err", err)
	}
	if cfg.Node.Genesis != "" {
		g, err := ledger.LoadGenesis(cfg.Node.Genesis)
		if err != nil {
			sugar.Fatalw("genesis_load_failed", "file", cfg.Node.Genesis, "err", err)
		}
		applied, err := led.ApplyGenesis(g)
		if err != nil {
			sugar.Fatalw("genesis_apply_failed", "file", cfg.Node.Genesis, "err", err)
		}
		sugar.Infow("genesis_checked", "file", cfg.Node.Genesis, "applied", applied, "mints", len(g.Mints))
	}

	// ---- Randomness ----
	seed, err := oracleSeed(cfg.Randomness.Seed)
	if err != nil {
		sugar.Fatalw("randomness_seed_invalid", "err", err)
	}
	oracle, err := randomness.NewOracle(seed, sugar.Named("oracle"))
	if err != nil {
		sugar.Fatalw("oracle_init_failed", "err", err)
	}

	m := metrics.New()

	// ---- Settlement engine ----
	engine, err := settle.New(settle.Config{
		Owner:   cfg.Node.Owner,
		Custody: cfg.Node.Custody,
		Domain:  cfg.Domain.EIP712(),
	}, store, led, oracle)
	if err != nil {
		sugar.Fatalw("engine_init_failed", "err", err)
	}
	engine.Logger = sugar.Named("settle")
	engine.Metrics = m
	if err := engine.AddMember(cfg.Node.Owner, cfg.Node.Operator); err != nil {
		sugar.Fatalw("operator_registration_failed", "operator", cfg.Node.Operator, "err", err)
	}

	// ---- Fee desk (optional) ----
	var desk *gasdesk.Desk
	if cfg.Desk.Enabled {
		fee, _ := cfg.Desk.FeeWei() // checked by Validate
		desk, err = gasdesk.New(gasdesk.Config{
			Owner:    cfg.Node.Owner,
			Treasury: cfg.Node.Custody,
			Fee:      fee,
			Params:   gasdesk.Params{MaxOrdersPerRequest: cfg.Desk.MaxOrdersPerRequest},
		}, led)
		if err != nil {
			sugar.Fatalw("desk_init_failed", "err", err)
		}
		desk.Logger = sugar.Named("desk")
		desk.Metrics = m
	} else {
		sugar.Info("desk_disabled")
	}

	// ---- API + events ----
	apiServer := api.NewServer(api.Config{
		Operator:       cfg.Node.Operator,
		AllowedOrigins: cfg.API.AllowedOrigins,
	}, engine, desk, oracle, m, sugar.Named("api"))

	bus := events.NewBus(events.LogSink{Logger: sugar.Named("events")}, apiServer.Hub(), apiServer.Mempool())
	if len(cfg.Kafka.Brokers) > 0 {
		sink := events.NewKafkaSink(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), sugar.Named("kafka"))
		defer func() {
			if err := sink.Close(); err != nil {
				sugar.Warnw("kafka_close_failed", "err", err)
			}
		}()
		bus.Attach(sink)
		sugar.Infow("kafka_sink_enabled", "brokers", strings.Join(cfg.Kafka.Brokers, ","), "topic", cfg.Kafka.Topic)
	}
	engine.Events = bus
	if desk != nil {
		desk.Events = bus
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go oracle.Run(ctx, cfg.Randomness.FulfillInterval)

	sugar.Infow("node_starting",
		"owner", cfg.Node.Owner,
		"custody", cfg.Node.Custody,
		"operator", cfg.Node.Operator,
		"chain_id", cfg.Domain.ChainID,
		"desk_enabled", desk != nil)

	errc := make(chan error, 1)
	go func() {
		errc <- apiServer.Start(ctx, cfg.API.Addr)
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			sugar.Errorw("api_server_failed", "err", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

// oracleSeed decodes the configured seed or draws a fresh one.
func oracleSeed(hexSeed string) ([]byte, error) {
	if hexSeed != "" {
		return hex.DecodeString(strings.TrimPrefix(hexSeed, "0x"))
	}
	seed := make([]byte, 32)
	if _, err := rand.Read(seed); err != nil {
		return nil, err
	}
	return seed, nil
}
