package randomness

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/luckyswap/pkg/crypto"
)

// Fulfillment is the oracle's answer to one request. Proof is a BLS signature
// over the token; the words are derived from it, so anyone with the oracle's
// public key can check them.
type Fulfillment struct {
	Token       common.Hash
	Proof       []byte
	Words       []*big.Int
	FulfilledAt time.Time
}

type request struct {
	numWords    uint32
	requestedAt time.Time
	fulfillment *Fulfillment
}

// Oracle is an in-process verifiable randomness coordinator for devnets and
// tests.
type Oracle struct {
	signer *crypto.BLSSigner
	pubkey []byte
	logger *zap.SugaredLogger

	mu       sync.Mutex
	nonce    uint64
	requests map[common.Hash]*request

	// OnFulfilled, if set, is called after each fulfillment.
	OnFulfilled func(f Fulfillment)
}

// NewOracle creates an oracle whose key is derived from seed (at least 32 bytes).
func NewOracle(seed []byte, logger *zap.SugaredLogger) (*Oracle, error) {
	signer, err := crypto.NewBLSSignerFromSeed(seed)
	if err != nil {
		return nil, err
	}
	pk, err := signer.Pubkey().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal oracle key: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Oracle{
		signer:   signer,
		pubkey:   pk,
		logger:   logger,
		requests: make(map[common.Hash]*request),
	}, nil
}

// PublicKey returns the key fulfillments verify against.
func (o *Oracle) PublicKey() *crypto.BLSPubKey { return o.signer.Pubkey() }

func (o *Oracle) RequestRandom(_ context.Context, numWords uint32) (common.Hash, error) {
	if numWords == 0 {
		return common.Hash{}, fmt.Errorf("numWords must be positive")
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	o.nonce++
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], o.nonce)
	binary.BigEndian.PutUint32(buf[8:], numWords)
	token := common.BytesToHash(keccak(o.pubkey, buf[:]))

	o.requests[token] = &request{numWords: numWords, requestedAt: time.Now()}
	o.logger.Infow("randomness_requested", "token", token.Hex(), "num_words", numWords)
	return token, nil
}

func (o *Oracle) IsFulfilled(_ context.Context, token common.Hash) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[token]
	if !ok {
		return false, ErrUnknownRequest
	}
	return req.fulfillment != nil, nil
}

func (o *Oracle) RandomWords(_ context.Context, token common.Hash) ([]*big.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[token]
	if !ok {
		return nil, ErrUnknownRequest
	}
	if req.fulfillment == nil {
		return nil, ErrNotFulfilled
	}
	return copyWords(req.fulfillment.Words), nil
}

// Fulfillment returns the proof and words for a fulfilled token.
func (o *Oracle) Fulfillment(token common.Hash) (Fulfillment, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	req, ok := o.requests[token]
	if !ok {
		return Fulfillment{}, ErrUnknownRequest
	}
	if req.fulfillment == nil {
		return Fulfillment{}, ErrNotFulfilled
	}
	f := *req.fulfillment
	f.Words = copyWords(f.Words)
	return f, nil
}

// Fulfill answers a pending request.
func (o *Oracle) Fulfill(token common.Hash) (Fulfillment, error) {
	o.mu.Lock()
	req, ok := o.requests[token]
	if !ok {
		o.mu.Unlock()
		return Fulfillment{}, ErrUnknownRequest
	}
	if req.fulfillment != nil {
		o.mu.Unlock()
		return Fulfillment{}, ErrAlreadyFulfilled
	}
	proof := o.signer.Sign(token.Bytes())
	f := &Fulfillment{
		Token:       token,
		Proof:       proof,
		Words:       deriveWords(proof, req.numWords),
		FulfilledAt: time.Now(),
	}
	req.fulfillment = f
	cb := o.OnFulfilled
	o.mu.Unlock()

	o.logger.Infow("randomness_fulfilled", "token", token.Hex(), "num_words", len(f.Words))
	out := *f
	out.Words = copyWords(f.Words)
	if cb != nil {
		cb(out)
	}
	return out, nil
}

// Pending lists unfulfilled tokens, oldest first.
func (o *Oracle) Pending() []common.Hash {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []common.Hash
	for token, req := range o.requests {
		if req.fulfillment == nil {
			out = append(out, token)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return o.requests[out[i]].requestedAt.Before(o.requests[out[j]].requestedAt)
	})
	return out
}

// Run fulfills pending requests every interval until ctx is done.
func (o *Oracle) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, token := range o.Pending() {
				if _, err := o.Fulfill(token); err != nil {
					o.logger.Warnw("randomness_fulfill_failed", "token", token.Hex(), "err", err)
				}
			}
		}
	}
}

// VerifyFulfillment checks the proof against pk and that the words were
// derived from it.
func VerifyFulfillment(pk *crypto.BLSPubKey, f Fulfillment) bool {
	if !crypto.VerifyBLS(pk, f.Proof, f.Token.Bytes()) {
		return false
	}
	want := deriveWords(f.Proof, uint32(len(f.Words)))
	for i := range want {
		if f.Words[i] == nil || want[i].Cmp(f.Words[i]) != 0 {
			return false
		}
	}
	return true
}

func deriveWords(proof []byte, n uint32) []*big.Int {
	words := make([]*big.Int, n)
	var idx [4]byte
	for i := uint32(0); i < n; i++ {
		binary.BigEndian.PutUint32(idx[:], i)
		words[i] = new(big.Int).SetBytes(keccak(proof, idx[:]))
	}
	return words
}

func keccak(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func copyWords(ws []*big.Int) []*big.Int {
	out := make([]*big.Int, len(ws))
	for i, w := range ws {
		out[i] = new(big.Int).Set(w)
	}
	return out
}

var _ Source = (*Oracle)(nil)
