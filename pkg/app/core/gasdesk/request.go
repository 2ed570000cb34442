package gasdesk

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/uhyunpark/luckyswap/pkg/crypto"
)

var (
	ErrBadSignature    = errors.New("request not signed by requester")
	ErrRequestExpired  = errors.New("request deadline passed")
	ErrRequestReplayed = errors.New("request already used")
)

// MaxRequestLifetime bounds how far ahead a request deadline may be. Spent
// requests are remembered until their deadline, so this also bounds memory.
const MaxRequestLifetime = time.Hour

var requestTypes = apitypes.Types{
	"MatchRequest": {
		{Name: "requester", Type: "address"},
		{Name: "orders", Type: "bytes32[]"},
		{Name: "payment", Type: "uint256"},
		{Name: "deadline", Type: "uint256"},
	},
}

// Request is what a requester signs to let the desk charge them.
type Request struct {
	Requester common.Address
	Orders    []common.Hash
	Payment   *big.Int
	// Deadline is a unix time in seconds.
	Deadline uint64
}

// Hash returns the EIP-712 struct hash of the request.
func (r Request) Hash() (common.Hash, error) {
	orders := make([]interface{}, len(r.Orders))
	for i, h := range r.Orders {
		orders[i] = h.Hex()
	}
	payment := "0"
	if r.Payment != nil {
		payment = r.Payment.String()
	}
	return crypto.HashStruct(requestTypes, "MatchRequest", apitypes.TypedDataMessage{
		"requester": r.Requester.Hex(),
		"orders":    orders,
		"payment":   payment,
		"deadline":  fmt.Sprintf("%d", r.Deadline),
	})
}

// Sign signs r under the market domain.
func (r Request) Sign(domain *crypto.EIP712Signer, s *crypto.Signer) ([]byte, error) {
	h, err := r.Hash()
	if err != nil {
		return nil, err
	}
	return domain.SignStruct(s, h)
}

// Authorizer admits each signed request once, and only before its deadline.
type Authorizer struct {
	domain *crypto.EIP712Signer

	mu    sync.Mutex
	spent map[common.Hash]uint64
}

func NewAuthorizer(domain *crypto.EIP712Signer) *Authorizer {
	return &Authorizer{domain: domain, spent: make(map[common.Hash]uint64)}
}

// Authorize checks that the requester signed r and marks it spent. It
// returns the request hash, which Release takes if the charge then fails.
func (a *Authorizer) Authorize(r Request, signature []byte, now time.Time) (common.Hash, error) {
	unix := uint64(now.Unix())
	if r.Deadline < unix {
		return common.Hash{}, fmt.Errorf("%w: %d < %d", ErrRequestExpired, r.Deadline, unix)
	}
	if r.Deadline > unix+uint64(MaxRequestLifetime/time.Second) {
		return common.Hash{}, fmt.Errorf("%w: deadline %d is more than %s away", ErrRequestExpired, r.Deadline, MaxRequestLifetime)
	}
	h, err := r.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	signer, err := a.domain.RecoverStructSigner(h, signature)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != r.Requester {
		return common.Hash{}, fmt.Errorf("%w: recovered %s", ErrBadSignature, signer.Hex())
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for k, deadline := range a.spent {
		if deadline < unix {
			delete(a.spent, k)
		}
	}
	if _, ok := a.spent[h]; ok {
		return common.Hash{}, ErrRequestReplayed
	}
	a.spent[h] = r.Deadline
	return h, nil
}

// Release makes a request usable again after its charge failed.
func (a *Authorizer) Release(h common.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.spent, h)
}
