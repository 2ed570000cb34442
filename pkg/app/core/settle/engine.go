// Package settle is the settlement engine: it validates signed orders,
// escrows their offer items against a randomness token, and settles matched
// fulfillments once the token's randomness has been fulfilled.
package settle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/luckyswap/pkg/app/core/ledger"
	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
	"github.com/uhyunpark/luckyswap/pkg/app/core/randomness"
	"github.com/uhyunpark/luckyswap/pkg/app/core/state"
	"github.com/uhyunpark/luckyswap/pkg/crypto"
	"github.com/uhyunpark/luckyswap/pkg/events"
	"github.com/uhyunpark/luckyswap/pkg/metrics"
	"github.com/uhyunpark/luckyswap/pkg/util"
)

type Config struct {
	// Owner manages the member set.
	Owner common.Address
	// Custody holds escrowed assets between prepare and match. It must be
	// the account the ledger lets the engine move without approval.
	Custody common.Address
	Domain  crypto.EIP712Domain
}

// Engine serializes every mutating call behind one mutex. Each call reads and
// validates first, then writes one ledger transaction and one state batch.
type Engine struct {
	mu sync.Mutex

	store   *state.Store
	ledger  ledger.Ledger
	source  randomness.Source
	eip712  *crypto.EIP712Signer
	owner   common.Address
	custody common.Address

	Logger  *zap.SugaredLogger
	Events  events.Emitter
	Clock   util.Clock
	Metrics *metrics.Metrics
}

func New(cfg Config, store *state.Store, l ledger.Ledger, src randomness.Source) (*Engine, error) {
	if cfg.Custody == (common.Address{}) {
		return nil, errors.New("custody address is required")
	}
	es, err := crypto.NewEIP712Signer(cfg.Domain)
	if err != nil {
		return nil, fmt.Errorf("failed to build eip712 domain: %w", err)
	}
	return &Engine{
		store:   store,
		ledger:  l,
		source:  src,
		eip712:  es,
		owner:   cfg.Owner,
		custody: cfg.Custody,
		Logger:  zap.NewNop().Sugar(),
		Events:  events.Nop{},
		Clock:   util.RealClock{},
	}, nil
}

func (e *Engine) Owner() common.Address   { return e.owner }
func (e *Engine) Custody() common.Address { return e.custody }

// EIP712 returns the signing domain orders must be signed under.
func (e *Engine) EIP712() *crypto.EIP712Signer { return e.eip712 }

func (e *Engine) HashOrder(c order.OrderComponents) (common.Hash, error) {
	return order.Hash(c)
}

func (e *Engine) GetStatus(h common.Hash) (order.Status, error) {
	return e.store.Status(h)
}

func (e *Engine) GetCounter(addr common.Address) (*big.Int, error) {
	return e.store.Counter(addr)
}

// Batch returns the record for a randomness token.
func (e *Engine) Batch(token common.Hash) (*state.Batch, error) {
	b, err := e.store.Batch(token)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fail(ErrUnknownToken)
	}
	return b, nil
}

// Holdings returns what custody holds for an order, in item order.
func (e *Engine) Holdings(h common.Hash) ([]state.Holding, error) {
	return e.store.Holdings(h)
}

func (e *Engine) IsMember(addr common.Address) (bool, error) {
	return e.store.IsMember(addr)
}

func (e *Engine) AddMember(caller, member common.Address) error {
	return e.setMember(caller, member, true)
}

func (e *Engine) RemoveMember(caller, member common.Address) error {
	return e.setMember(caller, member, false)
}

func (e *Engine) setMember(caller, member common.Address, add bool) error {
	if caller != e.owner {
		return fail(ErrNotOwner)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	bw := e.store.NewBatch()
	defer bw.Close()
	if err := bw.SetMember(member, add); err != nil {
		return err
	}
	if err := bw.Commit(); err != nil {
		return fmt.Errorf("failed to commit member change: %w", err)
	}
	e.Logger.Infow("member_changed", "member", member.Hex(), "added", add)
	e.Events.Emit(events.New(events.KindMemberChanged, events.MemberChanged{Member: member, Added: add}))
	return nil
}

// IncrementCounter bumps the caller's counter, invalidating every order the
// caller signed under the previous value.
func (e *Engine) IncrementCounter(ctx context.Context, caller common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.store.Counter(caller)
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Add(cur, big.NewInt(1))

	bw := e.store.NewBatch()
	defer bw.Close()
	if err := bw.SetCounter(caller, next); err != nil {
		return nil, err
	}
	if err := bw.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit counter: %w", err)
	}
	e.Logger.Infow("counter_incremented", "offerer", caller.Hex(), "counter", next.String())
	e.Events.Emit(events.New(events.KindCounterIncremented, events.CounterIncremented{Offerer: caller, Counter: next.String()}))
	return next, nil
}

// Cancel marks orders cancelled. Only the offerer or the order's zone may
// cancel; one unauthorized order rejects the whole call.
func (e *Engine) Cancel(ctx context.Context, caller common.Address, orders []order.OrderComponents) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	type cancelled struct {
		hash    common.Hash
		offerer common.Address
	}
	var done []cancelled

	bw := e.store.NewBatch()
	defer bw.Close()
	for i, c := range orders {
		h, err := order.Hash(c)
		if err != nil {
			return fmt.Errorf("failed to hash order %d: %w", i, err)
		}
		if caller != c.Offerer && caller != c.Zone {
			return orderFail(ErrNotOfferer, i, h)
		}
		st, err := e.store.Status(h)
		if err != nil {
			return err
		}
		st.Cancelled = true
		st.Validated = false
		if err := bw.SetStatus(h, st); err != nil {
			return err
		}
		done = append(done, cancelled{h, c.Offerer})
	}
	if err := bw.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}
	for _, c := range done {
		e.Logger.Infow("order_cancelled", "order_hash", c.hash.Hex(), "offerer", c.offerer.Hex())
		e.Events.Emit(events.New(events.KindOrderCancelled, events.OrderCancelled{OrderHash: c.hash, Offerer: c.offerer}))
	}
	return nil
}

// Validate checks signatures ahead of settlement and records the result so
// later calls skip verification. Time windows are not checked here.
func (e *Engine) Validate(ctx context.Context, orders []order.Order) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	bw := e.store.NewBatch()
	defer bw.Close()
	var validated []events.OrderValidated
	for i, o := range orders {
		h, err := order.Hash(o.Parameters)
		if err != nil {
			return fmt.Errorf("failed to hash order %d: %w", i, err)
		}
		st, err := e.store.Status(h)
		if err != nil {
			return err
		}
		if st.Cancelled {
			return orderFail(ErrOrderCancelled, i, h)
		}
		if st.Validated {
			continue
		}
		if err := e.checkCounter(i, h, &o.Parameters); err != nil {
			return err
		}
		if err := e.checkSigned(i, h, o); err != nil {
			return err
		}
		st.Validated = true
		if err := bw.SetStatus(h, st); err != nil {
			return err
		}
		validated = append(validated, events.OrderValidated{OrderHash: h, Offerer: o.Parameters.Offerer})
	}
	if err := bw.Commit(); err != nil {
		return fmt.Errorf("failed to commit validation: %w", err)
	}
	for _, v := range validated {
		e.Events.Emit(events.New(events.KindOrderValidated, v))
	}
	return nil
}

// RequestRandomness asks the source for a new token and opens a batch for it.
func (e *Engine) RequestRandomness(ctx context.Context, caller common.Address, numWords uint32) (common.Hash, error) {
	if err := e.requireMember(caller); err != nil {
		return common.Hash{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	token, err := e.source.RequestRandom(ctx, numWords)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to request randomness: %w", err)
	}
	now := e.Clock.Now().Unix()
	b := &state.Batch{
		Token:     token,
		State:     state.BatchRequested,
		NumWords:  numWords,
		Requester: caller,
		CreatedAt: now,
		UpdatedAt: now,
	}
	bw := e.store.NewBatch()
	defer bw.Close()
	if err := bw.SetBatch(b); err != nil {
		return common.Hash{}, err
	}
	if err := bw.Commit(); err != nil {
		return common.Hash{}, fmt.Errorf("failed to commit batch: %w", err)
	}
	e.Logger.Infow("randomness_requested", "token", token.Hex(), "num_words", numWords, "requester", caller.Hex())
	e.Events.Emit(events.New(events.KindRandomnessRequested, events.RandomnessRequested{Token: token, NumWords: numWords}))
	return token, nil
}

// Abort retires a token that has not settled. Escrowed holdings stay with
// their orders and can be reused by a later batch or reclaimed.
func (e *Engine) Abort(ctx context.Context, caller common.Address, token common.Hash) error {
	if err := e.requireMember(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.store.Batch(token)
	if err != nil {
		return err
	}
	switch {
	case b == nil:
		return fail(ErrUnknownToken)
	case b.State == state.BatchSettled:
		return fail(ErrRandomnessAlreadyConsumed)
	case b.State == state.BatchAborted:
		return fail(ErrTokenAborted)
	}
	b.State = state.BatchAborted
	b.UpdatedAt = e.Clock.Now().Unix()

	bw := e.store.NewBatch()
	defer bw.Close()
	if err := bw.SetBatch(b); err != nil {
		return err
	}
	if err := bw.Commit(); err != nil {
		return fmt.Errorf("failed to commit abort: %w", err)
	}
	e.Logger.Infow("batch_aborted", "token", token.Hex())
	e.Events.Emit(events.New(events.KindBatchAborted, events.BatchAborted{Token: token}))
	return nil
}

// Reclaim returns an order's custody holdings to its offerer once the order
// can no longer settle: cancelled, fully filled, expired or signed under a
// stale counter.
func (e *Engine) Reclaim(ctx context.Context, caller common.Address, c order.OrderComponents) ([]ledger.Transfer, error) {
	h, err := order.Hash(c)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}
	if caller != c.Offerer {
		return nil, orderFail(ErrNotOfferer, -1, h)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, err := e.store.Status(h)
	if err != nil {
		return nil, err
	}
	counter, err := e.store.Counter(c.Offerer)
	if err != nil {
		return nil, err
	}
	now := uint64(e.Clock.Now().Unix())
	dead := st.Cancelled || st.FullyFilled() || now >= c.EndTime || bigOrZero(c.Counter).Cmp(counter) != 0
	if !dead {
		return nil, orderFail(ErrNotReclaimable, -1, h)
	}

	holdings, err := e.store.Holdings(h)
	if err != nil {
		return nil, err
	}
	bw := e.store.NewBatch()
	defer bw.Close()
	var plan []move
	for _, hold := range holdings {
		plan = append(plan, move{
			Transfer: ledger.Transfer{
				Kind:       hold.Asset.Type,
				Token:      hold.Asset.Token,
				Identifier: hold.Asset.Identifier,
				Amount:     new(big.Int).Set(hold.Amount),
				From:       e.custody,
				To:         c.Offerer,
			},
			orderIndex: -1,
			orderHash:  h,
			item:       hold.Item,
		})
		if err := bw.SetHolding(h, state.Holding{Item: hold.Item}); err != nil {
			return nil, err
		}
	}
	if err := e.execute(ctx, plan, bw, ErrSettlementFailed); err != nil {
		return nil, err
	}
	e.Logger.Infow("escrow_reclaimed", "order_hash", h.Hex(), "offerer", c.Offerer.Hex(), "items", len(plan))
	e.Events.Emit(events.New(events.KindEscrowReclaimed, events.EscrowReclaimed{OrderHash: h, Offerer: c.Offerer}))
	return transfersOf(plan), nil
}

func (e *Engine) requireMember(caller common.Address) error {
	ok, err := e.store.IsMember(caller)
	if err != nil {
		return err
	}
	if !ok {
		return fail(ErrNotMember)
	}
	return nil
}

// move is a planned transfer plus the order item it settles, kept so a
// ledger failure can be reported against the item.
type move struct {
	ledger.Transfer
	orderIndex int
	orderHash  common.Hash
	item       int
}

func transfersOf(plan []move) []ledger.Transfer {
	out := make([]ledger.Transfer, 0, len(plan))
	for _, m := range plan {
		if m.Amount.Sign() == 0 || m.From == m.To {
			continue
		}
		out = append(out, m.Transfer)
	}
	return out
}

// execute runs the plan in one ledger transaction and commits bw. A transfer
// failure rolls the ledger back and discards bw.
func (e *Engine) execute(ctx context.Context, plan []move, bw *state.BatchWrite, onFail *Reason) error {
	tx, err := e.ledger.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin ledger tx: %w", err)
	}
	for _, m := range plan {
		if err := tx.Transfer(m.Transfer); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				e.Logger.Errorw("ledger_rollback_failed", "err", rbErr)
			}
			return itemFail(onFail, m.orderIndex, m.orderHash, m.item).wrap(err)
		}
	}
	// A ledger that can stage into the state batch commits atomically with it.
	if st, ok := tx.(ledger.Stager); ok {
		if err := st.Stage(bw.Raw()); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				e.Logger.Errorw("ledger_rollback_failed", "err", rbErr)
			}
			return err
		}
	}
	if err := bw.Commit(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.Logger.Errorw("ledger_rollback_failed", "err", rbErr)
		}
		return fmt.Errorf("failed to commit state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		// state is already durable; the operator has to reconcile the ledger
		e.Logger.Errorw("ledger_commit_failed", "err", err, "transfers", len(plan))
		return fmt.Errorf("failed to commit ledger tx: %w", err)
	}
	return nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
