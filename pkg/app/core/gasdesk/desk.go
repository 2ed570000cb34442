// Package gasdesk collects the per-order fee a submitter pays to have orders
// picked up for matching.
package gasdesk

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
	"github.com/uhyunpark/luckyswap/pkg/events"
	"github.com/uhyunpark/luckyswap/pkg/metrics"
)

var (
	ErrNotOwner            = errors.New("caller is not the desk owner")
	ErrNoOrders            = errors.New("no order hashes")
	ErrTooManyOrders       = errors.New("too many orders in one request")
	ErrInsufficientPayment = errors.New("payment below fee")
	ErrOverWithdraw        = errors.New("withdraw exceeds collected fees")
	ErrInvalidFee          = errors.New("fee must be non-negative")
)

type Params struct {
	// MaxOrdersPerRequest caps one RequestMatch call; zero means no cap.
	MaxOrdersPerRequest int
}

type Config struct {
	Owner    common.Address
	Treasury common.Address
	Fee      *big.Int
	Params   Params
}

// Desk charges RequestMatch callers in native currency and holds the
// proceeds in its treasury until the owner withdraws them.
type Desk struct {
	mu       sync.Mutex
	ledger   ledger.Ledger
	owner    common.Address
	treasury common.Address

	fee       *big.Int
	params    Params
	collected *big.Int

	Logger  *zap.SugaredLogger
	Events  events.Emitter
	Metrics *metrics.Metrics
}

func New(cfg Config, l ledger.Ledger) (*Desk, error) {
	fee := cfg.Fee
	if fee == nil {
		fee = new(big.Int)
	}
	if fee.Sign() < 0 {
		return nil, ErrInvalidFee
	}
	if cfg.Treasury == (common.Address{}) {
		return nil, errors.New("treasury address is required")
	}
	return &Desk{
		ledger:    l,
		owner:     cfg.Owner,
		treasury:  cfg.Treasury,
		fee:       new(big.Int).Set(fee),
		params:    cfg.Params,
		collected: new(big.Int),
		Logger:    zap.NewNop().Sugar(),
		Events:    events.Nop{},
	}, nil
}

func (d *Desk) Fee() *big.Int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return new(big.Int).Set(d.fee)
}

func (d *Desk) Params() Params {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params
}

// Collected is what the treasury has taken in and not yet paid out.
func (d *Desk) Collected() *big.Int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return new(big.Int).Set(d.collected)
}

// RequestMatch takes fee × len(hashes) out of payment and returns what is
// left over. Only the charge moves; the remainder never leaves the caller.
func (d *Desk) RequestMatch(ctx context.Context, caller common.Address, hashes []common.Hash, payment *big.Int) (*big.Int, error) {
	if len(hashes) == 0 {
		return nil, ErrNoOrders
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if max := d.params.MaxOrdersPerRequest; max > 0 && len(hashes) > max {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyOrders, len(hashes), max)
	}
	charge := new(big.Int).Mul(d.fee, big.NewInt(int64(len(hashes))))
	if payment == nil || payment.Cmp(charge) < 0 {
		return nil, fmt.Errorf("%w: paid %v, need %s", ErrInsufficientPayment, payment, charge)
	}

	if err := d.move(ctx, caller, d.treasury, charge); err != nil {
		return nil, fmt.Errorf("failed to collect fee: %w", err)
	}
	d.collected.Add(d.collected, charge)

	d.Logger.Infow("order_requested",
		"requester", caller.Hex(),
		"orders", len(hashes),
		"fee", charge.String(),
	)
	d.Metrics.MatchRequested()
	d.Events.Emit(events.New(events.KindOrderRequested, events.OrderRequested{
		Requester: caller,
		Orders:    append([]common.Hash(nil), hashes...),
		Fee:       charge.String(),
	}))
	return new(big.Int).Sub(payment, charge), nil
}

func (d *Desk) SetFee(caller common.Address, fee *big.Int) error {
	if caller != d.owner {
		return ErrNotOwner
	}
	if fee == nil || fee.Sign() < 0 {
		return ErrInvalidFee
	}
	d.mu.Lock()
	old := d.fee
	d.fee = new(big.Int).Set(fee)
	d.mu.Unlock()

	d.Logger.Infow("escrow_fee_changed", "old", old.String(), "new", fee.String())
	d.Events.Emit(events.New(events.KindEscrowFeeChanged, events.EscrowFeeChanged{Old: old.String(), New: fee.String()}))
	return nil
}

func (d *Desk) SetParams(caller common.Address, p Params) error {
	if caller != d.owner {
		return ErrNotOwner
	}
	if p.MaxOrdersPerRequest < 0 {
		return fmt.Errorf("invalid max orders per request: %d", p.MaxOrdersPerRequest)
	}
	d.mu.Lock()
	d.params = p
	d.mu.Unlock()

	d.Logger.Infow("fee_parameter_changed", "max_orders_per_request", p.MaxOrdersPerRequest)
	d.Events.Emit(events.New(events.KindFeeParameterChanged, events.FeeParameterChanged{MaxOrdersPerRequest: p.MaxOrdersPerRequest}))
	return nil
}

// Withdraw pays collected fees out of the treasury.
func (d *Desk) Withdraw(ctx context.Context, caller, to common.Address, amount *big.Int) error {
	if caller != d.owner {
		return ErrNotOwner
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("invalid withdraw amount: %v", amount)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if amount.Cmp(d.collected) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrOverWithdraw, amount, d.collected)
	}
	if err := d.move(ctx, d.treasury, to, amount); err != nil {
		return fmt.Errorf("failed to withdraw: %w", err)
	}
	d.collected.Sub(d.collected, amount)
	d.Logger.Infow("fees_withdrawn", "to", to.Hex(), "amount", amount.String())
	return nil
}

func (d *Desk) move(ctx context.Context, from, to common.Address, amount *big.Int) error {
	tx, err := d.ledger.Begin(ctx)
	if err != nil {
		return err
	}
	err = tx.Transfer(ledger.Transfer{Kind: order.ItemNative, Amount: amount, From: from, To: to})
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			d.Logger.Errorw("ledger_rollback_failed", "err", rbErr)
		}
		return err
	}
	return tx.Commit()
}
