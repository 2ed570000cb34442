package settle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/app/core/ledger"
	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
	"github.com/uhyunpark/luckyswap/pkg/app/core/state"
	"github.com/uhyunpark/luckyswap/pkg/events"
)

// PrepareRequest is the input of Prepare.
//
// A premium order is paid in full at prepare time. Both its offer and its
// consideration items move from the offerer to the paired recipient, so the
// offerer pays the consideration too and the items' own Recipient fields are
// ignored.
type PrepareRequest struct {
	Orders []order.AdvancedOrder
	// PremiumIndices name orders that pay out immediately instead of being
	// escrowed; PremiumRecipients[k] receives order PremiumIndices[k].
	PremiumIndices    []int
	PremiumRecipients []common.Address
	Token             common.Hash
	CriteriaResolvers []order.CriteriaResolver
}

// Prepare escrows the offer items of every non-premium order against a
// requested randomness token and pays premium orders straight to their
// recipients. Custody only pulls the shortfall over what an order already
// holds, so an order escrowed by an aborted batch can be prepared again.
func (e *Engine) Prepare(ctx context.Context, caller common.Address, req PrepareRequest) (err error) {
	defer func() { e.Metrics.Call("prepare", err) }()

	if err := e.requireMember(caller); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.loadBatch(req.Token, state.BatchRequested)
	if err != nil {
		return err
	}
	premium, err := premiumRecipients(req)
	if err != nil {
		return err
	}
	orders, err := e.checkOrders(req.Orders)
	if err != nil {
		return err
	}
	isPremium := func(c *checked) bool {
		_, ok := premium[c.index]
		return ok
	}
	if err := resolveCriteria(orders, req.CriteriaResolvers, isPremium); err != nil {
		return err
	}

	bw := e.store.NewBatch()
	defer bw.Close()

	var (
		plan     []move
		escrowed []common.Hash
		paid     []events.PremiumPaid
	)
	for _, c := range orders {
		if to, ok := premium[c.index]; ok {
			moves, err := c.premiumMoves(to)
			if err != nil {
				return err
			}
			plan = append(plan, moves...)
			if err := bw.SetStatus(c.hash, c.next); err != nil {
				return err
			}
			paid = append(paid, events.PremiumPaid{Token: req.Token, OrderHash: c.hash, Recipient: to})
			continue
		}

		moves, err := e.escrowMoves(c, bw)
		if err != nil {
			return err
		}
		plan = append(plan, moves...)
		if c.next.Validated && !c.status.Validated {
			st := c.status.Clone()
			st.Validated = true
			if err := bw.SetStatus(c.hash, st); err != nil {
				return err
			}
		}
		escrowed = append(escrowed, c.hash)
	}

	b.State = state.BatchEscrowed
	b.Orders = escrowed
	b.UpdatedAt = e.Clock.Now().Unix()
	if err := bw.SetBatch(b); err != nil {
		return err
	}
	if err := e.execute(ctx, plan, bw, ErrEscrowFailed); err != nil {
		e.Logger.Warnw("prepare_failed", "token", req.Token.Hex(), "err", err)
		return err
	}

	premiums := make([]common.Hash, 0, len(paid))
	for _, p := range paid {
		premiums = append(premiums, p.OrderHash)
	}
	e.Logger.Infow("batch_prepared",
		"token", req.Token.Hex(),
		"orders", len(escrowed),
		"premiums", len(premiums),
		"transfers", len(plan),
	)
	e.Metrics.Transfers(len(transfersOf(plan)))
	e.Events.Emit(events.New(events.KindBatchPrepared, events.BatchPrepared{Token: req.Token, Orders: escrowed, Premiums: premiums}))
	for _, p := range paid {
		e.Events.Emit(events.New(events.KindPremiumPaid, p))
	}
	return nil
}

// loadBatch returns the token's batch if it is in the wanted state.
func (e *Engine) loadBatch(token common.Hash, want state.BatchState) (*state.Batch, error) {
	b, err := e.store.Batch(token)
	if err != nil {
		return nil, err
	}
	switch {
	case b == nil:
		return nil, fail(ErrUnknownToken)
	case b.State == want:
		return b, nil
	case b.State == state.BatchSettled:
		return nil, fail(ErrRandomnessAlreadyConsumed)
	case b.State == state.BatchAborted:
		return nil, fail(ErrTokenAborted)
	case want == state.BatchRequested:
		return nil, fail(ErrTokenNotRequested)
	default:
		return nil, fail(ErrTokenNotEscrowed)
	}
}

func premiumRecipients(req PrepareRequest) (map[int]common.Address, error) {
	if len(req.PremiumIndices) != len(req.PremiumRecipients) {
		return nil, fail(ErrInvalidPremium).wrap(fmt.Errorf("%d premium indices for %d recipients", len(req.PremiumIndices), len(req.PremiumRecipients)))
	}
	out := make(map[int]common.Address, len(req.PremiumIndices))
	for k, idx := range req.PremiumIndices {
		if idx < 0 || idx >= len(req.Orders) {
			return nil, fail(ErrInvalidPremium).wrap(fmt.Errorf("premium index %d out of range", idx))
		}
		if _, dup := out[idx]; dup {
			return nil, fail(ErrInvalidPremium).wrap(fmt.Errorf("premium index %d repeated", idx))
		}
		out[idx] = req.PremiumRecipients[k]
	}
	return out, nil
}

// escrowMoves tops each offer item's holding up to the most this call's fill
// can deliver and stages the new holdings in bw.
func (e *Engine) escrowMoves(c *checked, bw *state.BatchWrite) ([]move, error) {
	p := c.params()
	var moves []move
	for j, it := range p.Offer {
		need, err := c.scaled(order.MaxAmount(it.StartAmount, it.EndAmount), j)
		if err != nil {
			return nil, err
		}
		hold, err := e.store.Holding(c.hash, j)
		if err != nil {
			return nil, err
		}
		have := new(big.Int)
		if hold != nil {
			if !hold.Asset.Same(c.offer[j]) {
				return nil, itemFail(ErrEscrowMismatch, c.index, c.hash, j)
			}
			have = hold.Amount
		}
		if have.Cmp(need) >= 0 {
			continue
		}

		asset := c.offer[j]
		moves = append(moves, move{
			Transfer: ledger.Transfer{
				Kind:       asset.Type,
				Token:      asset.Token,
				Identifier: asset.Identifier,
				Amount:     new(big.Int).Sub(need, have),
				From:       p.Offerer,
				To:         e.custody,
			},
			orderIndex: c.index,
			orderHash:  c.hash,
			item:       j,
		})
		if err := bw.SetHolding(c.hash, state.Holding{Item: j, Asset: asset, Amount: need}); err != nil {
			return nil, err
		}
	}
	return moves, nil
}

// premiumMoves pays every offer and consideration item of a premium order,
// at its end amount scaled by the fill, from the offerer to the recipient.
func (c *checked) premiumMoves(to common.Address) ([]move, error) {
	p := c.params()
	var moves []move
	add := func(asset order.Asset, end *big.Int, item int) error {
		amt, err := c.scaled(end, item)
		if err != nil {
			return err
		}
		moves = append(moves, move{
			Transfer: ledger.Transfer{
				Kind:       asset.Type,
				Token:      asset.Token,
				Identifier: asset.Identifier,
				Amount:     amt,
				From:       p.Offerer,
				To:         to,
			},
			orderIndex: c.index,
			orderHash:  c.hash,
			item:       item,
		})
		return nil
	}
	for j, it := range p.Offer {
		if err := add(c.offer[j], it.EndAmount, j); err != nil {
			return nil, err
		}
	}
	for j, it := range p.Consideration {
		if err := add(c.consideration[j], it.EndAmount, j); err != nil {
			return nil, err
		}
	}
	return moves, nil
}
