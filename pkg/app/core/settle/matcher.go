package settle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/app/core/ledger"
	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
	"github.com/uhyunpark/luckyswap/pkg/app/core/state"
	"github.com/uhyunpark/luckyswap/pkg/events"
)

type MatchRequest struct {
	Orders            []order.AdvancedOrder
	Fulfillments      []order.Fulfillment
	Token             common.Hash
	LuckResolvers     []order.LuckResolver
	CriteriaResolvers []order.CriteriaResolver
}

// OrderOutcome reports what one order did this round. A skipped order drew
// zero, or shares a fulfillment with an order that did.
type OrderOutcome struct {
	OrderHash common.Hash    `json:"order_hash"`
	Skipped   bool           `json:"skipped"`
	Fill      order.Fraction `json:"-"`
	Status    order.Status   `json:"status"`
}

type BatchOutcome struct {
	Token     common.Hash       `json:"token"`
	Filled    bool              `json:"filled"`
	Orders    []OrderOutcome    `json:"orders"`
	Transfers []ledger.Transfer `json:"transfers"`
}

type leg struct {
	order *checked
	item  int
}

// group is one validated fulfillment: offer legs that fund consideration legs
// of a single asset.
type group struct {
	index          int
	asset          order.Asset
	offers         []leg
	considerations []leg
}

func (g group) legs() []leg {
	return append(append([]leg(nil), g.offers...), g.considerations...)
}

// Match settles escrowed orders against a fulfilled randomness token. The
// token is consumed even when every order draws zero.
func (e *Engine) Match(ctx context.Context, caller common.Address, req MatchRequest) (out BatchOutcome, err error) {
	started := time.Now()
	defer func() {
		e.Metrics.Call("match", err)
		e.Metrics.MatchDuration(time.Since(started))
	}()

	if err := e.requireMember(caller); err != nil {
		return BatchOutcome{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	b, err := e.loadBatch(req.Token, state.BatchEscrowed)
	if err != nil {
		return BatchOutcome{}, err
	}
	ok, err := e.source.IsFulfilled(ctx, req.Token)
	if err != nil {
		return BatchOutcome{}, fail(ErrRandomnessNotFulfilled).wrap(err)
	}
	if !ok {
		return BatchOutcome{}, fail(ErrRandomnessNotFulfilled)
	}

	orders, err := e.checkOrders(req.Orders)
	if err != nil {
		return BatchOutcome{}, err
	}
	if err := resolveCriteria(orders, req.CriteriaResolvers, nil); err != nil {
		return BatchOutcome{}, err
	}
	for _, c := range orders {
		if !b.Contains(c.hash) {
			return BatchOutcome{}, orderFail(ErrNotInBatch, c.index, c.hash)
		}
	}
	luck, err := resolveLuck(orders, req.LuckResolvers)
	if err != nil {
		return BatchOutcome{}, err
	}
	groups, err := checkFulfillments(orders, req.Fulfillments)
	if err != nil {
		return BatchOutcome{}, err
	}
	skip := unluckyOrders(len(orders), groups, luck)

	bw := e.store.NewBatch()
	defer bw.Close()

	plan, err := e.settlePlan(groups, luck, skip, bw)
	if err != nil {
		return BatchOutcome{}, err
	}

	out = BatchOutcome{Token: req.Token}
	unlucky := 0
	for i, c := range orders {
		oc := OrderOutcome{OrderHash: c.hash, Skipped: skip[i]}
		if skip[i] {
			oc.Fill = order.Fraction{Num: new(big.Int), Den: big.NewInt(1)}
			oc.Status = c.status
			unlucky++
		} else {
			if err := bw.SetStatus(c.hash, c.next); err != nil {
				return BatchOutcome{}, err
			}
			oc.Fill = c.fill
			oc.Status = c.next
			out.Filled = true
		}
		out.Orders = append(out.Orders, oc)
	}

	b.State = state.BatchSettled
	b.Filled = out.Filled
	b.UpdatedAt = e.Clock.Now().Unix()
	if err := bw.SetBatch(b); err != nil {
		return BatchOutcome{}, err
	}
	if err := e.execute(ctx, plan, bw, ErrSettlementFailed); err != nil {
		e.Logger.Warnw("match_failed", "token", req.Token.Hex(), "err", err)
		return BatchOutcome{}, err
	}
	out.Transfers = transfersOf(plan)

	e.Logger.Infow("batch_settled",
		"token", req.Token.Hex(),
		"filled", out.Filled,
		"orders", len(orders),
		"skipped", unlucky,
		"transfers", len(out.Transfers),
	)
	e.Metrics.Orders(len(orders)-unlucky, unlucky)
	e.Metrics.Transfers(len(out.Transfers))
	for i, c := range orders {
		if skip[i] {
			continue
		}
		e.Events.Emit(events.New(events.KindOrderFulfilled, events.OrderFulfilled{
			Token:     req.Token,
			OrderHash: c.hash,
			Offerer:   c.params().Offerer,
			Fill:      c.fill.String(),
		}))
	}
	e.Events.Emit(events.New(events.KindBatchSettled, events.BatchSettled{Token: req.Token, Success: out.Filled}))
	return out, nil
}

type componentKey struct {
	side  order.Side
	order int
	item  int
}

// checkFulfillments validates the fulfillment list against the orders: every
// component in range and used once, every item of every order covered, and
// each fulfillment moving a single asset.
func checkFulfillments(orders []*checked, fs []order.Fulfillment) ([]group, error) {
	used := make(map[componentKey]bool)
	groups := make([]group, 0, len(fs))

	resolve := func(fi int, side order.Side, fc order.FulfillmentComponent) (leg, order.Asset, error) {
		if fc.OrderIndex < 0 || fc.OrderIndex >= len(orders) {
			return leg{}, order.Asset{}, fail(ErrComponentOutOfRange).wrap(fmt.Errorf("fulfillment %d: %s order %d", fi, side, fc.OrderIndex))
		}
		c := orders[fc.OrderIndex]
		items := c.offer
		if side == order.SideConsideration {
			items = c.consideration
		}
		if fc.ItemIndex < 0 || fc.ItemIndex >= len(items) {
			return leg{}, order.Asset{}, itemFail(ErrComponentOutOfRange, c.index, c.hash, fc.ItemIndex).wrap(fmt.Errorf("fulfillment %d: %s item", fi, side))
		}
		k := componentKey{side, fc.OrderIndex, fc.ItemIndex}
		if used[k] {
			return leg{}, order.Asset{}, itemFail(ErrDuplicateComponent, c.index, c.hash, fc.ItemIndex).wrap(fmt.Errorf("fulfillment %d: %s item", fi, side))
		}
		used[k] = true
		return leg{order: c, item: fc.ItemIndex}, items[fc.ItemIndex], nil
	}

	for fi, f := range fs {
		if len(f.OfferComponents) == 0 || len(f.ConsiderationComponents) == 0 {
			return nil, fail(ErrEmptyFulfillment).wrap(fmt.Errorf("fulfillment %d", fi))
		}
		g := group{index: fi}
		for k, fc := range f.OfferComponents {
			l, a, err := resolve(fi, order.SideOffer, fc)
			if err != nil {
				return nil, err
			}
			if k == 0 {
				g.asset = a
			} else if !a.Same(g.asset) {
				return nil, itemFail(ErrMismatchedComponents, l.order.index, l.order.hash, l.item).wrap(fmt.Errorf("fulfillment %d: offer", fi))
			}
			g.offers = append(g.offers, l)
		}
		for _, fc := range f.ConsiderationComponents {
			l, a, err := resolve(fi, order.SideConsideration, fc)
			if err != nil {
				return nil, err
			}
			if !a.Same(g.asset) {
				return nil, itemFail(ErrMismatchedComponents, l.order.index, l.order.hash, l.item).wrap(fmt.Errorf("fulfillment %d: consideration", fi))
			}
			g.considerations = append(g.considerations, l)
		}
		groups = append(groups, g)
	}

	for i, c := range orders {
		for j := range c.offer {
			if !used[componentKey{order.SideOffer, i, j}] {
				return nil, itemFail(ErrUnresolvedItem, c.index, c.hash, j).wrap(errors.New("offer item"))
			}
		}
		for j := range c.consideration {
			if !used[componentKey{order.SideConsideration, i, j}] {
				return nil, itemFail(ErrUnresolvedItem, c.index, c.hash, j).wrap(errors.New("consideration item"))
			}
		}
	}
	return groups, nil
}

// settlePlan computes every transfer of a match before anything moves and
// stages the reduced holdings in bw. For each fulfillment the consideration
// total is drawn from the offer legs in order; what an offer leg delivers
// beyond its share goes back to its offerer.
func (e *Engine) settlePlan(groups []group, luck map[int]order.Fraction, skip []bool, bw *state.BatchWrite) ([]move, error) {
	var plan []move
	for _, g := range groups {
		if skip[g.offers[0].order.index] {
			continue
		}

		pays, total, err := e.considerationMoves(g, luck)
		if err != nil {
			return nil, err
		}

		delivered := make([]*big.Int, len(g.offers))
		available := new(big.Int)
		for k, l := range g.offers {
			amt, err := e.consumeHolding(l, g.asset, bw)
			if err != nil {
				return nil, err
			}
			delivered[k] = amt
			available.Add(available, amt)
		}
		if available.Cmp(total) < 0 {
			first := g.considerations[0]
			return nil, orderFail(ErrInsufficientOffer, first.order.index, first.order.hash).
				wrap(fmt.Errorf("fulfillment %d: offer %s below consideration %s", g.index, available, total))
		}
		plan = append(plan, pays...)

		remaining := new(big.Int).Set(total)
		for k, l := range g.offers {
			take := delivered[k]
			if take.Cmp(remaining) > 0 {
				take = remaining
			}
			remaining = new(big.Int).Sub(remaining, take)
			refund := new(big.Int).Sub(delivered[k], take)
			if refund.Sign() == 0 {
				continue
			}
			plan = append(plan, move{
				Transfer: ledger.Transfer{
					Kind:       g.asset.Type,
					Token:      g.asset.Token,
					Identifier: g.asset.Identifier,
					Amount:     refund,
					From:       e.custody,
					To:         l.order.params().Offerer,
				},
				orderIndex: l.order.index,
				orderHash:  l.order.hash,
				item:       l.item,
			})
		}
	}
	return plan, nil
}

// considerationMoves settles each order's consideration legs of g at the
// order's drawn total and splits that total across the legs' recipients.
func (e *Engine) considerationMoves(g group, luck map[int]order.Fraction) ([]move, *big.Int, error) {
	var (
		byOrder [][]leg
		seen    = make(map[int]int)
	)
	for _, l := range g.considerations {
		k, ok := seen[l.order.index]
		if !ok {
			k = len(byOrder)
			seen[l.order.index] = k
			byOrder = append(byOrder, nil)
		}
		byOrder[k] = append(byOrder[k], l)
	}

	var moves []move
	total := new(big.Int)
	for _, legs := range byOrder {
		c := legs[0].order
		starts := make([]*big.Int, len(legs))
		ends := make([]*big.Int, len(legs))
		for k, l := range legs {
			it := c.params().Consideration[l.item]
			var err error
			if starts[k], err = c.scaled(it.StartAmount, l.item); err != nil {
				return nil, nil, err
			}
			if ends[k], err = c.scaled(it.EndAmount, l.item); err != nil {
				return nil, nil, err
			}
		}
		f, drawn := luck[c.index]
		owed := settledTotal(starts, ends, f, drawn)
		total.Add(total, owed)

		for k, amt := range allocate(owed, starts, ends) {
			l := legs[k]
			moves = append(moves, move{
				Transfer: ledger.Transfer{
					Kind:       g.asset.Type,
					Token:      g.asset.Token,
					Identifier: g.asset.Identifier,
					Amount:     amt,
					From:       e.custody,
					To:         c.params().Consideration[l.item].Recipient,
				},
				orderIndex: c.index,
				orderHash:  c.hash,
				item:       l.item,
			})
		}
	}
	return moves, total, nil
}

// consumeHolding returns what an offer leg delivers this round and stages the
// holding that remains after it.
func (e *Engine) consumeHolding(l leg, asset order.Asset, bw *state.BatchWrite) (*big.Int, error) {
	c := l.order
	it := c.params().Offer[l.item]
	amt, err := c.scaled(order.MaxAmount(it.StartAmount, it.EndAmount), l.item)
	if err != nil {
		return nil, err
	}
	hold, err := e.store.Holding(c.hash, l.item)
	if err != nil {
		return nil, err
	}
	if hold == nil {
		return nil, itemFail(ErrInsufficientEscrow, c.index, c.hash, l.item).wrap(errors.New("nothing escrowed"))
	}
	if !hold.Asset.Same(asset) {
		return nil, itemFail(ErrEscrowMismatch, c.index, c.hash, l.item)
	}
	if hold.Amount.Cmp(amt) < 0 {
		return nil, itemFail(ErrInsufficientEscrow, c.index, c.hash, l.item).
			wrap(fmt.Errorf("holding %s, need %s", hold.Amount, amt))
	}
	left := state.Holding{Item: l.item, Asset: hold.Asset, Amount: new(big.Int).Sub(hold.Amount, amt)}
	if err := bw.SetHolding(c.hash, left); err != nil {
		return nil, err
	}
	return amt, nil
}
