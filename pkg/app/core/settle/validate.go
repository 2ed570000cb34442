package settle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
	"github.com/uhyunpark/luckyswap/pkg/crypto"
)

// checked is an order that passed validation in the current call, with the
// fill it would take and the assets its items resolve to.
type checked struct {
	index int
	hash  common.Hash
	adv   order.AdvancedOrder

	status order.Status
	next   order.Status
	fill   order.Fraction

	offer         []order.Asset
	consideration []order.Asset
}

func (c *checked) params() *order.OrderComponents { return &c.adv.Parameters }

// checkOrders validates every order of a call and computes its fill. Nothing
// is written. Criteria items are resolved separately by the caller.
func (e *Engine) checkOrders(orders []order.AdvancedOrder) ([]*checked, error) {
	now := uint64(e.Clock.Now().Unix())
	seen := make(map[common.Hash]bool, len(orders))
	out := make([]*checked, 0, len(orders))

	for i, adv := range orders {
		p := &adv.Parameters
		h, err := order.Hash(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to hash order %d: %w", i, err)
		}
		if seen[h] {
			return nil, orderFail(ErrDuplicateOrder, i, h)
		}
		seen[h] = true

		if err := checkItems(i, h, p); err != nil {
			return nil, err
		}
		if now < p.StartTime {
			return nil, orderFail(ErrNotStarted, i, h)
		}
		if now >= p.EndTime {
			return nil, orderFail(ErrExpired, i, h)
		}
		if err := e.checkCounter(i, h, p); err != nil {
			return nil, err
		}

		st, err := e.store.Status(h)
		if err != nil {
			return nil, err
		}
		fill, next, err := st.Apply(p.OrderType, adv.Numerator, adv.Denominator)
		if err != nil {
			return nil, orderFail(fillReason(err), i, h)
		}
		if !st.Validated {
			if err := e.checkSigned(i, h, adv.Order); err != nil {
				return nil, err
			}
			next.Validated = true
		}

		out = append(out, &checked{
			index:  i,
			hash:   h,
			adv:    adv,
			status: st,
			next:   next,
			fill:   fill,
		})
	}
	return out, nil
}

func fillReason(err error) *Reason {
	switch {
	case errors.Is(err, order.ErrCancelled):
		return ErrOrderCancelled
	case errors.Is(err, order.ErrFullyFilled):
		return ErrOrderFullyConsumed
	case errors.Is(err, order.ErrPartialFillNotAllowed):
		return ErrPartialFillNotAllowed
	case errors.Is(err, order.ErrInexactFraction):
		return ErrInexactFraction
	default:
		return ErrBadFraction
	}
}

func checkItems(i int, h common.Hash, p *order.OrderComponents) error {
	for j, it := range p.Offer {
		if !it.Type.Valid() || negative(it.StartAmount) || negative(it.EndAmount) {
			return itemFail(ErrInvalidItem, i, h, j)
		}
	}
	for j, it := range p.Consideration {
		if !it.Type.Valid() || negative(it.StartAmount) || negative(it.EndAmount) {
			return itemFail(ErrInvalidItem, i, h, j)
		}
	}
	return nil
}

func negative(v *big.Int) bool { return v != nil && v.Sign() < 0 }

func (e *Engine) checkCounter(i int, h common.Hash, p *order.OrderComponents) error {
	cur, err := e.store.Counter(p.Offerer)
	if err != nil {
		return err
	}
	if bigOrZero(p.Counter).Cmp(cur) != 0 {
		return orderFail(ErrStaleCounter, i, h)
	}
	return nil
}

// checkSigned verifies the offerer's signature over the order, or over the
// bulk tree root the order proves membership in.
func (e *Engine) checkSigned(i int, h common.Hash, o order.Order) error {
	p := &o.Parameters
	if uint64(len(p.Consideration)) != p.TotalOriginalConsiderationItems {
		return orderFail(ErrConsiderationCountMismatch, i, h)
	}

	signed := h
	if bp := o.BulkProof; bp != nil {
		root, err := crypto.ComputeBulkRoot(h, bp.Index, bp.Siblings)
		if err != nil {
			return orderFail(ErrInvalidProof, i, h).wrap(err)
		}
		if root != bp.Root {
			return orderFail(ErrInvalidProof, i, h)
		}
		signed, err = crypto.BulkOrderHash(bp.Root, len(bp.Siblings))
		if err != nil {
			return orderFail(ErrInvalidProof, i, h).wrap(err)
		}
	}

	signer, err := e.eip712.RecoverStructSigner(signed, o.Signature)
	if err != nil {
		return orderFail(ErrInvalidSignature, i, h).wrap(err)
	}
	if signer != p.Offerer {
		return orderFail(ErrInvalidSignature, i, h)
	}
	return nil
}

// resolveCriteria fixes the concrete asset of every item. Criteria items need
// exactly one resolver whose identifier is proven against the signed root; a
// zero root accepts any identifier. Offer items must always resolve;
// consideration items only where needConsideration says so (nil means all).
func resolveCriteria(orders []*checked, resolvers []order.CriteriaResolver, needConsideration func(*checked) bool) error {
	for _, c := range orders {
		p := c.params()
		c.offer = make([]order.Asset, len(p.Offer))
		for j, it := range p.Offer {
			c.offer[j] = order.Asset{Type: it.Type, Token: it.Token, Identifier: it.IdentifierOrCriteria}
		}
		c.consideration = make([]order.Asset, len(p.Consideration))
		for j, it := range p.Consideration {
			c.consideration[j] = order.Asset{Type: it.Type, Token: it.Token, Identifier: it.IdentifierOrCriteria}
		}
	}

	for _, r := range resolvers {
		if r.OrderIndex < 0 || r.OrderIndex >= len(orders) {
			return fail(ErrInvalidCriteriaResolver).wrap(fmt.Errorf("order index %d out of range", r.OrderIndex))
		}
		c := orders[r.OrderIndex]
		items := c.offer
		if r.Side == order.SideConsideration {
			items = c.consideration
		}
		if r.Index < 0 || r.Index >= len(items) {
			return orderFail(ErrInvalidCriteriaResolver, c.index, c.hash).wrap(fmt.Errorf("%s item %d out of range", r.Side, r.Index))
		}
		a := &items[r.Index]
		if !a.Type.IsCriteria() || r.Identifier == nil {
			return itemFail(ErrInvalidCriteriaResolver, c.index, c.hash, r.Index)
		}
		root := bigOrZero(a.Identifier)
		if root.Sign() != 0 && !crypto.VerifyCriteriaProof(common.BigToHash(root), r.Identifier, r.Proof) {
			return itemFail(ErrInvalidCriteriaProof, c.index, c.hash, r.Index)
		}
		*a = order.Asset{Type: a.Type.Resolved(), Token: a.Token, Identifier: new(big.Int).Set(r.Identifier)}
	}

	for _, c := range orders {
		for j, a := range c.offer {
			if a.Type.IsCriteria() {
				return itemFail(ErrUnresolvedCriteria, c.index, c.hash, j)
			}
		}
		if needConsideration != nil && !needConsideration(c) {
			continue
		}
		for j, a := range c.consideration {
			if a.Type.IsCriteria() {
				return itemFail(ErrUnresolvedCriteria, c.index, c.hash, j)
			}
		}
	}
	return nil
}

// scaled returns v scaled exactly by the order's fill for this call.
func (c *checked) scaled(v *big.Int, item int) (*big.Int, error) {
	out, err := order.ScaleExact(v, c.fill)
	if err != nil {
		return nil, itemFail(ErrInexactFraction, c.index, c.hash, item)
	}
	return out, nil
}
