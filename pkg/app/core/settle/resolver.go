package settle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

// resolveLuck maps each order index to the fraction its resolver drew. Orders
// without a resolver are absent from the map.
func resolveLuck(orders []*checked, rs []order.LuckResolver) (map[int]order.Fraction, error) {
	byHash := make(map[common.Hash]int, len(orders))
	for i, c := range orders {
		byHash[c.hash] = i
	}
	out := make(map[int]order.Fraction, len(rs))
	for k, r := range rs {
		if r.Denominator == 0 || r.Numerator > r.Denominator {
			e := fail(ErrInvalidResolver).wrap(fmt.Errorf("resolver %d draws %d/%d", k, r.Numerator, r.Denominator))
			e.OrderHash = r.OrderHash
			return nil, e
		}
		i, ok := byHash[r.OrderHash]
		if !ok {
			e := fail(ErrInvalidResolver).wrap(fmt.Errorf("resolver %d names an order outside this call", k))
			e.OrderHash = r.OrderHash
			return nil, e
		}
		if _, dup := out[i]; dup {
			return nil, orderFail(ErrInvalidResolver, i, r.OrderHash).wrap(fmt.Errorf("resolver %d repeats an order", k))
		}
		out[i] = order.NewFraction(r.Numerator, r.Denominator)
	}
	return out, nil
}

// unluckyOrders marks every order connected, through shared fulfillments, to
// an order that drew zero. The whole connected set sits the round out.
func unluckyOrders(n int, groups []group, luck map[int]order.Fraction) []bool {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	find := func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, g := range groups {
		legs := g.legs()
		for _, l := range legs[1:] {
			union(legs[0].order.index, l.order.index)
		}
	}

	unluckyRoot := make(map[int]bool)
	for i, f := range luck {
		if f.IsZero() {
			unluckyRoot[find(i)] = true
		}
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = unluckyRoot[find(i)]
	}
	return out
}

// settledTotal is what an order's grouped consideration items settle at this
// round: the drawn point between their summed start and end amounts, or the
// start amount when the order carries no resolver.
func settledTotal(starts, ends []*big.Int, luck order.Fraction, drawn bool) *big.Int {
	s := sum(starts)
	if !drawn {
		return s
	}
	return order.Interpolate(s, sum(ends), luck)
}
