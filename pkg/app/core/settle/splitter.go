package settle

import (
	"math/big"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

// allocate divides an order's settled total across its grouped consideration
// items in proportion to their signed end amounts, or their start amounts if
// every end amount is zero. The first item absorbs the rounding remainder.
func allocate(total *big.Int, starts, ends []*big.Int) []*big.Int {
	shares := ends
	if sum(ends).Sign() == 0 {
		shares = starts
	}
	return order.Split(total, shares)
}

func sum(vs []*big.Int) *big.Int {
	out := new(big.Int)
	for _, v := range vs {
		out.Add(out, v)
	}
	return out
}
