package randomness

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

// Odds configures how random words become luck resolvers. An order is lucky
// when its word falls in the first Hit of OutOf buckets; a lucky order then
// settles at a point k/Precision of the way from its start to its end amount,
// with k in [1, Precision].
type Odds struct {
	Hit       uint64
	OutOf     uint64
	Precision uint64
}

func (o Odds) validate() error {
	if o.OutOf == 0 || o.Hit > o.OutOf {
		return fmt.Errorf("odds %d/%d out of range", o.Hit, o.OutOf)
	}
	if o.Precision == 0 {
		return fmt.Errorf("precision must be positive")
	}
	return nil
}

// Draw reports whether word lands in the first hit of outOf buckets.
func Draw(word *big.Int, hit, outOf uint64) bool {
	if outOf == 0 {
		return false
	}
	m := new(big.Int).Mod(word, new(big.Int).SetUint64(outOf))
	return m.Cmp(new(big.Int).SetUint64(hit)) < 0
}

// DeriveResolvers maps word i to orders[i]. The low bits of the word decide
// luck and the bits above 128 pick the settlement point.
func DeriveResolvers(words []*big.Int, orders []common.Hash, odds Odds) ([]order.LuckResolver, error) {
	if err := odds.validate(); err != nil {
		return nil, err
	}
	if len(words) < len(orders) {
		return nil, fmt.Errorf("need %d random words, have %d", len(orders), len(words))
	}
	out := make([]order.LuckResolver, len(orders))
	for i, h := range orders {
		r := order.LuckResolver{OrderHash: h, Denominator: odds.Precision}
		if Draw(words[i], odds.Hit, odds.OutOf) {
			high := new(big.Int).Rsh(words[i], 128)
			k := new(big.Int).Mod(high, new(big.Int).SetUint64(odds.Precision)).Uint64()
			r.Numerator = k + 1
		}
		out[i] = r
	}
	return out, nil
}
