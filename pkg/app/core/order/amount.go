package order

import (
	"errors"
	"math/big"
)

var (
	ErrBadFraction           = errors.New("fraction must satisfy 0 < numerator <= denominator")
	ErrInexactFraction       = errors.New("amount does not scale exactly by fill fraction")
	ErrPartialFillNotAllowed = errors.New("partial fill requested on full-only order")
	ErrFullyFilled           = errors.New("order fully filled")
	ErrCancelled             = errors.New("order cancelled")
)

// Fraction is a non-negative rational number. The zero value is not usable;
// build one with NewFraction.
type Fraction struct {
	Num *big.Int
	Den *big.Int
}

func NewFraction(num, den uint64) Fraction {
	return Fraction{Num: new(big.Int).SetUint64(num), Den: new(big.Int).SetUint64(den)}
}

// One is the full fraction 1/1.
func One() Fraction { return NewFraction(1, 1) }

func (f Fraction) IsZero() bool { return f.Num.Sign() == 0 }

func (f Fraction) IsOne() bool { return f.Num.Cmp(f.Den) == 0 }

// Reduce returns f in lowest terms.
func (f Fraction) Reduce() Fraction {
	if f.Num.Sign() == 0 {
		return Fraction{Num: new(big.Int), Den: big.NewInt(1)}
	}
	g := new(big.Int).GCD(nil, nil, f.Num, f.Den)
	return Fraction{
		Num: new(big.Int).Quo(f.Num, g),
		Den: new(big.Int).Quo(f.Den, g),
	}
}

func (f Fraction) String() string {
	return f.Num.String() + "/" + f.Den.String()
}

// ScaleExact returns value * f. It fails with ErrInexactFraction when the
// product is not an integer.
func ScaleExact(value *big.Int, f Fraction) (*big.Int, error) {
	v := bigOrZero(value)
	if f.IsOne() {
		return new(big.Int).Set(v), nil
	}
	prod := new(big.Int).Mul(v, f.Num)
	q, m := new(big.Int).QuoRem(prod, f.Den, new(big.Int))
	if m.Sign() != 0 {
		return nil, ErrInexactFraction
	}
	return q, nil
}

// Interpolate returns start + (end-start)*f, rounded up.
func Interpolate(start, end *big.Int, f Fraction) *big.Int {
	s, e := bigOrZero(start), bigOrZero(end)
	if f.IsZero() || s.Cmp(e) == 0 {
		return new(big.Int).Set(s)
	}
	if f.IsOne() {
		return new(big.Int).Set(e)
	}
	diff := new(big.Int).Sub(e, s)
	diff.Mul(diff, f.Num)
	q, m := new(big.Int).DivMod(diff, f.Den, new(big.Int))
	if m.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q.Add(q, s)
}

// MaxAmount is the most an item can ever require: max(start, end).
func MaxAmount(start, end *big.Int) *big.Int {
	s, e := bigOrZero(start), bigOrZero(end)
	if s.Cmp(e) >= 0 {
		return new(big.Int).Set(s)
	}
	return new(big.Int).Set(e)
}

// Split allocates total across shares in proportion to each share. Every
// allocation is floor(total*share/sum) and the first entry absorbs the
// rounding remainder, so the allocations always sum to total. When all shares
// are zero the first entry takes everything.
func Split(total *big.Int, shares []*big.Int) []*big.Int {
	out := make([]*big.Int, len(shares))
	if len(shares) == 0 {
		return out
	}
	sum := new(big.Int)
	for _, s := range shares {
		sum.Add(sum, bigOrZero(s))
	}

	allocated := new(big.Int)
	for i, s := range shares {
		if sum.Sign() == 0 {
			out[i] = new(big.Int)
			continue
		}
		a := new(big.Int).Mul(total, bigOrZero(s))
		a.Quo(a, sum)
		out[i] = a
		allocated.Add(allocated, a)
	}
	out[0].Add(out[0], new(big.Int).Sub(total, allocated))
	return out
}
