package order

import "math/big"

// Status is the stored fill state of one order. TotalFilled/TotalSize is kept
// in lowest terms; a zero TotalSize means nothing has been filled yet.
type Status struct {
	Validated   bool
	Cancelled   bool
	TotalFilled *big.Int
	TotalSize   *big.Int
}

// NewStatus returns the status of an order never seen before.
func NewStatus() Status {
	return Status{TotalFilled: new(big.Int), TotalSize: new(big.Int)}
}

// FullyFilled reports whether no fraction of the order remains.
func (s Status) FullyFilled() bool {
	return s.TotalSize != nil && s.TotalSize.Sign() != 0 && s.TotalFilled.Cmp(s.TotalSize) >= 0
}

// Clone returns a deep copy.
func (s Status) Clone() Status {
	return Status{
		Validated:   s.Validated,
		Cancelled:   s.Cancelled,
		TotalFilled: new(big.Int).Set(bigOrZero(s.TotalFilled)),
		TotalSize:   new(big.Int).Set(bigOrZero(s.TotalSize)),
	}
}

// Apply computes the fraction of the order that a request for num/den fills
// right now and the status that results from it. Partial requests are clamped
// to what remains; the returned fill is expressed relative to the whole order.
func (s Status) Apply(policy OrderType, num, den uint64) (Fraction, Status, error) {
	if den == 0 || num == 0 || num > den {
		return Fraction{}, Status{}, ErrBadFraction
	}
	if s.Cancelled {
		return Fraction{}, Status{}, ErrCancelled
	}
	if policy == FullOnly && num != den {
		return Fraction{}, Status{}, ErrPartialFillNotAllowed
	}
	if s.FullyFilled() {
		return Fraction{}, Status{}, ErrFullyFilled
	}

	next := s.Clone()
	n := new(big.Int).SetUint64(num)
	d := new(big.Int).SetUint64(den)
	filled, size := next.TotalFilled, next.TotalSize

	if size.Sign() == 0 {
		f := Fraction{Num: n, Den: d}.Reduce()
		next.TotalFilled, next.TotalSize = f.Num, f.Den
		return f, next, nil
	}

	// partial order with history: bring both fractions to a common denominator
	if size.Cmp(d) != 0 {
		filled = new(big.Int).Mul(filled, d)
		n = new(big.Int).Mul(n, size)
		d = new(big.Int).Mul(d, size)
	}
	remaining := new(big.Int).Sub(d, filled)
	if n.Cmp(remaining) > 0 {
		n = remaining
	}

	fill := Fraction{Num: n, Den: d}.Reduce()
	total := Fraction{Num: new(big.Int).Add(filled, n), Den: d}.Reduce()
	next.TotalFilled, next.TotalSize = total.Num, total.Den
	return fill, next, nil
}
