package ledger

import "math/bits"

// overflowTracker accumulates overflow across a sequence of operations so a
// mutation can be planned in full and rejected before anything is committed.
type overflowTracker struct {
	overflowed bool
}

func (ot *overflowTracker) add(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		ot.overflowed = true
	}
	return sum
}

func (ot *overflowTracker) sub(a, b uint64) uint64 {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		ot.overflowed = true
	}
	return diff
}

// mulDiv returns floor(a*b/c) using a 128-bit intermediate product.
func (ot *overflowTracker) mulDiv(a, b, c uint64) uint64 {
	if c == 0 {
		ot.overflowed = true
		return 0
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		ot.overflowed = true
		return 0
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}
