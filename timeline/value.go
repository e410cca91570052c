package timeline

import (
	"fmt"
	"strconv"
)

// Value is an interval's payload: a category code, a numeric magnitude,
// or a composite pair produced by co-exposure.
//
// The interface is sealed: exactly three implementations exist (Code,
// Level, Pair), enforced by the unexported marker method. Policy code may
// therefore switch exhaustively over the dynamic type.
//
// All three variants are comparable with ==. Level values are rejected at
// validation time when NaN or infinite, so == never silently misbehaves.
type Value interface {
	isValue()
	// String renders the value for logs, diagnostics, and golden files.
	String() string
}

// Code is a category code (treatment type, exposure class, bucket index).
type Code int64

// Level is a numeric magnitude: a dose rate on input, a cumulative sum on
// output.
type Level float64

// Pair is the composite value tagged onto a span covered by two exposures
// at once (the combine overlap policy). Left is the earlier-sorted
// period's value. Pairs nest when three or more periods pile up.
//
// Pair is an explicit product type rather than an arithmetic encoding of
// two codes, so large category codes cannot collide.
type Pair struct {
	Left  Value
	Right Value
}

func (Code) isValue()  {}
func (Level) isValue() {}
func (Pair) isValue()  {}

func (c Code) String() string {
	return strconv.FormatInt(int64(c), 10)
}

func (l Level) String() string {
	return strconv.FormatFloat(float64(l), 'g', -1, 64)
}

func (p Pair) String() string {
	return fmt.Sprintf("(%s+%s)", p.Left.String(), p.Right.String())
}

// valueKind assigns each variant a rank for cross-variant ordering.
func valueKind(v Value) int {
	switch v.(type) {
	case Code:
		return 0
	case Level:
		return 1
	case Pair:
		return 2
	default:
		// Unreachable: the interface is sealed.
		panic(fmt.Sprintf("timeline: unknown value variant %T", v))
	}
}

// CompareValues is the total order used everywhere a deterministic value
// ordering is needed (sort keys, tie-breaks, compression grouping).
//
// Variants order Code < Level < Pair; within a variant the order is
// numeric, and Pairs compare Left then Right. Returns -1, 0, or +1.
//
// Cross-variant comparisons are rank-based, never numeric: Code(2) and
// Level(2) are distinct values and never compare equal.
func CompareValues(a, b Value) int {
	ka, kb := valueKind(a), valueKind(b)
	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}
	switch av := a.(type) {
	case Code:
		bv := b.(Code)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case Level:
		bv := b.(Level)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case Pair:
		bv := b.(Pair)
		if c := CompareValues(av.Left, bv.Left); c != 0 {
			return c
		}
		return CompareValues(av.Right, bv.Right)
	}
	return 0
}
