package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

// SaturatingSub returns a-b, or 0 when b > a. Unsigned device counters wrap
// instead of going negative, so deltas go through here.
func SaturatingSub[T constraints.Integer](a, b T) T {
	if b > a {
		return 0
	}
	return a - b
}
