// Package numeric holds small generic helpers, used by the time-lapse
// finalize step.
package numeric

import "golang.org/x/exp/constraints"

// Clamp restricts v to the closed interval [lo, hi].
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampInt is Clamp specialized for int, kept for call sites that don't want
// to spell out the type parameter.
func ClampInt(v, lo, hi int) int {
	return Clamp(v, lo, hi)
}
