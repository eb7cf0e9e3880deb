package mapper

import "golang.org/x/exp/constraints"

// LinearMap maps x from [inMin, inMax] onto [outMin, outMax] and truncates
// toward zero. It does not validate x: values outside the input domain
// extrapolate past the output range. inMin must differ from inMax.
//
// A reversed domain (inMin > inMax) inverts the mapping.
func LinearMap(x, inMin, inMax float64, outMin, outMax int) int {
	return int((x-inMin)*float64(outMax-outMin)/(inMax-inMin) + float64(outMin))
}

// Clamp limits v to [lo, hi]. If lo > hi, the bounds are swapped.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if hi < lo {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
