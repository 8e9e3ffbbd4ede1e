package units

import "math"

// Percentage converts a pedal, clutch or handbrake fraction into an integer
// percentage by multiplying by 100 and truncating toward zero.
//
// Truncation under-reports a nearly full input (0.999 gives 99). Values are
// not clamped: an out-of-range fraction produces an out-of-range percentage,
// matching the decoder which never clamps. NaN yields 0.
func Percentage(fraction float32) int {
	// The product stays in float32 so that values such as 0.57 land on 57.
	v := float64(fraction * 100)
	if math.IsNaN(v) {
		return 0
	}
	if math.IsInf(v, 1) || v >= math.MaxInt32 {
		return math.MaxInt32
	}
	if math.IsInf(v, -1) || v <= math.MinInt32 {
		return math.MinInt32
	}
	return int(v)
}
