package units

import (
	"fmt"
	"math"
)

// InvalidDuration is rendered for NaN or infinite elapsed times.
const InvalidDuration = "--:--:--"

// FormatDuration renders an elapsed time in seconds as HH:MM:SS.
//
// Sub-second precision is truncated, not rounded: 924.497 renders as
// "00:15:24". Callers that need millisecond timing must use the raw value.
// Hours are not wrapped, so a 100 hour session renders as "100:00:00".
// Magnitudes beyond the int64 range render as InvalidDuration.
func FormatDuration(seconds float32) string {
	s := float64(seconds)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return InvalidDuration
	}

	sign := ""
	if s < 0 {
		sign = "-"
		s = -s
	}
	if s >= math.MaxInt64 {
		return InvalidDuration
	}

	total := int64(s)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, hours, minutes, secs)
}
