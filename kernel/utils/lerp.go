package utils

import "math"

// Lerp maps a percentage in [0, 100] onto a table of evenly spaced anchors.
// Anchor i sits at i*100/(len(values)-1) percent; values between anchors are
// interpolated linearly. NaN is treated as 0 and out-of-range input is clamped.
func Lerp(values []float64, percentage float64) float64 {
	switch len(values) {
	case 0:
		return 0
	case 1:
		return values[0]
	}

	p := ClampPercentage(percentage)
	jump := 100.0 / float64(len(values)-1)
	idx := int(math.Floor(p / jump))
	if idx >= len(values)-1 {
		return values[len(values)-1]
	}

	frac := (p - float64(idx)*jump) / jump
	return values[idx] + (values[idx+1]-values[idx])*frac
}

// ClampPercentage forces p into [0, 100].
func ClampPercentage(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
