package common

import "math"

// PercentToHundredths converts a percentage such as 2.1 into hundredths of
// a percent (210), rounding to the nearest unit.
func PercentToHundredths(pct float64) uint64 {
	if pct <= 0 {
		return 0
	}
	return uint64(math.Round(pct * 100))
}

// CeilShare returns ceil(total * hundredths / 10000) using integer math.
func CeilShare(total uint64, hundredths uint64) uint64 {
	if total == 0 || hundredths == 0 {
		return 0
	}
	return (total*hundredths + 9999) / 10000
}

// FeeEstimate returns floor(amount*ratio - flat), clamped at zero.
func FeeEstimate(amount uint64, ratio float64, flat uint64) uint64 {
	v := math.Floor(float64(amount)*ratio) - float64(flat)
	if v <= 0 {
		return 0
	}
	return uint64(v)
}
