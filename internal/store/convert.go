package store

import "math"

// FractionToPercent converts a raw upstream fraction into a percentage
// rounded to two decimals: 0.1978 -> 19.78. Both the snapshot conversion and
// the update merge go through this function.
func FractionToPercent(f float64) float64 {
	return math.Round(f*100*100) / 100
}

// ShortAddress abbreviates an address to its first and last four characters.
func ShortAddress(addr string) string {
	const startChars, endChars = 4, 4
	if len(addr) <= startChars+endChars {
		return addr
	}
	return addr[:startChars] + "..." + addr[len(addr)-endChars:]
}
