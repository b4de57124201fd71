package strategy

import "math"

// talib pads the warm-up prefix of its output with zeros. These helpers
// treat zero and NaN alike as "not yet valid".

func validValue(v float64) bool {
	return !math.IsNaN(v) && v != 0
}

// allMissing reports whether a series never produced a valid value.
func allMissing(series []float64) bool {
	for _, v := range series {
		if validValue(v) {
			return false
		}
	}
	return true
}

// lastTwo returns the final and preceding values of a series.
func lastTwo(series []float64) (last, prev float64, ok bool) {
	if len(series) < 2 {
		return 0, 0, false
	}
	return series[len(series)-1], series[len(series)-2], true
}

// rollingVWAP computes a windowed volume-weighted average price over the
// typical price (H+L+C)/3. talib carries no VWAP primitive, so this is
// computed directly from the candle arrays.
func rollingVWAP(highs, lows, closes, volumes []float64, window int) []float64 {
	n := len(closes)
	out := make([]float64, n)
	if window <= 0 || n == 0 {
		return out
	}
	for i := range out {
		if i+1 < window {
			continue
		}
		var pv, vol float64
		for j := i - window + 1; j <= i; j++ {
			typical := (highs[j] + lows[j] + closes[j]) / 3
			pv += typical * volumes[j]
			vol += volumes[j]
		}
		if vol > 0 {
			out[i] = pv / vol
		}
	}
	return out
}
