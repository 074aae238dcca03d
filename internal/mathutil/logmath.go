package mathutil

import "math"

// LogZero represents log(0), used as negative infinity in log-domain arithmetic.
const LogZero = -1e30

// LogSumExp returns log(Σ exp(x)) over xs, shifting by the maximum so that
// no term overflows. An empty slice yields LogZero.
func LogSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return LogZero
	}
	m := xs[0]
	for _, x := range xs[1:] {
		if x > m {
			m = x
		}
	}
	if m <= LogZero || math.IsInf(m, -1) {
		return LogZero
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Exp(x - m)
	}
	return m + math.Log(sum)
}

// IsFinite reports whether x is neither NaN nor ±Inf.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
