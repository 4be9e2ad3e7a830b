package forecast

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// intervalSpan is the width of a 95% normal interval in standard deviations (2 * 1.96).
const intervalSpan = 3.92

// ProbabilityOfIncrease estimates P(value > current) treating the forecast as normal with
// mean yhat and sigma derived from the 95% interval. A zero-width (or malformed)
// interval is deterministic: 1 when yhat exceeds current, 0 otherwise.
func ProbabilityOfIncrease(current, yhat, lower, upper float64) float64 {
	sigma := (upper - lower) / intervalSpan
	if !(sigma > 0) {
		return step(yhat, current)
	}
	z := (current - yhat) / sigma
	if math.IsNaN(z) {
		return step(yhat, current)
	}
	p := distuv.UnitNormal.Survival(z)
	if math.IsNaN(p) {
		return step(yhat, current)
	}
	return p
}

func step(yhat, current float64) float64 {
	if yhat > current {
		return 1.0
	}
	return 0.0
}
