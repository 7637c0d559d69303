package finance

import (
	"errors"
	"math"
)

var (
	// ErrIRRNotConverged is returned when no rate brings NPV within tolerance.
	ErrIRRNotConverged = errors.New("irr did not converge")
	// ErrInsufficientCashFlows is returned for fewer than two cash flows.
	ErrInsufficientCashFlows = errors.New("at least two cash flows are required")
	// ErrInvalidPropertyValue is returned for a non-positive property value.
	ErrInvalidPropertyValue = errors.New("property value must be greater than zero")
)

const (
	irrInitialGuess  = 0.1
	irrStep          = 0.01
	irrTolerance     = 0.01
	irrMaxIterations = 100
)

// NPV discounts flows at rate; flows[0] is undiscounted.
func NPV(rate float64, flows []float64) float64 {
	npv := 0.0
	for t, cf := range flows {
		npv += cf / math.Pow(1+rate, float64(t))
	}
	return npv
}

// CalculateIRR finds a rate where |NPV| < 0.01. Starting at 0.1 it walks in
// steps of 0.01 until NPV changes sign, then bisects inside that bracket.
// The walk and the bisection share a budget of 100 iterations.
func CalculateIRR(flows []float64) (float64, error) {
	if len(flows) < 2 {
		return 0, ErrInsufficientCashFlows
	}

	lo := irrInitialGuess
	fLo := NPV(lo, flows)
	if math.Abs(fLo) < irrTolerance {
		return lo, nil
	}

	// NPV falls as the rate rises for a conventional investment, so a positive
	// NPV means the root lies above the current guess.
	step := irrStep
	if fLo < 0 {
		step = -irrStep
	}

	iter := 0
	hi, fHi := lo, fLo
	for ; iter < irrMaxIterations; iter++ {
		next := hi + step
		if next <= -1 {
			return 0, ErrIRRNotConverged
		}
		fNext := NPV(next, flows)
		if math.Abs(fNext) < irrTolerance {
			return next, nil
		}
		if math.Signbit(fNext) != math.Signbit(fHi) {
			lo, fLo = hi, fHi
			hi, fHi = next, fNext
			break
		}
		hi, fHi = next, fNext
	}
	if iter >= irrMaxIterations {
		return 0, ErrIRRNotConverged
	}

	for ; iter < irrMaxIterations; iter++ {
		mid := (lo + hi) / 2
		fMid := NPV(mid, flows)
		if math.Abs(fMid) < irrTolerance {
			return mid, nil
		}
		if math.Signbit(fMid) == math.Signbit(fLo) {
			lo, fLo = mid, fMid
		} else {
			hi = mid
		}
	}
	return 0, ErrIRRNotConverged
}

// CalculateCapRate returns net operating income as a percentage of value.
func CalculateCapRate(propertyValue, netOperatingIncome float64) (float64, error) {
	if propertyValue <= 0 {
		return 0, ErrInvalidPropertyValue
	}
	return netOperatingIncome * 100 / propertyValue, nil
}
