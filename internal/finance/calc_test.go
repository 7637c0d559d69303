package finance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateIRR_Converges(t *testing.T) {
	flows := []float64{-5000, 1000, 2000, 3000}

	rate, err := CalculateIRR(flows)
	require.NoError(t, err)
	assert.Less(t, math.Abs(NPV(rate, flows)), 0.01)
	assert.InDelta(t, 0.0821, rate, 0.001)
}

func TestCalculateIRR_AboveInitialGuess(t *testing.T) {
	flows := []float64{-1000, 600, 600}

	rate, err := CalculateIRR(flows)
	require.NoError(t, err)
	assert.Less(t, math.Abs(NPV(rate, flows)), 0.01)
	assert.Greater(t, rate, 0.1)
}

func TestCalculateIRR_NoSignChange(t *testing.T) {
	_, err := CalculateIRR([]float64{1000, 1000, 1000})
	assert.ErrorIs(t, err, ErrIRRNotConverged)
}

func TestCalculateIRR_TooFewFlows(t *testing.T) {
	_, err := CalculateIRR([]float64{-100})
	assert.ErrorIs(t, err, ErrInsufficientCashFlows)
}

func TestCalculateCapRate(t *testing.T) {
	rate, err := CalculateCapRate(1000000, 80000)
	require.NoError(t, err)
	assert.Equal(t, 8.0, rate)

	_, err = CalculateCapRate(0, 80000)
	assert.ErrorIs(t, err, ErrInvalidPropertyValue)
}
