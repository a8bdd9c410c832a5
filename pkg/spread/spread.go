// Package spread estimates the hedge ratio and the resulting price spread
// between two instruments, and tests the spread for mean reversion.
//
// Everything here is a pure function over aligned price slices: calibration
// statistics are returned as value objects and passed explicitly to
// downstream consumers, so evaluation code can never silently recompute
// them on data it should not see.
package spread

import (
	"errors"
	"fmt"
	"math"

	"github.com/yourusername/pairs-trading-engine/pkg/stats"
)

// ErrInsufficientData indicates too few aligned observations for estimation.
var ErrInsufficientData = errors.New("spread: insufficient data")

// Fit holds the calibration of a spread on a training window.
// HedgeRatio is a single scalar fixed for the life of the fit; Mean and Std
// are the training-window spread statistics used for all later z-scores.
type Fit struct {
	HedgeRatio float64
	Mean       float64
	Std        float64
	NObs       int
}

// StationarityResult reports an ADF test on a spread series.
type StationarityResult struct {
	Statistic      float64
	PValue         float64
	CriticalValues map[string]float64
	IsStationary   bool
}

// CointegrationResult reports an Engle-Granger test on a price pair.
type CointegrationResult struct {
	Statistic      float64
	PValue         float64
	IsCointegrated bool
}

// HedgeRatio estimates beta by OLS of prices1 on prices2 with no intercept:
// the best linear scale of instrument 2 that tracks instrument 1.
func HedgeRatio(prices1, prices2 []float64) (float64, error) {
	if len(prices1) != len(prices2) {
		return 0, fmt.Errorf("%w: misaligned series %d vs %d", ErrInsufficientData, len(prices1), len(prices2))
	}
	if len(prices1) < 2 {
		return 0, fmt.Errorf("%w: need at least 2 aligned points, got %d", ErrInsufficientData, len(prices1))
	}

	return stats.RegressThroughOrigin(prices2, prices1), nil
}

// Series computes the pointwise spread p1 - beta*p2.
func Series(prices1, prices2 []float64, hedgeRatio float64) []float64 {
	n := len(prices1)
	if len(prices2) < n {
		n = len(prices2)
	}

	result := make([]float64, n)
	for i := 0; i < n; i++ {
		result[i] = prices1[i] - hedgeRatio*prices2[i]
	}
	return result
}

// Calibrate fits the hedge ratio and spread statistics on a training window.
func Calibrate(trainPrices1, trainPrices2 []float64) (Fit, error) {
	beta, err := HedgeRatio(trainPrices1, trainPrices2)
	if err != nil {
		return Fit{}, err
	}

	s := Series(trainPrices1, trainPrices2, beta)
	return Fit{
		HedgeRatio: beta,
		Mean:       stats.Mean(s),
		Std:        stats.StdDev(s),
		NObs:       len(s),
	}, nil
}

// TestStationarity runs an ADF test with automatic lag selection.
// The spread is stationary when the p-value is below the confidence level.
func TestStationarity(series []float64, confidence float64) (StationarityResult, error) {
	adf, err := stats.ADFTest(series)
	if err != nil {
		return StationarityResult{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}

	return StationarityResult{
		Statistic:      adf.Statistic,
		PValue:         adf.PValue,
		CriticalValues: adf.CriticalValues,
		IsStationary:   adf.PValue < confidence,
	}, nil
}

// TestCointegration runs the Engle-Granger two-step test on a price pair.
func TestCointegration(prices1, prices2 []float64, confidence float64) (CointegrationResult, error) {
	res, err := stats.EngleGrangerTest(prices1, prices2)
	if err != nil {
		return CointegrationResult{}, fmt.Errorf("%w: %v", ErrInsufficientData, err)
	}

	return CointegrationResult{
		Statistic:      res.Statistic,
		PValue:         res.PValue,
		IsCointegrated: res.PValue < confidence,
	}, nil
}

// HalfLife estimates the mean-reversion half-life in bars from the
// Ornstein-Uhlenbeck style regression of the spread change on its lag,
// with no intercept. A non-negative reversion coefficient means the
// spread is not mean-reverting: the result is +Inf and ok is false,
// never an error.
func HalfLife(series []float64) (halfLife float64, ok bool) {
	if len(series) < 3 {
		return math.Inf(1), false
	}

	lagged := series[:len(series)-1]
	delta := stats.Diff(series)

	lambda := stats.RegressThroughOrigin(lagged, delta)
	if lambda >= 0 {
		return math.Inf(1), false
	}

	return -math.Ln2 / lambda, true
}
