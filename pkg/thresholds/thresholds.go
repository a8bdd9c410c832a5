// Package thresholds adapts entry/exit z-score thresholds to current
// market conditions: volatility scales the entry, reversion speed scales
// the exit.
package thresholds

import (
	"math"

	"github.com/yourusername/pairs-trading-engine/pkg/stats"
)

// Set is one evaluation window's thresholds. Entry must stay strictly
// above Exit or the position state machine can oscillate every bar.
type Set struct {
	Entry float64
	Exit  float64
}

// Valid reports whether the entry threshold is strictly above the exit.
func (s Set) Valid() bool {
	return s.Entry > s.Exit
}

// Adapter computes adaptive thresholds from base values.
type Adapter struct {
	BaseEntry         float64
	BaseExit          float64
	VolLookback       int // trailing window for current volatility
	ReversionLookback int // trailing window for reversion speed
}

// NewAdapter returns an Adapter with the conventional 2.0/1.0 base
// thresholds and 20/30 bar lookbacks for zero-value arguments.
func NewAdapter(baseEntry, baseExit float64, volLookback, reversionLookback int) *Adapter {
	if baseEntry == 0 {
		baseEntry = 2.0
	}
	if baseExit == 0 {
		baseExit = 1.0
	}
	if volLookback == 0 {
		volLookback = 20
	}
	if reversionLookback == 0 {
		reversionLookback = 30
	}
	return &Adapter{
		BaseEntry:         baseEntry,
		BaseExit:          baseExit,
		VolLookback:       volLookback,
		ReversionLookback: reversionLookback,
	}
}

// RealizedVolatility returns the annualized standard deviation of the
// spread's percentage changes over the trailing window (sqrt(252) scaling
// for daily bars). With fewer than window samples it falls back to the
// unannualized full-sample std, and to 0.01 on an empty series.
func (a *Adapter) RealizedVolatility(spreadSeries []float64, window int) float64 {
	if window <= 0 {
		window = a.VolLookback
	}

	returns := stats.DropNonFinite(stats.PctChange(spreadSeries))
	if len(returns) == 0 {
		return 0.01
	}
	if len(returns) < window {
		return stats.SampleStdDev(returns)
	}

	recent := returns[len(returns)-window:]
	return stats.SampleStdDev(recent) * math.Sqrt(252)
}

// ReversionSpeed scores how quickly the z-score snaps back through zero,
// in [0, 1]. It combines the zero-crossing rate over the trailing window
// with lag-1 autocorrelation: negative autocorrelation raises the score.
// Fewer than 10 samples returns the neutral 0.5.
func (a *Adapter) ReversionSpeed(zscores []float64, window int) float64 {
	if window <= 0 {
		window = a.ReversionLookback
	}

	recent := zscores
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	if len(recent) < 10 {
		return 0.5
	}

	crossings := 0
	for i := 0; i+1 < len(recent); i++ {
		if recent[i]*recent[i+1] < 0 {
			crossings++
		}
	}
	rate := float64(crossings) / float64(len(recent))

	autocorr := stats.Autocorrelation(recent, 1)
	if autocorr < 0 {
		return math.Min(1.0, rate*2+math.Abs(autocorr))
	}
	return rate
}

// Thresholds computes the current adaptive threshold set.
//
// Entry multiplier from the ratio of current to historical (up to 252-bar)
// realized volatility: quiet markets keep the base threshold, volatile
// markets demand a wider deviation before entering. Exit multiplier from
// reversion speed: fast-reverting spreads are exited sooner.
func (a *Adapter) Thresholds(spreadSeries, zscores []float64) Set {
	currentVol := a.RealizedVolatility(spreadSeries, a.VolLookback)

	historicalVol := currentVol
	if len(spreadSeries) > 100 {
		window := 252
		if len(spreadSeries) < window {
			window = len(spreadSeries)
		}
		historicalVol = a.RealizedVolatility(spreadSeries, window)
	}

	volRatio := 1.0
	if historicalVol > 0 {
		volRatio = currentVol / historicalVol
	}

	var entryMultiplier float64
	switch {
	case volRatio < 0.7:
		entryMultiplier = 1.0
	case volRatio > 1.3:
		entryMultiplier = 1.5
	default:
		entryMultiplier = 1.2
	}

	exitMultiplier := 1.2
	if a.ReversionSpeed(zscores, a.ReversionLookback) > 0.5 {
		exitMultiplier = 0.8
	}

	return Set{
		Entry: a.BaseEntry * entryMultiplier,
		Exit:  a.BaseExit * exitMultiplier,
	}
}
