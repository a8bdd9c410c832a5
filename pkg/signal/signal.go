// Package signal turns z-score series into position state.
package signal

import (
	"math"

	"github.com/yourusername/pairs-trading-engine/pkg/spread"
	"github.com/yourusername/pairs-trading-engine/pkg/stats"
)

// Position is the spread position state.
type Position int8

const (
	Flat        Position = 0
	LongSpread  Position = 1
	ShortSpread Position = -1
)

func (p Position) String() string {
	switch p {
	case LongSpread:
		return "LONG_SPREAD"
	case ShortSpread:
		return "SHORT_SPREAD"
	default:
		return "FLAT"
	}
}

// Transition evaluates the state machine for one bar. Rules apply in fixed
// priority order against the thresholds current at that bar:
//
//  1. open position and |z| <= exit  -> Flat
//  2. flat and z <= -entry           -> LongSpread
//  3. flat and z >= entry            -> ShortSpread
//  4. otherwise hold current state
//
// The band between exit and entry gives hysteresis: a position that has
// been closed cannot immediately re-open on the same excursion.
func Transition(current Position, zscore, entryThreshold, exitThreshold float64) Position {
	switch {
	case current != Flat && math.Abs(zscore) <= exitThreshold:
		return Flat
	case current == Flat && zscore <= -entryThreshold:
		return LongSpread
	case current == Flat && zscore >= entryThreshold:
		return ShortSpread
	default:
		return current
	}
}

// Positions folds Transition over a z-score series starting from Flat,
// producing one position per bar. The position at bar t is decided using
// bar t's z-score; return attribution must lag it by one bar.
func Positions(zscores []float64, entryThreshold, exitThreshold float64) []Position {
	positions := make([]Position, len(zscores))
	current := Flat
	for i, z := range zscores {
		current = Transition(current, z, entryThreshold, exitThreshold)
		positions[i] = current
	}
	return positions
}

// Zscores computes the z-score of a spread series against training-window
// statistics. When the training std is zero the whole series is 0 and
// degenerate reports true so the caller can log the condition once.
func Zscores(spreadSeries []float64, fit spread.Fit) (zscores []float64, degenerate bool) {
	if fit.Std < 1e-10 {
		return make([]float64, len(spreadSeries)), true
	}
	return stats.ZScoreSeries(spreadSeries, fit.Mean, fit.Std), false
}
