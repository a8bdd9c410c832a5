package backtest

import (
	"math"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/spread"
)

func revertingPair(n int, seed int64) (prices1, prices2 []float64) {
	rng := rand.New(rand.NewSource(seed))
	prices2 = make([]float64, n)
	prices1 = make([]float64, n)

	p2 := 50.0
	s := 0.0
	for i := 0; i < n; i++ {
		p2 += 0.1 * rng.NormFloat64()
		s = 0.7*s + rng.NormFloat64()
		prices2[i] = p2
		prices1[i] = 2*p2 + s
	}
	return prices1, prices2
}

func TestGridRangeValues(t *testing.T) {
	vals := GridRange{Min: 1.5, Max: 2.5, Step: 0.5}.values()
	want := []float64{1.5, 2.0, 2.5}
	if len(vals) != len(want) {
		t.Fatalf("values() = %v, want %v", vals, want)
	}
	for i := range want {
		if math.Abs(vals[i]-want[i]) > 1e-9 {
			t.Errorf("values()[%d] = %v, want %v", i, vals[i], want[i])
		}
	}

	// Zero step degenerates to the minimum alone
	if vals := (GridRange{Min: 2.0, Max: 3.0}).values(); len(vals) != 1 || vals[0] != 2.0 {
		t.Errorf("zero-step values() = %v, want [2]", vals)
	}
}

func TestOptimizeThresholds(t *testing.T) {
	prices1, prices2 := revertingPair(400, 42)
	fit, err := spread.Calibrate(prices1, prices2)
	if err != nil {
		t.Fatalf("Calibrate() error: %v", err)
	}

	e := newTestEvaluator(Config{TransactionCostBps: 10, InitialCapital: 100000})
	o := NewOptimizer(e, GoalSharpe, 4, zerolog.Nop())

	results, err := o.OptimizeThresholds(prices1, prices2, fit,
		GridRange{Min: 1.5, Max: 2.5, Step: 0.5},
		GridRange{Min: 0.5, Max: 1.5, Step: 0.5})
	if err != nil {
		t.Fatalf("OptimizeThresholds() error: %v", err)
	}

	// 3 entries x 3 exits minus combos where exit >= entry:
	// (1.5,1.5) and (2.5 exits never reach any entry) -> 8 valid
	if len(results) != 8 {
		t.Fatalf("result count = %d, want 8", len(results))
	}

	for i, r := range results {
		if r.Rank != i+1 {
			t.Errorf("Rank[%d] = %d, want %d", i, r.Rank, i+1)
		}
		if r.Exit >= r.Entry {
			t.Errorf("invalid combination survived: entry %v, exit %v", r.Entry, r.Exit)
		}
		if r.Result == nil {
			t.Errorf("result %d missing backtest detail", i)
		}
		if i > 0 && r.Score > results[i-1].Score {
			t.Errorf("scores not descending at %d: %v after %v", i, r.Score, results[i-1].Score)
		}
	}
}

func TestOptimizeThresholdsEmptyGrid(t *testing.T) {
	prices1, prices2 := revertingPair(100, 42)
	fit, err := spread.Calibrate(prices1, prices2)
	if err != nil {
		t.Fatalf("Calibrate() error: %v", err)
	}

	e := newTestEvaluator(Config{InitialCapital: 100000})
	o := NewOptimizer(e, GoalSharpe, 2, zerolog.Nop())

	// Exit always above entry leaves no valid combination
	_, err = o.OptimizeThresholds(prices1, prices2, fit,
		GridRange{Min: 1.0, Max: 1.0, Step: 0},
		GridRange{Min: 2.0, Max: 2.0, Step: 0})
	if err == nil {
		t.Error("expected error for empty grid")
	}
}

func TestOptimizeThresholdsDegenerateFit(t *testing.T) {
	flat := []float64{100, 100, 100, 100, 100}
	e := newTestEvaluator(Config{InitialCapital: 100000})
	o := NewOptimizer(e, GoalSharpe, 1, zerolog.Nop())

	_, err := o.OptimizeThresholds(flat, flat, spread.Fit{HedgeRatio: 1, Std: 0},
		GridRange{Min: 2, Max: 2, Step: 0}, GridRange{Min: 1, Max: 1, Step: 0})
	if err == nil {
		t.Error("expected error for zero spread std")
	}
}

func TestOptimizerGoals(t *testing.T) {
	e := newTestEvaluator(Config{InitialCapital: 100000})

	r := &Result{Sharpe: 1.2, TotalReturn: 0.3, ProfitFactor: 2.5, AnnualizedReturn: 0.2, MaxDrawdown: -0.1}
	tests := []struct {
		goal Goal
		want float64
	}{
		{GoalSharpe, 1.2},
		{GoalTotalReturn, 0.3},
		{GoalProfitFactor, 2.5},
		{GoalCalmar, 2.0},
	}
	for _, tt := range tests {
		o := NewOptimizer(e, tt.goal, 1, zerolog.Nop())
		if got := o.score(r); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("score(%s) = %v, want %v", tt.goal, got, tt.want)
		}
	}

	// Unknown and empty goals fall back to Sharpe
	o := NewOptimizer(e, "", 1, zerolog.Nop())
	if got := o.score(r); got != 1.2 {
		t.Errorf("default goal score = %v, want Sharpe", got)
	}
}
