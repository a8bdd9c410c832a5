package backtest

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/signal"
)

func newTestEvaluator(cfg Config) *Evaluator {
	return NewEvaluator(cfg, zerolog.Nop())
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestRunAllFlat(t *testing.T) {
	e := newTestEvaluator(Config{InitialCapital: 100000})

	prices1 := []float64{100, 101, 99, 102, 100}
	prices2 := []float64{50, 50.5, 49.5, 51, 50}
	positions := make([]signal.Position, len(prices1))

	result, err := e.Run(prices1, prices2, positions, 2.0)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if result.TradeCount != 0 {
		t.Errorf("TradeCount = %d, want 0", result.TradeCount)
	}
	if result.TotalReturn != 0 {
		t.Errorf("TotalReturn = %v, want 0", result.TotalReturn)
	}
	for i, eq := range result.EquityCurve {
		if eq != 100000 {
			t.Errorf("EquityCurve[%d] = %v, want flat 100000", i, eq)
		}
	}
	if result.Sharpe != 0 {
		t.Errorf("Sharpe = %v, want 0 for constant returns", result.Sharpe)
	}
}

func TestRunReturnLag(t *testing.T) {
	e := newTestEvaluator(Config{InitialCapital: 100000})

	// Long the spread from bar 1; instrument 2 is flat so the spread
	// return equals instrument 1's return
	prices1 := []float64{100, 100, 110, 110}
	prices2 := []float64{50, 50, 50, 50}
	positions := []signal.Position{signal.Flat, signal.LongSpread, signal.LongSpread, signal.LongSpread}

	result, err := e.Run(prices1, prices2, positions, 1.0)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Bar 2's 10% move is attributed to the bar-1 position; bar 1 itself
	// earns nothing because bar 0 was flat
	want := []float64{0, 0, 0.1, 0}
	for i := range want {
		if !almostEqual(result.GrossReturns[i], want[i], 1e-9) {
			t.Errorf("GrossReturns[%d] = %v, want %v", i, result.GrossReturns[i], want[i])
		}
	}
	if result.TradeCount != 1 {
		t.Errorf("TradeCount = %d, want 1", result.TradeCount)
	}
}

func TestRunCosts(t *testing.T) {
	e := newTestEvaluator(Config{TransactionCostBps: 10, SlippageBps: 5, InitialCapital: 100000})

	prices1 := []float64{100, 100, 100, 100}
	prices2 := []float64{50, 50, 50, 50}
	positions := []signal.Position{signal.Flat, signal.ShortSpread, signal.ShortSpread, signal.Flat}

	result, err := e.Run(prices1, prices2, positions, 1.0)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Entry at bar 1 and exit at bar 3, 15 bps each
	if result.TradeCount != 2 {
		t.Errorf("TradeCount = %d, want 2", result.TradeCount)
	}
	wantCosts := 2 * 0.0015 * 100000
	if !almostEqual(result.TotalCosts, wantCosts, 1e-6) {
		t.Errorf("TotalCosts = %v, want %v", result.TotalCosts, wantCosts)
	}
	if result.NetReturns[1] != -0.0015 {
		t.Errorf("NetReturns[1] = %v, want -0.0015", result.NetReturns[1])
	}
	// Costs only, compounded
	wantTotal := (1-0.0015)*(1-0.0015) - 1
	if !almostEqual(result.TotalReturn, wantTotal, 1e-12) {
		t.Errorf("TotalReturn = %v, want %v", result.TotalReturn, wantTotal)
	}
}

func TestRunShortSpreadProfit(t *testing.T) {
	e := newTestEvaluator(Config{InitialCapital: 100000})

	// Spread narrows while short: instrument 1 falls, hedge leg flat
	prices1 := []float64{100, 100, 90}
	prices2 := []float64{50, 50, 50}
	positions := []signal.Position{signal.ShortSpread, signal.ShortSpread, signal.Flat}

	result, err := e.Run(prices1, prices2, positions, 1.0)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if !almostEqual(result.GrossReturns[2], 0.1, 1e-9) {
		t.Errorf("GrossReturns[2] = %v, want 0.1", result.GrossReturns[2])
	}
	if result.FinalCapital <= result.InitialCapital {
		t.Errorf("FinalCapital = %v, want above %v", result.FinalCapital, result.InitialCapital)
	}
}

func TestRunZeroPriceSanitized(t *testing.T) {
	e := newTestEvaluator(Config{InitialCapital: 100000})

	prices1 := []float64{0, 100, 110}
	prices2 := []float64{50, 50, 50}
	positions := []signal.Position{signal.LongSpread, signal.LongSpread, signal.LongSpread}

	result, err := e.Run(prices1, prices2, positions, 1.0)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.GrossReturns[1] != 0 {
		t.Errorf("GrossReturns[1] = %v, want sanitized 0", result.GrossReturns[1])
	}
	for _, eq := range result.EquityCurve {
		if math.IsNaN(eq) || math.IsInf(eq, 0) {
			t.Fatalf("equity curve contains non-finite value %v", eq)
		}
	}
}

func TestRunErrors(t *testing.T) {
	e := newTestEvaluator(Config{})

	if _, err := e.Run([]float64{1, 2}, []float64{1}, []signal.Position{0, 0}, 1.0); err == nil {
		t.Error("expected error for misaligned prices")
	}
	if _, err := e.Run([]float64{1, 2}, []float64{1, 2}, []signal.Position{0}, 1.0); err == nil {
		t.Error("expected error for misaligned positions")
	}
	if _, err := e.Run(nil, nil, nil, 1.0); err == nil {
		t.Error("expected error for empty history")
	}
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name         string
		cumulative   []float64
		wantDD       float64
		wantDuration int
	}{
		{"monotone rise", []float64{0, 0.01, 0.02, 0.03}, 0, 0},
		{"single dip", []float64{0, 0.10, 0.045, 0.10}, -0.05, 1},
		{"extended underwater", []float64{0, 0.10, 0.05, 0.01, 0.02, 0.12}, (0.01 - 0.10) / 1.10, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dd, dur := maxDrawdown(tt.cumulative)
			if !almostEqual(dd, tt.wantDD, 1e-9) {
				t.Errorf("maxDrawdown() dd = %v, want %v", dd, tt.wantDD)
			}
			if dur != tt.wantDuration {
				t.Errorf("maxDrawdown() duration = %d, want %d", dur, tt.wantDuration)
			}
		})
	}
}

func TestProfitFactor(t *testing.T) {
	tests := []struct {
		name    string
		returns []float64
		want    float64
	}{
		{"balanced", []float64{0.02, -0.01, 0.02, -0.01}, 2.0},
		{"no losses", []float64{0.01, 0.02}, math.Inf(1)},
		{"no activity", []float64{0, 0, 0}, 0},
		{"only losses", []float64{-0.01, -0.02}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := profitFactor(tt.returns)
			if math.IsInf(tt.want, 1) {
				if !math.IsInf(got, 1) {
					t.Errorf("profitFactor() = %v, want +Inf", got)
				}
				return
			}
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("profitFactor() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAnnualize(t *testing.T) {
	// A full trading year passes through unchanged
	if got := annualize(0.10, 252); !almostEqual(got, 0.10, 1e-12) {
		t.Errorf("annualize(0.10, 252) = %v, want 0.10", got)
	}
	// Half a year compounds up
	want := math.Pow(1.10, 2) - 1
	if got := annualize(0.10, 126); !almostEqual(got, want, 1e-12) {
		t.Errorf("annualize(0.10, 126) = %v, want %v", got, want)
	}
	if got := annualize(0.10, 0); got != 0 {
		t.Errorf("annualize(0.10, 0) = %v, want 0", got)
	}
}

func TestSharpeRatio(t *testing.T) {
	if got := sharpeRatio(nil); got != 0 {
		t.Errorf("sharpeRatio(nil) = %v, want 0", got)
	}
	if got := sharpeRatio([]float64{0.01, 0.01, 0.01}); got != 0 {
		t.Errorf("constant returns sharpe = %v, want 0", got)
	}

	returns := []float64{0.01, -0.005, 0.02, 0.0, 0.01}
	got := sharpeRatio(returns)
	if got <= 0 {
		t.Errorf("sharpeRatio() = %v, want positive for positive-mean returns", got)
	}
}
