package risk

import (
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/signal"
)

func newTestSizer(cfg Config) *Sizer {
	return NewSizer(cfg, zerolog.Nop())
}

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestKellyFraction(t *testing.T) {
	s := newTestSizer(Config{InitialCapital: 100000, KellyScale: 0.5})

	tests := []struct {
		name    string
		winRate float64
		avgWin  float64
		avgLoss float64
		want    float64
	}{
		// b = 2, full Kelly = (0.6*2 - 0.4)/2 = 0.4, half Kelly = 0.2
		{"positive edge", 0.6, 2.0, 1.0, 0.2},
		{"zero average loss", 0.6, 2.0, 0.0, 0.0},
		// b = 1, full Kelly = (0.3 - 0.7)/1 < 0
		{"negative edge", 0.3, 1.0, 1.0, 0.0},
		{"coin flip even odds", 0.5, 1.0, 1.0, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.KellyFraction(tt.winRate, tt.avgWin, tt.avgLoss)
			if !almostEqual(got, tt.want, 1e-9) {
				t.Errorf("KellyFraction(%v, %v, %v) = %v, want %v",
					tt.winRate, tt.avgWin, tt.avgLoss, got, tt.want)
			}
		})
	}
}

func TestKellyFractionClamped(t *testing.T) {
	s := newTestSizer(Config{InitialCapital: 100000, KellyScale: 1.0, MaxPositionSize: 0.3})

	// Full Kelly (0.9*10 - 0.1)/10 = 0.89, far above the cap
	if got := s.KellyFraction(0.9, 10.0, 1.0); got != 0.3 {
		t.Errorf("KellyFraction() = %v, want clamped 0.3", got)
	}
}

func TestSizeFromReturns(t *testing.T) {
	s := newTestSizer(Config{InitialCapital: 100000, KellyScale: 0.5})

	if got := s.SizeFromReturns(nil); got != 0 {
		t.Errorf("SizeFromReturns(nil) = %v, want 0", got)
	}

	// All wins: no loss statistic, conservative default
	if got := s.SizeFromReturns([]float64{0.01, 0.02, 0.03}); got != 0.1 {
		t.Errorf("one-sided history = %v, want 0.1", got)
	}
	if got := s.SizeFromReturns([]float64{-0.01, -0.02}); got != 0.1 {
		t.Errorf("all-loss history = %v, want 0.1", got)
	}

	// 2 wins of 0.02, 2 losses of 0.01: winRate 0.5, b = 2
	// full Kelly = (1.0 - 0.5)/2 = 0.25, half Kelly = 0.125
	got := s.SizeFromReturns([]float64{0.02, -0.01, 0.02, -0.01})
	if !almostEqual(got, 0.125, 1e-9) {
		t.Errorf("SizeFromReturns() = %v, want 0.125", got)
	}
}

func TestPositionValue(t *testing.T) {
	s := newTestSizer(Config{InitialCapital: 100000})

	// 20% of capital = 20000, split 10000 per leg
	qty1, qty2 := s.PositionValue(signal.LongSpread, 0.2, 100, 50, 2.0)
	if !almostEqual(qty1, 100, 1e-9) {
		t.Errorf("qty1 = %v, want 100", qty1)
	}
	if !almostEqual(qty2, -400, 1e-9) {
		t.Errorf("qty2 = %v, want -400", qty2)
	}

	// Short spread flips both legs
	qty1, qty2 = s.PositionValue(signal.ShortSpread, 0.2, 100, 50, 2.0)
	if !almostEqual(qty1, -100, 1e-9) || !almostEqual(qty2, 400, 1e-9) {
		t.Errorf("short qtys = %v/%v, want -100/400", qty1, qty2)
	}

	if qty1, qty2 := s.PositionValue(signal.Flat, 0.2, 100, 50, 2.0); qty1 != 0 || qty2 != 0 {
		t.Errorf("flat qtys = %v/%v, want 0/0", qty1, qty2)
	}
	if qty1, qty2 := s.PositionValue(signal.LongSpread, 0.2, 0, 50, 2.0); qty1 != 0 || qty2 != 0 {
		t.Errorf("zero price qtys = %v/%v, want 0/0", qty1, qty2)
	}
}

func TestPositionValueLeverageCap(t *testing.T) {
	s := newTestSizer(Config{InitialCapital: 100000, MaxLeverage: 2.0})

	// A 500% request is capped at MaxLeverage times capital
	qty1, _ := s.PositionValue(signal.LongSpread, 5.0, 100, 50, 1.0)
	if !almostEqual(qty1, 1000, 1e-9) {
		t.Errorf("qty1 = %v, want capped 1000", qty1)
	}
}

func TestCheckDrawdown(t *testing.T) {
	tests := []struct {
		name      string
		pnl       float64
		warning   bool
		emergency bool
	}{
		{"no loss", 0, false, false},
		{"small loss", -5000, false, false},
		{"warning past half threshold", -13000, true, false},
		{"exactly at limit stays active", -25000, true, false},
		{"beyond limit stops", -25001, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSizer(Config{InitialCapital: 100000, MaxDrawdownPct: 0.25})
			s.UpdateCapital(tt.pnl)

			status := s.CheckDrawdown()
			if status.Warning != tt.warning {
				t.Errorf("Warning = %v, want %v (drawdown %v)", status.Warning, tt.warning, status.Drawdown)
			}
			if status.EmergencyStop != tt.emergency {
				t.Errorf("EmergencyStop = %v, want %v (drawdown %v)", status.EmergencyStop, tt.emergency, status.Drawdown)
			}
		})
	}
}

func TestHighWaterMarkRatchet(t *testing.T) {
	s := newTestSizer(Config{InitialCapital: 100000, MaxDrawdownPct: 0.25})

	s.UpdateCapital(20000)
	s.UpdateCapital(-10000)

	state := s.GetState()
	if state.HighWaterMark != 120000 {
		t.Errorf("HighWaterMark = %v, want 120000", state.HighWaterMark)
	}
	if state.CurrentCapital != 110000 {
		t.Errorf("CurrentCapital = %v, want 110000", state.CurrentCapital)
	}

	// Drawdown measured from the peak, not initial capital
	wantDD := (110000.0 - 120000.0) / 120000.0
	if !almostEqual(state.Drawdown, wantDD, 1e-12) {
		t.Errorf("Drawdown = %v, want %v", state.Drawdown, wantDD)
	}
}

func TestDefaults(t *testing.T) {
	s := newTestSizer(Config{InitialCapital: 50000})

	state := s.GetState()
	if state.KellyScale != 0.5 {
		t.Errorf("default KellyScale = %v, want 0.5", state.KellyScale)
	}
	if state.CurrentCapital != 50000 || state.HighWaterMark != 50000 {
		t.Errorf("initial capital accounting = %v/%v, want 50000/50000", state.CurrentCapital, state.HighWaterMark)
	}
}
