package signal

import (
	"testing"

	"github.com/yourusername/pairs-trading-engine/pkg/spread"
)

func TestTransition(t *testing.T) {
	const entry, exit = 2.0, 1.0

	tests := []struct {
		name    string
		current Position
		zscore  float64
		want    Position
	}{
		{"flat opens long on deep negative z", Flat, -2.5, LongSpread},
		{"flat opens short on deep positive z", Flat, 2.5, ShortSpread},
		{"flat holds inside entry band", Flat, 1.5, Flat},
		{"flat opens exactly at entry", Flat, 2.0, ShortSpread},
		{"long closes inside exit band", LongSpread, -0.5, Flat},
		{"long closes exactly at exit", LongSpread, 1.0, Flat},
		{"long holds between exit and entry", LongSpread, -1.5, LongSpread},
		{"short closes near zero", ShortSpread, 0.2, Flat},
		{"short holds on renewed excursion", ShortSpread, 2.8, ShortSpread},
		// Exit takes priority: an open position at an opposite extreme
		// stays open rather than flipping in one bar
		{"long holds at positive extreme", LongSpread, 2.5, LongSpread},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Transition(tt.current, tt.zscore, entry, exit); got != tt.want {
				t.Errorf("Transition(%v, %v) = %v, want %v", tt.current, tt.zscore, got, tt.want)
			}
		})
	}
}

func TestPositionsSequence(t *testing.T) {
	zscores := []float64{0, 2.5, 1.5, 0.5, -2.5, 0}
	want := []Position{Flat, ShortSpread, ShortSpread, Flat, LongSpread, Flat}

	got := Positions(zscores, 2.0, 1.0)
	if len(got) != len(want) {
		t.Fatalf("Positions() length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Positions()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPositionsHysteresis(t *testing.T) {
	// After closing at z=0.9 the position cannot re-open until a fresh
	// excursion beyond the entry threshold
	zscores := []float64{2.5, 0.9, 1.5, 1.9, 2.1}
	want := []Position{ShortSpread, Flat, Flat, Flat, ShortSpread}

	got := Positions(zscores, 2.0, 1.0)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Positions()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestZscores(t *testing.T) {
	fit := spread.Fit{Mean: 10, Std: 2}

	got, degenerate := Zscores([]float64{10, 12, 6}, fit)
	if degenerate {
		t.Fatal("Zscores() degenerate = true with nonzero std")
	}
	want := []float64{0, 1, -2}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Zscores()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestZscoresDegenerate(t *testing.T) {
	fit := spread.Fit{Mean: 5, Std: 0}

	got, degenerate := Zscores([]float64{5, 6, 7}, fit)
	if !degenerate {
		t.Fatal("Zscores() degenerate = false with zero std")
	}
	for i, z := range got {
		if z != 0 {
			t.Errorf("Zscores()[%d] = %v, want 0", i, z)
		}
	}
}

func TestPositionString(t *testing.T) {
	tests := []struct {
		pos  Position
		want string
	}{
		{Flat, "FLAT"},
		{LongSpread, "LONG_SPREAD"},
		{ShortSpread, "SHORT_SPREAD"},
	}
	for _, tt := range tests {
		if got := tt.pos.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.pos, got, tt.want)
		}
	}
}
