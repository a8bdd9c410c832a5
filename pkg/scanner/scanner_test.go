package scanner

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/marketdata"
)

// stubSource serves canned aligned pairs keyed by "SYM1/SYM2".
type stubSource struct {
	pairs map[string]marketdata.AlignedPair
}

func (s *stubSource) FetchAlignedSeries(_ context.Context, symbol1, symbol2 string, _ int) (marketdata.AlignedPair, error) {
	pair, ok := s.pairs[symbol1+"/"+symbol2]
	if !ok {
		return marketdata.AlignedPair{}, fmt.Errorf("no data for %s/%s", symbol1, symbol2)
	}
	return pair, nil
}

func syntheticPair(symbol1, symbol2 string, n int, seed int64) marketdata.AlignedPair {
	rng := rand.New(rand.NewSource(seed))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	pair := marketdata.AlignedPair{Symbol1: symbol1, Symbol2: symbol2}
	p2 := 50.0
	for i := 0; i < n; i++ {
		p2 += 0.3 * rng.NormFloat64()
		p1 := 2*p2 + 0.2*rng.NormFloat64()
		pair.Dates = append(pair.Dates, base.AddDate(0, 0, i))
		pair.Prices1 = append(pair.Prices1, p1)
		pair.Prices2 = append(pair.Prices2, p2)
	}
	return pair
}

func TestTestPair(t *testing.T) {
	source := &stubSource{pairs: map[string]marketdata.AlignedPair{
		"SLV/SIVR": syntheticPair("SLV", "SIVR", 300, 42),
	}}
	s := NewScanner(source, 500, zerolog.Nop())

	report, err := s.TestPair(context.Background(), "SLV", "SIVR")
	if err != nil {
		t.Fatalf("TestPair() error: %v", err)
	}

	if !report.Cointegrated {
		t.Errorf("Cointegrated = false, p-value %v", report.PValue)
	}
	if math.Abs(report.HedgeRatio-2.0) > 0.1 {
		t.Errorf("HedgeRatio = %v, want near 2.0", report.HedgeRatio)
	}
	if report.Correlation < 0.9 {
		t.Errorf("Correlation = %v, want near 1 for a tight pair", report.Correlation)
	}
	if report.Liquidity <= 0 {
		t.Errorf("Liquidity = %v, want positive", report.Liquidity)
	}
}

func TestTestPairTooFewObservations(t *testing.T) {
	source := &stubSource{pairs: map[string]marketdata.AlignedPair{
		"SLV/SIVR": syntheticPair("SLV", "SIVR", 30, 42),
	}}
	s := NewScanner(source, 500, zerolog.Nop())

	if _, err := s.TestPair(context.Background(), "SLV", "SIVR"); err == nil {
		t.Error("expected error below minimum observations")
	}
}

func TestScanUniverseSkipsFailures(t *testing.T) {
	source := &stubSource{pairs: map[string]marketdata.AlignedPair{
		"SLV/SIVR": syntheticPair("SLV", "SIVR", 300, 42),
		"SLV/GLD":  syntheticPair("SLV", "GLD", 300, 7),
		// SIVR/GLD intentionally missing
	}}
	s := NewScanner(source, 500, zerolog.Nop())

	reports := s.ScanUniverse(context.Background(), []string{"SLV", "SIVR", "GLD"})
	if len(reports) != 2 {
		t.Errorf("report count = %d, want 2 with one fetch failure", len(reports))
	}
}

func TestRankOrdering(t *testing.T) {
	strong := &PairReport{Symbol1: "A", Symbol2: "B", PValue: 0.001, HalfLifeDays: 15, SpreadVol: 0.1, Liquidity: 50}
	weak := &PairReport{Symbol1: "C", Symbol2: "D", PValue: 0.20, HalfLifeDays: 90, SpreadVol: 0.1, Liquidity: 10}

	ranked := Rank([]*PairReport{weak, strong})

	if ranked[0] != strong {
		t.Fatalf("best pair = %s/%s, want A/B", ranked[0].Symbol1, ranked[0].Symbol2)
	}
	if ranked[0].TotalScore <= ranked[1].TotalScore {
		t.Errorf("scores not descending: %v then %v", ranked[0].TotalScore, ranked[1].TotalScore)
	}
}

func TestRankScores(t *testing.T) {
	perfect := &PairReport{PValue: 0, HalfLifeDays: 15, SpreadVol: 0.1, Liquidity: 50}
	Rank([]*PairReport{perfect})

	if perfect.CointScore != 100 {
		t.Errorf("CointScore = %v, want 100 at p=0", perfect.CointScore)
	}
	// Half-life exactly at the sweet spot earns the full score
	if perfect.HalfLifeScore != 100 {
		t.Errorf("HalfLifeScore = %v, want 100 at 15 days", perfect.HalfLifeScore)
	}
	if perfect.LiquidityScore != 100 {
		t.Errorf("LiquidityScore = %v, want 100 for the most liquid pair", perfect.LiquidityScore)
	}
}

func TestRankHalfLifeBounds(t *testing.T) {
	tests := []struct {
		name     string
		halfLife float64
		wantZero bool
	}{
		{"too fast", 1.5, true},
		{"lower bound", 2.0, false},
		{"sweet spot", 15, false},
		{"upper bound", 60, false},
		{"too slow", 61, true},
		{"not reverting", math.Inf(1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &PairReport{PValue: 0.01, HalfLifeDays: tt.halfLife, SpreadVol: 0.1, Liquidity: 1}
			Rank([]*PairReport{r})
			if tt.wantZero && r.HalfLifeScore != 0 {
				t.Errorf("HalfLifeScore = %v, want 0", r.HalfLifeScore)
			}
			if !tt.wantZero && r.HalfLifeScore <= 0 {
				t.Errorf("HalfLifeScore = %v, want positive", r.HalfLifeScore)
			}
		})
	}
}

func TestRankEmpty(t *testing.T) {
	if got := Rank(nil); len(got) != 0 {
		t.Errorf("Rank(nil) = %v, want empty", got)
	}
}
