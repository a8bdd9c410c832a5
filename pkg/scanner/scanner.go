// Package scanner screens a candidate universe for tradeable pairs:
// every unordered combination is tested for cointegration, then
// survivors are ranked on a composite score.
package scanner

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/marketdata"
	"github.com/yourusername/pairs-trading-engine/pkg/spread"
	"github.com/yourusername/pairs-trading-engine/pkg/stats"
)

// PairReport is the scan outcome for one candidate pair.
type PairReport struct {
	Symbol1 string
	Symbol2 string

	PValue       float64
	HedgeRatio   float64
	SpreadMean   float64
	SpreadStd    float64
	SpreadVol    float64 // std over mean, +Inf when mean is 0
	HalfLifeDays float64
	Liquidity    float64
	Correlation  float64
	Cointegrated bool

	CointScore      float64
	HalfLifeScore   float64
	VolatilityScore float64
	LiquidityScore  float64
	TotalScore      float64
}

// Scanner screens candidates over a price source.
type Scanner struct {
	source  marketdata.PriceDataSource
	bars    int
	minObs  int
	log     zerolog.Logger
}

// NewScanner builds a scanner fetching the given number of bars per leg.
func NewScanner(source marketdata.PriceDataSource, bars int, log zerolog.Logger) *Scanner {
	if bars <= 0 {
		bars = 500
	}
	return &Scanner{
		source: source,
		bars:   bars,
		minObs: 60,
		log:    log.With().Str("component", "scanner").Logger(),
	}
}

// TestPair evaluates one candidate pair.
func (s *Scanner) TestPair(ctx context.Context, symbol1, symbol2 string) (*PairReport, error) {
	pair, err := s.source.FetchAlignedSeries(ctx, symbol1, symbol2, s.bars)
	if err != nil {
		return nil, err
	}
	if pair.Len() < s.minObs {
		return nil, spread.ErrInsufficientData
	}
	return s.evaluate(pair), nil
}

func (s *Scanner) evaluate(pair marketdata.AlignedPair) *PairReport {
	report := &PairReport{Symbol1: pair.Symbol1, Symbol2: pair.Symbol2}

	coint, err := spread.TestCointegration(pair.Prices1, pair.Prices2, 0.05)
	if err != nil {
		report.PValue = 1
		return report
	}
	report.PValue = coint.PValue
	report.Cointegrated = coint.IsCointegrated

	hedge, err := spread.HedgeRatio(pair.Prices1, pair.Prices2)
	if err != nil {
		return report
	}
	report.HedgeRatio = hedge

	series := spread.Series(pair.Prices1, pair.Prices2, hedge)
	report.SpreadMean = stats.Mean(series)
	report.SpreadStd = stats.SampleStdDev(series)
	if report.SpreadMean != 0 {
		report.SpreadVol = report.SpreadStd / report.SpreadMean
	} else {
		report.SpreadVol = math.Inf(1)
	}

	hl, _ := spread.HalfLife(series)
	report.HalfLifeDays = hl
	report.Liquidity = liquidity(pair.Prices1, pair.Prices2)
	report.Correlation = stats.Correlation(pair.Prices1, pair.Prices2)
	return report
}

// liquidity proxies tradeability by the inverse of average daily return
// volatility. Calmer legs score higher.
func liquidity(prices1, prices2 []float64) float64 {
	vol1 := stats.SampleStdDev(stats.DropNonFinite(stats.PctChange(prices1)))
	vol2 := stats.SampleStdDev(stats.DropNonFinite(stats.PctChange(prices2)))
	avg := (vol1 + vol2) / 2
	if avg == 0 {
		return 0
	}
	return 1 / avg
}

// ScanUniverse tests every unordered candidate combination. Pairs whose
// data cannot be fetched are skipped, not fatal.
func (s *Scanner) ScanUniverse(ctx context.Context, symbols []string) []*PairReport {
	reports := make([]*PairReport, 0)
	for i := 0; i < len(symbols); i++ {
		for j := i + 1; j < len(symbols); j++ {
			report, err := s.TestPair(ctx, symbols[i], symbols[j])
			if err != nil {
				s.log.Warn().
					Str("symbol1", symbols[i]).
					Str("symbol2", symbols[j]).
					Err(err).
					Msg("skipping pair")
				continue
			}
			reports = append(reports, report)
		}
	}
	s.log.Info().Int("candidates", len(reports)).Msg("universe scan complete")
	return reports
}

// Rank computes composite scores in place and returns the reports
// sorted best first.
//
// Weights: 40% cointegration, 25% half-life fitness, 20% spread
// volatility closeness to the cross-sectional median, 15% liquidity.
func Rank(reports []*PairReport) []*PairReport {
	if len(reports) == 0 {
		return reports
	}

	volMedian := medianOf(reports, func(r *PairReport) float64 { return r.SpreadVol })
	liqMax := 0.0
	for _, r := range reports {
		if r.Liquidity > liqMax {
			liqMax = r.Liquidity
		}
	}

	for _, r := range reports {
		p := r.PValue
		if p > 0.05 {
			p = 0.05
		}
		if p < 0 {
			p = 0
		}
		r.CointScore = 100 * (1 - p/0.05)

		// Half-lives between roughly 5 and 30 days are tradeable;
		// under 2 is noise, over 60 reverts too slowly.
		switch {
		case r.HalfLifeDays < 2 || r.HalfLifeDays > 60 || math.IsInf(r.HalfLifeDays, 1):
			r.HalfLifeScore = 0
		default:
			r.HalfLifeScore = 100 * math.Exp(-math.Abs(r.HalfLifeDays-15)/15)
		}

		if volMedian != 0 && !math.IsInf(r.SpreadVol, 0) {
			r.VolatilityScore = 100 * math.Exp(-math.Abs(r.SpreadVol-volMedian)/math.Abs(volMedian))
		}
		if liqMax > 0 {
			r.LiquidityScore = 100 * r.Liquidity / liqMax
		}

		r.TotalScore = 0.40*r.CointScore + 0.25*r.HalfLifeScore +
			0.20*r.VolatilityScore + 0.15*r.LiquidityScore
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].TotalScore > reports[j].TotalScore
	})
	return reports
}

func medianOf(reports []*PairReport, get func(*PairReport) float64) float64 {
	vals := make([]float64, 0, len(reports))
	for _, r := range reports {
		v := get(r)
		if !math.IsInf(v, 0) && !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 0 {
		return (vals[mid-1] + vals[mid]) / 2
	}
	return vals[mid]
}
