// Package marketdata supplies aligned price history and streaming ticks
// to the decision engine.
package marketdata

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// PriceSeries is a dated close-price series for one instrument.
type PriceSeries struct {
	Symbol string
	Dates  []time.Time
	Prices []float64
}

// Len returns the number of observations.
func (s PriceSeries) Len() int { return len(s.Prices) }

// dropNonFinite removes bars whose price is NaN, Inf or non-positive.
func (s PriceSeries) dropNonFinite() PriceSeries {
	out := PriceSeries{Symbol: s.Symbol}
	for i, p := range s.Prices {
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
			continue
		}
		out.Dates = append(out.Dates, s.Dates[i])
		out.Prices = append(out.Prices, p)
	}
	return out
}

// AlignedPair holds two series restricted to their common dates.
type AlignedPair struct {
	Symbol1 string
	Symbol2 string
	Dates   []time.Time
	Prices1 []float64
	Prices2 []float64
}

// Len returns the number of common bars.
func (p AlignedPair) Len() int { return len(p.Dates) }

// Align intersects two series on date after dropping non-finite bars.
// Dates are matched at day granularity and returned sorted ascending.
func Align(s1, s2 PriceSeries) (AlignedPair, error) {
	c1 := s1.dropNonFinite()
	c2 := s2.dropNonFinite()

	byDay := make(map[string]float64, c2.Len())
	for i, d := range c2.Dates {
		byDay[dayKey(d)] = c2.Prices[i]
	}

	out := AlignedPair{Symbol1: s1.Symbol, Symbol2: s2.Symbol}
	for i, d := range c1.Dates {
		if p2, ok := byDay[dayKey(d)]; ok {
			out.Dates = append(out.Dates, d)
			out.Prices1 = append(out.Prices1, c1.Prices[i])
			out.Prices2 = append(out.Prices2, p2)
		}
	}
	if out.Len() == 0 {
		return out, fmt.Errorf("marketdata: no overlapping dates between %s and %s", s1.Symbol, s2.Symbol)
	}

	sort.Sort(byDate{&out})
	return out, nil
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

type byDate struct{ p *AlignedPair }

func (b byDate) Len() int { return b.p.Len() }
func (b byDate) Less(i, j int) bool {
	return b.p.Dates[i].Before(b.p.Dates[j])
}
func (b byDate) Swap(i, j int) {
	b.p.Dates[i], b.p.Dates[j] = b.p.Dates[j], b.p.Dates[i]
	b.p.Prices1[i], b.p.Prices1[j] = b.p.Prices1[j], b.p.Prices1[i]
	b.p.Prices2[i], b.p.Prices2[j] = b.p.Prices2[j], b.p.Prices2[i]
}

// TrainTestSplit cuts an aligned pair at the given training fraction.
// The training part always keeps at least one bar.
func TrainTestSplit(pair AlignedPair, trainFraction float64) (train, test AlignedPair) {
	cut := int(float64(pair.Len()) * trainFraction)
	if cut < 1 {
		cut = 1
	}
	if cut > pair.Len() {
		cut = pair.Len()
	}

	train = AlignedPair{
		Symbol1: pair.Symbol1, Symbol2: pair.Symbol2,
		Dates: pair.Dates[:cut], Prices1: pair.Prices1[:cut], Prices2: pair.Prices2[:cut],
	}
	test = AlignedPair{
		Symbol1: pair.Symbol1, Symbol2: pair.Symbol2,
		Dates: pair.Dates[cut:], Prices1: pair.Prices1[cut:], Prices2: pair.Prices2[cut:],
	}
	return train, test
}
