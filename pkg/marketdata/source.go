package marketdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/broker"
)

// PriceDataSource supplies aligned history for a pair of instruments.
type PriceDataSource interface {
	FetchAlignedSeries(ctx context.Context, symbol1, symbol2 string, bars int) (AlignedPair, error)
}

// HistoricalSource fetches price history through the broker client.
type HistoricalSource struct {
	client     *broker.Client
	resolution string
	log        zerolog.Logger
}

// NewHistoricalSource builds a broker-backed source. Empty resolution
// defaults to daily bars.
func NewHistoricalSource(client *broker.Client, resolution string, log zerolog.Logger) *HistoricalSource {
	if resolution == "" {
		resolution = "DAY"
	}
	return &HistoricalSource{
		client:     client,
		resolution: resolution,
		log:        log.With().Str("component", "marketdata").Logger(),
	}
}

// FetchAlignedSeries pulls both legs and intersects them on date.
// A failed fetch for either leg fails the pair; partial pairs are not
// usable downstream.
func (s *HistoricalSource) FetchAlignedSeries(ctx context.Context, symbol1, symbol2 string, bars int) (AlignedPair, error) {
	s1, err := s.fetchOne(ctx, symbol1, bars)
	if err != nil {
		return AlignedPair{}, err
	}
	s2, err := s.fetchOne(ctx, symbol2, bars)
	if err != nil {
		return AlignedPair{}, err
	}

	pair, err := Align(s1, s2)
	if err != nil {
		return AlignedPair{}, err
	}

	s.log.Debug().
		Str("symbol1", symbol1).
		Str("symbol2", symbol2).
		Int("bars", pair.Len()).
		Msg("fetched aligned series")
	return pair, nil
}

func (s *HistoricalSource) fetchOne(ctx context.Context, symbol string, bars int) (PriceSeries, error) {
	raw, err := s.client.GetHistoricalPrices(ctx, symbol, s.resolution, bars)
	if err != nil {
		return PriceSeries{}, fmt.Errorf("marketdata: fetch %s: %w", symbol, err)
	}
	if len(raw) == 0 {
		return PriceSeries{}, fmt.Errorf("marketdata: no price history for %s", symbol)
	}

	out := PriceSeries{Symbol: symbol}
	for _, bar := range raw {
		out.Dates = append(out.Dates, bar.Timestamp)
		out.Prices = append(out.Prices, bar.Close)
	}
	return out, nil
}

// Tick is one streamed price update.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}
