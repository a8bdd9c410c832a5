// Package risk converts qualitative signals into capital-weighted trade
// sizes and enforces the drawdown circuit breaker.
package risk

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/signal"
)

// ErrRiskLimitBreached indicates a hard risk limit was crossed; the
// remainder of the evaluation cycle must halt and an operator has to
// intervene before trading resumes.
var ErrRiskLimitBreached = errors.New("risk: limit breached")

// Config holds sizing and circuit-breaker parameters.
type Config struct {
	InitialCapital  float64
	KellyScale      float64 // fraction of full Kelly, e.g. 0.5 for half-Kelly
	MaxLeverage     float64
	MaxDrawdownPct  float64 // emergency stop beyond this peak-to-current loss
	MaxPositionSize float64 // cap on capital fraction per position
}

// State is a read-only snapshot of the sizer's capital accounting.
type State struct {
	InitialCapital float64
	CurrentCapital float64
	HighWaterMark  float64
	Drawdown       float64
	KellyScale     float64
}

// DrawdownStatus reports the circuit-breaker evaluation.
type DrawdownStatus struct {
	Drawdown      float64
	Warning       bool // past half the emergency threshold
	EmergencyStop bool // strictly beyond the configured maximum
}

// Sizer tracks capital and produces position sizes. The high-water mark
// only ever moves up.
type Sizer struct {
	cfg            Config
	currentCapital float64
	highWaterMark  float64
	log            zerolog.Logger
	mu             sync.RWMutex
}

// NewSizer creates a sizer with capital at the configured initial value.
func NewSizer(cfg Config, log zerolog.Logger) *Sizer {
	if cfg.KellyScale == 0 {
		cfg.KellyScale = 0.5
	}
	if cfg.MaxLeverage == 0 {
		cfg.MaxLeverage = 2.0
	}
	if cfg.MaxDrawdownPct == 0 {
		cfg.MaxDrawdownPct = 0.25
	}
	if cfg.MaxPositionSize == 0 {
		cfg.MaxPositionSize = 0.95
	}
	return &Sizer{
		cfg:            cfg,
		currentCapital: cfg.InitialCapital,
		highWaterMark:  cfg.InitialCapital,
		log:            log.With().Str("component", "risk").Logger(),
	}
}

// KellyFraction computes the scaled Kelly bet size from trade statistics:
//
//	b = avgWin/avgLoss
//	f = (p*b - (1-p)) / b
//
// scaled by KellyScale and clamped to [0, MaxPositionSize]. A zero
// average loss or a negative edge returns 0.
func (s *Sizer) KellyFraction(winRate, avgWin, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 0
	}

	b := avgWin / avgLoss
	fullKelly := (winRate*b - (1 - winRate)) / b
	scaled := fullKelly * s.cfg.KellyScale

	if scaled < 0 {
		return 0
	}
	if scaled > s.cfg.MaxPositionSize {
		return s.cfg.MaxPositionSize
	}
	return scaled
}

// SizeFromReturns derives a Kelly fraction from a realized return history.
// Without at least one win and one loss the statistics are meaningless;
// a conservative 10% default is returned instead.
func (s *Sizer) SizeFromReturns(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	var wins, losses int
	var winSum, lossSum float64
	for _, r := range returns {
		if r > 0 {
			wins++
			winSum += r
		} else if r < 0 {
			losses++
			lossSum += -r
		}
	}

	if wins == 0 || losses == 0 {
		s.log.Warn().Int("returns", len(returns)).Msg("insufficient trade history for Kelly sizing, using conservative default")
		return 0.1
	}

	winRate := float64(wins) / float64(len(returns))
	return s.KellyFraction(winRate, winSum/float64(wins), lossSum/float64(losses))
}

// PositionValue converts a signal and size fraction into per-leg
// quantities. Allocated capital is capped by MaxLeverage and split evenly
// between the legs; a long-spread signal buys instrument 1 and sells
// hedgeRatio units of instrument 2 per dollar, a short-spread signal the
// reverse. Quantities carry sign: negative means short.
func (s *Sizer) PositionValue(sig signal.Position, sizeFraction, price1, price2, hedgeRatio float64) (qty1, qty2 float64) {
	if sig == signal.Flat || price1 <= 0 || price2 <= 0 {
		return 0, 0
	}

	s.mu.RLock()
	capital := s.currentCapital
	s.mu.RUnlock()

	positionCapital := capital * sizeFraction
	if max := capital * s.cfg.MaxLeverage; positionCapital > max {
		positionCapital = max
	}

	direction := float64(sig)
	qty1 = direction * positionCapital / (2 * price1)
	qty2 = -direction * hedgeRatio * positionCapital / (2 * price2)
	return qty1, qty2
}

// UpdateCapital applies realized PnL and ratchets the high-water mark.
func (s *Sizer) UpdateCapital(pnl float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.currentCapital += pnl
	if s.currentCapital > s.highWaterMark {
		s.highWaterMark = s.currentCapital
	}
}

// CheckDrawdown evaluates the circuit breaker. The emergency stop fires
// strictly beyond MaxDrawdownPct (not at equality); the warning fires at
// half that threshold.
func (s *Sizer) CheckDrawdown() DrawdownStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.highWaterMark == 0 {
		return DrawdownStatus{}
	}

	dd := (s.currentCapital - s.highWaterMark) / s.highWaterMark
	status := DrawdownStatus{
		Drawdown:      dd,
		Warning:       dd < -s.cfg.MaxDrawdownPct*0.5,
		EmergencyStop: dd < -s.cfg.MaxDrawdownPct,
	}

	if status.EmergencyStop {
		s.log.Error().
			Float64("drawdown", dd).
			Float64("limit", s.cfg.MaxDrawdownPct).
			Msg("EMERGENCY STOP: drawdown limit exceeded")
	} else if status.Warning {
		s.log.Warn().Float64("drawdown", dd).Msg("drawdown warning")
	}
	return status
}

// GetState returns a snapshot of the capital accounting.
func (s *Sizer) GetState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dd := 0.0
	if s.highWaterMark > 0 {
		dd = (s.currentCapital - s.highWaterMark) / s.highWaterMark
	}
	return State{
		InitialCapital: s.cfg.InitialCapital,
		CurrentCapital: s.currentCapital,
		HighWaterMark:  s.highWaterMark,
		Drawdown:       dd,
		KellyScale:     s.cfg.KellyScale,
	}
}
