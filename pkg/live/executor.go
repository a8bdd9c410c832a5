// Package live drives the periodic trading loop: fetch market data,
// evaluate the portfolio, and execute the resulting decisions through
// the broker with two-leg sequencing and post-submission verification.
package live

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/broker"
	"github.com/yourusername/pairs-trading-engine/pkg/marketdata"
	"github.com/yourusername/pairs-trading-engine/pkg/portfolio"
	"github.com/yourusername/pairs-trading-engine/pkg/spread"
)

// ErrEscalated halts the loop after too many consecutive broker failures.
var ErrEscalated = errors.New("live: consecutive broker failures exceeded limit")

// Config controls the trading loop.
type Config struct {
	DryRun              bool
	PollInterval        time.Duration
	LegSettleDelay      time.Duration
	VerifyTimeout       time.Duration
	MaxConsecutiveFails int
	HistoryBars         int
	ConfidenceThreshold float64
}

// TradeLeg records one submitted order of a spread trade.
type TradeLeg struct {
	Epic          string
	Direction     string
	Size          float64
	DealReference string
	DealID        string
	Status        string
}

// Trade records one executed (or simulated) spread decision.
type Trade struct {
	ID        string
	Pair      string
	Action    portfolio.Action
	ZScore    float64
	Legs      []TradeLeg
	DryRun    bool
	Timestamp time.Time
}

// Executor runs evaluation cycles on a fixed poll interval.
type Executor struct {
	cfg       Config
	orch      *portfolio.Orchestrator
	source    marketdata.PriceDataSource
	client    *broker.Client
	publisher *Publisher
	metrics   *Metrics
	log       zerolog.Logger

	consecutiveFails int
	trades           []Trade
	ticks            *marketdata.TickCache
}

// NewExecutor wires the loop. The publisher may be nil when signal
// broadcasting is disabled.
func NewExecutor(cfg Config, orch *portfolio.Orchestrator, source marketdata.PriceDataSource, client *broker.Client, publisher *Publisher, metrics *Metrics, log zerolog.Logger) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Minute
	}
	if cfg.LegSettleDelay <= 0 {
		cfg.LegSettleDelay = 2 * time.Second
	}
	if cfg.VerifyTimeout <= 0 {
		cfg.VerifyTimeout = 10 * time.Second
	}
	if cfg.MaxConsecutiveFails <= 0 {
		cfg.MaxConsecutiveFails = 3
	}
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = 252
	}
	return &Executor{
		cfg:       cfg,
		orch:      orch,
		source:    source,
		client:    client,
		publisher: publisher,
		metrics:   metrics,
		log:       log.With().Str("component", "live").Logger(),
	}
}

// UseTickCache overlays streamed tick prices onto each cycle's inputs.
// Without it the loop prices pairs off the last historical bar only.
func (e *Executor) UseTickCache(cache *marketdata.TickCache) {
	e.ticks = cache
}

// Run polls until the context is cancelled or failures escalate.
func (e *Executor) Run(ctx context.Context) error {
	e.log.Info().
		Bool("dry_run", e.cfg.DryRun).
		Dur("poll_interval", e.cfg.PollInterval).
		Msg("trading loop started")

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := e.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrEscalated) || ctx.Err() != nil {
				return err
			}
			e.log.Error().Err(err).Msg("cycle failed")
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			e.log.Info().Msg("trading loop stopped")
			return ctx.Err()
		}
	}
}

// RunOnce executes a single evaluation cycle end to end.
func (e *Executor) RunOnce(ctx context.Context) error {
	e.metrics.CyclesTotal.Inc()

	inputs, err := e.collectInputs(ctx)
	if err != nil {
		return e.recordFailure(err)
	}

	result := e.orch.EvaluateCycle(inputs, e.cfg.ConfidenceThreshold)
	if result.Halted {
		e.metrics.RiskHalts.Inc()
	}
	e.metrics.Leverage.Set(result.Leverage)
	for _, d := range result.Decisions {
		e.metrics.SignalsTotal.WithLabelValues(string(d.Action)).Inc()
	}

	if e.publisher != nil {
		if err := e.publisher.PublishCycle(result); err != nil {
			e.log.Warn().Err(err).Msg("signal publish failed")
		}
	}

	for _, d := range result.Decisions {
		if d.Action == portfolio.ActionHold {
			continue
		}
		if err := e.executeDecision(ctx, d); err != nil {
			if ferr := e.recordFailure(err); errors.Is(ferr, ErrEscalated) {
				return ferr
			}
			continue
		}
		e.resetFailures()
	}
	return nil
}

// collectInputs builds the per-pair market snapshot from the history
// source using each pair's calibrated hedge ratio.
func (e *Executor) collectInputs(ctx context.Context) (map[string]portfolio.PairInput, error) {
	inputs := make(map[string]portfolio.PairInput)
	for _, state := range e.orch.PairStates() {
		pair, err := e.source.FetchAlignedSeries(ctx, state.Symbol1, state.Symbol2, e.cfg.HistoryBars)
		if err != nil {
			// A pair with no data sits out the cycle; broker-level
			// failures bubble up so the failure counter sees them.
			if broker.IsTransient(err) {
				return nil, err
			}
			e.log.Warn().Str("pair", state.Name()).Err(err).Msg("no data this cycle")
			continue
		}

		n := pair.Len()
		input := portfolio.PairInput{
			Price1:        pair.Prices1[n-1],
			Price2:        pair.Prices2[n-1],
			SpreadHistory: spread.Series(pair.Prices1, pair.Prices2, state.HedgeRatio),
		}
		e.overlayTicks(&state, &input)
		inputs[state.Name()] = input
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("live: no pair has usable market data")
	}
	return inputs, nil
}

// overlayTicks replaces the last bar's prices with streamed ticks when
// both legs have one fresh enough. The final spread observation is
// recomputed so the z-score sees the same prices the sizer does.
func (e *Executor) overlayTicks(state *portfolio.PairState, input *portfolio.PairInput) {
	if e.ticks == nil {
		return
	}
	maxAge := 2 * e.cfg.PollInterval
	t1, ok1 := e.ticks.Latest(state.Symbol1, maxAge)
	t2, ok2 := e.ticks.Latest(state.Symbol2, maxAge)
	if !ok1 || !ok2 || t1.Price <= 0 || t2.Price <= 0 {
		return
	}

	input.Price1 = t1.Price
	input.Price2 = t2.Price
	if n := len(input.SpreadHistory); n > 0 {
		input.SpreadHistory[n-1] = t1.Price - state.HedgeRatio*t2.Price
	}
}

// executeDecision turns one decision into broker orders. Spread entries
// are two sequential legs with a settle delay in between; the second
// leg failing after the first succeeded leaves an unhedged position,
// which is alerted at high severity and deliberately not auto-unwound.
func (e *Executor) executeDecision(ctx context.Context, d portfolio.Decision) error {
	trade := Trade{
		ID:        uuid.NewString(),
		Pair:      d.Pair,
		Action:    d.Action,
		ZScore:    d.ZScore,
		DryRun:    e.cfg.DryRun,
		Timestamp: time.Now(),
	}

	if e.cfg.DryRun {
		e.log.Info().
			Str("trade_id", trade.ID).
			Str("pair", d.Pair).
			Str("action", string(d.Action)).
			Float64("zscore", d.ZScore).
			Msg("dry run, trade not executed")
		e.trades = append(e.trades, trade)
		return nil
	}

	var err error
	switch d.Action {
	case portfolio.ActionExit:
		err = e.closePair(ctx, d, &trade)
	case portfolio.ActionLong, portfolio.ActionShort:
		err = e.openSpread(ctx, d, &trade)
	}
	if err != nil {
		e.metrics.TradesTotal.WithLabelValues("failed").Inc()
		return err
	}

	e.metrics.TradesTotal.WithLabelValues("ok").Inc()
	e.trades = append(e.trades, trade)
	e.updateEquity(ctx)
	return nil
}

func (e *Executor) openSpread(ctx context.Context, d portfolio.Decision, trade *Trade) error {
	symbol1, symbol2 := splitPair(d.Pair)

	dir1, dir2 := "BUY", "SELL"
	if d.Action == portfolio.ActionShort {
		dir1, dir2 = "SELL", "BUY"
	}

	leg1 := broker.OrderRequest{Epic: symbol1, Direction: dir1, Size: math.Abs(d.Qty1)}
	ref1, err := e.client.CreatePosition(ctx, leg1)
	if err != nil {
		return fmt.Errorf("live: leg 1 (%s %s) failed: %w", dir1, symbol1, err)
	}
	trade.Legs = append(trade.Legs, TradeLeg{
		Epic: symbol1, Direction: dir1, Size: leg1.Size, DealReference: ref1,
	})

	select {
	case <-time.After(e.cfg.LegSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	leg2 := broker.OrderRequest{Epic: symbol2, Direction: dir2, Size: math.Abs(d.Qty2)}
	ref2, err := e.client.CreatePosition(ctx, leg2)
	if err != nil {
		e.metrics.UnhedgedAlerts.Inc()
		e.log.Error().
			Str("pair", d.Pair).
			Str("held_leg", symbol1).
			Str("deal_reference", ref1).
			Err(err).
			Msg("UNHEDGED POSITION: second leg failed, manual intervention required")
		return fmt.Errorf("live: leg 2 (%s %s) failed after leg 1 filled: %w", dir2, symbol2, err)
	}
	trade.Legs = append(trade.Legs, TradeLeg{
		Epic: symbol2, Direction: dir2, Size: leg2.Size, DealReference: ref2,
	})

	return e.verifyLegs(ctx, trade)
}

// verifyLegs polls deal confirmations until every leg is accepted or
// the verification window closes.
func (e *Executor) verifyLegs(ctx context.Context, trade *Trade) error {
	deadline := time.Now().Add(e.cfg.VerifyTimeout)
	for i := range trade.Legs {
		leg := &trade.Legs[i]
		for {
			conf, err := e.client.Confirm(ctx, leg.DealReference)
			if err == nil && conf.Status != "" {
				leg.DealID = conf.DealID
				leg.Status = conf.Status
				if conf.Status != "ACCEPTED" {
					return fmt.Errorf("live: leg %s rejected: %s", leg.Epic, conf.Reason)
				}
				break
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("live: confirmation timeout for %s (%s)", leg.Epic, leg.DealReference)
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	e.log.Info().
		Str("trade_id", trade.ID).
		Str("pair", trade.Pair).
		Str("action", string(trade.Action)).
		Msg("spread trade verified")
	return nil
}

// closePair closes every open broker position belonging to either leg.
func (e *Executor) closePair(ctx context.Context, d portfolio.Decision, trade *Trade) error {
	symbol1, symbol2 := splitPair(d.Pair)

	positions, err := e.client.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("live: list positions for exit: %w", err)
	}

	closed := 0
	for _, p := range positions {
		if p.Epic != symbol1 && p.Epic != symbol2 {
			continue
		}
		if err := e.client.ClosePosition(ctx, p.DealID); err != nil {
			return fmt.Errorf("live: close %s (%s): %w", p.Epic, p.DealID, err)
		}
		trade.Legs = append(trade.Legs, TradeLeg{
			Epic: p.Epic, Direction: "CLOSE", Size: p.Size, DealID: p.DealID, Status: "CLOSED",
		})
		closed++
	}

	if closed == 0 {
		e.log.Warn().Str("pair", d.Pair).Msg("exit signal but no open broker positions")
	}
	return nil
}

func (e *Executor) updateEquity(ctx context.Context) {
	balance, err := e.client.GetAccountBalance(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("balance refresh failed")
		return
	}
	e.metrics.Equity.Set(balance.Balance)
}

// recordFailure bumps the consecutive failure counter and escalates at
// the configured limit.
func (e *Executor) recordFailure(err error) error {
	e.consecutiveFails++
	e.metrics.ConsecutiveFail.Set(float64(e.consecutiveFails))

	if e.consecutiveFails >= e.cfg.MaxConsecutiveFails {
		e.log.Error().
			Int("failures", e.consecutiveFails).
			Err(err).
			Msg("CRITICAL: repeated broker failures, halting trading loop")
		return fmt.Errorf("%w: %v", ErrEscalated, err)
	}
	return err
}

func (e *Executor) resetFailures() {
	if e.consecutiveFails != 0 {
		e.consecutiveFails = 0
		e.metrics.ConsecutiveFail.Set(0)
	}
}

// Trades returns the trade records collected so far.
func (e *Executor) Trades() []Trade {
	out := make([]Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

func splitPair(name string) (string, string) {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}
