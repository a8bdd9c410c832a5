// Package portfolio coordinates per-pair signal evaluation and
// portfolio-level risk aggregation.
package portfolio

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/regime"
	"github.com/yourusername/pairs-trading-engine/pkg/risk"
	"github.com/yourusername/pairs-trading-engine/pkg/signal"
	"github.com/yourusername/pairs-trading-engine/pkg/stats"
	"github.com/yourusername/pairs-trading-engine/pkg/thresholds"
)

// Action is the per-pair decision emitted each cycle.
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionExit  Action = "EXIT"
	ActionHold  Action = "HOLD"
)

// PairConfig describes one configured pair and its static capital weight.
type PairConfig struct {
	Symbol1 string
	Symbol2 string
	Weight  float64
}

// Name returns the canonical pair identifier.
func (c PairConfig) Name() string {
	return c.Symbol1 + "/" + c.Symbol2
}

// PairState holds the calibrated model and current position for one pair.
// It is owned by a single orchestrator and mutated only through the
// signal transition function during cycle evaluation.
type PairState struct {
	Symbol1    string
	Symbol2    string
	Weight     float64
	HedgeRatio float64
	SpreadMean float64 // from the training window only
	SpreadStd  float64
	Position   signal.Position
	Regime     regime.Label
	LastUpdate time.Time
}

// Name returns the canonical pair identifier.
func (s *PairState) Name() string {
	return s.Symbol1 + "/" + s.Symbol2
}

// PairInput is the market snapshot one pair needs for a cycle.
type PairInput struct {
	Price1 float64
	Price2 float64
	// SpreadHistory is the recent spread series ending at the current bar.
	SpreadHistory []float64
}

// Decision is the outcome of evaluating one pair in one cycle.
type Decision struct {
	Pair         string
	Action       Action
	ZScore       float64
	Thresholds   thresholds.Set
	Regime       regime.Label
	RegimeProbs  map[regime.Label]float64
	SizeFraction float64
	Qty1         float64
	Qty2         float64
	Reason       string
	Timestamp    time.Time
}

// CycleResult aggregates one full evaluation pass.
type CycleResult struct {
	Decisions []Decision
	Leverage  float64
	Drawdown  risk.DrawdownStatus
	Halted    bool
	HaltCause string
	Timestamp time.Time
}

// Orchestrator evaluates configured pairs in order and enforces
// portfolio-level leverage and drawdown limits across them.
type Orchestrator struct {
	mu sync.RWMutex

	pairs       []*PairState
	classifiers map[string]*regime.Classifier
	adapters    map[string]*thresholds.Adapter
	sizer       *risk.Sizer

	maxLeverage float64
	log         zerolog.Logger
}

// NewOrchestrator builds an orchestrator over the configured pairs.
// Evaluation order follows the order of cfgs.
func NewOrchestrator(cfgs []PairConfig, sizer *risk.Sizer, regimeCfg regime.Config, adapter thresholds.Adapter, maxLeverage float64, log zerolog.Logger) (*Orchestrator, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("portfolio: no pairs configured")
	}
	if maxLeverage < 1 {
		return nil, fmt.Errorf("portfolio: maxLeverage %.2f below 1", maxLeverage)
	}

	totalWeight := 0.0
	for _, c := range cfgs {
		totalWeight += c.Weight
	}
	if totalWeight > 1.0+1e-9 {
		return nil, fmt.Errorf("portfolio: pair weights sum to %.4f, exceeding 1", totalWeight)
	}

	o := &Orchestrator{
		pairs:       make([]*PairState, 0, len(cfgs)),
		classifiers: make(map[string]*regime.Classifier, len(cfgs)),
		adapters:    make(map[string]*thresholds.Adapter, len(cfgs)),
		sizer:       sizer,
		maxLeverage: maxLeverage,
		log:         log.With().Str("component", "portfolio").Logger(),
	}
	for _, c := range cfgs {
		state := &PairState{
			Symbol1:  c.Symbol1,
			Symbol2:  c.Symbol2,
			Weight:   c.Weight,
			Position: signal.Flat,
		}
		o.pairs = append(o.pairs, state)
		o.classifiers[state.Name()] = regime.NewClassifier(regimeCfg, log)
		a := adapter
		o.adapters[state.Name()] = &a
	}
	return o, nil
}

// Calibrate installs a training-window fit for one pair and trains its
// regime classifier on the training spread returns.
func (o *Orchestrator) Calibrate(pairName string, hedgeRatio, spreadMean, spreadStd float64, trainingSpread []float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	state := o.findPair(pairName)
	if state == nil {
		return fmt.Errorf("portfolio: unknown pair %s", pairName)
	}

	state.HedgeRatio = hedgeRatio
	state.SpreadMean = spreadMean
	state.SpreadStd = spreadStd
	state.LastUpdate = time.Now()

	returns := stats.DropNonFinite(stats.PctChange(trainingSpread))
	if err := o.classifiers[pairName].Fit(returns); err != nil {
		// Too little history for the regime model leaves the pair
		// ungated rather than untradeable.
		if !errors.Is(err, regime.ErrInsufficientSamples) {
			return fmt.Errorf("portfolio: regime fit for %s: %w", pairName, err)
		}
		o.log.Warn().Str("pair", pairName).Err(err).Msg("regime gate disabled")
	}

	o.log.Info().
		Str("pair", pairName).
		Float64("hedge_ratio", hedgeRatio).
		Float64("spread_std", spreadStd).
		Msg("pair calibrated")
	return nil
}

// EvaluateCycle runs one sequential pass over all pairs.
//
// Before each pair it checks the portfolio drawdown and leverage
// snapshot; a breach halts the remainder of the cycle and the
// untouched pairs receive HOLD decisions. Pairs whose input is missing
// are skipped with a HOLD rather than aborting the cycle.
func (o *Orchestrator) EvaluateCycle(inputs map[string]PairInput, confidenceThreshold float64) *CycleResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	result := &CycleResult{
		Decisions: make([]Decision, 0, len(o.pairs)),
		Timestamp: time.Now(),
	}
	result.Drawdown = o.sizer.CheckDrawdown()
	result.Leverage = o.leverageLocked()

	if result.Drawdown.EmergencyStop {
		result.Halted = true
		result.HaltCause = fmt.Sprintf("drawdown %.2f%% breached limit", result.Drawdown.Drawdown*100)
	} else if result.Leverage > o.maxLeverage {
		result.Halted = true
		result.HaltCause = fmt.Sprintf("leverage %.2fx above limit %.2fx", result.Leverage, o.maxLeverage)
	}
	if result.Halted {
		o.log.Error().Str("cause", result.HaltCause).Msg("cycle halted by risk limit")
	}

	for _, state := range o.pairs {
		if result.Halted {
			result.Decisions = append(result.Decisions, Decision{
				Pair: state.Name(), Action: ActionHold,
				Reason: "risk halt: " + result.HaltCause, Timestamp: result.Timestamp,
			})
			continue
		}

		input, ok := inputs[state.Name()]
		if !ok || len(input.SpreadHistory) == 0 {
			result.Decisions = append(result.Decisions, Decision{
				Pair: state.Name(), Action: ActionHold,
				Reason: "no market data this cycle", Timestamp: result.Timestamp,
			})
			continue
		}

		result.Decisions = append(result.Decisions, o.evaluatePairLocked(state, input, confidenceThreshold))
	}
	return result
}

// evaluatePairLocked derives one pair's action: regime gate first, then
// adaptive thresholds, then the fixed priority EXIT > LONG > SHORT > HOLD.
func (o *Orchestrator) evaluatePairLocked(state *PairState, input PairInput, confidenceThreshold float64) Decision {
	now := time.Now()
	name := state.Name()
	classifier := o.classifiers[name]
	spreadReturns := stats.DropNonFinite(stats.PctChange(input.SpreadHistory))

	d := Decision{Pair: name, Action: ActionHold, Timestamp: now}

	if classifier.Fitted() {
		if probs, err := classifier.PredictProbabilities(spreadReturns); err == nil {
			d.RegimeProbs = probs
		}
		if label, err := classifier.PredictRegime(spreadReturns); err == nil {
			d.Regime = label
			state.Regime = label
		}
		tradeable, err := classifier.ShouldTrade(spreadReturns, confidenceThreshold)
		if err != nil {
			d.Reason = "regime prediction failed: " + err.Error()
			o.log.Warn().Str("pair", name).Err(err).Msg("skipping pair this cycle")
			return d
		}
		if !tradeable {
			d.Reason = fmt.Sprintf("regime gate closed (%s)", d.Regime)
			return d
		}
	}

	if state.SpreadStd < 1e-10 {
		d.Reason = "degenerate spread std"
		return d
	}
	zscores := make([]float64, len(input.SpreadHistory))
	for i, s := range input.SpreadHistory {
		zscores[i] = (s - state.SpreadMean) / state.SpreadStd
	}
	d.Thresholds = o.adapters[name].Thresholds(input.SpreadHistory, zscores)
	d.ZScore = zscores[len(zscores)-1]

	z := d.ZScore
	switch {
	case state.Position != signal.Flat && math.Abs(z) <= d.Thresholds.Exit:
		d.Action = ActionExit
		d.Reason = "zscore inside exit band"
	case state.Position == signal.Flat && z <= -d.Thresholds.Entry:
		d.Action = ActionLong
		d.Reason = "spread below entry threshold"
	case state.Position == signal.Flat && z >= d.Thresholds.Entry:
		d.Action = ActionShort
		d.Reason = "spread above entry threshold"
	default:
		d.Reason = "no signal"
	}

	if d.Action == ActionLong || d.Action == ActionShort {
		sig := signal.LongSpread
		if d.Action == ActionShort {
			sig = signal.ShortSpread
		}
		d.SizeFraction = state.Weight * o.sizer.SizeFromReturns(spreadReturns)
		d.Qty1, d.Qty2 = o.sizer.PositionValue(sig, d.SizeFraction, input.Price1, input.Price2, state.HedgeRatio)
	}

	state.Position = signal.Transition(state.Position, z, d.Thresholds.Entry, d.Thresholds.Exit)
	state.LastUpdate = now

	o.log.Info().
		Str("pair", name).
		Str("action", string(d.Action)).
		Float64("zscore", d.ZScore).
		Str("regime", string(d.Regime)).
		Str("position", state.Position.String()).
		Msg("pair evaluated")
	return d
}

// leverageLocked computes gross notional of open positions over equity.
// Each open pair carries its capital weight split across the two legs,
// with the hedge leg scaled by the hedge ratio.
func (o *Orchestrator) leverageLocked() float64 {
	equity := o.sizer.GetState().CurrentCapital
	if equity <= 0 {
		return 0
	}
	notional := 0.0
	for _, state := range o.pairs {
		if state.Position == signal.Flat {
			continue
		}
		alloc := equity * state.Weight
		notional += alloc/2 + math.Abs(state.HedgeRatio)*alloc/2
	}
	return notional / equity
}

func (o *Orchestrator) findPair(name string) *PairState {
	for _, p := range o.pairs {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// PairStates returns a snapshot copy of all pair states in evaluation order.
func (o *Orchestrator) PairStates() []PairState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]PairState, len(o.pairs))
	for i, p := range o.pairs {
		out[i] = *p
	}
	return out
}

// PrintSignalTable writes the per-pair decision table to stdout.
func (o *Orchestrator) PrintSignalTable(result *CycleResult) {
	fmt.Printf("\n%-16s %-6s %8s %8s %8s %-16s %s\n",
		"PAIR", "ACTION", "ZSCORE", "ENTRY", "EXIT", "REGIME", "REASON")
	for _, d := range result.Decisions {
		fmt.Printf("%-16s %-6s %8.3f %8.3f %8.3f %-16s %s\n",
			d.Pair, d.Action, d.ZScore, d.Thresholds.Entry, d.Thresholds.Exit, d.Regime, d.Reason)
	}
	if result.Halted {
		fmt.Printf("CYCLE HALTED: %s\n", result.HaltCause)
	}
	fmt.Printf("leverage=%.2fx drawdown=%.2f%%\n", result.Leverage, result.Drawdown.Drawdown*100)
}
