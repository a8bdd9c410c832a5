package backtest

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/signal"
	"github.com/yourusername/pairs-trading-engine/pkg/spread"
)

// Goal selects the metric a grid search maximizes.
type Goal string

const (
	GoalSharpe       Goal = "sharpe"
	GoalTotalReturn  Goal = "return"
	GoalProfitFactor Goal = "profit_factor"
	GoalCalmar       Goal = "calmar"
)

// GridRange is an inclusive sweep over one threshold parameter.
type GridRange struct {
	Min  float64
	Max  float64
	Step float64
}

func (r GridRange) values() []float64 {
	if r.Step <= 0 {
		return []float64{r.Min}
	}
	var out []float64
	for v := r.Min; v <= r.Max+1e-9; v += r.Step {
		out = append(out, v)
	}
	return out
}

// GridResult is one scored threshold combination, ranked best first
// after the search completes.
type GridResult struct {
	Entry  float64
	Exit   float64
	Score  float64
	Rank   int
	Result *Result
}

// Optimizer grid-searches entry/exit threshold combinations over a
// fixed calibration, replaying each candidate through the evaluator.
type Optimizer struct {
	evaluator *Evaluator
	goal      Goal
	workers   int
	log       zerolog.Logger
}

// NewOptimizer builds an optimizer. Workers are clamped to [1, 16];
// an empty goal defaults to Sharpe.
func NewOptimizer(evaluator *Evaluator, goal Goal, workers int, log zerolog.Logger) *Optimizer {
	if goal == "" {
		goal = GoalSharpe
	}
	if workers < 1 {
		workers = 1
	}
	if workers > 16 {
		workers = 16
	}
	return &Optimizer{
		evaluator: evaluator,
		goal:      goal,
		workers:   workers,
		log:       log.With().Str("component", "optimizer").Logger(),
	}
}

// OptimizeThresholds sweeps the entry x exit grid on the given price
// history and fit. Combinations whose exit is not strictly below the
// entry are skipped: they would let the position flap every bar.
func (o *Optimizer) OptimizeThresholds(prices1, prices2 []float64, fit spread.Fit, entry, exit GridRange) ([]*GridResult, error) {
	zscores, degenerate := signal.Zscores(spread.Series(prices1, prices2, fit.HedgeRatio), fit)
	if degenerate {
		return nil, fmt.Errorf("backtest: degenerate spread std, nothing to optimize")
	}

	type combo struct{ entry, exit float64 }
	var combos []combo
	for _, e := range entry.values() {
		for _, x := range exit.values() {
			if x >= e {
				continue
			}
			combos = append(combos, combo{entry: e, exit: x})
		}
	}
	if len(combos) == 0 {
		return nil, fmt.Errorf("backtest: no valid threshold combinations in grid")
	}
	o.log.Info().
		Int("combinations", len(combos)).
		Str("goal", string(o.goal)).
		Int("workers", o.workers).
		Msg("grid search started")

	results := make([]*GridResult, 0, len(combos))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, o.workers)

	for _, c := range combos {
		wg.Add(1)
		go func(c combo) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			positions := signal.Positions(zscores, c.entry, c.exit)
			res, err := o.evaluator.Run(prices1, prices2, positions, fit.HedgeRatio)
			if err != nil {
				o.log.Warn().Float64("entry", c.entry).Float64("exit", c.exit).Err(err).Msg("combination failed")
				return
			}

			mu.Lock()
			results = append(results, &GridResult{
				Entry:  c.entry,
				Exit:   c.exit,
				Score:  o.score(res),
				Result: res,
			})
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	for i, r := range results {
		r.Rank = i + 1
	}

	if len(results) > 0 {
		best := results[0]
		o.log.Info().
			Float64("entry", best.Entry).
			Float64("exit", best.Exit).
			Float64("score", best.Score).
			Float64("sharpe", best.Result.Sharpe).
			Msg("grid search complete")
	}
	return results, nil
}

// score extracts the goal metric. NaN ranks last.
func (o *Optimizer) score(r *Result) float64 {
	var s float64
	switch o.goal {
	case GoalTotalReturn:
		s = r.TotalReturn
	case GoalProfitFactor:
		s = r.ProfitFactor
	case GoalCalmar:
		if r.MaxDrawdown == 0 {
			s = 0
		} else {
			s = r.AnnualizedReturn / math.Abs(r.MaxDrawdown)
		}
	default:
		s = r.Sharpe
	}
	if math.IsNaN(s) {
		return math.Inf(-1)
	}
	return s
}
