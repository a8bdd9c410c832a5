// Package regime classifies market state from spread returns with an
// unsupervised hidden Markov model. Trading is only sensible while the
// spread oscillates around its mean; the classifier gates execution off
// during trending and volatile stretches.
package regime

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/stats"
)

// Label identifies a market regime.
type Label string

const (
	MeanReverting Label = "MEAN_REVERTING"
	Trending      Label = "TRENDING"
	Volatile      Label = "VOLATILE"
)

var (
	// ErrNotFitted is returned when predicting before Fit succeeded.
	ErrNotFitted = errors.New("regime: model not fitted")
	// ErrInsufficientSamples is returned when too few clean samples remain.
	ErrInsufficientSamples = errors.New("regime: insufficient training samples")
)

// Config controls HMM fitting. Zero values get conservative defaults.
type Config struct {
	NStates    int
	MaxIter    int
	Tolerance  float64
	Seed       int64
	MinSamples int
}

func (c Config) withDefaults() Config {
	if c.NStates == 0 {
		c.NStates = 3
	}
	if c.MaxIter == 0 {
		c.MaxIter = 1000
	}
	if c.Tolerance == 0 {
		c.Tolerance = 1e-6
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	if c.MinSamples == 0 {
		c.MinSamples = 100
	}
	return c
}

// StateParam exposes a fitted state's parameters and its assigned label.
type StateParam struct {
	Mean     float64
	Variance float64
	Label    Label
}

// Classifier fits and queries the regime model. The fitted model and its
// state-to-label table are immutable after Fit: refitting replaces the
// whole model, never patches it in place.
type Classifier struct {
	cfg    Config
	model  *gaussianHMM
	labels []Label // state index -> label, computed once after fitting
	log    zerolog.Logger
}

// NewClassifier creates an unfitted classifier.
func NewClassifier(cfg Config, log zerolog.Logger) *Classifier {
	return &Classifier{
		cfg: cfg.withDefaults(),
		log: log.With().Str("component", "regime").Logger(),
	}
}

// Fit trains the HMM on spread percentage-change returns. NaN and Inf
// values are dropped first; at least MinSamples clean observations are
// required.
func (c *Classifier) Fit(spreadReturns []float64) error {
	clean := stats.DropNonFinite(spreadReturns)
	if len(clean) < c.cfg.MinSamples {
		return fmt.Errorf("%w: need %d, got %d after cleaning", ErrInsufficientSamples, c.cfg.MinSamples, len(clean))
	}

	model := newGaussianHMM(c.cfg.NStates, clean, c.cfg.Seed)
	logLik := model.fit(clean, c.cfg.MaxIter, c.cfg.Tolerance)

	labels := classifyStates(model.means, model.variances)

	c.model = model
	c.labels = labels

	c.log.Info().
		Int("samples", len(clean)).
		Float64("log_likelihood", logLik).
		Msg("HMM training complete")
	for s := 0; s < model.nStates; s++ {
		c.log.Info().
			Int("state", s).
			Str("label", string(labels[s])).
			Float64("mean", model.means[s]).
			Float64("variance", model.variances[s]).
			Msg("fitted regime state")
	}
	return nil
}

// classifyStates builds the fixed state-to-label table from fitted
// parameters, exactly once per fit:
//
//   - variance above twice the median variance       -> VOLATILE
//   - |mean| above the cross-state std of the means  -> TRENDING
//   - otherwise                                      -> MEAN_REVERTING
func classifyStates(means, variances []float64) []Label {
	medianVar := median(variances)
	meanStd := stats.StdDev(means)

	labels := make([]Label, len(means))
	for s := range means {
		switch {
		case variances[s] > medianVar*2:
			labels[s] = Volatile
		case math.Abs(means[s]) > meanStd:
			labels[s] = Trending
		default:
			labels[s] = MeanReverting
		}
	}
	return labels
}

func median(data []float64) float64 {
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// Fitted reports whether the model has been trained.
func (c *Classifier) Fitted() bool {
	return c.model != nil
}

// StateParams returns the fitted per-state parameters with their labels.
func (c *Classifier) StateParams() []StateParam {
	if c.model == nil {
		return nil
	}
	params := make([]StateParam, c.model.nStates)
	for s := range params {
		params[s] = StateParam{
			Mean:     c.model.means[s],
			Variance: c.model.variances[s],
			Label:    c.labels[s],
		}
	}
	return params
}

// PredictRegime returns the label of the most likely state at the latest
// observation. Empty input after cleaning defaults to VOLATILE: never
// trade on missing data.
func (c *Classifier) PredictRegime(recentReturns []float64) (Label, error) {
	if c.model == nil {
		return "", ErrNotFitted
	}

	clean := stats.DropNonFinite(recentReturns)
	if len(clean) == 0 {
		c.log.Warn().Msg("no valid data for regime prediction, defaulting to VOLATILE")
		return Volatile, nil
	}

	path := c.model.viterbi(clean)
	return c.labels[path[len(path)-1]], nil
}

// PredictProbabilities returns the posterior distribution over labels for
// the latest observation. States sharing a label have their posteriors
// summed. Empty input after cleaning yields VOLATILE with probability 1.
func (c *Classifier) PredictProbabilities(recentReturns []float64) (map[Label]float64, error) {
	if c.model == nil {
		return nil, ErrNotFitted
	}

	probs := map[Label]float64{MeanReverting: 0, Trending: 0, Volatile: 0}

	clean := stats.DropNonFinite(recentReturns)
	if len(clean) == 0 {
		probs[Volatile] = 1
		return probs, nil
	}

	gamma, _, _, _ := c.model.forwardBackward(clean)
	latest := gamma[len(gamma)-1]
	for s, p := range latest {
		probs[c.labels[s]] += p
	}
	return probs, nil
}

// ShouldTrade gates execution: true only when the posterior probability
// of the mean-reverting regime reaches the threshold.
func (c *Classifier) ShouldTrade(recentReturns []float64, threshold float64) (bool, error) {
	probs, err := c.PredictProbabilities(recentReturns)
	if err != nil {
		return false, err
	}

	p := probs[MeanReverting]
	c.log.Debug().Float64("mean_reverting_prob", p).Float64("threshold", threshold).Msg("regime gate")
	return p >= threshold, nil
}
