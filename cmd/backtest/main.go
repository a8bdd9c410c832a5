package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/backtest"
	"github.com/yourusername/pairs-trading-engine/pkg/broker"
	"github.com/yourusername/pairs-trading-engine/pkg/config"
	"github.com/yourusername/pairs-trading-engine/pkg/logger"
	"github.com/yourusername/pairs-trading-engine/pkg/marketdata"
	"github.com/yourusername/pairs-trading-engine/pkg/signal"
	"github.com/yourusername/pairs-trading-engine/pkg/spread"
)

const (
	appName    = "PairsBacktest"
	appVersion = "1.0.0"
)

var (
	configFile = flag.String("config", "./configs/engine.yaml", "Configuration file path")
	bars       = flag.Int("bars", 500, "History bars to fetch per instrument")
	trainRatio = flag.Float64("train-ratio", 0.7, "Training fraction of the history")
	optimize   = flag.Bool("optimize", false, "Grid-search entry/exit thresholds on the training window")
	optGoal    = flag.String("opt-goal", "sharpe", "Optimization goal: sharpe, return, profit_factor, calmar")
	version    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	source, err := connectSource(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("broker connection failed")
	}

	evaluator := backtest.NewEvaluator(backtest.Config{
		TransactionCostBps: cfg.Trading.TransactionCostBps,
		SlippageBps:        cfg.Trading.SlippageBps,
		InitialCapital:     cfg.Trading.InitialCapital,
	}, log)

	for _, p := range cfg.Pairs {
		if err := runPair(ctx, cfg, evaluator, source, p, log); err != nil {
			log.Error().
				Str("pair", p.Symbol1+"/"+p.Symbol2).
				Err(err).
				Msg("pair backtest failed")
		}
	}
}

func connectSource(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*marketdata.HistoricalSource, error) {
	policy := broker.NewCallPolicy(cfg.Broker.MinCallInterval, cfg.Broker.RetryBackoffBase, cfg.Broker.MaxRetries, log)
	client := broker.NewClient(broker.Config{
		BaseURL:    cfg.Broker.BaseURL,
		APIKey:     cfg.Broker.APIKey,
		Identifier: cfg.Broker.Identifier,
		Password:   cfg.Broker.Password,
		Timeout:    cfg.Broker.Timeout,
	}, policy, log)

	authCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Authenticate(authCtx); err != nil {
		return nil, err
	}
	return marketdata.NewHistoricalSource(client, "DAY", log), nil
}

func runPair(ctx context.Context, cfg *config.Config, evaluator *backtest.Evaluator, source *marketdata.HistoricalSource, p config.PairConfig, log zerolog.Logger) error {
	pair, err := source.FetchAlignedSeries(ctx, p.Symbol1, p.Symbol2, *bars)
	if err != nil {
		return err
	}

	train, test := marketdata.TrainTestSplit(pair, *trainRatio)
	fit, err := spread.Calibrate(train.Prices1, train.Prices2)
	if err != nil {
		return err
	}

	fmt.Printf("\n=== %s / %s ===\n", p.Symbol1, p.Symbol2)
	fmt.Printf("bars: %d train, %d test\n", train.Len(), test.Len())
	fmt.Printf("hedge ratio: %.4f  spread mean: %.4f  spread std: %.4f\n",
		fit.HedgeRatio, fit.Mean, fit.Std)

	trainSpread := spread.Series(train.Prices1, train.Prices2, fit.HedgeRatio)
	if st, err := spread.TestStationarity(trainSpread, 0.05); err == nil {
		fmt.Printf("ADF: stat=%.4f p=%.4f stationary=%v\n", st.Statistic, st.PValue, st.IsStationary)
	}
	if ct, err := spread.TestCointegration(train.Prices1, train.Prices2, 0.05); err == nil {
		fmt.Printf("Engle-Granger: stat=%.4f p=%.4f cointegrated=%v\n", ct.Statistic, ct.PValue, ct.IsCointegrated)
	}
	if hl, ok := spread.HalfLife(trainSpread); ok {
		fmt.Printf("half-life: %.1f bars\n", hl)
	} else {
		fmt.Println("half-life: not mean-reverting")
	}

	entry, exit := cfg.Trading.EntryThreshold, cfg.Trading.ExitThreshold
	if *optimize {
		best, err := optimizeThresholds(evaluator, train, fit, log)
		if err != nil {
			return err
		}
		entry, exit = best.Entry, best.Exit
	}

	trainResult, err := replay(evaluator, train, fit, entry, exit)
	if err != nil {
		return err
	}
	testResult, err := replay(evaluator, test, fit, entry, exit)
	if err != nil {
		return err
	}

	evaluator.PrintSummary(testResult)
	evaluator.CompareTrainTest(trainResult, testResult)
	return nil
}

func replay(evaluator *backtest.Evaluator, data marketdata.AlignedPair, fit spread.Fit, entry, exit float64) (*backtest.Result, error) {
	series := spread.Series(data.Prices1, data.Prices2, fit.HedgeRatio)
	zscores, _ := signal.Zscores(series, fit)
	positions := signal.Positions(zscores, entry, exit)
	return evaluator.Run(data.Prices1, data.Prices2, positions, fit.HedgeRatio)
}

// optimizeThresholds grid-searches the training window and prints the
// leading combinations.
func optimizeThresholds(evaluator *backtest.Evaluator, train marketdata.AlignedPair, fit spread.Fit, log zerolog.Logger) (*backtest.GridResult, error) {
	optimizer := backtest.NewOptimizer(evaluator, backtest.Goal(*optGoal), 4, log)
	results, err := optimizer.OptimizeThresholds(train.Prices1, train.Prices2, fit,
		backtest.GridRange{Min: 1.5, Max: 3.0, Step: 0.25},
		backtest.GridRange{Min: 0.25, Max: 1.5, Step: 0.25})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("optimization produced no results")
	}

	fmt.Printf("\ntop threshold combinations (%s):\n", *optGoal)
	fmt.Printf("%4s %8s %8s %10s %8s %10s\n", "RANK", "ENTRY", "EXIT", "SCORE", "SHARPE", "RETURN")
	for i := 0; i < 5 && i < len(results); i++ {
		r := results[i]
		fmt.Printf("%4d %8.2f %8.2f %10.4f %8.2f %9.2f%%\n",
			r.Rank, r.Entry, r.Exit, r.Score, r.Result.Sharpe, r.Result.TotalReturn*100)
	}
	return results[0], nil
}
