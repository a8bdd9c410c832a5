package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yourusername/pairs-trading-engine/pkg/broker"
	"github.com/yourusername/pairs-trading-engine/pkg/config"
	"github.com/yourusername/pairs-trading-engine/pkg/live"
	"github.com/yourusername/pairs-trading-engine/pkg/logger"
	"github.com/yourusername/pairs-trading-engine/pkg/marketdata"
	"github.com/yourusername/pairs-trading-engine/pkg/portfolio"
	"github.com/yourusername/pairs-trading-engine/pkg/regime"
	"github.com/yourusername/pairs-trading-engine/pkg/risk"
	"github.com/yourusername/pairs-trading-engine/pkg/spread"
	"github.com/yourusername/pairs-trading-engine/pkg/thresholds"
)

const (
	appName    = "PairsTrader"
	appVersion = "1.0.0"
)

var (
	configFile = flag.String("config", "./configs/engine.yaml", "Configuration file path")
	execute    = flag.Bool("execute", false, "Execute real trades (overrides dry_run in config)")
	once       = flag.Bool("once", false, "Run a single cycle and exit")
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
	if *execute {
		cfg.Live.DryRun = false
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("trader exited with error")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
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
		return fmt.Errorf("authenticate: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := live.NewMetrics(registry)
	policy.OnRetry(metrics.BrokerRetries.Inc)
	if cfg.Metrics.Enabled {
		serveMetrics(cfg.Metrics, registry, log)
	}

	sizer := risk.NewSizer(risk.Config{
		InitialCapital:  cfg.Trading.InitialCapital,
		KellyScale:      cfg.Trading.KellyFractionScale,
		MaxLeverage:     cfg.Trading.MaxLeverage,
		MaxDrawdownPct:  cfg.Trading.MaxDrawdownPct,
		MaxPositionSize: cfg.Trading.MaxPositionSize,
	}, log)

	pairCfgs := make([]portfolio.PairConfig, 0, len(cfg.Pairs))
	for _, p := range cfg.Pairs {
		pairCfgs = append(pairCfgs, portfolio.PairConfig{
			Symbol1: p.Symbol1, Symbol2: p.Symbol2, Weight: p.Weight,
		})
	}

	adapter := thresholds.NewAdapter(
		cfg.Trading.EntryThreshold, cfg.Trading.ExitThreshold,
		cfg.Trading.VolatilityLookback, cfg.Trading.ReversionLookback,
	)
	orch, err := portfolio.NewOrchestrator(pairCfgs, sizer, regime.Config{}, *adapter, cfg.Trading.MaxLeverage, log)
	if err != nil {
		return err
	}

	source := marketdata.NewHistoricalSource(client, "DAY", log)
	if err := calibratePairs(ctx, cfg, orch, source); err != nil {
		return err
	}

	var publisher *live.Publisher
	var ticks *marketdata.TickCache
	if cfg.NATS.URL != "" {
		publisher, err = live.NewPublisher(cfg.NATS.URL, cfg.NATS.SignalSubject, log)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, signals will not be published")
		} else {
			defer publisher.Close()
		}

		feed, err := marketdata.NewFeed(cfg.NATS.URL, log)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, pricing off daily bars only")
		} else {
			defer feed.Close()
			ticks = marketdata.NewTickCache()
			if err := subscribeTicks(cfg, feed, ticks); err != nil {
				return err
			}
		}
	}

	executor := live.NewExecutor(live.Config{
		DryRun:              cfg.Live.DryRun,
		PollInterval:        cfg.Live.PollInterval,
		LegSettleDelay:      cfg.Live.LegSettleDelay,
		VerifyTimeout:       cfg.Live.VerifyTimeout,
		MaxConsecutiveFails: cfg.Live.MaxConsecutiveFails,
		HistoryBars:         cfg.Trading.TrainingWindowDays,
		ConfidenceThreshold: cfg.Trading.RegimeConfidenceThreshold,
	}, orch, source, client, publisher, metrics, log)
	if ticks != nil {
		executor.UseTickCache(ticks)
	}

	if *once {
		return executor.RunOnce(ctx)
	}
	return executor.Run(ctx)
}

// subscribeTicks routes every configured symbol's tick stream into the
// shared cache. Duplicate symbols across pairs subscribe once.
func subscribeTicks(cfg *config.Config, feed *marketdata.Feed, cache *marketdata.TickCache) error {
	seen := make(map[string]bool)
	for _, p := range cfg.Pairs {
		for _, symbol := range []string{p.Symbol1, p.Symbol2} {
			if seen[symbol] {
				continue
			}
			seen[symbol] = true
			if err := feed.Subscribe(cfg.NATS.TickSubject, symbol, cache.Update); err != nil {
				return err
			}
		}
	}
	return nil
}

// calibratePairs fits hedge ratio, spread statistics and the regime
// model for every configured pair on its training window.
func calibratePairs(ctx context.Context, cfg *config.Config, orch *portfolio.Orchestrator, source *marketdata.HistoricalSource) error {
	for _, p := range cfg.Pairs {
		pair, err := source.FetchAlignedSeries(ctx, p.Symbol1, p.Symbol2, cfg.Trading.TrainingWindowDays)
		if err != nil {
			return fmt.Errorf("calibrate %s/%s: %w", p.Symbol1, p.Symbol2, err)
		}

		fit, err := spread.Calibrate(pair.Prices1, pair.Prices2)
		if err != nil {
			return fmt.Errorf("calibrate %s/%s: %w", p.Symbol1, p.Symbol2, err)
		}

		series := spread.Series(pair.Prices1, pair.Prices2, fit.HedgeRatio)
		name := p.Symbol1 + "/" + p.Symbol2
		if err := orch.Calibrate(name, fit.HedgeRatio, fit.Mean, fit.Std, series); err != nil {
			return err
		}
	}
	return nil
}

func serveMetrics(cfg config.MetricsConfig, registry *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(cfg.Listen, mux); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()
}
