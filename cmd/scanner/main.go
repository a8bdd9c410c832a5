package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yourusername/pairs-trading-engine/pkg/broker"
	"github.com/yourusername/pairs-trading-engine/pkg/config"
	"github.com/yourusername/pairs-trading-engine/pkg/logger"
	"github.com/yourusername/pairs-trading-engine/pkg/marketdata"
	"github.com/yourusername/pairs-trading-engine/pkg/scanner"
)

const (
	appName    = "PairsScanner"
	appVersion = "1.0.0"
)

var (
	configFile = flag.String("config", "./configs/engine.yaml", "Configuration file path")
	symbols    = flag.String("symbols", "", "Comma-separated candidate universe (e.g. GOLD,SILVER,SLV,SIVR)")
	bars       = flag.Int("bars", 500, "History bars per instrument")
	top        = flag.Int("top", 10, "Number of ranked pairs to print")
	version    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}
	if *symbols == "" {
		fmt.Fprintln(os.Stderr, "usage: scanner -symbols SYM1,SYM2,... [-config path]")
		os.Exit(2)
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
		log.Fatal().Err(err).Msg("authenticate failed")
	}

	source := marketdata.NewHistoricalSource(client, "DAY", log)
	universe := strings.Split(*symbols, ",")

	s := scanner.NewScanner(source, *bars, log)
	reports := scanner.Rank(s.ScanUniverse(ctx, universe))

	fmt.Printf("\n%-16s %8s %8s %10s %10s %8s %8s\n",
		"PAIR", "SCORE", "PVALUE", "HEDGE", "HALFLIFE", "CORR", "COINT")
	for i, r := range reports {
		if i >= *top {
			break
		}
		fmt.Printf("%-16s %8.1f %8.4f %10.4f %10.1f %8.3f %8v\n",
			r.Symbol1+"/"+r.Symbol2, r.TotalScore, r.PValue, r.HedgeRatio,
			r.HalfLifeDays, r.Correlation, r.Cointegrated)
	}
}
