package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/fundarb/config"
	"github.com/alejandrodnm/fundarb/internal/adapters/csvio"
	"github.com/alejandrodnm/fundarb/internal/adapters/exchange"
	"github.com/alejandrodnm/fundarb/internal/adapters/notify"
	"github.com/alejandrodnm/fundarb/internal/application/analyzer"
	"github.com/alejandrodnm/fundarb/internal/application/backtest"
	"github.com/alejandrodnm/fundarb/internal/application/loader"
	"github.com/alejandrodnm/fundarb/internal/application/marketdata"
	"github.com/alejandrodnm/fundarb/internal/domain"
	"github.com/alejandrodnm/fundarb/internal/ports"
)

// pipeline conecta loader → fetch → engine → analyzer → salidas.
type pipeline struct {
	cfg       *config.Config
	signals   ports.SignalSource
	cache     ports.BarCache
	providers []ports.BarProvider
	ledger    ports.LedgerWriter
	reporters []ports.Reporter
	runs      ports.RunStorage
}

func newPipeline(cfg *config.Config, cache ports.BarCache, runs ports.RunStorage, console *notify.Console) *pipeline {
	venues := cfg.Venues()
	return &pipeline{
		cfg:     cfg,
		signals: csvio.NewSignalReader(cfg.Data.SignalsPath, venues),
		cache:   cache,
		providers: []ports.BarProvider{
			exchange.NewBinanceClient(exchange.Options{BaseURL: cfg.Exchanges.BinanceBase, Timeout: cfg.Exchanges.RequestTimeout}),
			exchange.NewBybitClient(exchange.Options{BaseURL: cfg.Exchanges.BybitBase, Timeout: cfg.Exchanges.RequestTimeout}),
		},
		ledger:    csvio.NewLedgerWriter(cfg.Output.Dir, venues, cfg.Output.SaveDetailedTrades, cfg.Output.SaveEquityCurve),
		reporters: []ports.Reporter{notify.NewYAMLReport(cfg.Output.Dir), console},
		runs:      runs,
	}
}

func (p *pipeline) run(ctx context.Context) error {
	cfg := p.cfg
	venues := cfg.Venues()
	start, end := cfg.Range()

	loaded, err := loader.Load(ctx, p.signals, loader.Config{
		Start:            start,
		End:              end,
		TotalCapital:     cfg.Trading.InitialCapital,
		IncludeAll:       cfg.Symbols.IncludeAll,
		Whitelist:        cfg.Symbols.Whitelist,
		Exclude:          cfg.Symbols.Exclude,
		MinDurationHours: cfg.Filters.MinDurationHours,
		MinRateDiff:      cfg.Filters.MinRateDiff,
	})
	if err != nil {
		return fmt.Errorf("load signals: %w", err)
	}
	if len(loaded.Opportunities) == 0 {
		slog.Warn("no opportunities in range, nothing to backtest")
	}

	keys := marketdata.PlanRanges(loaded.Opportunities, venues, cfg.VWAPWindow(), cfg.MergeGap())
	svc := marketdata.NewService(p.cache, cfg.CompletenessRules(), p.providers...)
	fetcher := marketdata.NewFetcher(svc, map[domain.Exchange]int{
		exchange.Binance: cfg.Exchanges.BinanceConcurrency,
		exchange.Bybit:   cfg.Exchanges.BybitConcurrency,
	})
	results, err := fetcher.FetchAll(ctx, keys)
	if err != nil {
		return fmt.Errorf("fetch bars: %w", err)
	}

	engine := backtest.NewEngine(backtest.Config{
		Venues:         venues,
		InitialCapital: cfg.Trading.InitialCapital,
		Window:         cfg.VWAPWindow(),
		Fees:           cfg.FeeSchedule(),
		Slippage:       cfg.Slippage(),
	})
	res, err := engine.Run(ctx, loaded.Opportunities, marketdata.NewSnapshot(results))
	if err != nil {
		return err
	}

	perf := analyzer.Analyze(res.Trades, res.Equity, analyzer.Config{
		InitialCapital: cfg.Trading.InitialCapital,
		RiskFreeRate:   cfg.Report.RiskFreeRate,
		PeriodsPerYear: cfg.Report.PeriodsPerYear,
		Period:         cfg.Report.Period,
	})

	if err := p.ledger.WriteTrades(ctx, res.Trades); err != nil {
		return err
	}
	if err := p.ledger.WriteEquity(ctx, res.Equity); err != nil {
		return err
	}
	if err := p.ledger.WriteSkips(ctx, res.Skips); err != nil {
		return err
	}
	for _, r := range p.reporters {
		if err := r.Report(ctx, res.Summary, perf); err != nil {
			return err
		}
	}
	if err := p.runs.SaveRun(ctx, res.Summary, perf); err != nil {
		return err
	}
	return nil
}
