package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/fundarb/config"
	"github.com/alejandrodnm/fundarb/internal/adapters/notify"
	"github.com/alejandrodnm/fundarb/internal/adapters/storage"
	"github.com/alejandrodnm/fundarb/internal/ports"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	signalsPath := flag.String("signals", "", "signal CSV file or directory (overrides config)")
	noCache := flag.Bool("no-cache", false, "keep fetched bars in memory only")
	history := flag.Int("history", 0, "print the last N runs and exit")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *signalsPath != "" {
		cfg.Data.SignalsPath = *signalsPath
	}
	setupLogger(cfg.Log)

	store, err := storage.NewSQLiteStorage(cfg.Data.CacheDSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Data.CacheDSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *history > 0 {
		runs, err := store.RecentRuns(ctx, *history)
		if err != nil {
			slog.Error("failed to read run history", "err", err)
			os.Exit(1)
		}
		console.PrintRuns(runs)
		return
	}

	start, end := cfg.Range()
	slog.Info("fundarb starting",
		"config", *configPath,
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
		"venues", cfg.Venues().A+"/"+cfg.Venues().B,
		"capital", cfg.Trading.InitialCapital,
		"window_min", cfg.Trading.VWAPWindowMinutes,
		"cache", cfg.Data.CacheDSN,
		"no_cache", *noCache,
	)
	if cfg.Analysis.RunAnalysisFirst {
		slog.Warn("run_analysis_first is set: signal discovery runs upstream, using existing timeline",
			"signals", cfg.Data.SignalsPath)
	}
	if cfg.Output.GeneratePlots {
		slog.Warn("generate_plots is set: plots are not rendered, see performance.yaml")
	}

	var cache ports.BarCache = store
	if *noCache {
		cache = storage.NewMemoryCache()
	}

	p := newPipeline(cfg, cache, store, console)
	if err := p.run(ctx); err != nil {
		slog.Error("backtest failed", "err", err)
		store.Close()
		os.Exit(1)
	}

	slog.Info("fundarb finished", "output_dir", cfg.Output.Dir)
}

// loadConfig usa los defaults si el path por defecto no existe.
func loadConfig(path string) (*config.Config, error) {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	if !explicit && path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config file not found, using defaults", "path", path)
			return config.Load("")
		}
	}
	return config.Load(path)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
