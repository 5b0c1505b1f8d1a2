// Package loader filtra el timeline de señales y reparte el capital entre
// las oportunidades simultáneas.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alejandrodnm/fundarb/internal/domain"
	"github.com/alejandrodnm/fundarb/internal/ports"
)

// Config son los filtros y el capital a repartir.
type Config struct {
	Start        time.Time // inclusive
	End          time.Time // inclusive
	TotalCapital float64

	IncludeAll bool
	Whitelist  []string
	Exclude    []string

	// Umbrales opcionales; 0 = desactivado.
	MinDurationHours float64
	MinRateDiff      float64
}

// Group son las oportunidades de un mismo timestamp.
type Group struct {
	Timestamp     time.Time
	Opportunities []domain.Opportunity
}

// Summary resume cada etapa del filtrado y la asignación de capital.
type Summary struct {
	Raw             int
	Tradable        int
	InRange         int
	AfterSymbols    int
	AfterThresholds int
	Duplicates      int

	Opportunities   int
	Symbols         int
	Timestamps      int
	MaxPerTimestamp int
	MinCapital      float64
	MaxCapital      float64
	AvgDuration     float64
}

// Result es la salida del loader, ordenada por (timestamp, symbol).
type Result struct {
	Opportunities []domain.Opportunity
	Groups        []Group
	Symbols       []string
	Summary       Summary
}

// Load lee las señales, aplica los filtros y asigna K = capital / n a cada una
// de las n oportunidades de cada timestamp.
func Load(ctx context.Context, src ports.SignalSource, cfg Config) (Result, error) {
	signals, err := src.Signals(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("loader.Load: %w", err)
	}
	return Allocate(signals, cfg), nil
}

// Allocate aplica filtros y asignación sobre señales ya leídas.
func Allocate(signals []domain.Signal, cfg Config) Result {
	var sum Summary
	sum.Raw = len(signals)

	whitelist := toSet(cfg.Whitelist)
	exclude := toSet(cfg.Exclude)
	seen := make(map[string]struct{}, len(signals))

	var kept []domain.Signal
	for _, s := range signals {
		if !s.Tradable {
			continue
		}
		sum.Tradable++

		if s.Timestamp.Before(cfg.Start) || s.Timestamp.After(cfg.End) {
			continue
		}
		sum.InRange++

		if s.Symbol == "" {
			slog.Warn("signal without symbol dropped", "timestamp", s.Timestamp)
			continue
		}
		if !cfg.IncludeAll {
			if _, ok := whitelist[s.Symbol]; !ok {
				continue
			}
		}
		if _, ok := exclude[s.Symbol]; ok {
			continue
		}
		sum.AfterSymbols++

		if cfg.MinDurationHours > 0 && s.DurationHours < cfg.MinDurationHours {
			continue
		}
		if cfg.MinRateDiff > 0 && abs(s.RateDiff) < cfg.MinRateDiff {
			continue
		}
		sum.AfterThresholds++

		id := s.Timestamp.UTC().Format(time.RFC3339) + "|" + s.Symbol
		if _, dup := seen[id]; dup {
			sum.Duplicates++
			continue
		}
		seen[id] = struct{}{}
		kept = append(kept, s)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if !kept[i].Timestamp.Equal(kept[j].Timestamp) {
			return kept[i].Timestamp.Before(kept[j].Timestamp)
		}
		return kept[i].Symbol < kept[j].Symbol
	})

	res := Result{Opportunities: make([]domain.Opportunity, 0, len(kept))}
	symbols := make(map[string]struct{})
	var totalDuration float64

	for i := 0; i < len(kept); {
		j := i
		for j < len(kept) && kept[j].Timestamp.Equal(kept[i].Timestamp) {
			j++
		}
		n := j - i
		k := cfg.TotalCapital / float64(n)

		g := Group{Timestamp: kept[i].Timestamp}
		for _, s := range kept[i:j] {
			capital := k
			opp := domain.Opportunity{Signal: s, Capital: &capital, TradableAtTime: n}
			res.Opportunities = append(res.Opportunities, opp)
			g.Opportunities = append(g.Opportunities, opp)
			symbols[s.Symbol] = struct{}{}
			totalDuration += s.DurationHours
		}
		res.Groups = append(res.Groups, g)

		if n > sum.MaxPerTimestamp {
			sum.MaxPerTimestamp = n
		}
		if sum.MinCapital == 0 || k < sum.MinCapital {
			sum.MinCapital = k
		}
		if k > sum.MaxCapital {
			sum.MaxCapital = k
		}
		i = j
	}

	for s := range symbols {
		res.Symbols = append(res.Symbols, s)
	}
	sort.Strings(res.Symbols)

	sum.Opportunities = len(res.Opportunities)
	sum.Symbols = len(res.Symbols)
	sum.Timestamps = len(res.Groups)
	if sum.Opportunities > 0 {
		sum.AvgDuration = totalDuration / float64(sum.Opportunities)
	}
	res.Summary = sum

	slog.Info("opportunities loaded",
		"raw", sum.Raw,
		"tradable", sum.Tradable,
		"in_range", sum.InRange,
		"selected", sum.Opportunities,
		"symbols", sum.Symbols,
		"timestamps", sum.Timestamps,
		"max_per_timestamp", sum.MaxPerTimestamp,
	)
	if sum.Duplicates > 0 {
		slog.Warn("duplicate signals dropped", "count", sum.Duplicates)
	}
	return res
}

func toSet(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, s := range items {
		m[s] = struct{}{}
	}
	return m
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
