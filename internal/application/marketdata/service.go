// Package marketdata mantiene la cache local de velas de 1 minuto y la
// rellena desde los exchanges con concurrencia acotada.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alejandrodnm/fundarb/internal/domain"
	"github.com/alejandrodnm/fundarb/internal/ports"
)

// Service garantiza cobertura completa de velas para (symbol, exchange, rango).
// Llamadas con la misma clave se serializan; claves distintas corren en paralelo.
type Service struct {
	cache     ports.BarCache
	providers map[domain.Exchange]ports.BarProvider
	rules     domain.CompletenessRules
	now       func() time.Time

	group singleflight.Group

	mu       sync.Mutex
	unusable map[string]string // clave → motivo
}

// NewService crea el servicio. Cada provider se registra por su Name().
func NewService(cache ports.BarCache, rules domain.CompletenessRules, providers ...ports.BarProvider) *Service {
	s := &Service{
		cache:     cache,
		providers: make(map[domain.Exchange]ports.BarProvider, len(providers)),
		rules:     rules,
		now:       time.Now,
		unusable:  make(map[string]string),
	}
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

// EnsureCoverage devuelve las velas de [start, end) cumpliendo las reglas de
// completitud, descargando solo lo que falta en cache. Si no se consigue tras
// un reintento completo, devuelve *domain.DataUnavailableError y marca la clave
// como inutilizable. Otros errores (storage, contexto) son fatales.
func (s *Service) EnsureCoverage(ctx context.Context, symbol string, exchange domain.Exchange, start, end time.Time) (domain.BarSeries, error) {
	key := domain.CacheKey{Symbol: symbol, Exchange: exchange, Start: start.UTC(), End: end.UTC()}

	v, err, shared := s.group.Do(key.String(), func() (any, error) {
		return s.ensure(ctx, key)
	})
	if shared {
		slog.Debug("coverage request deduplicated", "key", key.String())
	}
	if err != nil {
		return domain.BarSeries{}, err
	}
	return v.(domain.BarSeries), nil
}

func (s *Service) ensure(ctx context.Context, key domain.CacheKey) (domain.BarSeries, error) {
	if reason, ok := s.unusableReason(key); ok {
		return domain.BarSeries{}, &domain.DataUnavailableError{Key: key, Reason: "marked unusable: " + reason}
	}

	provider, ok := s.providers[key.Exchange]
	if !ok {
		return domain.BarSeries{}, fmt.Errorf("marketdata.EnsureCoverage: no provider for exchange %q", key.Exchange)
	}

	// 1. Entrada igual o más amplia ya validada.
	entry, found, err := s.cache.Lookup(ctx, key.Symbol, key.Exchange, key.Start, key.End)
	if err != nil {
		return domain.BarSeries{}, fmt.Errorf("marketdata.EnsureCoverage: cache lookup: %w", err)
	}
	if found {
		window := entry.Series.Slice(key.Start, key.End)
		if domain.ValidateCompleteness(window, key.Start, key.End, s.rules).Complete {
			return s.series(key, window), nil
		}
		slog.Debug("cached entry incomplete for range, refilling", "key", key.String())
	}

	// 2. Descargar solo los huecos sobre lo que ya hay.
	existing, err := s.cache.Overlapping(ctx, key.Symbol, key.Exchange, key.Start, key.End)
	if err != nil {
		return domain.BarSeries{}, fmt.Errorf("marketdata.EnsureCoverage: cache overlapping: %w", err)
	}

	bars := existing
	var fetchErr error
	for _, r := range domain.MissingRanges(existing, key.Start, key.End, s.rules.MaxGap) {
		fetched, err := provider.FetchBars(ctx, key.Symbol, r.Start, r.End)
		if err != nil {
			fetchErr = err
			break
		}
		bars = domain.MergeBars(bars, fetched)
	}
	if ctx.Err() != nil {
		return domain.BarSeries{}, ctx.Err()
	}

	v := domain.ValidateCompleteness(bars, key.Start, key.End, s.rules)

	// 3. Un único reintento del rango completo.
	if fetchErr != nil || !v.Complete {
		reason := v.Reason
		if fetchErr != nil {
			reason = fetchErr.Error()
		}
		slog.Info("coverage incomplete, refetching full range",
			"symbol", key.Symbol, "exchange", key.Exchange, "range", rangeAttr(key), "reason", reason)

		full, err := provider.FetchBars(ctx, key.Symbol, key.Start, key.End)
		if ctx.Err() != nil {
			return domain.BarSeries{}, ctx.Err()
		}
		if err != nil {
			return domain.BarSeries{}, s.markUnusable(key, err.Error())
		}
		bars = domain.MergeBars(full, bars)
		v = domain.ValidateCompleteness(bars, key.Start, key.End, s.rules)
		if !v.Complete {
			return domain.BarSeries{}, s.markUnusable(key, v.Reason)
		}
	}

	window := domain.SliceBars(bars, key.Start, key.End)
	if err := s.cache.Put(ctx, domain.CacheEntry{
		Key:        key,
		Series:     s.series(key, window),
		FetchedAt:  s.now().UTC(),
		Validation: v,
	}); err != nil {
		return domain.BarSeries{}, fmt.Errorf("marketdata.EnsureCoverage: cache put: %w", err)
	}

	slog.Debug("coverage ensured", "key", key.String(), "bars", len(window), "coverage", v.Coverage)
	return s.series(key, window), nil
}

func (s *Service) series(key domain.CacheKey, bars []domain.Bar) domain.BarSeries {
	return domain.BarSeries{Symbol: key.Symbol, Exchange: key.Exchange, Bars: bars}
}

func (s *Service) unusableReason(key domain.CacheKey) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.unusable[key.String()]
	return r, ok
}

func (s *Service) markUnusable(key domain.CacheKey, reason string) error {
	s.mu.Lock()
	s.unusable[key.String()] = reason
	s.mu.Unlock()

	slog.Warn("data unavailable",
		"symbol", key.Symbol, "exchange", key.Exchange, "range", rangeAttr(key), "reason", reason)
	return &domain.DataUnavailableError{Key: key, Reason: reason}
}

// IsFatal indica si un error de EnsureCoverage debe abortar el run.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, domain.ErrDataUnavailable)
}

func rangeAttr(key domain.CacheKey) string {
	return key.Start.Format(time.RFC3339) + "/" + key.End.Format(time.RFC3339)
}
