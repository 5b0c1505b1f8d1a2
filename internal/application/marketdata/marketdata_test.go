package marketdata_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/fundarb/internal/adapters/storage"
	"github.com/alejandrodnm/fundarb/internal/application/marketdata"
	"github.com/alejandrodnm/fundarb/internal/domain"
	"github.com/alejandrodnm/fundarb/internal/ports"
)

var t0 = time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

func minute(n int) time.Time { return t0.Add(time.Duration(n) * time.Minute) }

// fakeProvider genera velas completas salvo que keep diga lo contrario.
type fakeProvider struct {
	name  domain.Exchange
	keep  func(i int) bool // índice de minuto desde t0
	err   error
	delay time.Duration

	mu    sync.Mutex
	calls []domain.TimeRange

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (p *fakeProvider) Name() domain.Exchange { return p.name }

func (p *fakeProvider) FetchBars(ctx context.Context, _ string, start, end time.Time) ([]domain.Bar, error) {
	p.mu.Lock()
	p.calls = append(p.calls, domain.TimeRange{Start: start, End: end})
	p.mu.Unlock()

	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		cur := p.maxInflight.Load()
		if n <= cur || p.maxInflight.CompareAndSwap(cur, n) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}

	var bars []domain.Bar
	for ts := start; ts.Before(end); ts = ts.Add(time.Minute) {
		i := int(ts.Sub(t0) / time.Minute)
		if p.keep != nil && !p.keep(i) {
			continue
		}
		price := 100 + float64(i)
		bars = append(bars, domain.Bar{Time: ts, Open: price, High: price, Low: price, Close: price, Volume: 1})
	}
	return bars, nil
}

func (p *fakeProvider) Calls() []domain.TimeRange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.TimeRange(nil), p.calls...)
}

func newService(providers ...*fakeProvider) (*marketdata.Service, *storage.MemoryCache) {
	cache := storage.NewMemoryCache()
	ps := make([]ports.BarProvider, len(providers))
	for i, p := range providers {
		ps[i] = p
	}
	return marketdata.NewService(cache, domain.DefaultCompletenessRules(), ps...), cache
}

func TestEnsureCoverage_IdempotentOnCoveredRange(t *testing.T) {
	p := &fakeProvider{name: "binance"}
	svc, cache := newService(p)
	ctx := context.Background()

	first, err := svc.EnsureCoverage(ctx, "BTCUSDT", "binance", minute(0), minute(120))
	require.NoError(t, err)
	require.Len(t, first.Bars, 120)
	require.Len(t, p.Calls(), 1)
	assert.Equal(t, 1, cache.Puts())

	second, err := svc.EnsureCoverage(ctx, "BTCUSDT", "binance", minute(0), minute(120))
	require.NoError(t, err)
	assert.Len(t, p.Calls(), 1, "no upstream fetch for a covered range")
	assert.Equal(t, first, second)

	sub, err := svc.EnsureCoverage(ctx, "BTCUSDT", "binance", minute(30), minute(60))
	require.NoError(t, err)
	assert.Len(t, p.Calls(), 1)
	assert.Equal(t, first.Bars[30:60], sub.Bars)
	assert.Equal(t, 1, cache.Puts())
}

func TestEnsureCoverage_FetchesOnlyMissingTail(t *testing.T) {
	p := &fakeProvider{name: "bybit"}
	svc, _ := newService(p)
	ctx := context.Background()

	_, err := svc.EnsureCoverage(ctx, "ETHUSDT", "bybit", minute(0), minute(60))
	require.NoError(t, err)

	series, err := svc.EnsureCoverage(ctx, "ETHUSDT", "bybit", minute(30), minute(120))
	require.NoError(t, err)
	require.Len(t, series.Bars, 90)

	calls := p.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, domain.TimeRange{Start: minute(60), End: minute(120)}, calls[1])
	for i := 1; i < len(series.Bars); i++ {
		assert.True(t, series.Bars[i].Time.After(series.Bars[i-1].Time))
	}
}

func TestEnsureCoverage_BelowCoverageRefetchesExactlyOnce(t *testing.T) {
	// 1000 minutos, 51 huecos de un minuto: 94.9% de cobertura, gaps de 2m.
	dropped := map[int]bool{}
	for i := 1; i <= 51; i++ {
		dropped[i*10] = true
	}
	p := &fakeProvider{name: "binance", keep: func(i int) bool { return !dropped[i] }}
	svc, cache := newService(p)
	ctx := context.Background()

	_, err := svc.EnsureCoverage(ctx, "DOGEUSDT", "binance", minute(0), minute(1000))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))
	assert.False(t, marketdata.IsFatal(err))

	var due *domain.DataUnavailableError
	require.True(t, errors.As(err, &due))
	assert.Equal(t, "DOGEUSDT", due.Key.Symbol)
	assert.Contains(t, due.Reason, "coverage")

	assert.Len(t, p.Calls(), 2, "initial fetch plus one refetch")
	assert.Zero(t, cache.Puts())

	// La clave queda marcada: no vuelve a ir upstream.
	_, err = svc.EnsureCoverage(ctx, "DOGEUSDT", "binance", minute(0), minute(1000))
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))
	assert.Len(t, p.Calls(), 2)
}

func TestEnsureCoverage_TransientErrorBecomesDataUnavailable(t *testing.T) {
	p := &fakeProvider{name: "bybit", err: fmt.Errorf("timeout: %w", domain.ErrFetchTransient)}
	svc, cache := newService(p)

	_, err := svc.EnsureCoverage(context.Background(), "BTCUSDT", "bybit", minute(0), minute(60))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))
	assert.Len(t, p.Calls(), 2)
	assert.Zero(t, cache.Puts())
}

func TestEnsureCoverage_FailedRefetchKeepsPriorEntry(t *testing.T) {
	p := &fakeProvider{name: "binance"}
	svc, cache := newService(p)
	ctx := context.Background()

	_, err := svc.EnsureCoverage(ctx, "BTCUSDT", "binance", minute(0), minute(60))
	require.NoError(t, err)

	p.err = errors.New("boom")
	_, err = svc.EnsureCoverage(ctx, "BTCUSDT", "binance", minute(0), minute(200))
	require.Error(t, err)

	entry, found, err := cache.Lookup(ctx, "BTCUSDT", "binance", minute(0), minute(60))
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, entry.Series.Bars, 60)
}

func TestEnsureCoverage_UnknownExchangeIsFatal(t *testing.T) {
	svc, _ := newService(&fakeProvider{name: "binance"})
	_, err := svc.EnsureCoverage(context.Background(), "BTCUSDT", "okx", minute(0), minute(60))
	require.Error(t, err)
	assert.True(t, marketdata.IsFatal(err))
}

func TestEnsureCoverage_SameKeyFetchedOnce(t *testing.T) {
	p := &fakeProvider{name: "binance", delay: 20 * time.Millisecond}
	svc, _ := newService(p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			series, err := svc.EnsureCoverage(context.Background(), "BTCUSDT", "binance", minute(0), minute(60))
			assert.NoError(t, err)
			assert.Len(t, series.Bars, 60)
		}()
	}
	wg.Wait()
	assert.Len(t, p.Calls(), 1)
}

func TestFetcher_PerExchangeConcurrencyCap(t *testing.T) {
	bn := &fakeProvider{name: "binance", delay: 10 * time.Millisecond}
	by := &fakeProvider{name: "bybit", delay: 10 * time.Millisecond}
	svc, _ := newService(bn, by)
	f := marketdata.NewFetcher(svc, map[domain.Exchange]int{"binance": 3, "bybit": 1})

	var keys []domain.CacheKey
	for i := 0; i < 12; i++ {
		sym := fmt.Sprintf("SYM%02dUSDT", i)
		keys = append(keys,
			domain.CacheKey{Symbol: sym, Exchange: "binance", Start: minute(0), End: minute(30)},
			domain.CacheKey{Symbol: sym, Exchange: "bybit", Start: minute(0), End: minute(30)},
		)
	}

	results, err := f.FetchAll(context.Background(), keys)
	require.NoError(t, err)
	require.Len(t, results, len(keys))
	for i, r := range results {
		assert.Equal(t, keys[i], r.Key)
		assert.NoError(t, r.Err)
		assert.Len(t, r.Series.Bars, 30)
	}
	assert.LessOrEqual(t, bn.maxInflight.Load(), int32(3))
	assert.Equal(t, int32(1), by.maxInflight.Load())
	assert.Len(t, bn.Calls(), 12)
}

func TestFetcher_FailureDoesNotCancelSiblings(t *testing.T) {
	good := &fakeProvider{name: "binance"}
	bad := &fakeProvider{name: "bybit", err: errors.New("down")}
	svc, _ := newService(good, bad)
	f := marketdata.NewFetcher(svc, nil)

	keys := []domain.CacheKey{
		{Symbol: "BTCUSDT", Exchange: "bybit", Start: minute(0), End: minute(30)},
		{Symbol: "BTCUSDT", Exchange: "binance", Start: minute(0), End: minute(30)},
	}
	results, err := f.FetchAll(context.Background(), keys)
	require.NoError(t, err, "data unavailable is not fatal")
	assert.True(t, errors.Is(results[0].Err, domain.ErrDataUnavailable))
	assert.NoError(t, results[1].Err)

	snap := marketdata.NewSnapshot(results)
	bars, err := snap.Bars("BTCUSDT", "binance", minute(5), minute(10))
	require.NoError(t, err)
	assert.Len(t, bars, 5)

	_, err = snap.Bars("BTCUSDT", "bybit", minute(5), minute(10))
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable))

	_, err = snap.Bars("BTCUSDT", "binance", minute(25), minute(35))
	assert.True(t, errors.Is(err, domain.ErrDataUnavailable), "outside fetched range")
}

func TestPlanRanges_MergesNearbyWindows(t *testing.T) {
	opp := func(sym string, m int) domain.Opportunity {
		return domain.Opportunity{Signal: domain.Signal{Symbol: sym, Timestamp: minute(m)}}
	}
	opps := []domain.Opportunity{
		opp("BTCUSDT", 480), opp("BTCUSDT", 100), opp("BTCUSDT", 160),
		opp("ETHUSDT", 100),
	}
	venues := domain.Venues{A: "bybit", B: "binance"}

	keys := marketdata.PlanRanges(opps, venues, 5*time.Minute, time.Hour)
	require.Len(t, keys, 6)

	// 100 y 160 se unen (gap 50m <= 60m); 480 queda aparte.
	assert.Equal(t, domain.CacheKey{Symbol: "BTCUSDT", Exchange: "bybit", Start: minute(95), End: minute(165)}, keys[0])
	assert.Equal(t, domain.CacheKey{Symbol: "BTCUSDT", Exchange: "binance", Start: minute(95), End: minute(165)}, keys[1])
	assert.Equal(t, domain.CacheKey{Symbol: "BTCUSDT", Exchange: "bybit", Start: minute(475), End: minute(485)}, keys[2])
	assert.Equal(t, "ETHUSDT", keys[4].Symbol)
	assert.Equal(t, minute(95), keys[4].Start)
}
