package marketdata

// fetcher.go — un worker pool por exchange.
//
// Cada exchange tiene su propio límite de concurrencia (Binance tolera más que
// Bybit). Una tarea fallida no cancela a las demás: el fallo queda en su Result
// y el engine salta las oportunidades afectadas.

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// DefaultConcurrency se usa para exchanges sin límite configurado.
const DefaultConcurrency = 4

// Coverage es la parte de Service que usa el Fetcher.
type Coverage interface {
	EnsureCoverage(ctx context.Context, symbol string, exchange domain.Exchange, start, end time.Time) (domain.BarSeries, error)
}

// Result es el resultado de asegurar una clave.
type Result struct {
	Key    domain.CacheKey
	Series domain.BarSeries
	Err    error
}

// Fetcher reparte claves entre pools por exchange.
type Fetcher struct {
	coverage    Coverage
	concurrency map[domain.Exchange]int
}

// NewFetcher crea un Fetcher con el límite de workers por exchange dado.
func NewFetcher(coverage Coverage, concurrency map[domain.Exchange]int) *Fetcher {
	return &Fetcher{coverage: coverage, concurrency: concurrency}
}

func (f *Fetcher) workers(ex domain.Exchange) int {
	if n := f.concurrency[ex]; n > 0 {
		return n
	}
	return DefaultConcurrency
}

// FetchAll asegura todas las claves y devuelve un Result por clave, en el mismo
// orden. El error devuelto es el primero fatal (storage, contexto); los
// DataUnavailable quedan solo en su Result.
func (f *Fetcher) FetchAll(ctx context.Context, keys []domain.CacheKey) ([]Result, error) {
	byExchange := make(map[domain.Exchange][]int)
	for i, k := range keys {
		byExchange[k.Exchange] = append(byExchange[k.Exchange], i)
	}

	results := make([]Result, len(keys))
	var wg sync.WaitGroup

	exchanges := make([]domain.Exchange, 0, len(byExchange))
	for ex := range byExchange {
		exchanges = append(exchanges, ex)
	}
	sort.Slice(exchanges, func(i, j int) bool { return exchanges[i] < exchanges[j] })

	for _, ex := range exchanges {
		idxs := byExchange[ex]
		workCh := make(chan int, len(idxs))
		for _, i := range idxs {
			workCh <- i
		}
		close(workCh)

		n := f.workers(ex)
		if n > len(idxs) {
			n = len(idxs)
		}
		slog.Info("fetching bars", "exchange", ex, "keys", len(idxs), "workers", n)

		for w := 0; w < n; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range workCh {
					k := keys[i]
					// Cada worker escribe solo su índice: no hace falta lock.
					series, err := f.coverage.EnsureCoverage(ctx, k.Symbol, k.Exchange, k.Start, k.End)
					results[i] = Result{Key: k, Series: series, Err: err}
				}
			}()
		}
	}
	wg.Wait()

	var fatal error
	failed := 0
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		failed++
		if fatal == nil && IsFatal(r.Err) {
			fatal = r.Err
		}
	}

	slog.Info("fetch phase complete", "keys", len(keys), "failed", failed)
	return results, fatal
}

// PlanRanges calcula las claves a descargar: por símbolo, une las ventanas
// [ts-w, ts+w) de sus oportunidades cuando se solapan o distan menos de
// mergeGap, y genera una clave por exchange para cada rango resultante.
func PlanRanges(opps []domain.Opportunity, venues domain.Venues, window, mergeGap time.Duration) []domain.CacheKey {
	bySymbol := make(map[string][]time.Time)
	for _, o := range opps {
		bySymbol[o.Symbol] = append(bySymbol[o.Symbol], o.Timestamp)
	}

	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var keys []domain.CacheKey
	for _, sym := range symbols {
		ts := bySymbol[sym]
		sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })

		var ranges []domain.TimeRange
		for _, t := range ts {
			r := domain.TimeRange{Start: t.Add(-window), End: t.Add(window)}
			if n := len(ranges); n > 0 && !r.Start.After(ranges[n-1].End.Add(mergeGap)) {
				if r.End.After(ranges[n-1].End) {
					ranges[n-1].End = r.End
				}
				continue
			}
			ranges = append(ranges, r)
		}

		for _, r := range ranges {
			for _, ex := range []domain.Exchange{venues.A, venues.B} {
				keys = append(keys, domain.CacheKey{Symbol: sym, Exchange: ex, Start: r.Start, End: r.End})
			}
		}
	}
	return keys
}
