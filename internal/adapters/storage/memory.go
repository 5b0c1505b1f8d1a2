package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// MemoryCache implementa ports.BarCache en memoria, con la misma semántica
// que SQLiteStorage. Se usa en tests y con cache_dsn vacío.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]domain.CacheEntry
	puts    int
}

// NewMemoryCache crea una cache vacía.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]domain.CacheEntry)}
}

// Lookup devuelve la entrada más amplia que contiene [start, end).
func (m *MemoryCache) Lookup(_ context.Context, symbol string, exchange domain.Exchange, start, end time.Time) (domain.CacheEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best domain.CacheEntry
	found := false
	for _, e := range m.entries {
		if e.Key.Symbol != symbol || e.Key.Exchange != exchange || !e.Key.Contains(start, end) {
			continue
		}
		if !found || e.Key.End.Sub(e.Key.Start) > best.Key.End.Sub(best.Key.Start) {
			best, found = e, true
		}
	}
	return best, found, nil
}

// Overlapping combina las velas de las entradas que solapan [start, end).
func (m *MemoryCache) Overlapping(_ context.Context, symbol string, exchange domain.Exchange, start, end time.Time) ([]domain.Bar, error) {
	m.mu.RLock()
	var hits []domain.CacheEntry
	for _, e := range m.entries {
		if e.Key.Symbol == symbol && e.Key.Exchange == exchange &&
			e.Key.Start.Before(end) && e.Key.End.After(start) {
			hits = append(hits, e)
		}
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool { return hits[i].FetchedAt.After(hits[j].FetchedAt) })
	var merged []domain.Bar
	for _, e := range hits {
		merged = domain.MergeBars(merged, e.Series.Slice(start, end))
	}
	return merged, nil
}

// Put guarda una copia de la entrada y elimina las entradas contenidas en su rango.
func (m *MemoryCache) Put(_ context.Context, entry domain.CacheEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.Key.String()
	for k, e := range m.entries {
		if k != key && e.Key.Symbol == entry.Key.Symbol && e.Key.Exchange == entry.Key.Exchange &&
			entry.Key.Contains(e.Key.Start, e.Key.End) {
			delete(m.entries, k)
		}
	}
	entry.Series.Bars = append([]domain.Bar(nil), entry.Series.Bars...)
	m.entries[key] = entry
	m.puts++
	return nil
}

// Puts devuelve cuántas escrituras recibió la cache.
func (m *MemoryCache) Puts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.puts
}

// Len devuelve el número de entradas almacenadas.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
