package marketdata

import (
	"time"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// Snapshot es la vista de solo lectura de las velas ya descargadas.
// El engine la consulta sin hacer I/O.
type Snapshot struct {
	bySeries map[string][]Result // "symbol|exchange" → resultados
}

// NewSnapshot indexa los resultados de FetchAll.
func NewSnapshot(results []Result) *Snapshot {
	s := &Snapshot{bySeries: make(map[string][]Result)}
	for _, r := range results {
		id := seriesID(r.Key.Symbol, r.Key.Exchange)
		s.bySeries[id] = append(s.bySeries[id], r)
	}
	return s
}

// Bars devuelve las velas de [start, end). Si el rango que lo contiene falló
// en la descarga, devuelve ese error.
func (s *Snapshot) Bars(symbol string, exchange domain.Exchange, start, end time.Time) ([]domain.Bar, error) {
	for _, r := range s.bySeries[seriesID(symbol, exchange)] {
		if !r.Key.Contains(start, end) {
			continue
		}
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Series.Slice(start, end), nil
	}
	return nil, &domain.DataUnavailableError{
		Key:    domain.CacheKey{Symbol: symbol, Exchange: exchange, Start: start, End: end},
		Reason: "range not fetched",
	}
}

func seriesID(symbol string, exchange domain.Exchange) string {
	return symbol + "|" + string(exchange)
}
