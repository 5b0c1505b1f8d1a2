package domain

import (
	"errors"
	"fmt"
	"time"
)

// Taxonomía de errores del backtest. Solo ErrConfigInvalid y los errores de
// storage son fatales; el resto se recupera saltando la oportunidad.
var (
	ErrConfigInvalid      = errors.New("config invalid")
	ErrDataUnavailable    = errors.New("data unavailable")
	ErrAmbiguousDirection = errors.New("ambiguous direction")
	ErrVWAPInvalid        = errors.New("vwap invalid")
	ErrFetchTransient     = errors.New("fetch transient")
)

// DataUnavailableError identifica el (symbol, exchange, rango) que no se pudo cubrir.
type DataUnavailableError struct {
	Key    CacheKey
	Reason string
}

func (e *DataUnavailableError) Error() string {
	return fmt.Sprintf("data unavailable for %s(%s) [%s, %s): %s",
		e.Key.Symbol, e.Key.Exchange,
		e.Key.Start.UTC().Format(time.RFC3339), e.Key.End.UTC().Format(time.RFC3339),
		e.Reason)
}

// Unwrap permite errors.Is(err, ErrDataUnavailable).
func (e *DataUnavailableError) Unwrap() error {
	return ErrDataUnavailable
}
