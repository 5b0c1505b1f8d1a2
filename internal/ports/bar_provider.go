package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// BarProvider obtiene velas de 1 minuto de un exchange upstream.
type BarProvider interface {
	// Name devuelve el exchange que sirve este provider.
	Name() domain.Exchange

	// FetchBars devuelve las velas con apertura en [start, end), ordenadas por tiempo.
	// Pagina internamente. Los errores de red se devuelven envueltos en
	// domain.ErrFetchTransient.
	FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}
