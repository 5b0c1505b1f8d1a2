package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// BarCache es el almacenamiento durable de series de velas.
// Debe ser seguro para uso concurrente sobre claves distintas.
type BarCache interface {
	// Lookup devuelve la entrada más amplia cuyo rango contiene [start, end).
	// found es false si no hay ninguna.
	Lookup(ctx context.Context, symbol string, exchange domain.Exchange, start, end time.Time) (entry domain.CacheEntry, found bool, err error)

	// Overlapping devuelve las velas de todas las entradas que solapan [start, end),
	// ya combinadas y recortadas al rango. Las entradas más recientes ganan.
	Overlapping(ctx context.Context, symbol string, exchange domain.Exchange, start, end time.Time) ([]domain.Bar, error)

	// Put guarda la entrada de forma atómica. Reemplaza una entrada con la misma clave.
	Put(ctx context.Context, entry domain.CacheEntry) error
}
