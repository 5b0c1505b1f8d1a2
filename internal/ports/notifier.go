package ports

import (
	"context"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// Reporter presenta el resultado de un backtest.
// En la implementación de consola, imprime tablas formateadas.
type Reporter interface {
	Report(ctx context.Context, summary domain.RunSummary, perf domain.Performance) error
}
