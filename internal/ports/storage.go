package ports

import (
	"context"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// RunStorage guarda el historial de ejecuciones del backtest.
type RunStorage interface {
	// SaveRun persiste el resumen y las métricas de una ejecución.
	SaveRun(ctx context.Context, summary domain.RunSummary, perf domain.Performance) error

	// RecentRuns devuelve las últimas limit ejecuciones, la más reciente primero.
	RecentRuns(ctx context.Context, limit int) ([]domain.RunSummary, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
