package ports

import (
	"context"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// SignalSource entrega el timeline de señales producido upstream.
type SignalSource interface {
	Signals(ctx context.Context) ([]domain.Signal, error)
}
