package ports

import (
	"context"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// LedgerWriter persiste los resultados por trade de un backtest.
type LedgerWriter interface {
	WriteTrades(ctx context.Context, trades []domain.TradeRecord) error
	WriteEquity(ctx context.Context, points []domain.EquityPoint) error
	WriteSkips(ctx context.Context, skips []domain.Skip) error
}
