package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

const (
	// Binance es el nombre del exchange en config y en la cache.
	Binance domain.Exchange = "binance"

	defaultBinanceBase = "https://fapi.binance.com"
	binanceKlinesPath  = "/fapi/v1/klines"
	binancePageSize    = 1000

	// 1200 weight/min al 60% → 720/min → 12/s
	binanceRatePerSec = 12
)

// BinanceClient descarga klines de 1 minuto de futuros USDⓈ-M.
type BinanceClient struct {
	*client
}

// NewBinanceClient crea un client. Si opts.BaseURL está vacío, usa producción.
func NewBinanceClient(opts Options) *BinanceClient {
	return &BinanceClient{client: newClient(Binance, opts, defaultBinanceBase, binanceRatePerSec, 5)}
}

// Name implementa ports.BarProvider.
func (c *BinanceClient) Name() domain.Exchange { return Binance }

// FetchBars pagina hacia adelante desde start en bloques de 1000 velas.
func (c *BinanceClient) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var all []domain.Bar
	cursor := start

	for cursor.Before(end) {
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("interval", "1m")
		q.Set("startTime", strconv.FormatInt(cursor.UnixMilli(), 10))
		q.Set("endTime", strconv.FormatInt(end.UnixMilli()-1, 10))
		q.Set("limit", strconv.Itoa(binancePageSize))

		var rows [][]decimal.Decimal
		if err := c.get(ctx, c.base+binanceKlinesPath+"?"+q.Encode(), &rows); err != nil {
			return nil, fmt.Errorf("binance.FetchBars: %s: %w", symbol, err)
		}

		for _, row := range rows {
			b, err := parseKline(row)
			if err != nil {
				return nil, fmt.Errorf("binance.FetchBars: %s: %w", symbol, err)
			}
			all = append(all, b)
		}

		slog.Debug("fetched klines page", "exchange", Binance, "symbol", symbol, "count", len(rows), "total", len(all))

		if len(rows) < binancePageSize {
			break
		}
		next := all[len(all)-1].Time.Add(time.Minute)
		if !next.After(cursor) {
			break
		}
		cursor = next
	}

	return clip(all, start, end), nil
}
