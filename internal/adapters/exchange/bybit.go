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
	// Bybit es el nombre del exchange en config y en la cache.
	Bybit domain.Exchange = "bybit"

	defaultBybitBase = "https://api.bybit.com"
	bybitKlinePath   = "/v5/market/kline"
	bybitPageSize    = 200

	// 600/min al 60% → 360/min → 6/s
	bybitRatePerSec = 6
)

type bybitKlineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Symbol string              `json:"symbol"`
		List   [][]decimal.Decimal `json:"list"`
	} `json:"result"`
}

// BybitClient descarga klines de 1 minuto de perpetuos lineales.
type BybitClient struct {
	*client
}

// NewBybitClient crea un client. Si opts.BaseURL está vacío, usa producción.
func NewBybitClient(opts Options) *BybitClient {
	return &BybitClient{client: newClient(Bybit, opts, defaultBybitBase, bybitRatePerSec, 3)}
}

// Name implementa ports.BarProvider.
func (c *BybitClient) Name() domain.Exchange { return Bybit }

// FetchBars pagina hacia atrás desde end: Bybit devuelve las velas más
// recientes primero, 200 por página.
func (c *BybitClient) FetchBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	var all []domain.Bar
	cursor := end.Add(-time.Millisecond)

	for !cursor.Before(start) {
		q := url.Values{}
		q.Set("category", "linear")
		q.Set("symbol", symbol)
		q.Set("interval", "1")
		q.Set("start", strconv.FormatInt(start.UnixMilli(), 10))
		q.Set("end", strconv.FormatInt(cursor.UnixMilli(), 10))
		q.Set("limit", strconv.Itoa(bybitPageSize))

		var resp bybitKlineResponse
		if err := c.get(ctx, c.base+bybitKlinePath+"?"+q.Encode(), &resp); err != nil {
			return nil, fmt.Errorf("bybit.FetchBars: %s: %w", symbol, err)
		}
		if resp.RetCode != 0 {
			return nil, fmt.Errorf("bybit.FetchBars: %s: retCode %d: %s", symbol, resp.RetCode, resp.RetMsg)
		}

		oldest := cursor
		for _, row := range resp.Result.List {
			b, err := parseKline(row)
			if err != nil {
				return nil, fmt.Errorf("bybit.FetchBars: %s: %w", symbol, err)
			}
			all = append(all, b)
			if b.Time.Before(oldest) {
				oldest = b.Time
			}
		}

		slog.Debug("fetched klines page", "exchange", Bybit, "symbol", symbol, "count", len(resp.Result.List), "total", len(all))

		if len(resp.Result.List) < bybitPageSize || !oldest.Before(cursor) {
			break
		}
		cursor = oldest.Add(-time.Millisecond)
	}

	// clip ordena: las páginas llegan de más reciente a más antigua.
	return clip(all, start, end), nil
}
