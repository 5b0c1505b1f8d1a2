package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

const (
	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond

	// statusIPBanned es el 418 que Binance devuelve tras ignorar varios 429.
	statusIPBanned = 418
)

// Options configura un client de exchange. Los campos vacíos usan los defaults
// de cada exchange.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	RetryWait  time.Duration
}

// client es el HTTP client compartido con rate limiting y retries.
type client struct {
	name      domain.Exchange
	http      *http.Client
	base      string
	limiter   *rate.Limiter
	retryWait time.Duration
}

func newClient(name domain.Exchange, opts Options, defaultBase string, defaultRate float64, defaultBurst int) *client {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBase
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = defaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = defaultBurst
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = baseRetryWait
	}
	return &client{
		name:      name,
		http:      &http.Client{Timeout: opts.Timeout},
		base:      opts.BaseURL,
		limiter:   rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		retryWait: opts.RetryWait,
	}
}

// get hace un GET con rate limiting y retries.
func (c *client) get(ctx context.Context, url string, out any) error {
	return c.doWithRetry(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	}, out)
}

// doWithRetry ejecuta la función con backoff exponencial.
// 429, 418 y 5xx se reintentan; otros 4xx son permanentes. Los errores de red
// y los reintentos agotados se devuelven envueltos en domain.ErrFetchTransient.
func (c *client) doWithRetry(ctx context.Context, fn func() (*http.Response, error), out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			c.sleep(ctx, attempt-1)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w: %w", domain.ErrFetchTransient, err)
		}

		resp, err := fn()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("request: %w: %w", domain.ErrFetchTransient, ctx.Err())
			}
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == statusIPBanned:
			resp.Body.Close()
			slog.Warn("rate limited by exchange", "exchange", c.name, "status", resp.StatusCode, "attempt", attempt+1)
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("server error %d", resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: after %d retries: %w", domain.ErrFetchTransient, maxRetries, lastErr)
}

// sleep espera con backoff exponencial, respetando el contexto.
func (c *client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * c.retryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// parseKline convierte una fila [openTime, open, high, low, close, volume, ...]
// en una Bar. Ambos exchanges usan ese orden de columnas.
func parseKline(row []decimal.Decimal) (domain.Bar, error) {
	if len(row) < 6 {
		return domain.Bar{}, fmt.Errorf("kline row has %d fields", len(row))
	}
	return domain.Bar{
		Time:   time.UnixMilli(row[0].IntPart()).UTC(),
		Open:   row[1].InexactFloat64(),
		High:   row[2].InexactFloat64(),
		Low:    row[3].InexactFloat64(),
		Close:  row[4].InexactFloat64(),
		Volume: row[5].InexactFloat64(),
	}, nil
}

// clip devuelve las velas con apertura en [start, end), ordenadas y sin duplicados.
func clip(bars []domain.Bar, start, end time.Time) []domain.Bar {
	return domain.SliceBars(domain.MergeBars(nil, bars), start, end)
}
