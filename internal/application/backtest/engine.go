// Package backtest reproduce las oportunidades sobre velas históricas y
// produce el ledger de trades y la curva de equity.
package backtest

// engine.go — procesa oportunidades en orden (timestamp, symbol), sin I/O.
//
// Por oportunidad:
// 1. Resuelve la dirección a partir de los flags de pago y el signo del rate
// 2. Calcula los VWAP de entrada [ts-w, ts) y salida [ts, ts+w) en ambos legs
// 3. Valora el trade (precio + funding - fees) y avanza la equity
//
// Los fallos por oportunidad se registran como Skip y el run continúa.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// BarLookup da acceso de solo lectura a las velas ya descargadas.
type BarLookup interface {
	Bars(symbol string, exchange domain.Exchange, start, end time.Time) ([]domain.Bar, error)
}

// Config parametriza el engine.
type Config struct {
	Venues         domain.Venues
	InitialCapital float64
	Window         time.Duration
	Fees           domain.FeeSchedule
	Slippage       domain.Slippage
}

// Result es la salida completa de un run.
type Result struct {
	Trades  []domain.TradeRecord
	Equity  []domain.EquityPoint
	Skips   []domain.Skip
	Summary domain.RunSummary
}

// Engine es single-goroutine: un Run no debe compartirse entre goroutines.
type Engine struct {
	cfg   Config
	newID func() string
	now   func() time.Time
}

// NewEngine crea un engine con IDs uuid.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, newID: uuid.NewString, now: time.Now}
}

// skipError marca un fallo recuperable de una oportunidad.
type skipError struct {
	kind   domain.SkipKind
	reason string
}

func (e *skipError) Error() string { return string(e.kind) + ": " + e.reason }

// Run procesa las oportunidades. Solo devuelve error ante fallos fatales
// (contexto cancelado, errores de lectura que no son DataUnavailable).
func (e *Engine) Run(ctx context.Context, opps []domain.Opportunity, bars BarLookup) (*Result, error) {
	ordered := append([]domain.Opportunity(nil), opps...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	res := &Result{
		Summary: domain.RunSummary{
			RunID:          e.newID(),
			StartedAt:      e.now().UTC(),
			Considered:     len(ordered),
			Skipped:        make(map[domain.SkipKind]int, len(domain.SkipKinds)),
			InitialCapital: e.cfg.InitialCapital,
		},
	}
	for _, k := range domain.SkipKinds {
		res.Summary.Skipped[k] = 0
	}

	slog.Info("backtest started", "run_id", res.Summary.RunID, "opportunities", len(ordered))

	var cumulative float64
	for _, opp := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest.Run: %w", err)
		}

		trade, err := e.process(opp, bars)
		var skip *skipError
		switch {
		case errors.As(err, &skip):
			res.Skips = append(res.Skips, domain.Skip{
				Timestamp: opp.Timestamp, Symbol: opp.Symbol, Kind: skip.kind, Reason: skip.reason,
			})
			res.Summary.Skipped[skip.kind]++
			slog.Warn("opportunity skipped",
				"timestamp", opp.Timestamp, "symbol", opp.Symbol, "kind", skip.kind, "reason", skip.reason)
			continue
		case err != nil:
			return nil, fmt.Errorf("backtest.Run: %s@%s: %w", opp.Symbol, opp.Timestamp.Format(time.RFC3339), err)
		}

		trade.RunID = res.Summary.RunID
		res.Trades = append(res.Trades, trade)

		cumulative += trade.NetPnL
		res.Equity = append(res.Equity, domain.EquityPoint{
			Timestamp:     opp.Timestamp,
			CumulativePnL: cumulative,
			Equity:        e.cfg.InitialCapital + cumulative,
			Trades:        len(res.Trades),
		})

		slog.Debug("trade executed",
			"symbol", trade.Symbol, "direction", trade.Direction.Describe(e.cfg.Venues),
			"net_pnl", trade.NetPnL, "equity", e.cfg.InitialCapital+cumulative)
	}

	s := &res.Summary
	s.FinishedAt = e.now().UTC()
	s.Traded = len(res.Trades)
	s.TotalPnL = cumulative
	s.FinalEquity = e.cfg.InitialCapital + cumulative
	if e.cfg.InitialCapital > 0 {
		s.ReturnPct = cumulative / e.cfg.InitialCapital * 100
	}

	slog.Info("backtest finished",
		"run_id", s.RunID,
		"considered", s.Considered,
		"traded", s.Traded,
		"skipped", s.SkippedTotal(),
		"final_equity", s.FinalEquity,
	)
	return res, nil
}

// process valora una oportunidad o devuelve *skipError si debe saltarse.
func (e *Engine) process(opp domain.Opportunity, bars BarLookup) (domain.TradeRecord, error) {
	if !opp.HasCapital() {
		return domain.TradeRecord{}, errors.New("opportunity has no allocated capital")
	}

	dir, err := domain.ResolveDirection(opp.PaysA, opp.PaysB, opp.RateA, opp.RateB)
	if err != nil {
		return domain.TradeRecord{}, &skipError{kind: domain.SkipAmbiguousDirection, reason: err.Error()}
	}
	opp.Direction = &dir

	from, to := opp.Timestamp.Add(-e.cfg.Window), opp.Timestamp.Add(e.cfg.Window)
	barsA, err := e.lookup(bars, opp.Symbol, e.cfg.Venues.A, from, to)
	if err != nil {
		return domain.TradeRecord{}, err
	}
	barsB, err := e.lookup(bars, opp.Symbol, e.cfg.Venues.B, from, to)
	if err != nil {
		return domain.TradeRecord{}, err
	}

	prices := domain.EntryExitVWAP(opp.Timestamp, barsA, barsB, e.cfg.Window)
	if !prices.Valid {
		return domain.TradeRecord{}, &skipError{kind: domain.SkipVWAPInvalid, reason: prices.InvalidReason()}
	}

	pnl := domain.ComputePnL(domain.PnLInput{
		Direction: dir,
		Capital:   opp.K(),
		Prices:    prices,
		RateA:     opp.RateA,
		RateB:     opp.RateB,
		Fees:      e.cfg.Fees,
		Slippage:  e.cfg.Slippage,
	})

	return domain.TradeRecord{
		ID:             e.newID(),
		Timestamp:      opp.Timestamp,
		Symbol:         opp.Symbol,
		TradableAtTime: opp.TradableAtTime,
		Capital:        opp.K(),
		Direction:      *opp.Direction,
		RateA:          opp.RateA,
		RateB:          opp.RateB,
		Prices:         prices,
		PnL:            pnl,
	}, nil
}

func (e *Engine) lookup(bars BarLookup, symbol string, ex domain.Exchange, from, to time.Time) ([]domain.Bar, error) {
	out, err := bars.Bars(symbol, ex, from, to)
	if errors.Is(err, domain.ErrDataUnavailable) {
		return nil, &skipError{kind: domain.SkipDataUnavailable, reason: err.Error()}
	}
	return out, err
}
