package csvio

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

const (
	TradesFile = "trades.csv"
	EquityFile = "equity_curve.csv"
	SkipsFile  = "skips.csv"
)

// LedgerWriter escribe el ledger de trades, la curva de equity y las
// oportunidades saltadas como CSV en un directorio.
type LedgerWriter struct {
	dir        string
	venues     domain.Venues
	saveTrades bool
	saveEquity bool
}

// NewLedgerWriter crea el writer. Los ficheros desactivados no se escriben.
func NewLedgerWriter(dir string, venues domain.Venues, saveTrades, saveEquity bool) *LedgerWriter {
	return &LedgerWriter{dir: dir, venues: venues, saveTrades: saveTrades, saveEquity: saveEquity}
}

// WriteTrades escribe una fila por trade ejecutado.
func (w *LedgerWriter) WriteTrades(_ context.Context, trades []domain.TradeRecord) error {
	if !w.saveTrades {
		return nil
	}
	a, b := string(w.venues.A), string(w.venues.B)
	header := []string{
		"trade_id", "run_id", "timestamp", "symbol", "direction",
		"long_exchange", "short_exchange", "funding_exchange",
		"tradable_at_time", "capital", "position_size",
		a + "_rate", b + "_rate",
		"entry_vwap_" + a, "exit_vwap_" + a, "entry_vwap_" + b, "exit_vwap_" + b,
		"entry_volume_" + a, "exit_volume_" + a, "entry_volume_" + b, "exit_volume_" + b,
		"price_pnl", "funding_pnl", "entry_fees", "exit_fees", "fees", "net_pnl", "pnl_pct",
	}

	rows := make([][]string, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, []string{
			t.ID, t.RunID, formatTimestamp(t.Timestamp), t.Symbol, t.Direction.String(),
			string(w.venues.Of(t.Direction.Long)), string(w.venues.Of(t.Direction.Short)), string(w.venues.Of(t.Direction.FundingFrom)),
			strconv.Itoa(t.TradableAtTime), num(t.Capital), num(t.PositionSize),
			num(t.RateA), num(t.RateB),
			num(t.Prices.EntryA.Price), num(t.Prices.ExitA.Price), num(t.Prices.EntryB.Price), num(t.Prices.ExitB.Price),
			num(t.Prices.EntryA.Volume), num(t.Prices.ExitA.Volume), num(t.Prices.EntryB.Volume), num(t.Prices.ExitB.Volume),
			num(t.PricePnL), num(t.FundingPnL), num(t.EntryFees), num(t.ExitFees), num(t.Fees), num(t.NetPnL), num(t.PnLPct),
		})
	}
	return w.write(TradesFile, header, rows)
}

// WriteEquity escribe la curva de equity.
func (w *LedgerWriter) WriteEquity(_ context.Context, points []domain.EquityPoint) error {
	if !w.saveEquity {
		return nil
	}
	rows := make([][]string, 0, len(points))
	for _, p := range points {
		rows = append(rows, []string{
			formatTimestamp(p.Timestamp), num(p.CumulativePnL), num(p.Equity), strconv.Itoa(p.Trades),
		})
	}
	return w.write(EquityFile, []string{"timestamp", "cumulative_pnl", "equity", "trades"}, rows)
}

// WriteSkips escribe las oportunidades excluidas con su motivo.
func (w *LedgerWriter) WriteSkips(_ context.Context, skips []domain.Skip) error {
	rows := make([][]string, 0, len(skips))
	for _, s := range skips {
		rows = append(rows, []string{formatTimestamp(s.Timestamp), s.Symbol, string(s.Kind), s.Reason})
	}
	return w.write(SkipsFile, []string{"timestamp", "symbol", "kind", "reason"}, rows)
}

// write escribe a un fichero temporal y lo renombra, para no dejar CSVs a medias.
func (w *LedgerWriter) write(name string, header []string, rows [][]string) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("csvio.write: mkdir %s: %w", w.dir, err)
	}
	path := filepath.Join(w.dir, name)
	tmp, err := os.CreateTemp(w.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("csvio.write: %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	if err := cw.Write(header); err != nil {
		tmp.Close()
		return fmt.Errorf("csvio.write: %s: %w", name, err)
	}
	if err := cw.WriteAll(rows); err != nil {
		tmp.Close()
		return fmt.Errorf("csvio.write: %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("csvio.write: %s: close: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("csvio.write: %s: %w", name, err)
	}

	slog.Info("ledger file written", "file", path, "rows", len(rows))
	return nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// num usa la representación decimal más corta que preserva el float.
func num(f float64) string {
	if !domain.IsFinite(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return decimal.NewFromFloat(f).String()
}
