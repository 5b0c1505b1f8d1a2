package notify

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// topSymbols es cuántos símbolos se muestran en la tabla por símbolo.
const topSymbols = 10

// Console implementa ports.Reporter imprimiendo tablas.
type Console struct {
	out io.Writer
}

// NewConsole crea un reporter que escribe a stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter crea un reporter para tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Report imprime el resumen del run y las métricas.
func (c *Console) Report(_ context.Context, sum domain.RunSummary, perf domain.Performance) error {
	fmt.Fprintf(c.out, "\n=== BACKTEST %s ===\n", sum.RunID)
	fmt.Fprintf(c.out, "  %s → %s (%s)\n",
		sum.StartedAt.UTC().Format("2006-01-02 15:04:05"),
		sum.FinishedAt.UTC().Format("15:04:05"),
		sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))

	c.printSummary(sum)
	if perf.TotalTrades == 0 {
		fmt.Fprintln(c.out, "\n  No trades executed")
		return nil
	}
	c.printPerformance(perf)
	c.printGroups("Symbol", perf.BySymbol, topSymbols)
	c.printGroups("Period", perf.ByPeriod, 0)
	return nil
}

// PrintRuns imprime el historial de ejecuciones.
func (c *Console) PrintRuns(runs []domain.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(c.out, "No runs recorded")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Run", "Started", "Considered", "Traded", "Skipped", "Final equity", "Return")
	for _, r := range runs {
		table.Append(
			r.RunID,
			r.StartedAt.UTC().Format("2006-01-02 15:04"),
			fmt.Sprintf("%d", r.Considered),
			fmt.Sprintf("%d", r.Traded),
			fmt.Sprintf("%d", r.SkippedTotal()),
			fmt.Sprintf("$%.2f", r.FinalEquity),
			fmt.Sprintf("%.3f%%", r.ReturnPct),
		)
	}
	table.Render()
}

func (c *Console) printSummary(sum domain.RunSummary) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Opportunities", "Count")
	table.Append("considered", fmt.Sprintf("%d", sum.Considered))
	table.Append("traded", fmt.Sprintf("%d", sum.Traded))
	for _, k := range domain.SkipKinds {
		table.Append("skipped: "+string(k), fmt.Sprintf("%d", sum.Skipped[k]))
	}
	table.Render()

	fmt.Fprintf(c.out, "  Capital: $%.2f → $%.2f  (P&L $%.2f, %.3f%%)\n",
		sum.InitialCapital, sum.FinalEquity, sum.TotalPnL, sum.ReturnPct)
}

func (c *Console) printPerformance(p domain.Performance) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Metric", "Value")
	table.Append("trades", fmt.Sprintf("%d (W:%d L:%d)", p.TotalTrades, p.WinningTrades, p.LosingTrades))
	table.Append("win rate", fmt.Sprintf("%.2f%%", p.WinRate))
	table.Append("total P&L", fmt.Sprintf("$%.2f", p.TotalPnL))
	table.Append("  price", fmt.Sprintf("$%.2f", p.TotalPricePnL))
	table.Append("  funding", fmt.Sprintf("$%.2f", p.TotalFunding))
	table.Append("  fees", fmt.Sprintf("-$%.2f", p.TotalFees))
	table.Append("avg P&L", fmt.Sprintf("$%.4f", p.AvgPnL))
	table.Append("max win / loss", fmt.Sprintf("$%.2f / $%.2f", p.MaxWin, p.MaxLoss))
	table.Append("return", fmt.Sprintf("%.3f%%", p.ReturnPct))
	table.Append("sharpe", fmt.Sprintf("%.3f", p.Sharpe))
	table.Append("sortino", ratio(p.Sortino))
	table.Append("max drawdown", fmt.Sprintf("$%.2f (%.3f%%)", p.MaxDrawdown, p.MaxDrawdownPct))
	table.Append("profit factor", ratio(p.ProfitFactor))
	table.Render()
}

func (c *Console) printGroups(label string, groups []domain.GroupStats, limit int) {
	if len(groups) == 0 {
		return
	}
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}
	table := tablewriter.NewWriter(c.out)
	table.Header(label, "Trades", "Win rate", "Total P&L", "Avg P&L")
	for _, g := range groups {
		table.Append(
			g.Key,
			fmt.Sprintf("%d", g.Trades),
			fmt.Sprintf("%.1f%%", g.WinRate),
			fmt.Sprintf("$%.2f", g.TotalPnL),
			fmt.Sprintf("$%.4f", g.AvgPnL),
		)
	}
	table.Render()
}

// ratio formatea métricas que pueden ser infinitas (sin pérdidas).
func ratio(v float64) string {
	if math.IsInf(v, 1) {
		return "INF"
	}
	return fmt.Sprintf("%.3f", v)
}
