// Package analyzer calcula métricas de rendimiento sobre el ledger de trades
// y la curva de equity de un backtest.
package analyzer

import (
	"fmt"
	"math"
	"sort"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

// Periodos de agrupación soportados.
const (
	PeriodDay   = "day"
	PeriodMonth = "month"
)

// Config parametriza el análisis.
type Config struct {
	InitialCapital float64
	RiskFreeRate   float64 // anual, 0 por defecto
	PeriodsPerYear float64 // 252 por defecto
	Period         string  // "day" | "month"
}

// DefaultConfig devuelve rf=0, 252 periodos y agrupación mensual.
func DefaultConfig(initialCapital float64) Config {
	return Config{InitialCapital: initialCapital, PeriodsPerYear: 252, Period: PeriodMonth}
}

// Validate comprueba periodos por año y periodo de agrupación.
func (c Config) Validate() error {
	if c.PeriodsPerYear <= 0 {
		return fmt.Errorf("analyzer: periods_per_year must be > 0, got %v", c.PeriodsPerYear)
	}
	if c.Period != PeriodDay && c.Period != PeriodMonth {
		return fmt.Errorf("analyzer: period must be %q or %q, got %q", PeriodDay, PeriodMonth, c.Period)
	}
	return nil
}

// Analyze agrega el ledger. Trades vacíos producen métricas a cero.
func Analyze(trades []domain.TradeRecord, equity []domain.EquityPoint, cfg Config) domain.Performance {
	if cfg.PeriodsPerYear <= 0 {
		cfg.PeriodsPerYear = 252
	}
	if cfg.Period == "" {
		cfg.Period = PeriodMonth
	}

	p := domain.Performance{
		TotalTrades: len(trades),
		FinalEquity: cfg.InitialCapital,
	}
	if len(trades) == 0 {
		return p
	}

	var grossWin, grossLoss float64
	returns := make([]float64, 0, len(trades))
	p.MaxWin = math.Inf(-1)
	p.MaxLoss = math.Inf(1)
	for _, t := range trades {
		p.TotalPnL += t.NetPnL
		p.TotalFunding += t.FundingPnL
		p.TotalPricePnL += t.PricePnL
		p.TotalFees += t.Fees
		p.MaxWin = math.Max(p.MaxWin, t.NetPnL)
		p.MaxLoss = math.Min(p.MaxLoss, t.NetPnL)
		if t.NetPnL > 0 {
			p.WinningTrades++
			grossWin += t.NetPnL
		} else if t.NetPnL < 0 {
			p.LosingTrades++
			grossLoss -= t.NetPnL
		}
		if t.Capital > 0 {
			returns = append(returns, t.NetPnL/t.Capital)
		}
	}

	n := float64(len(trades))
	p.AvgPnL = p.TotalPnL / n
	p.WinRate = float64(p.WinningTrades) / n * 100
	p.FinalEquity = cfg.InitialCapital + p.TotalPnL
	if cfg.InitialCapital > 0 {
		p.ReturnPct = p.TotalPnL / cfg.InitialCapital * 100
	}

	switch {
	case grossLoss > 0:
		p.ProfitFactor = grossWin / grossLoss
	case grossWin > 0:
		p.ProfitFactor = math.Inf(1)
	}

	rf := cfg.RiskFreeRate / cfg.PeriodsPerYear
	p.Sharpe = sharpe(returns, rf, cfg.PeriodsPerYear)
	p.Sortino = sortino(returns, rf, cfg.PeriodsPerYear)
	p.MaxDrawdown, p.MaxDrawdownPct = maxDrawdown(cfg.InitialCapital, equity)

	p.BySymbol = groupBy(trades, func(t domain.TradeRecord) string { return t.Symbol })
	sort.SliceStable(p.BySymbol, func(i, j int) bool {
		if p.BySymbol[i].TotalPnL != p.BySymbol[j].TotalPnL {
			return p.BySymbol[i].TotalPnL > p.BySymbol[j].TotalPnL
		}
		return p.BySymbol[i].Key < p.BySymbol[j].Key
	})

	layout := "2006-01"
	if cfg.Period == PeriodDay {
		layout = "2006-01-02"
	}
	p.ByPeriod = groupBy(trades, func(t domain.TradeRecord) string { return t.Timestamp.UTC().Format(layout) })
	sort.Slice(p.ByPeriod, func(i, j int) bool { return p.ByPeriod[i].Key < p.ByPeriod[j].Key })

	return p
}

// sharpe = (media - rf) / desviación muestral × √periodos.
func sharpe(returns []float64, rf, periods float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)
	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)-1))
	if std == 0 {
		return 0
	}
	return (mean - rf) / std * math.Sqrt(periods)
}

// sortino usa solo la desviación de los retornos por debajo de rf.
func sortino(returns []float64, rf, periods float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var downside float64
	for _, r := range returns {
		if d := r - rf; d < 0 {
			downside += d * d
		}
	}
	dd := math.Sqrt(downside / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return (meanOf(returns) - rf) / dd * math.Sqrt(periods)
}

// maxDrawdown recorre la equity partiendo del capital inicial como primer pico.
func maxDrawdown(initial float64, equity []domain.EquityPoint) (abs, pct float64) {
	peak := initial
	for _, pt := range equity {
		if pt.Equity > peak {
			peak = pt.Equity
			continue
		}
		if dd := peak - pt.Equity; dd > abs {
			abs = dd
			if peak > 0 {
				pct = dd / peak * 100
			}
		}
	}
	return abs, pct
}

func groupBy(trades []domain.TradeRecord, key func(domain.TradeRecord) string) []domain.GroupStats {
	idx := make(map[string]int)
	var out []domain.GroupStats
	for _, t := range trades {
		k := key(t)
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, domain.GroupStats{Key: k})
		}
		g := &out[i]
		g.Trades++
		g.TotalPnL += t.NetPnL
		if t.NetPnL > 0 {
			g.Wins++
		}
	}
	for i := range out {
		out[i].AvgPnL = out[i].TotalPnL / float64(out[i].Trades)
		out[i].WinRate = float64(out[i].Wins) / float64(out[i].Trades) * 100
	}
	return out
}

func meanOf(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
