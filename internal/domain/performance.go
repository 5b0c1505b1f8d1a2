package domain

// Performance agrupa las métricas agregadas de un backtest.
type Performance struct {
	TotalTrades    int     `yaml:"total_trades"`
	WinningTrades  int     `yaml:"winning_trades"`
	LosingTrades   int     `yaml:"losing_trades"`
	WinRate        float64 `yaml:"win_rate_pct"`
	TotalPnL       float64 `yaml:"total_pnl"`
	AvgPnL         float64 `yaml:"avg_pnl"`
	MaxWin         float64 `yaml:"max_win"`
	MaxLoss        float64 `yaml:"max_loss"`
	TotalFunding   float64 `yaml:"total_funding_pnl"`
	TotalPricePnL  float64 `yaml:"total_price_pnl"`
	TotalFees      float64 `yaml:"total_fees"`
	ReturnPct      float64 `yaml:"return_pct"`
	FinalEquity    float64 `yaml:"final_equity"`
	Sharpe         float64 `yaml:"sharpe_ratio"`
	Sortino        float64 `yaml:"sortino_ratio"`
	MaxDrawdown    float64 `yaml:"max_drawdown"`
	MaxDrawdownPct float64 `yaml:"max_drawdown_pct"`
	ProfitFactor   float64 `yaml:"profit_factor"` // +Inf si no hay pérdidas

	BySymbol []GroupStats `yaml:"by_symbol"`
	ByPeriod []GroupStats `yaml:"by_period"`
}

// GroupStats son las métricas de un subconjunto de trades.
type GroupStats struct {
	Key      string  `yaml:"key"`
	Trades   int     `yaml:"trades"`
	Wins     int     `yaml:"wins"`
	WinRate  float64 `yaml:"win_rate_pct"`
	TotalPnL float64 `yaml:"total_pnl"`
	AvgPnL   float64 `yaml:"avg_pnl"`
}
