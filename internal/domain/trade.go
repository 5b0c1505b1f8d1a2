package domain

import "time"

// TradeRecord es una fila inmutable del ledger.
type TradeRecord struct {
	ID             string
	RunID          string
	Timestamp      time.Time
	Symbol         string
	TradableAtTime int
	Capital        float64
	Direction      Direction
	RateA          float64
	RateB          float64
	Prices         EntryExit
	PnL
}

// EquityPoint es un punto de la curva de equity.
type EquityPoint struct {
	Timestamp     time.Time
	CumulativePnL float64
	Equity        float64
	Trades        int
}

// SkipKind clasifica por qué una oportunidad no se tradeó.
type SkipKind string

const (
	SkipAmbiguousDirection SkipKind = "ambiguous_direction"
	SkipDataUnavailable    SkipKind = "data_unavailable"
	SkipVWAPInvalid        SkipKind = "vwap_invalid"
)

// SkipKinds lista los motivos en orden estable para reportes.
var SkipKinds = []SkipKind{SkipAmbiguousDirection, SkipDataUnavailable, SkipVWAPInvalid}

// Skip registra una oportunidad excluida y su motivo, para auditoría.
type Skip struct {
	Timestamp time.Time
	Symbol    string
	Kind      SkipKind
	Reason    string
}

// RunSummary resume un backtest completo.
type RunSummary struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Considered     int
	Traded         int
	Skipped        map[SkipKind]int
	InitialCapital float64
	FinalEquity    float64
	TotalPnL       float64
	ReturnPct      float64
}

// SkippedTotal devuelve la suma de oportunidades saltadas.
func (s RunSummary) SkippedTotal() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}
