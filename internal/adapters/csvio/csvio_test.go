package csvio_test

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/fundarb/internal/adapters/csvio"
	"github.com/alejandrodnm/fundarb/internal/domain"
)

var venues = domain.Venues{A: "bybit", B: "binance"}

const timeline = `timestamp,symbol,bybit_interval,binance_interval,mismatch_type,bybit_rate,binance_rate,rate_diff,tradable,bybit_pay,binance_pay,duration_hours
2025-09-01 08:00:00,BTCUSDT,4h,8h,bybit_only,-0.0032151,-0.00373496,0.00051986,True,True,False,4
2025-09-01 09:00:00,BTCUSDT,4h,8h,none,0.0001,0.0001,0,False,False,False,
`

func writeFile(t *testing.T, dir, name, content string) string {
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func readCSV(t *testing.T, path string) [][]string {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestSignalReader_File(t *testing.T) {
	path := writeFile(t, t.TempDir(), "signals.csv", timeline)

	sigs, err := csvio.NewSignalReader(path, venues).Signals(context.Background())
	require.NoError(t, err)
	require.Len(t, sigs, 2)

	s := sigs[0]
	assert.Equal(t, time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC), s.Timestamp)
	assert.Equal(t, "BTCUSDT", s.Symbol)
	assert.Equal(t, "4h", s.IntervalA)
	assert.Equal(t, "8h", s.IntervalB)
	assert.Equal(t, "bybit_only", s.MismatchType)
	assert.InDelta(t, -0.0032151, s.RateA, 1e-12)
	assert.InDelta(t, -0.00373496, s.RateB, 1e-12)
	assert.InDelta(t, 0.00051986, s.RateDiff, 1e-12)
	assert.True(t, s.Tradable)
	assert.True(t, s.PaysA)
	assert.False(t, s.PaysB)
	assert.Equal(t, 4.0, s.DurationHours)

	assert.False(t, sigs[1].Tradable)
	assert.Zero(t, sigs[1].DurationHours)
}

func TestSignalReader_DirectoryUsesFilenameSymbol(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "funding_rate_timeline_ETHUSDT.csv", `datetime,bybit_funding_rate,binance_funding_rate,tradable,bybit_pay,binance_pay
2025-09-01T08:00:00Z,0.0004,0.0001,true,true,false
`)
	writeFile(t, dir, "funding_rate_timeline_SOLUSDT.csv", `datetime,bybit_funding_rate,binance_funding_rate,tradable,bybit_pay,binance_pay
1756713600000,0.0001,-0.0006,1,0,1
`)
	writeFile(t, dir, "notes.csv", "ignored\n")

	sigs, err := csvio.NewSignalReader(dir, venues).Signals(context.Background())
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, "ETHUSDT", sigs[0].Symbol)
	assert.Equal(t, "SOLUSDT", sigs[1].Symbol)
	assert.Equal(t, time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC), sigs[1].Timestamp)
	assert.True(t, sigs[1].PaysB)
	assert.InDelta(t, -0.0006, sigs[1].RateB, 1e-12)
}

func TestSignalReader_MissingColumns(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.csv", "timestamp,symbol,tradable\n2025-09-01 08:00:00,BTCUSDT,True\n")
	_, err := csvio.NewSignalReader(path, venues).Signals(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bybit_rate")
	assert.Contains(t, err.Error(), "binance_pay")
}

func TestSignalReader_BadValue(t *testing.T) {
	path := writeFile(t, t.TempDir(), "bad.csv", `timestamp,symbol,bybit_rate,binance_rate,tradable,bybit_pay,binance_pay
2025-09-01 08:00:00,BTCUSDT,abc,0.1,True,True,False
`)
	_, err := csvio.NewSignalReader(path, venues).Signals(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLedgerWriter_WritesAllFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := csvio.NewLedgerWriter(dir, venues, true, true)
	ctx := context.Background()
	ts := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

	trade := domain.TradeRecord{
		ID: "t1", RunID: "r1", Timestamp: ts, Symbol: "BTCUSDT", TradableAtTime: 1,
		Capital: 100000, Direction: domain.LongAShortB, RateA: -0.0032151, RateB: -0.00373496,
		Prices: domain.EntryExit{
			EntryA: domain.VWAPResult{Price: 50050, Volume: 10, Valid: true},
			ExitA:  domain.VWAPResult{Price: 50150, Volume: 11, Valid: true},
			EntryB: domain.VWAPResult{Price: 50000, Volume: 12, Valid: true},
			ExitB:  domain.VWAPResult{Price: 50100, Volume: 13, Valid: true},
			Valid:  true,
		},
		PnL: domain.PnL{PositionSize: 50000, FundingPnL: 160.755, Fees: 60, NetPnL: 100.655},
	}
	require.NoError(t, w.WriteTrades(ctx, []domain.TradeRecord{trade}))
	require.NoError(t, w.WriteEquity(ctx, []domain.EquityPoint{{Timestamp: ts, CumulativePnL: 100.655, Equity: 100100.655, Trades: 1}}))
	require.NoError(t, w.WriteSkips(ctx, []domain.Skip{{Timestamp: ts, Symbol: "ETHUSDT", Kind: domain.SkipVWAPInvalid, Reason: "exit B: zero volume"}}))

	trades := readCSV(t, filepath.Join(dir, csvio.TradesFile))
	require.Len(t, trades, 2)
	head := map[string]int{}
	for i, h := range trades[0] {
		head[h] = i
	}
	row := trades[1]
	assert.Equal(t, "long_a_short_b", row[head["direction"]])
	assert.Equal(t, "bybit", row[head["long_exchange"]])
	assert.Equal(t, "binance", row[head["short_exchange"]])
	assert.Equal(t, "50050", row[head["entry_vwap_bybit"]])
	assert.Equal(t, "50100", row[head["exit_vwap_binance"]])
	assert.Equal(t, "100.655", row[head["net_pnl"]])
	assert.Equal(t, "2025-09-01T08:00:00Z", row[head["timestamp"]])

	equity := readCSV(t, filepath.Join(dir, csvio.EquityFile))
	assert.Equal(t, []string{"timestamp", "cumulative_pnl", "equity", "trades"}, equity[0])
	assert.Equal(t, []string{"2025-09-01T08:00:00Z", "100.655", "100100.655", "1"}, equity[1])

	skips := readCSV(t, filepath.Join(dir, csvio.SkipsFile))
	assert.Equal(t, []string{"2025-09-01T08:00:00Z", "ETHUSDT", "vwap_invalid", "exit B: zero volume"}, skips[1])
}

func TestLedgerWriter_DisabledOutputs(t *testing.T) {
	dir := t.TempDir()
	w := csvio.NewLedgerWriter(dir, venues, false, false)
	require.NoError(t, w.WriteTrades(context.Background(), nil))
	require.NoError(t, w.WriteEquity(context.Background(), nil))

	_, err := os.Stat(filepath.Join(dir, csvio.TradesFile))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, csvio.EquityFile))
	assert.True(t, os.IsNotExist(err))
}
