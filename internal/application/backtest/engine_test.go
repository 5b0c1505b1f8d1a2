package backtest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/fundarb/internal/domain"
)

const (
	bybit   domain.Exchange = "bybit"
	binance domain.Exchange = "binance"
)

var ts0 = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

// fakeBars sirve velas planas por (symbol, exchange); errs fuerza errores.
type fakeBars struct {
	bars map[string][]domain.Bar
	errs map[string]error
}

func newFakeBars() *fakeBars {
	return &fakeBars{bars: map[string][]domain.Bar{}, errs: map[string]error{}}
}

func (f *fakeBars) Bars(symbol string, ex domain.Exchange, start, end time.Time) ([]domain.Bar, error) {
	id := symbol + "|" + string(ex)
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return domain.SliceBars(f.bars[id], start, end), nil
}

// set pone precio entry antes de ts y exit desde ts, 5 velas a cada lado.
func (f *fakeBars) set(symbol string, ex domain.Exchange, ts time.Time, entry, exit, vol float64) {
	var bars []domain.Bar
	for i := -5; i < 5; i++ {
		p := entry
		if i >= 0 {
			p = exit
		}
		bars = append(bars, domain.Bar{Time: ts.Add(time.Duration(i) * time.Minute), Open: p, High: p, Low: p, Close: p, Volume: vol})
	}
	f.bars[symbol+"|"+string(ex)] = bars
}

func testEngine() *Engine {
	e := NewEngine(Config{
		Venues:         domain.Venues{A: bybit, B: binance},
		InitialCapital: 100000,
		Window:         5 * time.Minute,
		Fees:           domain.FeeSchedule{EntryRate: 0.0004, ExitRate: 0.0002},
	})
	n := 0
	e.newID = func() string { n++; return fmt.Sprintf("id-%d", n) }
	e.now = func() time.Time { return ts0 }
	return e
}

func opportunity(sym string, ts time.Time, k float64, paysA, paysB bool, rateA, rateB float64) domain.Opportunity {
	return domain.Opportunity{
		Signal: domain.Signal{
			Timestamp: ts, Symbol: sym, Tradable: true,
			PaysA: paysA, PaysB: paysB, RateA: rateA, RateB: rateB,
		},
		Capital:        &k,
		TradableAtTime: 1,
	}
}

func TestRun_EndToEndScenario(t *testing.T) {
	bars := newFakeBars()
	bars.set("BTCUSDT", bybit, ts0, 50050, 50150, 2)
	bars.set("BTCUSDT", binance, ts0, 50000, 50100, 3)

	opp := opportunity("BTCUSDT", ts0, 100000, true, false, -0.0032151, -0.00373496)
	res, err := testEngine().Run(context.Background(), []domain.Opportunity{opp}, bars)
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, domain.LongAShortB, tr.Direction)
	assert.Equal(t, "long bybit / short binance (funding from bybit)", tr.Direction.Describe(domain.Venues{A: bybit, B: binance}))
	assert.InDelta(t, 50050.0, tr.Prices.EntryA.Price, 1e-9)
	assert.InDelta(t, 50150.0, tr.Prices.ExitA.Price, 1e-9)
	assert.InDelta(t, 50000.0, tr.Prices.EntryB.Price, 1e-9)
	assert.InDelta(t, 50100.0, tr.Prices.ExitB.Price, 1e-9)

	// 50000 × (100/50050 − 100/50000) = −0.0999
	assert.InDelta(t, -0.0999, tr.PricePnL, 1e-3)
	assert.InDelta(t, 160.755, tr.FundingPnL, 1e-9)
	assert.InDelta(t, 60.0, tr.Fees, 1e-9)
	assert.InDelta(t, 100.655, tr.NetPnL, 1e-3)
	assert.InDelta(t, tr.PricePnL+tr.FundingPnL-tr.Fees, tr.NetPnL, 1e-9)

	assert.Equal(t, "id-1", res.Summary.RunID)
	assert.Equal(t, "id-1", tr.RunID)
	assert.Equal(t, "id-2", tr.ID)

	require.Len(t, res.Equity, 1)
	assert.InDelta(t, 100000+tr.NetPnL, res.Equity[0].Equity, 1e-9)
	assert.Equal(t, 1, res.Summary.Traded)
	assert.InDelta(t, 100100.655, res.Summary.FinalEquity, 1e-3)
}

func TestRun_SkipsAreRecordedAndRunContinues(t *testing.T) {
	bars := newFakeBars()
	for _, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT"} {
		bars.set(sym, bybit, ts0, 100, 101, 1)
		bars.set(sym, binance, ts0, 100, 100.5, 1)
	}
	bars.set("SOLUSDT", binance, ts0, 100, 100.5, 0) // volumen cero
	bars.errs["XRPUSDT|bybit"] = &domain.DataUnavailableError{
		Key:    domain.CacheKey{Symbol: "XRPUSDT", Exchange: bybit, Start: ts0, End: ts0.Add(time.Hour)},
		Reason: "coverage 90.00% below 95.00%",
	}

	opps := []domain.Opportunity{
		opportunity("XRPUSDT", ts0, 25000, true, false, 0.001, 0),
		opportunity("SOLUSDT", ts0, 25000, false, true, 0, 0.002),
		opportunity("ETHUSDT", ts0, 25000, true, true, 0.001, 0.001),
		opportunity("BTCUSDT", ts0, 25000, true, false, 0.001, 0),
	}
	res, err := testEngine().Run(context.Background(), opps, bars)
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, 4, s.Considered)
	assert.Equal(t, 1, s.Traded)
	assert.Equal(t, 1, s.Skipped[domain.SkipAmbiguousDirection])
	assert.Equal(t, 1, s.Skipped[domain.SkipDataUnavailable])
	assert.Equal(t, 1, s.Skipped[domain.SkipVWAPInvalid])
	assert.Equal(t, 3, s.SkippedTotal())

	require.Len(t, res.Skips, 3)
	assert.Equal(t, "ETHUSDT", res.Skips[0].Symbol)
	assert.Equal(t, domain.SkipAmbiguousDirection, res.Skips[0].Kind)
	assert.Equal(t, "SOLUSDT", res.Skips[1].Symbol)
	assert.Contains(t, res.Skips[1].Reason, "zero volume")
	assert.Equal(t, "XRPUSDT", res.Skips[2].Symbol)
	assert.Contains(t, res.Skips[2].Reason, "coverage")

	require.Len(t, res.Trades, 1)
	assert.Equal(t, "BTCUSDT", res.Trades[0].Symbol)
	assert.Equal(t, domain.ShortALongB, res.Trades[0].Direction)
	require.Len(t, res.Equity, 1)
}

func TestRun_OrderAndEquityTrajectory(t *testing.T) {
	bars := newFakeBars()
	var opps []domain.Opportunity
	for i, sym := range []string{"SOLUSDT", "BTCUSDT", "ETHUSDT"} {
		bars.set(sym, bybit, ts0.Add(time.Duration(i%2)*time.Hour), 100, 100.2, 1)
		bars.set(sym, binance, ts0.Add(time.Duration(i%2)*time.Hour), 100, 100.1, 1)
		opps = append(opps, opportunity(sym, ts0.Add(time.Duration(i%2)*time.Hour), 50000, false, true, 0, -0.0005))
	}
	// Orden de entrada: SOL@0, BTC@1h, ETH@0 → esperado ETH@0, SOL@0, BTC@1h.
	res, err := testEngine().Run(context.Background(), opps, bars)
	require.NoError(t, err)
	require.Len(t, res.Trades, 3)
	assert.Equal(t, "ETHUSDT", res.Trades[0].Symbol)
	assert.Equal(t, "SOLUSDT", res.Trades[1].Symbol)
	assert.Equal(t, "BTCUSDT", res.Trades[2].Symbol)

	sum := 0.0
	for i, tr := range res.Trades {
		sum += tr.NetPnL
		assert.Equal(t, i+1, res.Equity[i].Trades)
		assert.InDelta(t, sum, res.Equity[i].CumulativePnL, 1e-9)
		if i > 0 {
			assert.False(t, res.Equity[i].Timestamp.Before(res.Equity[i-1].Timestamp))
		}
	}
	last := res.Equity[len(res.Equity)-1]
	assert.InDelta(t, 100000+sum, last.Equity, 1e-9)
	assert.InDelta(t, 100000+sum, res.Summary.FinalEquity, 1e-9)
	assert.InDelta(t, sum/100000*100, res.Summary.ReturnPct, 1e-12)
}

func TestRun_FatalLookupErrorAborts(t *testing.T) {
	bars := newFakeBars()
	bars.errs["BTCUSDT|bybit"] = errors.New("disk I/O error")

	_, err := testEngine().Run(context.Background(),
		[]domain.Opportunity{opportunity("BTCUSDT", ts0, 1000, true, false, 0.001, 0)}, bars)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
}

func TestRun_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := testEngine().Run(ctx, []domain.Opportunity{opportunity("BTCUSDT", ts0, 1000, true, false, 0.001, 0)}, newFakeBars())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Empty(t *testing.T) {
	res, err := testEngine().Run(context.Background(), nil, newFakeBars())
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Equal(t, 100000.0, res.Summary.FinalEquity)
	assert.Zero(t, res.Summary.ReturnPct)
}
