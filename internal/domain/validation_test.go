package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dropEvery elimina count velas, una de cada step empezando en step.
func dropEvery(bars []Bar, step, count int) []Bar {
	out := make([]Bar, 0, len(bars))
	dropped := 0
	for i, b := range bars {
		if i > 0 && i%step == 0 && dropped < count {
			dropped++
			continue
		}
		out = append(out, b)
	}
	return out
}

func TestValidateCompleteness_Full(t *testing.T) {
	bars := flatBars(t0, 60, func(int) float64 { return 10 }, 1)
	v := ValidateCompleteness(bars, t0, t0.Add(time.Hour), DefaultCompletenessRules())
	assert.True(t, v.Complete, v.Reason)
	assert.Equal(t, 60, v.Expected)
	assert.Equal(t, 1.0, v.Coverage)
	assert.Equal(t, time.Minute, v.MaxGap)
}

func TestValidateCompleteness_CoverageBoundary(t *testing.T) {
	end := t0.Add(1000 * time.Minute)
	all := flatBars(t0, 1000, func(int) float64 { return 10 }, 1)

	at949 := dropEvery(all, 10, 51)
	require.Len(t, at949, 949)
	v := ValidateCompleteness(at949, t0, end, DefaultCompletenessRules())
	assert.False(t, v.Complete)
	assert.Equal(t, 2*time.Minute, v.MaxGap)
	assert.Contains(t, v.Reason, "coverage")

	at950 := dropEvery(all, 10, 50)
	require.Len(t, at950, 950)
	v = ValidateCompleteness(at950, t0, end, DefaultCompletenessRules())
	assert.True(t, v.Complete, v.Reason)
}

func TestValidateCompleteness_GapTooWide(t *testing.T) {
	bars := flatBars(t0, 200, func(int) float64 { return 10 }, 1)
	holed := append(append([]Bar{}, bars[:100]...), bars[106:]...)

	v := ValidateCompleteness(holed, t0, t0.Add(200*time.Minute), DefaultCompletenessRules())
	assert.False(t, v.Complete)
	assert.Equal(t, 7*time.Minute, v.MaxGap)
	assert.Contains(t, v.Reason, "gap")
}

func TestValidateCompleteness_MissingHeadCountsAsGap(t *testing.T) {
	bars := flatBars(t0.Add(6*time.Minute), 194, func(int) float64 { return 10 }, 1)
	v := ValidateCompleteness(bars, t0, t0.Add(200*time.Minute), DefaultCompletenessRules())
	assert.False(t, v.Complete)
	assert.Equal(t, 6*time.Minute, v.MaxGap)
}

func TestValidateCompleteness_NonPositiveValues(t *testing.T) {
	bars := flatBars(t0, 10, func(int) float64 { return 10 }, 1)
	bars[3].Volume = 0
	v := ValidateCompleteness(bars, t0, t0.Add(10*time.Minute), DefaultCompletenessRules())
	assert.False(t, v.Complete)
	assert.Contains(t, v.Reason, "volume")

	bars[3].Volume = 1
	bars[5].Low = -1
	v = ValidateCompleteness(bars, t0, t0.Add(10*time.Minute), DefaultCompletenessRules())
	assert.False(t, v.Complete)
	assert.Contains(t, v.Reason, "price")
}

func TestValidateCompleteness_Empty(t *testing.T) {
	v := ValidateCompleteness(nil, t0, t0.Add(10*time.Minute), DefaultCompletenessRules())
	assert.False(t, v.Complete)
	assert.Equal(t, "no bars in range", v.Reason)
}

func TestMissingRanges(t *testing.T) {
	end := t0.Add(100 * time.Minute)

	assert.Equal(t, []TimeRange{{Start: t0, End: end}}, MissingRanges(nil, t0, end, 5*time.Minute))

	bars := flatBars(t0.Add(10*time.Minute), 80, func(int) float64 { return 10 }, 1)
	holed := append(append([]Bar{}, bars[:30]...), bars[40:]...)
	got := MissingRanges(holed, t0, end, 5*time.Minute)
	require.Len(t, got, 3)
	assert.Equal(t, TimeRange{Start: t0, End: t0.Add(10 * time.Minute)}, got[0])
	assert.Equal(t, TimeRange{Start: t0.Add(40 * time.Minute), End: t0.Add(50 * time.Minute)}, got[1])
	assert.Equal(t, TimeRange{Start: t0.Add(90 * time.Minute), End: end}, got[2])

	full := flatBars(t0, 100, func(int) float64 { return 10 }, 1)
	assert.Empty(t, MissingRanges(full, t0, end, 5*time.Minute))
}

func TestMergeBars_OrdersAndRejectsDuplicates(t *testing.T) {
	existing := flatBars(t0, 3, func(int) float64 { return 10 }, 1)
	incoming := flatBars(t0.Add(2*time.Minute), 3, func(int) float64 { return 20 }, 1)

	merged := MergeBars(incoming, existing)
	require.Len(t, merged, 5)
	for i := 1; i < len(merged); i++ {
		assert.True(t, merged[i].Time.After(merged[i-1].Time))
	}
	// El primer argumento gana en el minuto duplicado.
	assert.Equal(t, 20.0, merged[2].Close)
	assert.Equal(t, 10.0, merged[0].Close)
}

func TestCacheKey_StringIsDeterministic(t *testing.T) {
	k := CacheKey{Symbol: "BTCUSDT", Exchange: "binance", Start: t0, End: t0.Add(time.Hour)}
	assert.Equal(t, "BTCUSDT|binance|1756728000000|1756731600000", k.String())
	assert.True(t, k.Contains(t0.Add(time.Minute), t0.Add(time.Hour)))
	assert.False(t, k.Contains(t0.Add(-time.Minute), t0.Add(time.Hour)))
	assert.Equal(t, 60, k.ExpectedMinutes())
}
