package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	// DefaultMinCoverage es la fracción mínima de minutos esperados presentes.
	DefaultMinCoverage = 0.95
	// DefaultMaxGap es el hueco interno máximo tolerado entre velas consecutivas.
	DefaultMaxGap = 5 * time.Minute
)

// CompletenessRules parametriza la validación de completitud.
type CompletenessRules struct {
	MinCoverage float64
	MaxGap      time.Duration
}

// DefaultCompletenessRules devuelve 95% de cobertura y huecos de hasta 5 minutos.
func DefaultCompletenessRules() CompletenessRules {
	return CompletenessRules{MinCoverage: DefaultMinCoverage, MaxGap: DefaultMaxGap}
}

// Validation es el resultado de validar una serie sobre un rango.
type Validation struct {
	Complete bool
	Coverage float64       // actual / expected (0..1)
	MaxGap   time.Duration // mayor distancia entre velas consecutivas, bordes incluidos
	Expected int
	Actual   int
	Reason   string // vacío si Complete
}

// ValidateCompleteness comprueba la serie en [start, end):
// cobertura >= MinCoverage, ningún hueco > MaxGap (incluidos los bordes),
// y ningún precio o volumen no positivo.
func ValidateCompleteness(bars []Bar, start, end time.Time, rules CompletenessRules) Validation {
	window := SliceBars(bars, start, end)
	v := Validation{
		Expected: ExpectedMinutes(start, end),
		Actual:   len(window),
	}
	if v.Expected == 0 {
		v.Reason = "empty range"
		return v
	}
	if v.Actual == 0 {
		v.Reason = "no bars in range"
		v.MaxGap = end.Sub(start)
		return v
	}

	v.Coverage = float64(v.Actual) / float64(v.Expected)

	// Los bordes cuentan como huecos: la primera vela debe estar cerca de start
	// y la última cerca del último minuto del rango.
	lastSlot := end.Add(-time.Minute)
	v.MaxGap = window[0].Time.Sub(start)
	if tail := lastSlot.Sub(window[len(window)-1].Time); tail > v.MaxGap {
		v.MaxGap = tail
	}
	for i := 1; i < len(window); i++ {
		if d := window[i].Time.Sub(window[i-1].Time); d > v.MaxGap {
			v.MaxGap = d
		}
	}

	for _, b := range window {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			v.Reason = fmt.Sprintf("non-positive price at %s", b.Time.UTC().Format(time.RFC3339))
			return v
		}
		if b.Volume <= 0 {
			v.Reason = fmt.Sprintf("non-positive volume at %s", b.Time.UTC().Format(time.RFC3339))
			return v
		}
	}

	if v.Coverage < rules.MinCoverage {
		v.Reason = fmt.Sprintf("coverage %.2f%% below %.2f%%", v.Coverage*100, rules.MinCoverage*100)
		return v
	}
	if v.MaxGap > rules.MaxGap {
		v.Reason = fmt.Sprintf("gap %s exceeds %s", v.MaxGap, rules.MaxGap)
		return v
	}

	v.Complete = true
	return v
}

// TimeRange es un intervalo semiabierto [Start, End).
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// MissingRanges devuelve los sub-rangos de [start, end) que hay que pedir upstream:
// cabeza, cola y cada hueco interno mayor que tolerance.
func MissingRanges(bars []Bar, start, end time.Time, tolerance time.Duration) []TimeRange {
	window := SliceBars(bars, start, end)
	if len(window) == 0 {
		return []TimeRange{{Start: start, End: end}}
	}

	var out []TimeRange
	if window[0].Time.Sub(start) > tolerance {
		out = append(out, TimeRange{Start: start, End: window[0].Time})
	}
	for i := 1; i < len(window); i++ {
		prev, cur := window[i-1].Time, window[i].Time
		if cur.Sub(prev) > tolerance {
			out = append(out, TimeRange{Start: prev.Add(time.Minute), End: cur})
		}
	}
	last := window[len(window)-1].Time
	if end.Add(-time.Minute).Sub(last) > tolerance {
		out = append(out, TimeRange{Start: last.Add(time.Minute), End: end})
	}
	return out
}

// MergeBars combina dos series ordenando por tiempo. En timestamps duplicados
// gana la vela de existing; las velas entrantes duplicadas se descartan.
func MergeBars(existing, incoming []Bar) []Bar {
	seen := make(map[int64]struct{}, len(existing)+len(incoming))
	out := make([]Bar, 0, len(existing)+len(incoming))
	for _, b := range existing {
		ts := b.Time.UnixMilli()
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		out = append(out, b)
	}
	for _, b := range incoming {
		ts := b.Time.UnixMilli()
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// IsFinite devuelve true si x no es NaN ni ±Inf.
func IsFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
