package domain

import (
	"fmt"
	"sort"
	"time"
)

// Exchange es el nombre de un venue upstream ("binance", "bybit").
type Exchange string

// Bar es una vela de 1 minuto.
type Bar struct {
	Time   time.Time // apertura del minuto, UTC
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// TypicalPrice devuelve (high + low + close) / 3.
func (b Bar) TypicalPrice() float64 {
	return (b.High + b.Low + b.Close) / 3
}

// BarSeries es la serie ordenada de velas de un (symbol, exchange).
// Invariante: timestamps estrictamente crecientes, sin duplicados.
type BarSeries struct {
	Symbol   string
	Exchange Exchange
	Bars     []Bar
}

// Slice devuelve las velas con Time en [start, end).
func (s BarSeries) Slice(start, end time.Time) []Bar {
	return SliceBars(s.Bars, start, end)
}

// SliceBars devuelve la sub-slice de bars con Time en [start, end).
// Asume bars ordenadas; usa búsqueda binaria en ambos extremos.
func SliceBars(bars []Bar, start, end time.Time) []Bar {
	lo := sort.Search(len(bars), func(i int) bool { return !bars[i].Time.Before(start) })
	hi := sort.Search(len(bars), func(i int) bool { return !bars[i].Time.Before(end) })
	if lo >= hi {
		return nil
	}
	return bars[lo:hi]
}

// CacheKey identifica una entrada de la cache de velas.
// El rango es semiabierto [Start, End).
type CacheKey struct {
	Symbol   string
	Exchange Exchange
	Start    time.Time
	End      time.Time
}

// String devuelve la representación determinística usada como clave de storage.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s|%s|%d|%d", k.Symbol, k.Exchange, k.Start.UnixMilli(), k.End.UnixMilli())
}

// Contains devuelve true si el rango de k cubre [start, end).
func (k CacheKey) Contains(start, end time.Time) bool {
	return !k.Start.After(start) && !k.End.Before(end)
}

// ExpectedMinutes devuelve el número de slots de 1 minuto en el rango.
func (k CacheKey) ExpectedMinutes() int {
	return ExpectedMinutes(k.Start, k.End)
}

// ExpectedMinutes devuelve cuántos minutos completos hay en [start, end).
func ExpectedMinutes(start, end time.Time) int {
	if !end.After(start) {
		return 0
	}
	return int(end.Sub(start) / time.Minute)
}

// CacheEntry es una serie persistida con su metadata de validación.
type CacheEntry struct {
	Key        CacheKey
	Series     BarSeries
	FetchedAt  time.Time
	Validation Validation
}
