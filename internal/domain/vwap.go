package domain

import (
	"fmt"
	"time"
)

// MinWindowFill es la fracción mínima de velas esperadas en una ventana VWAP.
const MinWindowFill = 0.80

// VWAPResult es el precio VWAP de un (symbol, exchange, ventana).
// Si Valid es false, Price no debe usarse.
type VWAPResult struct {
	Price    float64
	Volume   float64
	Bars     int
	Expected int
	Valid    bool
	Reason   string
}

// VWAP calcula Σ(typical × volume) / Σ(volume) sobre las velas en [start, end).
// Nunca falla: si la ventana no es válida devuelve Valid=false con Reason.
//
// Validez: volumen total > 0, al menos MinWindowFill de los minutos esperados
// presentes, y resultado finito.
func VWAP(bars []Bar, start, end time.Time) VWAPResult {
	window := SliceBars(bars, start, end)
	res := VWAPResult{
		Bars:     len(window),
		Expected: ExpectedMinutes(start, end),
	}

	var num float64
	for _, b := range window {
		num += b.TypicalPrice() * b.Volume
		res.Volume += b.Volume
	}

	switch {
	case res.Expected == 0:
		res.Reason = "empty window"
		return res
	case res.Volume <= 0:
		res.Reason = "zero volume"
		return res
	case float64(res.Bars) < MinWindowFill*float64(res.Expected):
		res.Reason = fmt.Sprintf("only %d/%d bars", res.Bars, res.Expected)
		return res
	}

	price := num / res.Volume
	if !IsFinite(price) || price <= 0 {
		res.Reason = "non-finite price"
		return res
	}

	res.Price = price
	res.Valid = true
	return res
}

// EntryExit agrupa los cuatro VWAP de una oportunidad.
type EntryExit struct {
	EntryA VWAPResult
	ExitA  VWAPResult
	EntryB VWAPResult
	ExitB  VWAPResult
	Valid  bool // AND de las cuatro validez
}

// Entry devuelve el VWAP de entrada del leg dado.
func (e EntryExit) Entry(l Leg) VWAPResult {
	if l == LegA {
		return e.EntryA
	}
	return e.EntryB
}

// Exit devuelve el VWAP de salida del leg dado.
func (e EntryExit) Exit(l Leg) VWAPResult {
	if l == LegA {
		return e.ExitA
	}
	return e.ExitB
}

// InvalidReason devuelve el primer motivo de invalidez, o "" si todo es válido.
func (e EntryExit) InvalidReason() string {
	for _, r := range []struct {
		name string
		res  VWAPResult
	}{
		{"entry A", e.EntryA}, {"exit A", e.ExitA},
		{"entry B", e.EntryB}, {"exit B", e.ExitB},
	} {
		if !r.res.Valid {
			return r.name + ": " + r.res.Reason
		}
	}
	return ""
}

// EntryExitVWAP calcula entrada [ts-w, ts) y salida [ts, ts+w) en ambos legs.
// La vela del minuto de la señal pertenece solo a la ventana de salida.
func EntryExitVWAP(ts time.Time, barsA, barsB []Bar, window time.Duration) EntryExit {
	e := EntryExit{
		EntryA: VWAP(barsA, ts.Add(-window), ts),
		ExitA:  VWAP(barsA, ts, ts.Add(window)),
		EntryB: VWAP(barsB, ts.Add(-window), ts),
		ExitB:  VWAP(barsB, ts, ts.Add(window)),
	}
	e.Valid = e.EntryA.Valid && e.ExitA.Valid && e.EntryB.Valid && e.ExitB.Valid
	return e
}
