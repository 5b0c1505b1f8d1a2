package domain

import "time"

// Leg identifica uno de los dos venues de la estrategia.
type Leg int

const (
	LegA Leg = iota
	LegB
)

// String devuelve "A" o "B".
func (l Leg) String() string {
	if l == LegA {
		return "A"
	}
	return "B"
}

// Other devuelve el leg contrario.
func (l Leg) Other() Leg {
	if l == LegA {
		return LegB
	}
	return LegA
}

// Venues asocia cada leg con su exchange concreto.
type Venues struct {
	A Exchange
	B Exchange
}

// Of devuelve el exchange del leg dado.
func (v Venues) Of(l Leg) Exchange {
	if l == LegA {
		return v.A
	}
	return v.B
}

// Signal es una fila del timeline de funding rates producido upstream.
// Inmutable una vez cargada.
type Signal struct {
	Timestamp     time.Time // UTC, alineado al minuto
	Symbol        string
	IntervalA     string
	IntervalB     string
	MismatchType  string
	RateA         float64 // funding rate del exchange A (positivo = longs pagan)
	RateB         float64
	RateDiff      float64
	DurationHours float64 // duración del mismatch; 0 si la columna no existe
	Tradable      bool
	PaysA         bool
	PaysB         bool
}

// Rate devuelve el funding rate del leg dado.
func (s Signal) Rate(l Leg) float64 {
	if l == LegA {
		return s.RateA
	}
	return s.RateB
}

// Opportunity es una Signal accionable con los campos derivados.
// Capital y Direction se rellenan en etapas posteriores; nil = ausente.
type Opportunity struct {
	Signal
	Capital        *float64
	Direction      *Direction
	TradableAtTime int
}

// HasCapital devuelve true si el allocator ya asignó capital.
func (o Opportunity) HasCapital() bool {
	return o.Capital != nil
}

// K devuelve el capital asignado, o 0 si aún no fue asignado.
func (o Opportunity) K() float64 {
	if o.Capital == nil {
		return 0
	}
	return *o.Capital
}

// Less ordena oportunidades por (timestamp, symbol).
func (o Opportunity) Less(other Opportunity) bool {
	if !o.Timestamp.Equal(other.Timestamp) {
		return o.Timestamp.Before(other.Timestamp)
	}
	return o.Symbol < other.Symbol
}
