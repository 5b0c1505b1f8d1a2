package domain

import "fmt"

// Direction es la estructura de un trade: qué leg va long, cuál short y
// de qué leg se cobra el funding. Solo existen los cuatro valores de abajo.
type Direction struct {
	name        string
	Long        Leg
	Short       Leg
	FundingFrom Leg
}

var (
	// ShortALongB: A cobra funding positivo a los longs, se shortea A para cobrarlo.
	ShortALongB = Direction{name: "short_a_long_b", Long: LegB, Short: LegA, FundingFrom: LegA}
	// LongAShortB: rate negativo en A, los longs de A cobran.
	LongAShortB = Direction{name: "long_a_short_b", Long: LegA, Short: LegB, FundingFrom: LegA}
	// ShortBLongA: B cobra funding positivo a los longs.
	ShortBLongA = Direction{name: "short_b_long_a", Long: LegA, Short: LegB, FundingFrom: LegB}
	// LongBShortA: rate negativo en B.
	LongBShortA = Direction{name: "long_b_short_a", Long: LegB, Short: LegA, FundingFrom: LegB}
)

// Directions lista las cuatro estructuras posibles.
var Directions = []Direction{ShortALongB, LongAShortB, ShortBLongA, LongBShortA}

// String devuelve el identificador estable de la dirección.
func (d Direction) String() string {
	return d.name
}

// Describe devuelve una descripción legible con los nombres de los exchanges.
func (d Direction) Describe(v Venues) string {
	return fmt.Sprintf("long %s / short %s (funding from %s)",
		v.Of(d.Long), v.Of(d.Short), v.Of(d.FundingFrom))
}

// ParseDirection convierte un identificador en Direction.
func ParseDirection(s string) (Direction, error) {
	for _, d := range Directions {
		if d.name == s {
			return d, nil
		}
	}
	return Direction{}, fmt.Errorf("unknown direction %q", s)
}

// ResolveDirection decide la estructura del trade a partir de los flags de pago
// y el signo del rate del exchange que paga. Exactamente un flag debe ser true.
//
// El exchange cuyo rate positivo pagan los longs se shortea (cobrando el funding);
// con rate negativo se mantiene long para cobrarlo. El otro leg va en sentido
// opuesto para quedar delta-neutral. Rate == 0 se trata como positivo.
func ResolveDirection(paysA, paysB bool, rateA, rateB float64) (Direction, error) {
	switch {
	case paysA && !paysB:
		if rateA < 0 {
			return LongAShortB, nil
		}
		return ShortALongB, nil
	case paysB && !paysA:
		if rateB < 0 {
			return LongBShortA, nil
		}
		return ShortBLongA, nil
	default:
		return Direction{}, fmt.Errorf("%w: paysA=%t paysB=%t", ErrAmbiguousDirection, paysA, paysB)
	}
}
