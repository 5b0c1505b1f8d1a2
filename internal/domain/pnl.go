package domain

import "math"

// FeeSchedule contiene las tasas aplicadas a cada lado del trade.
// Por defecto la entrada paga taker y la salida maker.
type FeeSchedule struct {
	EntryRate float64
	ExitRate  float64
}

// Slippage aplica un buffer adverso a los precios de ejecución.
// 0.0005 = 5 bps en contra en cada ejecución.
type Slippage struct {
	EntryPct float64
	ExitPct  float64
}

// PnLInput son los datos necesarios para valorar un trade resuelto.
type PnLInput struct {
	Direction Direction
	Capital   float64 // K; cada leg usa K/2
	Prices    EntryExit
	RateA     float64
	RateB     float64
	Fees      FeeSchedule
	Slippage  Slippage
}

// PnL es el desglose de resultado de un trade.
type PnL struct {
	PositionSize float64
	PricePnL     float64
	FundingPnL   float64
	EntryFees    float64
	ExitFees     float64
	Fees         float64
	NetPnL       float64
	PnLPct       float64 // NetPnL / Capital × 100
}

// ComputePnL valora un trade con tamaño S = K/2 por leg:
//
//	price   = S × [(exitL-entryL)/entryL - (exitS-entryS)/entryS]
//	funding = S × |rate del leg FundingFrom|
//	fees    = S × entryRate × 2 + S × exitRate × 2
//	net     = price + funding - fees
func ComputePnL(in PnLInput) PnL {
	s := in.Capital / 2
	d := in.Direction

	entryLong := in.Prices.Entry(d.Long).Price * (1 + in.Slippage.EntryPct)
	exitLong := in.Prices.Exit(d.Long).Price * (1 - in.Slippage.ExitPct)
	entryShort := in.Prices.Entry(d.Short).Price * (1 - in.Slippage.EntryPct)
	exitShort := in.Prices.Exit(d.Short).Price * (1 + in.Slippage.ExitPct)

	longRet := (exitLong - entryLong) / entryLong
	shortRet := -(exitShort - entryShort) / entryShort

	rate := in.RateA
	if d.FundingFrom == LegB {
		rate = in.RateB
	}

	p := PnL{
		PositionSize: s,
		PricePnL:     s * (longRet + shortRet),
		FundingPnL:   s * math.Abs(rate),
		EntryFees:    s * in.Fees.EntryRate * 2,
		ExitFees:     s * in.Fees.ExitRate * 2,
	}
	p.Fees = p.EntryFees + p.ExitFees
	p.NetPnL = p.PricePnL + p.FundingPnL - p.Fees
	if in.Capital > 0 {
		p.PnLPct = p.NetPnL / in.Capital * 100
	}
	return p
}
