package grid

import "github.com/shopspring/decimal"

// Binary-outcome payout multiplier. The unit is multiplier x 100:
// 110 = 1.10x, 1000 = 10.00x. Price distance and time-to-expiry are
// weighted roughly 60/40. The arithmetic and rounding here must match
// the settlement system bit-for-bit or settled payouts will disagree
// with what the grid displayed.

var (
	multiplierFloor = decimal.NewFromInt(110)
	multiplierCap   = decimal.NewFromInt(1000)

	// priceComponent = priceDistanceBps * 0.6 / 100
	priceWeight = decimal.RequireFromString("0.006")
	// timeComponent = timeDistanceSeconds * 0.4 / 10
	timeWeight = decimal.RequireFromString("0.04")
)

// Multiplier computes the payout multiplier for an order entered at
// (entryPrice, entryTime) targeting (targetPrice, targetTime).
// The bps division rounds to 8 decimal places; the result rounds to 2.
func Multiplier(entryPrice, targetPrice decimal.Decimal, entryTime, targetTime int64) decimal.Decimal {
	priceDistanceBps := targetPrice.Sub(entryPrice).Abs().
		Mul(decimal.NewFromInt(10000)).
		DivRound(entryPrice, 8)

	timeDistance := targetTime - entryTime
	if timeDistance < 0 {
		timeDistance = 0
	}

	m := multiplierFloor.
		Add(priceDistanceBps.Mul(priceWeight)).
		Add(decimal.NewFromInt(timeDistance).Mul(timeWeight))

	if m.GreaterThan(multiplierCap) {
		return multiplierCap
	}
	return m.Round(2)
}
