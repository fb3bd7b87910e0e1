package grid

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Session is the reference price/time frame for one tap-to-trade grid.
// Immutable for its lifetime; the chart renders against the same frame,
// so cell boundaries stay stable across re-renders.
type Session struct {
	Symbol           string          // market symbol, e.g. "BTC-USD"
	MarginTotal      decimal.Decimal // collateral per order (quote units, 6 dp on the wire)
	Leverage         int64           // leverage multiplier
	TimeframeSeconds int64           // chart timeframe unit in seconds
	GridSizeX        int64           // columns per timeframe unit
	GridSizeYPercent int64           // price percent per row, scaled by 100 (50 = 0.5%)
	ReferenceTime    int64           // unix seconds, snapped to a column boundary
	ReferencePrice   decimal.Decimal // price at row 0
}

// CellTarget is the concrete order target a grid cell maps to.
type CellTarget struct {
	CellX        int64
	CellY        int64
	TriggerPrice decimal.Decimal
	StartTime    int64 // unix seconds, inclusive
	EndTime      int64 // unix seconds, exclusive
	IsLong       bool
}

// IsLongCell is the single shared direction rule: rows below the
// reference price (cellY < 0) are long setups, rows at or above it are
// short setups. Order construction and backend validation must both use
// this function, never re-derive the sign.
func IsLongCell(cellY int64) bool {
	return cellY < 0
}

// ColumnDuration returns the time span of one grid column in seconds.
// Never less than one second.
func (s *Session) ColumnDuration() int64 {
	d := s.GridSizeX * s.TimeframeSeconds
	if d < 1 {
		return 1
	}
	return d
}

// SnapReferenceTime floors t to a multiple of the column duration so the
// session invariant (reference time on a column boundary) holds.
func SnapReferenceTime(t, gridSizeX, timeframeSeconds int64) int64 {
	d := gridSizeX * timeframeSeconds
	if d < 1 {
		d = 1
	}
	return t - t%d
}

// CellTarget converts a tapped cell into its absolute price target and
// time window. Pure: identical inputs produce bit-identical outputs.
func (s *Session) CellTarget(cellX, cellY int64) CellTarget {
	column := s.ColumnDuration()
	start := s.ReferenceTime + cellX*column

	// gridSizeYPercent is percent scaled by 100, so the per-row price
	// fraction is percent/100/100.
	stepFraction := decimal.NewFromInt(s.GridSizeYPercent).Div(decimal.NewFromInt(10000))
	offset := decimal.NewFromInt(cellY).Mul(stepFraction)
	trigger := s.ReferencePrice.Mul(decimal.NewFromInt(1).Add(offset))

	return CellTarget{
		CellX:        cellX,
		CellY:        cellY,
		TriggerPrice: trigger,
		StartTime:    start,
		EndTime:      start + column,
		IsLong:       IsLongCell(cellY),
	}
}

// Validate checks the frame invariants before a session is activated.
func (s *Session) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("missing symbol")
	}
	if !s.ReferencePrice.IsPositive() {
		return fmt.Errorf("reference price must be positive, got %s", s.ReferencePrice)
	}
	if s.MarginTotal.IsNegative() || s.MarginTotal.IsZero() {
		return fmt.Errorf("margin must be positive, got %s", s.MarginTotal)
	}
	if s.Leverage < 1 {
		return fmt.Errorf("leverage must be >= 1, got %d", s.Leverage)
	}
	if s.GridSizeYPercent < 1 {
		return fmt.Errorf("grid row percent must be >= 1, got %d", s.GridSizeYPercent)
	}
	if snapped := SnapReferenceTime(s.ReferenceTime, s.GridSizeX, s.TimeframeSeconds); snapped != s.ReferenceTime {
		return fmt.Errorf("reference time %d not on a column boundary (want %d)", s.ReferenceTime, snapped)
	}
	return nil
}
