package grid

import (
	"fmt"
	"sort"
	"sync"
)

// CellKey identifies a grid cell by its signed coordinates.
type CellKey struct {
	X int64
	Y int64
}

func (k CellKey) String() string {
	return fmt.Sprintf("%d,%d", k.X, k.Y)
}

// CellOrder accumulates orders placed at one cell. Tapping the same cell
// again adds another full-size order rather than toggling; the count is
// an explicit product policy, not an incidental side effect.
type CellOrder struct {
	Key        CellKey
	Target     CellTarget
	OrderCount int
}

// CellBook tracks per-cell order counts for the enabled grid session.
// Cleared entirely when the session is disabled.
type CellBook struct {
	mu    sync.Mutex
	cells map[CellKey]*CellOrder
}

func NewCellBook() *CellBook {
	return &CellBook{cells: make(map[CellKey]*CellOrder)}
}

// Record registers a successfully submitted order at the target's cell
// and returns the new accumulated count for that cell.
func (b *CellBook) Record(target CellTarget) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := CellKey{X: target.CellX, Y: target.CellY}
	cell, ok := b.cells[key]
	if !ok {
		cell = &CellOrder{Key: key, Target: target}
		b.cells[key] = cell
	}
	cell.OrderCount++
	return cell.OrderCount
}

// Count returns the accumulated order count at a cell.
func (b *CellBook) Count(x, y int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cell, ok := b.cells[CellKey{X: x, Y: y}]; ok {
		return cell.OrderCount
	}
	return 0
}

// Snapshot returns all cells with at least one order, sorted by key for
// stable output.
func (b *CellBook) Snapshot() []CellOrder {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]CellOrder, 0, len(b.cells))
	for _, cell := range b.cells {
		out = append(out, *cell)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.X != out[j].Key.X {
			return out[i].Key.X < out[j].Key.X
		}
		return out[i].Key.Y < out[j].Key.Y
	})
	return out
}

// Clear drops all accumulated cells.
func (b *CellBook) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cells = make(map[CellKey]*CellOrder)
}
