package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"gridtap/pkg/backend"
	"gridtap/pkg/order"
)

// OrderLog is a local journal of every order this client submitted and
// each status transition observed, keyed by backend order id. It backs
// the daemon's order listing and survives restarts; it is never the
// source of truth for order status, the backend is.
type OrderLog struct {
	db *pebble.DB
}

// keys: o:<order-id> -> OrderRecord JSON
func kOrder(id string) []byte { return append([]byte("o:"), id...) }

func NewOrderLog(path string) (*OrderLog, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open order log: %w", err)
	}
	return &OrderLog{db: db}, nil
}

func (l *OrderLog) Close() error { return l.db.Close() }

// Put journals a submitted order.
func (l *OrderLog) Put(rec *backend.OrderRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode order %s: %w", rec.ID, err)
	}
	if err := l.db.Set(kOrder(rec.ID), val, pebble.Sync); err != nil {
		return fmt.Errorf("journal order %s: %w", rec.ID, err)
	}
	return nil
}

// Get returns a journaled order, or (nil, false) when unknown.
func (l *OrderLog) Get(id string) (*backend.OrderRecord, bool, error) {
	val, closer, err := l.db.Get(kOrder(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read order %s: %w", id, err)
	}
	defer closer.Close()

	var rec backend.OrderRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, false, fmt.Errorf("decode order %s: %w", id, err)
	}
	return &rec, true, nil
}

// SetStatus records a status transition for a journaled order. Unknown
// ids are ignored; the poll may report orders journaled by an earlier
// process whose journal was removed.
func (l *OrderLog) SetStatus(id string, status order.Status) error {
	rec, ok, err := l.Get(id)
	if err != nil || !ok {
		return err
	}
	rec.Status = status
	return l.Put(rec)
}

// List returns all journaled orders in key order.
func (l *OrderLog) List() ([]*backend.OrderRecord, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("o:"),
		UpperBound: []byte("o;"), // ';' sorts just after ':'
	})
	if err != nil {
		return nil, fmt.Errorf("iterate order log: %w", err)
	}
	defer iter.Close()

	var out []*backend.OrderRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var rec backend.OrderRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("decode order %s: %w", iter.Key(), err)
		}
		out = append(out, &rec)
	}
	return out, iter.Error()
}
