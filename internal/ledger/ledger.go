// Package ledger turns a stream of buy/sell calls into a consistent set of
// positions, each carrying a weighted-average cost basis, and derives
// profit/loss summaries once current market prices are supplied.
//
// The ledger is the only writer of the position store. Every mutation is a
// single read-modify-write cycle serialized per symbol, so concurrent calls on
// the same symbol never compute the average from a stale quantity. Operations
// on different symbols proceed fully in parallel.
package ledger

import (
	"context"
	"log/slog"
	"sync"

	"portfolio-systemv1/internal/model"
)

// Ledger owns all position arithmetic and invariant enforcement.
type Ledger struct {
	store model.PositionStore
	log   *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-symbol write locks
}

// New creates a Ledger over the given store. The store handle is the only
// dependency; there is no ambient state.
func New(store model.PositionStore, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		store: store,
		log:   log,
		locks: make(map[string]*sync.Mutex),
	}
}

// symbolLock returns the mutex guarding one symbol's read-modify-write cycle,
// creating it on first use. Lock entries are never removed; the set of traded
// symbols is small and bounded.
func (l *Ledger) symbolLock(symbol string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[symbol]
	if !ok {
		lk = &sync.Mutex{}
		l.locks[symbol] = lk
	}
	return lk
}

// Buy records a purchase and returns the post-update position.
//
// First buy of a symbol creates the position with AvgCost = price. Subsequent
// buys reweight the cost basis:
//
//	newCost = (oldQty*oldCost + qty*price) / (oldQty + qty)
//
// computed in float64 with the multiplications done before the division, so
// integer quantities lose nothing before the final divide.
func (l *Ledger) Buy(ctx context.Context, symbol string, price float64, qty int64) (*model.Position, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if price <= 0 {
		return nil, &ValidationError{Field: "price", Reason: "must be positive"}
	}
	if qty <= 0 {
		return nil, &ValidationError{Field: "qty", Reason: "must be positive"}
	}

	lk := l.symbolLock(symbol)
	lk.Lock()
	defer lk.Unlock()

	cur, err := l.store.Get(ctx, symbol)
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}

	var pos model.Position
	if cur == nil {
		pos = model.Position{Symbol: symbol, Qty: qty, AvgCost: price}
	} else {
		newQty := cur.Qty + qty
		newCost := (float64(cur.Qty)*cur.AvgCost + float64(qty)*price) / float64(newQty)
		pos = model.Position{Symbol: symbol, Qty: newQty, AvgCost: newCost}
	}

	if err := l.store.Put(ctx, pos); err != nil {
		return nil, &StoreError{Op: "put", Err: err}
	}

	l.log.Info("buy recorded",
		slog.String("symbol", symbol),
		slog.Int64("qty", qty),
		slog.Float64("price", price),
		slog.Int64("held", pos.Qty),
		slog.Float64("avg_cost", pos.AvgCost),
	)
	return &pos, nil
}

// Sell records a sale. A partial sell reduces the quantity and leaves the
// cost basis untouched; selling the exact held quantity deletes the position
// and returns nil — full liquidation, nothing left to track. Selling more
// than held fails with InsufficientQuantityError and changes nothing.
func (l *Ledger) Sell(ctx context.Context, symbol string, qty int64) (*model.Position, error) {
	symbol = model.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if qty <= 0 {
		return nil, &ValidationError{Field: "qty", Reason: "must be positive"}
	}

	lk := l.symbolLock(symbol)
	lk.Lock()
	defer lk.Unlock()

	cur, err := l.store.Get(ctx, symbol)
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	if cur == nil {
		return nil, &NotFoundError{Symbol: symbol}
	}
	if qty > cur.Qty {
		return nil, &InsufficientQuantityError{Symbol: symbol, Requested: qty, Available: cur.Qty}
	}

	if qty == cur.Qty {
		if err := l.store.Delete(ctx, symbol); err != nil {
			return nil, &StoreError{Op: "delete", Err: err}
		}
		l.log.Info("position liquidated", slog.String("symbol", symbol), slog.Int64("qty", qty))
		return nil, nil
	}

	pos := model.Position{Symbol: symbol, Qty: cur.Qty - qty, AvgCost: cur.AvgCost}
	if err := l.store.Put(ctx, pos); err != nil {
		return nil, &StoreError{Op: "put", Err: err}
	}

	l.log.Info("sell recorded",
		slog.String("symbol", symbol),
		slog.Int64("qty", qty),
		slog.Int64("held", pos.Qty),
	)
	return &pos, nil
}

// List returns every position currently held. Order is not significant.
func (l *Ledger) List(ctx context.Context) ([]model.Position, error) {
	positions, err := l.store.GetAll(ctx)
	if err != nil {
		return nil, &StoreError{Op: "getall", Err: err}
	}
	return positions, nil
}

// Summarize derives one Summary per held position from the supplied price map.
// Map entries for symbols not held are ignored; held symbols missing from the
// map fall back to their average cost, reporting 0% change. Pure over the
// store snapshot plus the map — no persistence side effects.
func (l *Ledger) Summarize(ctx context.Context, prices map[string]float64) ([]model.Summary, error) {
	positions, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.Summary, 0, len(positions))
	for _, pos := range positions {
		summaries = append(summaries, model.NewSummary(pos, prices[pos.Symbol]))
	}
	return summaries, nil
}
