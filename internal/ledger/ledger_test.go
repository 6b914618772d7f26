package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/store/memory"
)

func newTestLedger() *Ledger {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(memory.New(), quiet)
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestBuy_CreatesPosition(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	pos, err := l.Buy(ctx, "aapl", 150.0, 10)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if pos.Symbol != "AAPL" {
		t.Errorf("expected normalized symbol AAPL, got %q", pos.Symbol)
	}
	if pos.Qty != 10 {
		t.Errorf("expected qty=10, got %d", pos.Qty)
	}
	if pos.AvgCost != 150.0 {
		t.Errorf("expected avg_cost=150, got %v", pos.AvgCost)
	}
}

func TestBuy_ReweightsAverageCost(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if _, err := l.Buy(ctx, "AAPL", 150.0, 10); err != nil {
		t.Fatalf("first buy failed: %v", err)
	}
	pos, err := l.Buy(ctx, "AAPL", 170.0, 5)
	if err != nil {
		t.Fatalf("second buy failed: %v", err)
	}

	if pos.Qty != 15 {
		t.Errorf("expected qty=15, got %d", pos.Qty)
	}
	want := (10*150.0 + 5*170.0) / 15 // 156.666...
	if !almostEqual(pos.AvgCost, want) {
		t.Errorf("expected avg_cost=%v, got %v", want, pos.AvgCost)
	}
}

func TestBuy_SequenceMatchesWeightedMean(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	buys := []struct {
		price float64
		qty   int64
	}{
		{101.5, 3}, {99.25, 7}, {120.0, 1}, {87.125, 12}, {104.9, 5},
	}

	var totalQty int64
	var totalCost float64
	for _, b := range buys {
		if _, err := l.Buy(ctx, "INFY", b.price, b.qty); err != nil {
			t.Fatalf("buy failed: %v", err)
		}
		totalQty += b.qty
		totalCost += float64(b.qty) * b.price
	}

	pos, err := l.store.Get(ctx, "INFY")
	if err != nil || pos == nil {
		t.Fatalf("expected position, got pos=%v err=%v", pos, err)
	}
	if pos.Qty != totalQty {
		t.Errorf("expected qty=%d, got %d", totalQty, pos.Qty)
	}
	want := totalCost / float64(totalQty)
	if !almostEqual(pos.AvgCost, want) {
		t.Errorf("expected avg_cost=%v, got %v", want, pos.AvgCost)
	}
}

func TestBuy_Validation(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	cases := []struct {
		name   string
		symbol string
		price  float64
		qty    int64
		field  string
	}{
		{"empty symbol", "", 100, 1, "symbol"},
		{"blank symbol", "   ", 100, 1, "symbol"},
		{"zero price", "AAPL", 0, 1, "price"},
		{"negative price", "AAPL", -5, 1, "price"},
		{"zero qty", "AAPL", 100, 0, "qty"},
		{"negative qty", "AAPL", 100, -3, "qty"},
	}

	for _, tc := range cases {
		_, err := l.Buy(ctx, tc.symbol, tc.price, tc.qty)
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("%s: expected ValidationError, got %v", tc.name, err)
			continue
		}
		if vErr.Field != tc.field {
			t.Errorf("%s: expected field %q, got %q", tc.name, tc.field, vErr.Field)
		}
	}

	// No partial state written
	positions, err := l.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(positions) != 0 {
		t.Errorf("expected no positions after failed buys, got %d", len(positions))
	}
}

func TestSell_PartialKeepsAvgCost(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Buy(ctx, "TCS", 200.0, 10)
	l.Buy(ctx, "TCS", 300.0, 10) // avg 250

	pos, err := l.Sell(ctx, "TCS", 4)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if pos == nil {
		t.Fatal("expected remaining position, got nil")
	}
	if pos.Qty != 16 {
		t.Errorf("expected qty=16, got %d", pos.Qty)
	}
	if !almostEqual(pos.AvgCost, 250.0) {
		t.Errorf("expected avg_cost unchanged at 250, got %v", pos.AvgCost)
	}
}

func TestSell_FullLiquidation(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Buy(ctx, "WIPRO", 400.0, 7)

	pos, err := l.Sell(ctx, "WIPRO", 7)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if pos != nil {
		t.Errorf("expected nil position after full liquidation, got %+v", pos)
	}

	// The symbol behaves as if it were never bought.
	if _, err := l.Sell(ctx, "WIPRO", 1); err == nil {
		t.Error("expected NotFoundError selling liquidated symbol")
	} else {
		var nErr *NotFoundError
		if !errors.As(err, &nErr) {
			t.Errorf("expected NotFoundError, got %v", err)
		}
	}

	summaries, err := l.Summarize(ctx, map[string]float64{"WIPRO": 500})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("expected empty summary after liquidation, got %d entries", len(summaries))
	}
}

func TestSell_InsufficientLeavesPositionUntouched(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Buy(ctx, "HDFC", 1500.0, 5)

	_, err := l.Sell(ctx, "HDFC", 9)
	var iErr *InsufficientQuantityError
	if !errors.As(err, &iErr) {
		t.Fatalf("expected InsufficientQuantityError, got %v", err)
	}
	if iErr.Requested != 9 || iErr.Available != 5 {
		t.Errorf("expected requested=9 available=5, got %d/%d", iErr.Requested, iErr.Available)
	}

	pos, _ := l.store.Get(ctx, "HDFC")
	if pos == nil || pos.Qty != 5 || !almostEqual(pos.AvgCost, 1500.0) {
		t.Errorf("position modified by failed sell: %+v", pos)
	}
}

func TestSell_UnknownSymbol(t *testing.T) {
	l := newTestLedger()

	_, err := l.Sell(context.Background(), "NOPE", 1)
	var nErr *NotFoundError
	if !errors.As(err, &nErr) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if nErr.Symbol != "NOPE" {
		t.Errorf("expected symbol NOPE in error, got %q", nErr.Symbol)
	}
}

func TestSell_Validation(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	if _, err := l.Sell(ctx, "", 1); err == nil {
		t.Error("expected error for empty symbol")
	}
	if _, err := l.Sell(ctx, "AAPL", 0); err == nil {
		t.Error("expected error for zero qty")
	}
	var vErr *ValidationError
	_, err := l.Sell(ctx, "AAPL", -2)
	if !errors.As(err, &vErr) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestList_RoundTrip(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	bought, err := l.Buy(ctx, "reliance", 2845.55, 3)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}

	positions, err := l.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(positions))
	}
	got := positions[0]
	if got.Symbol != bought.Symbol || got.Qty != bought.Qty || got.AvgCost != bought.AvgCost {
		t.Errorf("round trip mismatch: wrote %+v, read %+v", bought, got)
	}
}

func TestSummarize_Math(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Buy(ctx, "AAPL", 150.0, 10)

	summaries, err := l.Summarize(ctx, map[string]float64{"AAPL": 165.0})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}

	s := summaries[0]
	if !almostEqual(s.TotalInvested, 1500.0) {
		t.Errorf("expected total_invested=1500, got %v", s.TotalInvested)
	}
	if !almostEqual(s.CurrentValue, 1650.0) {
		t.Errorf("expected current_value=1650, got %v", s.CurrentValue)
	}
	if !almostEqual(s.GainLoss, 150.0) {
		t.Errorf("expected gain_loss=150, got %v", s.GainLoss)
	}
	if !almostEqual(s.GainLossPct, 10.0) {
		t.Errorf("expected gain_loss_pct=10, got %v", s.GainLossPct)
	}
}

func TestSummarize_MissingPriceFallsBackToCost(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Buy(ctx, "AAPL", 150.0, 10)

	summaries, err := l.Summarize(ctx, map[string]float64{})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	s := summaries[0]
	if !almostEqual(s.CurrentPrice, 150.0) {
		t.Errorf("expected fallback price 150, got %v", s.CurrentPrice)
	}
	if !almostEqual(s.GainLossPct, 0.0) {
		t.Errorf("expected 0%% change on fallback, got %v", s.GainLossPct)
	}
	if !almostEqual(s.GainLoss, 0.0) {
		t.Errorf("expected zero gain on fallback, got %v", s.GainLoss)
	}
}

func TestSummarize_IgnoresUnheldSymbols(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	l.Buy(ctx, "AAPL", 150.0, 10)

	summaries, err := l.Summarize(ctx, map[string]float64{"MSFT": 310.0, "AAPL": 160.0})
	if err != nil {
		t.Fatalf("summarize failed: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	if summaries[0].Symbol != "AAPL" {
		t.Errorf("expected AAPL only, got %q", summaries[0].Symbol)
	}
}

func TestConcurrentBuys_SameSymbol(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	var totalQty int64
	var totalCost float64
	prices := make([]float64, n)
	qtys := make([]int64, n)
	for i := 0; i < n; i++ {
		prices[i] = 100.0 + float64(i)
		qtys[i] = int64(i%7 + 1)
		totalQty += qtys[i]
		totalCost += float64(qtys[i]) * prices[i]
	}

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			if _, err := l.Buy(ctx, "SBIN", prices[i], qtys[i]); err != nil {
				t.Errorf("concurrent buy failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	pos, err := l.store.Get(ctx, "SBIN")
	if err != nil || pos == nil {
		t.Fatalf("expected position, got pos=%v err=%v", pos, err)
	}
	if pos.Qty != totalQty {
		t.Errorf("expected qty=%d, got %d", totalQty, pos.Qty)
	}
	want := totalCost / float64(totalQty)
	// The weighted-average update is associative, so arrival order must not
	// matter beyond float rounding.
	if math.Abs(pos.AvgCost-want) > 1e-6 {
		t.Errorf("expected avg_cost≈%v, got %v", want, pos.AvgCost)
	}
}

func TestConcurrentBuysAndSells_DisjointSymbols(t *testing.T) {
	l := newTestLedger()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%d", i)
			if _, err := l.Buy(ctx, sym, 50.0, 10); err != nil {
				t.Errorf("buy %s: %v", sym, err)
				return
			}
			if _, err := l.Sell(ctx, sym, 4); err != nil {
				t.Errorf("sell %s: %v", sym, err)
			}
		}(i)
	}
	wg.Wait()

	positions, err := l.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(positions) != n {
		t.Fatalf("expected %d positions, got %d", n, len(positions))
	}
	for _, pos := range positions {
		if pos.Qty != 6 {
			t.Errorf("%s: expected qty=6, got %d", pos.Symbol, pos.Qty)
		}
	}
}

// failingStore returns a fixed error from every call.
type failingStore struct{ err error }

func (f *failingStore) Get(context.Context, string) (*model.Position, error) { return nil, f.err }
func (f *failingStore) Put(context.Context, model.Position) error            { return f.err }
func (f *failingStore) Delete(context.Context, string) error                 { return f.err }
func (f *failingStore) GetAll(context.Context) ([]model.Position, error)     { return nil, f.err }
func (f *failingStore) Close() error                                         { return nil }

func TestStoreErrorsPropagate(t *testing.T) {
	boom := fmt.Errorf("disk on fire")
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := New(&failingStore{err: boom}, quiet)
	ctx := context.Background()

	var sErr *StoreError
	if _, err := l.Buy(ctx, "AAPL", 100, 1); !errors.As(err, &sErr) {
		t.Errorf("buy: expected StoreError, got %v", err)
	}
	if _, err := l.Sell(ctx, "AAPL", 1); !errors.As(err, &sErr) {
		t.Errorf("sell: expected StoreError, got %v", err)
	}
	_, listErr := l.List(ctx)
	if !errors.As(listErr, &sErr) {
		t.Errorf("list: expected StoreError, got %v", listErr)
	}
	if !errors.Is(listErr, boom) {
		t.Error("expected wrapped cause to survive errors.Is")
	}
}
