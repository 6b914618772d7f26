// Package gateway exposes the ledger over REST and a WebSocket summary
// stream. It owns DTO mapping and error→status translation; all arithmetic
// and invariants live in the ledger.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"portfolio-systemv1/internal/ledger"
	"portfolio-systemv1/internal/logger"
	"portfolio-systemv1/internal/metrics"
	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/oracle"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func RegisterRoutes(mux *http.ServeMux, led *ledger.Ledger, source oracle.PriceSource, hub *Hub, m *metrics.Metrics, processStart time.Time) {
	// WebSocket endpoint: pushes portfolio summaries on an interval
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[gateway] ws upgrade error: %v", err)
			return
		}
		hub.Register(conn)
	})

	// REST: record a buy
	mux.HandleFunc("/api/positions/buy", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "use POST", Kind: "method"})
			return
		}

		var req BuyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Kind: "validation"})
			return
		}

		ctx := logger.WithTraceID(r.Context(), logger.GenerateTraceID("buy", time.Now()))
		start := time.Now()
		pos, err := led.Buy(ctx, req.Symbol, req.Price, req.Qty)
		m.LedgerOpDur.WithLabelValues("buy").Observe(time.Since(start).Seconds())
		if err != nil {
			m.LedgerErrors.WithLabelValues(errorKind(err)).Inc()
			writeLedgerError(w, err)
			return
		}
		m.BuysTotal.Inc()
		writeJSON(w, http.StatusOK, pos)
	})

	// REST: record a sell
	mux.HandleFunc("/api/positions/sell", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "use POST", Kind: "method"})
			return
		}

		var req SellRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Kind: "validation"})
			return
		}

		ctx := logger.WithTraceID(r.Context(), logger.GenerateTraceID("sell", time.Now()))
		start := time.Now()
		pos, err := led.Sell(ctx, req.Symbol, req.Qty)
		m.LedgerOpDur.WithLabelValues("sell").Observe(time.Since(start).Seconds())
		if err != nil {
			m.LedgerErrors.WithLabelValues(errorKind(err)).Inc()
			writeLedgerError(w, err)
			return
		}
		m.SellsTotal.Inc()
		writeJSON(w, http.StatusOK, SellResponse{Liquidated: pos == nil, Position: pos})
	})

	// REST: list held positions
	mux.HandleFunc("/api/positions", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		start := time.Now()
		positions, err := led.List(r.Context())
		m.LedgerOpDur.WithLabelValues("list").Observe(time.Since(start).Seconds())
		if err != nil {
			m.LedgerErrors.WithLabelValues(errorKind(err)).Inc()
			writeLedgerError(w, err)
			return
		}
		if positions == nil {
			positions = []model.Position{}
		}
		writeJSON(w, http.StatusOK, positions)
	})

	// REST: portfolio summary with live prices
	mux.HandleFunc("/api/portfolio/summary", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		summaries, err := BuildSummaries(r.Context(), led, source, m)
		if err != nil {
			m.LedgerErrors.WithLabelValues(errorKind(err)).Inc()
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
	})

	// Health check
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		SetCORS(w)
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "ok",
			"uptime": time.Since(processStart).Round(time.Second).String(),
		})
	})
}

// BuildSummaries lists positions, fetches live quotes for them, and derives
// the summaries. An oracle failure is not fatal: the ledger falls back to
// cost basis for every symbol, reporting flat performance.
func BuildSummaries(ctx context.Context, led *ledger.Ledger, source oracle.PriceSource, m *metrics.Metrics) ([]model.Summary, error) {
	positions, err := led.List(ctx)
	if err != nil {
		return nil, err
	}

	symbols := make([]string, 0, len(positions))
	for _, pos := range positions {
		symbols = append(symbols, pos.Symbol)
	}

	start := time.Now()
	prices, err := source.Quotes(ctx, symbols)
	m.OracleFetchDur.Observe(time.Since(start).Seconds())
	if err != nil {
		m.OracleFailures.Inc()
		log.Printf("[gateway] oracle fetch failed, falling back to cost basis: %v", err)
		prices = nil
	}

	summaries, err := led.Summarize(ctx, prices)
	if err != nil {
		return nil, err
	}
	if summaries == nil {
		summaries = []model.Summary{}
	}
	return summaries, nil
}
