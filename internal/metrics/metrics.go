// Package metrics exposes Prometheus metrics and a health endpoint for the
// ledger service.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the ledger service.
type Metrics struct {
	BuysTotal     prometheus.Counter
	SellsTotal    prometheus.Counter
	LedgerErrors  *prometheus.CounterVec // labels: kind (validation|not_found|insufficient|store)
	LedgerOpDur   *prometheus.HistogramVec
	OpenPositions prometheus.Gauge

	// Price oracle
	OracleFetchDur prometheus.Histogram
	OracleFailures prometheus.Counter

	// WebSocket summary stream
	WSClients prometheus.Gauge

	// Redis circuit breaker (only meaningful with the redis backend)
	StoreBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	StoreBreakerTrips prometheus.Counter
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		BuysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_buys_total",
			Help: "Total successful buy operations",
		}),
		SellsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_sells_total",
			Help: "Total successful sell operations (partial and full)",
		}),
		LedgerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_errors_total",
			Help: "Failed ledger operations by error kind",
		}, []string{"kind"}),
		LedgerOpDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_op_duration_seconds",
			Help:    "Ledger operation latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_open_positions",
			Help: "Number of symbols currently held",
		}),

		OracleFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "oracle_fetch_duration_seconds",
			Help:    "Price oracle quote fetch latency",
			Buckets: prometheus.DefBuckets,
		}),
		OracleFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oracle_fetch_failures_total",
			Help: "Price oracle fetches that returned an error",
		}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_ws_clients",
			Help: "Connected WebSocket summary-stream clients",
		}),

		StoreBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "store_circuit_breaker_state",
			Help: "Redis store circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		StoreBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "store_circuit_breaker_trips_total",
			Help: "Times the Redis store circuit breaker tripped open",
		}),
	}

	prometheus.MustRegister(
		m.BuysTotal,
		m.SellsTotal,
		m.LedgerErrors,
		m.LedgerOpDur,
		m.OpenPositions,
		m.OracleFetchDur,
		m.OracleFailures,
		m.WSClients,
		m.StoreBreakerState,
		m.StoreBreakerTrips,
	)
	return m
}

// HealthStatus tracks dependency health for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected  bool
	SQLiteOK        bool
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time

	// Backend in use; backends not in use report healthy.
	Backend string
}

// NewHealthStatus returns a default health status for the given store backend.
func NewHealthStatus(backend string) *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
		Backend:   backend,
	}
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Nil clients are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	switch h.Backend {
	case "redis":
		if !h.RedisConnected {
			overallStatus = "unhealthy"
			httpCode = http.StatusServiceUnavailable
		}
	case "sqlite":
		if !h.SQLiteOK {
			overallStatus = "unhealthy"
			httpCode = http.StatusServiceUnavailable
		}
	}

	status := struct {
		Status          string  `json:"status"`
		Backend         string  `json:"backend"`
		Uptime          string  `json:"uptime"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Backend:         h.Backend,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
