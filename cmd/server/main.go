// Command server runs the portfolio ledger service: REST + WebSocket gateway
// over the position ledger, with a pluggable position store and price oracle.
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portfolio-systemv1/config"
	"portfolio-systemv1/internal/gateway"
	"portfolio-systemv1/internal/ledger"
	"portfolio-systemv1/internal/logger"
	"portfolio-systemv1/internal/metrics"
	"portfolio-systemv1/internal/model"
	"portfolio-systemv1/internal/oracle"
	"portfolio-systemv1/internal/store/memory"
	redisstore "portfolio-systemv1/internal/store/redis"
	"portfolio-systemv1/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
)

var processStart = time.Now()

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[server] starting...")

	cfg := config.Load()
	slogger := logger.Init("portfolio-ledger", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.NewMetrics()
	health := metrics.NewHealthStatus(cfg.StoreBackend)

	store, healthRedis, healthSQL := openStore(cfg, m)
	defer store.Close()

	led := ledger.New(store, slogger)
	source := openOracle(cfg)

	hub := gateway.NewHub(led, source, m, cfg.SummaryInterval)
	go hub.Run(ctx)

	health.StartLivenessChecker(ctx, healthRedis, healthSQL, 15*time.Second)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, led, source, hub, m, processStart)

	srv := &http.Server{Addr: cfg.ServerAddr, Handler: mux}
	go func() {
		log.Printf("[server] listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[server] listen error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("[server] shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	slogger.Info("server stopped", slog.String("uptime", time.Since(processStart).Round(time.Second).String()))
}

// openStore builds the configured position store and returns the handles the
// liveness checker probes (nil for backends not in use).
func openStore(cfg *config.Config, m *metrics.Metrics) (model.PositionStore, *goredis.Client, *sql.DB) {
	switch cfg.StoreBackend {
	case "sqlite":
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[server] sqlite store: %v", err)
		}
		return st, nil, st.DB()

	case "redis":
		st, err := redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("[server] redis store: %v", err)
		}
		prev := st.Breaker().OnStateChange
		st.Breaker().OnStateChange = func(from, to redisstore.State) {
			if prev != nil {
				prev(from, to)
			}
			m.StoreBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				m.StoreBreakerTrips.Inc()
			}
		}
		return st, st.Client(), nil

	case "memory":
		return memory.New(), nil, nil

	default:
		log.Fatalf("[server] unknown STORE_BACKEND %q (want memory, sqlite, or redis)", cfg.StoreBackend)
		return nil, nil, nil
	}
}

// openOracle picks the live broker client when credentials are configured,
// otherwise the static price table (possibly empty, which means every
// summary falls back to cost basis).
func openOracle(cfg *config.Config) oracle.PriceSource {
	if cfg.BrokerBaseURL != "" {
		cfg.RequireBroker()
		log.Printf("[server] using broker price oracle at %s", cfg.BrokerBaseURL)
		return oracle.NewBrokerClient(oracle.BrokerConfig{
			BaseURL:    cfg.BrokerBaseURL,
			APIKey:     cfg.BrokerAPIKey,
			ClientCode: cfg.BrokerClientCode,
			Password:   cfg.BrokerPassword,
			TOTPSecret: cfg.BrokerTOTPSecret,
		})
	}
	prices := cfg.ParseStaticPrices()
	log.Printf("[server] using static price oracle (%d symbols)", len(prices))
	return oracle.Static(prices)
}
