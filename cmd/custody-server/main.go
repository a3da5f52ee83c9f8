package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/idforge/custody/pkg/allowance"
	apphttp "github.com/idforge/custody/pkg/app/http"
	"github.com/idforge/custody/pkg/auth"
	"github.com/idforge/custody/pkg/config"
	"github.com/idforge/custody/pkg/custody"
	"github.com/idforge/custody/pkg/custodystore"
	"github.com/idforge/custody/pkg/deposits"
	"github.com/idforge/custody/pkg/pgutil"
	"github.com/idforge/custody/pkg/registry"
	"github.com/idforge/custody/pkg/resolver"
	"github.com/idforge/custody/pkg/sigguard"
	"github.com/idforge/custody/pkg/tokenledger"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting custody server",
		zap.String("config", *configPath),
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("store_backend", cfg.Custody.StoreBackend))

	// Select ledger store backend
	var store custodystore.Store
	switch cfg.Custody.StoreBackend {
	case "postgres":
		db, err := pgutil.ConnectDB(&cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("Connected to database",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.Database))
		store = custodystore.NewPGStore(db)
	default:
		logger.Warn("Using in-memory ledger store; state is lost on restart")
		store = custodystore.NewMemoryStore()
	}

	// Identity registry and token ledger oracles. The in-process
	// implementations stand in until external oracle clients are wired up.
	reg := registry.NewMemory()
	tokens := tokenledger.NewMemory(common.HexToAddress(cfg.Custody.CustodyAddress))

	guard, err := sigguard.New(reg, store, cfg.Custody.SignatureTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to create signature guard", zap.Error(err))
	}

	allowances := allowance.NewLedger(store, reg, logger)
	depositLedger := deposits.NewLedger(store, logger)

	hooks := resolver.StaticHooks{}
	events := resolver.NewLogSink(logger)
	directory := resolver.NewDirectory(reg, allowances, hooks, guard, events, logger)

	relays := custody.StaticRelays{}
	service := custody.NewService(reg, tokens, allowances, depositLedger,
		directory, guard, relays, &cfg.Custody, logger)

	// HTTP router
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(auth.CallerMiddleware(logger))
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	custody.RegisterRoutes(r, service, logger)

	// Metrics server
	if cfg.Monitoring.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Monitoring.MetricsPort)
			logger.Info("Metrics server listening", zap.String("address", addr))
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := apphttp.ServeAndWait(ctx, r, logger, &cfg.Server); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}

	logger.Info("Server stopped")
}
