package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deedvault/config"
	"deedvault/gateway"
	"deedvault/native/escrow"
	"deedvault/observability/logging"
	"deedvault/observability/metrics"
	"deedvault/registry"
	"deedvault/storage/boltstate"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./escrowd.toml", "path to escrowd configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DEEDVAULT_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		// Logging is not configured yet; fall back to stderr.
		os.Stderr.WriteString("escrowd: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Service:    "escrowd",
		Env:        env,
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("create data dir", "error", err)
		os.Exit(1)
	}
	store, err := boltstate.Open(cfg.DatabasePath(), nil)
	if err != nil {
		logger.Error("open state store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	roles, err := cfg.Roles()
	if err != nil {
		logger.Error("parse roles", "error", err)
		os.Exit(1)
	}
	engine, err := escrow.NewEngine(roles)
	if err != nil {
		logger.Error("construct engine", "error", err)
		os.Exit(1)
	}
	engine.SetState(store)
	engine.SetRegistry(registry.NewHTTPClient(cfg.RegistryURL, cfg.Escrow(), cfg.RegistryAuthToken))
	engine.SetPayoutSink(store)
	engine.SetOpenDeposit(cfg.OpenDeposit)

	server := gateway.New(engine, logger, metrics.Escrow(), gateway.NewRateLimiter(cfg.RateLimitPerMin))
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening",
			"addr", cfg.ListenAddress,
			"registry", cfg.RegistryURL,
			"seller", roles.Seller.Hex(),
			"openDeposit", cfg.OpenDeposit,
		)
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}
}
