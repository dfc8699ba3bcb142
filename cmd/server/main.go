// Command server runs the judge's HTTP API and Worker Pool in one process,
// grounded on the teacher's cmd/main.go process wiring (config load, DB
// connect, router mount, graceful shutdown).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codejudge/internal/api"
	"codejudge/internal/config"
	"codejudge/internal/container"
	"codejudge/internal/logging"
	"codejudge/internal/metrics"
	"codejudge/internal/registry"
	"codejudge/internal/store"
	"codejudge/internal/worker"
)

func main() {
	logging.Init()
	defer logging.Sync()

	if err := run(); err != nil {
		logging.S().Fatalw("server exited with error", "err", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if cfg.StoreBackend == config.BackendSQLite {
		if err := st.AutoMigrate(); err != nil {
			return fmt.Errorf("automigrate sqlite store: %w", err)
		}
	}

	reg := registry.New()

	driverCfg := container.DefaultConfig()
	driverCfg.RuntimeBin = cfg.ContainerRuntimeBin
	driverCfg.OutputStreamCapBytes = cfg.OutputStreamCapBytes
	driver := container.New(driverCfg)
	if cfg.EnsureImages {
		driver.EnsureImages(reg)
	}

	workDir, err := os.MkdirTemp("", "codejudge-work-")
	if err != nil {
		return fmt.Errorf("create base work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	pool := worker.New(worker.Config{
		WorkerCount: cfg.WorkerCount,
		BaseWorkDir: workDir,
	}, st, reg, driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool.Start(ctx)
	go runStaleSweeper(ctx, st, cfg)

	server := api.NewServer(st, reg, api.DefaultLimits(), cfg.WorkerCount, cfg.SubmissionRateLimitPerSec, cfg.SubmissionRateLimitBurst)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: server.Engine(),
	}

	go func() {
		logging.S().Infow("http server listening", "port", cfg.HTTPPort, "workers", cfg.WorkerCount)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.S().Errorw("http server failed", "err", err)
		}
	}()

	waitForShutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logging.S().Errorw("graceful shutdown failed", "err", err)
	}
	cancel()

	return nil
}

// staleClaimSweeper is the subset of *store.Store the sweep loop needs.
type staleClaimSweeper interface {
	SweepStaleClaims(ctx context.Context, threshold time.Duration) (int64, error)
}

func runStaleSweeper(ctx context.Context, s staleClaimSweeper, cfg *config.Config) {
	ticker := time.NewTicker(cfg.StaleClaimSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepStaleClaims(ctx, cfg.StaleClaimThreshold)
			if err != nil {
				logging.S().Errorw("stale claim sweep failed", "err", err)
				continue
			}
			if n > 0 {
				metrics.Get().StaleClaimsReclaimed.Add(float64(n))
				logging.S().Infow("reclaimed stale claims", "count", n)
			}
		}
	}
}

func waitForShutdown() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logging.S().Info("shutdown signal received")
}
