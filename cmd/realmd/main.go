// Command realmd runs the realm: the tick loop, the action queue, scheduled
// snapshots and the HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/talgya/mini-realm/internal/api"
	"github.com/talgya/mini-realm/internal/auditlog"
	"github.com/talgya/mini-realm/internal/clock"
	"github.com/talgya/mini-realm/internal/config"
	"github.com/talgya/mini-realm/internal/engine"
	"github.com/talgya/mini-realm/internal/persistence"
	"github.com/talgya/mini-realm/internal/world"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:          "realmd",
		Short:        "Run the realm simulation server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return run(cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults apply when empty)")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	level, _ := cfg.Level()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	slog.Info("mini-realm starting", "tick_interval", cfg.TickInterval, "max_catchup", cfg.MaxCatchup)

	clk := clock.System{}

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Seed(clk.Now()); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	slog.Info("database opened", "path", cfg.DBPath)

	// ── World terrain (deterministic from the persisted seed) ─────────
	seed, err := db.WorldSeed(cfg.WorldSeed)
	if err != nil {
		return fmt.Errorf("world seed: %w", err)
	}
	terrain := world.NewField(seed)
	slog.Info("terrain ready", "seed", seed)

	// ── Engine ────────────────────────────────────────────────────────
	audit := auditlog.New(cfg.AuditDir, "audit", clk)
	defer audit.Close()

	economy := engine.NewEconomy(cfg.MaxCatchup)
	queue, err := engine.NewQueue(db, economy, engine.DefaultHandlers(economy, terrain), clk)
	if err != nil {
		return err
	}
	queue.BatchSize = cfg.DueBatch
	queue.Audit = audit
	research := engine.NewResearch(db, economy, clk)

	eng := engine.NewEngine(db, economy, queue, clk)
	eng.StopTimeout = cfg.StopTimeout

	// ── Snapshots ─────────────────────────────────────────────────────
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.SnapshotSchedule, func() {
		snap, err := db.TakeSnapshot(clk.Now())
		if err != nil {
			slog.Error("scheduled snapshot failed", "error", err)
			return
		}
		slog.Info("snapshot taken", "seq", snap.Seq, "settlements", snap.Settlements, "bytes", snap.Size)
	}); err != nil {
		return fmt.Errorf("snapshot_schedule %q: %w", cfg.SnapshotSchedule, err)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.AdminKey == "" {
		slog.Warn("admin_key not set, admin POST endpoints will be disabled")
	}
	limiter := api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	if err := limiter.TrustProxies(cfg.RateLimit.TrustedProxies); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	apiServer := &api.Server{
		DB:       db,
		Engine:   eng,
		Queue:    queue,
		Research: research,
		Clock:    clk,
		Port:     cfg.APIPort,
		AdminKey: cfg.AdminKey,
		Limiter:  limiter,
	}

	// ── Start ─────────────────────────────────────────────────────────
	sched.Start()
	apiServer.Start()
	if err := eng.Start(cfg.TickInterval); err != nil {
		return err
	}
	fmt.Printf("Realm is running. API: http://localhost:%d/api/v1/status (Ctrl+C to stop)\n", cfg.APIPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		slog.Warn("api shutdown", "error", err)
	}
	<-sched.Stop().Done()
	if err := eng.Stop(); err != nil {
		slog.Warn("engine stop", "error", err)
	}

	fmt.Println("Realm stopped.")
	return nil
}
