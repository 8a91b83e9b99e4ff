// Command realmctl administers a realm database directly: seeding, player
// setup, queue orders, one-off sweeps, research and snapshots.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/talgya/mini-realm/internal/clock"
	"github.com/talgya/mini-realm/internal/config"
	"github.com/talgya/mini-realm/internal/engine"
	"github.com/talgya/mini-realm/internal/persistence"
	"github.com/talgya/mini-realm/internal/world"
)

type app struct {
	configPath string
	dbPath     string
	at         string
	verbose    bool

	cfg config.Config
	db  *persistence.DB
	clk clock.Clock
}

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
	titleColor   = color.New(color.FgCyan, color.Bold)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "realmctl",
		Short:         "Administer a mini-realm database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.db != nil {
				return a.db.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "database path (overrides config)")
	root.PersistentFlags().StringVar(&a.at, "at", "", "act as if the time were this RFC 3339 instant")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log engine activity")

	root.AddCommand(
		a.initCmd(),
		a.playerCmd(),
		a.settlementsCmd(),
		a.enqueueCmd(),
		a.sweepCmd(),
		a.unlockCmd(),
		a.snapshotCmd(),
	)
	return root
}

func (a *app) setup() error {
	var w io.Writer = io.Discard
	if a.verbose {
		w = os.Stderr
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if a.dbPath != "" {
		cfg.DBPath = a.dbPath
	}
	a.cfg = cfg

	a.clk = clock.System{}
	if a.at != "" {
		t, err := time.Parse(time.RFC3339, a.at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		a.clk = clock.NewManual(t)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *app) terrain() (*world.Field, error) {
	seed, err := a.db.WorldSeed(a.cfg.WorldSeed)
	if err != nil {
		return nil, err
	}
	return world.NewField(seed), nil
}

// services wires the engine the same way realmd does, minus the audit log.
func (a *app) services() (*engine.Economy, *engine.Queue, *engine.Research, error) {
	field, err := a.terrain()
	if err != nil {
		return nil, nil, nil, err
	}
	economy := engine.NewEconomy(a.cfg.MaxCatchup)
	queue, err := engine.NewQueue(a.db, economy, engine.DefaultHandlers(economy, field), a.clk)
	if err != nil {
		return nil, nil, nil, err
	}
	queue.BatchSize = a.cfg.DueBatch
	return economy, queue, engine.NewResearch(a.db, economy, a.clk), nil
}

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the schema and seed catalogs and the NPC opponent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.db.Seed(a.clk.Now()); err != nil {
				return err
			}
			seed, err := a.db.WorldSeed(a.cfg.WorldSeed)
			if err != nil {
				return err
			}
			successColor.Printf("✓ realm initialized at %s (world seed %d)\n", a.cfg.DBPath, seed)
			return nil
		},
	}
}
