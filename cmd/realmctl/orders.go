package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/mini-realm/internal/engine"
	"github.com/talgya/mini-realm/internal/realm"
)

func (a *app) enqueueCmd() *cobra.Command {
	var (
		o        realm.Order
		kind     string
		payload  string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a build, train or attack order",
		Example: `  realmctl enqueue --player 2 --settlement 2 --kind build --payload '{"building":"farm"}' --duration 10m
  realmctl enqueue --player 2 --settlement 2 --kind attack --target 1 --payload '{"units":{"cavalry":20}}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := realm.ParseActionKind(kind)
			if err != nil {
				return err
			}
			o.Kind = k
			o.Payload = json.RawMessage(payload)
			o.Duration = duration

			_, queue, _, err := a.services()
			if err != nil {
				return err
			}
			e, err := queue.Enqueue(context.Background(), o)
			if err != nil {
				return err
			}
			successColor.Printf("✓ queued %s #%d, due %s\n", e.Kind, e.ID, e.End.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&o.PlayerID, "player", 0, "ordering player id")
	cmd.Flags().Int64Var(&o.SettlementID, "settlement", 0, "source settlement id")
	cmd.Flags().Int64Var(&o.TargetID, "target", 0, "target settlement id (attack only)")
	cmd.Flags().StringVar(&kind, "kind", "", "build, train or attack")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON payload")
	cmd.Flags().DurationVar(&duration, "duration", 0, "time until completion")
	cmd.MarkFlagRequired("player")
	cmd.MarkFlagRequired("settlement")
	cmd.MarkFlagRequired("kind")
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one tick sweep: bring settlements up to date and complete due actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			economy, queue, _, err := a.services()
			if err != nil {
				return err
			}
			eng := engine.NewEngine(a.db, economy, queue, a.clk)
			rep, err := eng.SweepOnce(context.Background())

			titleColor.Printf("sweep %s at %s\n", rep.ID, rep.At.Format(time.RFC3339))
			fmt.Printf("   settlements ticked: %d (failed %d)\n", rep.Ticked, rep.TickFailed)
			fmt.Printf("   actions due: %d, completed %d, skipped %d, failed %d\n",
				rep.Queue.Due, rep.Queue.Completed, rep.Queue.Skipped, rep.Queue.Failed)
			if rep.TickFailed > 0 || rep.Queue.Failed > 0 {
				warnColor.Println("   some work failed; run with -v for details")
			}
			return err
		},
	}
}

func (a *app) unlockCmd() *cobra.Command {
	var playerID int64
	cmd := &cobra.Command{
		Use:   "unlock NODE",
		Short: "Unlock a research node (by id or name) for a player",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nodeID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				n, lerr := a.db.ResearchNodeByName(args[0])
				if lerr != nil {
					return fmt.Errorf("research node %q: %w", args[0], lerr)
				}
				nodeID = n.ID
			}
			_, _, research, err := a.services()
			if err != nil {
				return err
			}
			u, err := research.Unlock(context.Background(), playerID, nodeID)
			if err != nil {
				return err
			}
			successColor.Printf("✓ player %d unlocked node %d at %s\n", u.PlayerID, u.NodeID, u.UnlockedAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().Int64Var(&playerID, "player", 0, "player id")
	cmd.MarkFlagRequired("player")
	return cmd
}
