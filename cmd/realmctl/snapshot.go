package main

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/talgya/mini-realm/internal/persistence"
)

func (a *app) snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Take, list and verify chained settlement snapshots",
	}

	take := &cobra.Command{
		Use:   "take",
		Short: "Append a snapshot of every settlement",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.db.TakeSnapshot(a.clk.Now())
			if err != nil {
				return err
			}
			successColor.Printf("✓ snapshot #%d: %d settlements, %d → %d bytes, hash %s\n",
				s.Seq, s.Settlements, s.RawSize, s.Size, short(s.Hash))
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := a.db.Snapshots()
			if err != nil {
				return err
			}
			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Seq", "Taken", "Settlements", "Raw", "Stored", "Hash", "Prev"}),
			)
			for _, s := range snaps {
				table.Append([]string{
					strconv.FormatInt(s.Seq, 10),
					s.TakenAt.Format(time.RFC3339),
					strconv.Itoa(s.Settlements),
					strconv.Itoa(s.RawSize),
					strconv.Itoa(s.Size),
					short(s.Hash),
					short(s.PrevHash),
				})
			}
			table.Render()
			return nil
		},
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Recompute the hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.db.VerifySnapshots()
			if errors.Is(err, persistence.ErrChainBroken) {
				warnColor.Printf("✗ chain broken after %d good snapshots\n", n)
				return err
			}
			if err != nil {
				return err
			}
			successColor.Printf("✓ %d snapshots verified\n", n)
			return nil
		},
	}

	cmd.AddCommand(take, list, verify)
	return cmd
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	if hash == "" {
		return "-"
	}
	return hash
}
