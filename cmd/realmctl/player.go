package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/talgya/mini-realm/internal/engine"
	"github.com/talgya/mini-realm/internal/persistence"
	"github.com/talgya/mini-realm/internal/realm"
	"github.com/talgya/mini-realm/internal/world"
)

const siteSearchRadius = 40

func (a *app) playerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Manage players",
	}

	var (
		name, kind string
		x, y       int
		nearX      int
		nearY      int
	)
	create := &cobra.Command{
		Use:   "create USERNAME",
		Short: "Register a player with a first settlement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]
			if name == "" {
				name = username + "'s hold"
			}
			pos := world.Pos{X: x, Y: y}
			if !cmd.Flags().Changed("x") || !cmd.Flags().Changed("y") {
				site, err := a.freeSite(world.Pos{X: nearX, Y: nearY})
				if err != nil {
					return err
				}
				pos = site
			}
			p, s, err := a.db.CreatePlayer(username, persistence.NewSettlement{Name: name, Type: kind, X: pos.X, Y: pos.Y}, a.clk.Now())
			if err != nil {
				return err
			}
			successColor.Printf("✓ player %s (#%d) founded %s (#%d) at %d,%d\n", p.Username, p.ID, s.Name, s.ID, s.X, s.Y)
			return nil
		},
	}
	create.Flags().StringVar(&name, "settlement", "", "first settlement name")
	create.Flags().StringVar(&kind, "type", "village", "settlement type")
	create.Flags().IntVar(&x, "x", 0, "settlement x (picked automatically when unset)")
	create.Flags().IntVar(&y, "y", 0, "settlement y (picked automatically when unset)")
	create.Flags().IntVar(&nearX, "near-x", 0, "search origin x for automatic placement")
	create.Flags().IntVar(&nearY, "near-y", 0, "search origin y for automatic placement")

	list := &cobra.Command{
		Use:   "list",
		Short: "List players",
		RunE: func(cmd *cobra.Command, args []string) error {
			players, err := a.db.Players()
			if err != nil {
				return err
			}
			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"ID", "Username", "Level", "XP", "Next Level", "NPC"}),
			)
			for _, p := range players {
				table.Append([]string{
					strconv.FormatInt(p.ID, 10),
					p.Username,
					strconv.Itoa(p.Level),
					strconv.FormatInt(p.Experience, 10),
					strconv.FormatInt(engine.XPForLevel(p.Level+1), 10),
					strconv.FormatBool(p.NPC),
				})
			}
			table.Render()
			return nil
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}

func (a *app) freeSite(origin world.Pos) (world.Pos, error) {
	field, err := a.terrain()
	if err != nil {
		return world.Pos{}, err
	}
	taken, err := a.db.SettlementPositions()
	if err != nil {
		return world.Pos{}, err
	}
	site, ok := field.FindSite(origin, siteSearchRadius, taken)
	if !ok {
		return world.Pos{}, fmt.Errorf("no free site within %d of %d,%d", siteSearchRadius, origin.X, origin.Y)
	}
	return site, nil
}

func (a *app) settlementsCmd() *cobra.Command {
	var playerID int64
	cmd := &cobra.Command{
		Use:   "settlements",
		Short: "Show settlements with balances and rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				ss  []realm.Settlement
				err error
			)
			if playerID > 0 {
				ss, err = a.db.PlayerSettlements(playerID)
			} else {
				ss, err = a.db.Settlements()
			}
			if err != nil {
				return err
			}
			field, err := a.terrain()
			if err != nil {
				return err
			}

			header := []string{"ID", "Player", "Name", "Type", "Pos", "Terrain"}
			for _, r := range realm.AllResources {
				header = append(header, r.String())
			}
			header = append(header, "Last Tick")
			table := tablewriter.NewTable(os.Stdout, tablewriter.WithHeader(header))
			for _, s := range ss {
				row := []string{
					strconv.FormatInt(s.ID, 10),
					strconv.FormatInt(s.PlayerID, 10),
					s.Name,
					s.Type,
					fmt.Sprintf("%d,%d", s.X, s.Y),
					field.At(s.X, s.Y).Terrain.String(),
				}
				for _, r := range realm.AllResources {
					row = append(row, fmt.Sprintf("%d (+%.0f/h)", s.Balances[r], s.Rates[r]))
				}
				last := "never"
				if !s.LastTick.IsZero() {
					last = s.LastTick.Format("2006-01-02 15:04:05")
				}
				table.Append(append(row, last))
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().Int64Var(&playerID, "player", 0, "only this player's settlements")
	return cmd
}
