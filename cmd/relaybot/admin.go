package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/config"
	"github.com/ashureev/roomrelay/internal/retention"
	"github.com/ashureev/roomrelay/internal/store"
)

func openStore() (*config.Config, store.Repository, error) {
	cfg, err := config.LoadStorage()
	if err != nil {
		return nil, nil, err
	}
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, repo, nil
}

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show room occupancy, relay mappings and the broadcast stage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, repo, err := openStore()
			if err != nil {
				return err
			}
			defer repo.Close()

			window := clock.NewDayWindow(clock.Real(), cfg.Location(), cfg.Cutover())
			today := window.Today()
			st, err := repo.Stats(cmd.Context(), today)
			if err != nil {
				return fmt.Errorf("load stats: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}

			lastReset := "never"
			if st.LastResetDate != nil {
				lastReset = string(*st.LastResetDate)
			}
			fmt.Fprintf(out, "today: %s (last reset: %s)\n", today, lastReset)
			fmt.Fprintf(out, "users: %d (selected today: %d)\n", st.Users, st.SelectedToday)
			for _, r := range cfg.Rooms {
				fmt.Fprintf(out, "  %s: %d\n", r.ID, st.UsersByRoom[r.ID])
			}
			for _, id := range unknownRooms(cfg, st.UsersByRoom) {
				fmt.Fprintf(out, "  %s (not configured): %d\n", id, st.UsersByRoom[id])
			}
			fmt.Fprintf(out, "relay mappings: %d\n", st.RelayMappings)
			fmt.Fprintf(out, "broadcast: %s\n", st.BroadcastStage)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func unknownRooms(cfg *config.Config, counts map[string]int) []string {
	known := make(map[string]bool, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		known[r.ID] = true
	}
	var ids []string
	for id := range counts {
		if !known[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func newPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete relay mappings older than a given age",
		Long:  "Operator replies to messages whose mapping was pruned can no longer be routed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			_, repo, err := openStore()
			if err != nil {
				return err
			}
			defer repo.Close()

			deleted, err := retention.Prune(cmd.Context(), repo, clock.Real(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d relay mappings\n", deleted)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "minimum age of mappings to delete, e.g. 720h")
	if err := cmd.MarkFlagRequired("older-than"); err != nil {
		panic(err)
	}
	return cmd
}
