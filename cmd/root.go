/*
root.go - turfd command tree

PURPOSE:
  Defines the CLI surface. `serve` runs the HTTP server; `user` and
  `turf` give operators direct access to accounts and the turf catalog
  without going through the API.

SEE ALSO:
  - cmd/turfd/main.go: the entry point
  - config/config.go: shared environment configuration
*/
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/warp/turf-engine/booking"
	"github.com/warp/turf-engine/config"
	"github.com/warp/turf-engine/store/postgres"
	"github.com/warp/turf-engine/store/sqlite"
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "turfd",
		Short: "Turf slot booking service with a loyalty points ledger",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newUserCmd())
	root.AddCommand(newTurfCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore picks the backing store from configuration: postgres when a
// database URL is set, the local SQLite file otherwise.
func openStore(ctx context.Context, cfg *config.Config) (booking.Registry, func(), error) {
	if cfg.UsePostgres() {
		store, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}

	store, err := sqlite.New(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}
