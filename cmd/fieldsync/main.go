package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fieldsync/sync-core/internal/entities"
	"github.com/fieldsync/sync-core/internal/lifecycle"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

var (
	storePath    string
	baseURL      string
	authToken    string
	technicianID string
	dev          bool
)

func main() {
	root := &cobra.Command{
		Use:   "fieldsync",
		Short: "Offline-first sync core for the field-service client",
	}

	root.PersistentFlags().StringVar(&storePath, "store", env("FIELDSYNC_STORE_PATH", "fieldsync.db"), "path to the local SQLite store")
	root.PersistentFlags().StringVar(&baseURL, "base-url", env("FIELDSYNC_BASE_URL", ""), "backend base URL")
	root.PersistentFlags().StringVar(&authToken, "token", env("FIELDSYNC_AUTH_TOKEN", ""), "bearer auth token")
	root.PersistentFlags().StringVar(&technicianID, "technician", env("FIELDSYNC_TECHNICIAN_ID", ""), "technician scope id")
	root.PersistentFlags().BoolVar(&dev, "dev", env("ENV", "") == "dev", "enable pretty console logging")

	root.AddCommand(syncCmd(), pushCmd(), statusCmd())

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("fieldsync failed")
	}
}

func newCore() (*lifecycle.Core, error) {
	core, err := lifecycle.New(lifecycle.Config{
		StorePath:            storePath,
		BaseURL:              baseURL,
		AuthToken:            authToken,
		TechnicianID:         technicianID,
		Dev:                  dev,
		ParallelEntities:     true,
		ParallelSafeEntities: []string{"clients", "categories"},
		SequentialEntities:   []string{"catalogItems", "invoices"},
	})
	if err != nil {
		return nil, fmt.Errorf("initializing sync core: %w", err)
	}

	if err := core.RegisterDescriptor(entities.Clients()); err != nil {
		return nil, err
	}
	if err := core.RegisterDescriptor(entities.Categories()); err != nil {
		return nil, err
	}
	if err := core.RegisterDescriptor(entities.Invoices()); err != nil {
		return nil, err
	}
	if err := entities.EnsureCatalogItemsTables(core.Store); err != nil {
		return nil, err
	}
	if err := core.RegisterDescriptor(entities.CatalogItems(core.Store)); err != nil {
		return nil, err
	}

	return core, nil
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one full pull+push cycle across all registered entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := newCore()
			if err != nil {
				return err
			}
			defer core.Close()

			results := core.Engine.SyncWithRetry(cmd.Context())
			exit := 0
			for _, r := range results {
				if r.Success {
					fmt.Printf("%-16s pulled=%-4d pushed=%-4d %s\n", r.Entity, r.Pulled, r.Pushed, r.Duration)
					continue
				}
				exit = 1
				fmt.Printf("%-16s FAILED: %v\n", r.Entity, r.Errors)
			}
			if exit != 0 {
				os.Exit(exit)
			}
			return nil
		},
	}
}

func pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Flush the local mutation queue without pulling",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := newCore()
			if err != nil {
				return err
			}
			defer core.Close()

			results := core.Engine.PushOnly(cmd.Context())
			for _, r := range results {
				if !r.Success {
					fmt.Printf("%-16s FAILED: %v\n", r.Entity, r.Errors)
					continue
				}
				fmt.Printf("%-16s pushed=%d\n", r.Entity, r.Pushed)
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the engine state and pending mutation count",
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := newCore()
			if err != nil {
				return err
			}
			defer core.Close()

			status, lastErr := core.Engine.Status()
			pending, err := core.Queue.CountPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("status=%s lastError=%q pending=%d\n", status, lastErr, pending)
			return nil
		},
	}
}
