// onboardctl is an operator CLI for the onboarding engine: inspect step
// status, initialize the database schema, and reset a wedged session.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"payments-onboarding/internal/config"
	"payments-onboarding/internal/events"
	"payments-onboarding/internal/onboarding"
	"payments-onboarding/internal/remote"
	"payments-onboarding/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:   "onboardctl",
		Short: "Operate the payments onboarding engine",
	}
	root.AddCommand(statusCmd(), resetCmd(), initDBCmd())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(cfg config.Config) (onboarding.ProgressStore, onboarding.LockManager, func(), error) {
	if cfg.Store == config.MemoryStore {
		mem := store.NewMemoryStore()
		return mem, mem, func() {}, nil
	}
	pg, err := store.Open(cfg.ConnectionString)
	if err != nil {
		return nil, nil, nil, err
	}
	return pg, pg, func() { pg.Close() }, nil
}

func buildExecutor(cfg config.Config) (*onboarding.Executor, func(), error) {
	progress, locks, cleanup, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	client := remote.NewClient(cfg.RemoteAPIURL)
	account := remote.NewAccountState(client)
	executor, err := onboarding.NewExecutor(onboarding.ExecutorConfig{
		Store:          progress,
		Locks:          locks,
		Account:        account,
		Connection:     remote.NewConnectionState(account),
		Remote:         client,
		Events:         events.NewLogRecorder("onboarding"),
		Integration:    config.EnvIntegration{},
		MinimumVersion: cfg.MinimumVersion,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return executor, cleanup, nil
}

func statusCmd() *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Resolve and print the status of every onboarding step",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			executor, cleanup, err := buildExecutor(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			for _, step := range onboarding.Steps {
				status, err := executor.Resolver().Resolve(ctx, step, location)
				if err != nil {
					return fmt.Errorf("resolving %s: %w", step, err)
				}
				fmt.Printf("%-24s %s\n", step, status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&location, "location", "US", "Business location country code")
	return cmd
}

func resetCmd() *cobra.Command {
	var location string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset the whole onboarding session, all locations included",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			executor, cleanup, err := buildExecutor(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := executor.Reset(context.Background(), location, "onboardctl"); err != nil {
				return err
			}
			log.Println("onboarding session reset")
			return nil
		},
	}
	cmd.Flags().StringVar(&location, "location", "US", "Business location country code")
	return cmd
}

func initDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the onboarding database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if cfg.Store == config.MemoryStore {
				return fmt.Errorf("init-db requires the postgres store")
			}
			pg, err := store.Open(cfg.ConnectionString)
			if err != nil {
				return err
			}
			defer pg.Close()
			if err := pg.InitDB(context.Background()); err != nil {
				return err
			}
			log.Println("onboarding schema initialized")
			return nil
		},
	}
}
