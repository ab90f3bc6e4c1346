package main

import (
	"context"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/brewboard/userauth/internal/logging"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the users table in the configured SQL store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), configFile)
			if err != nil {
				return err
			}
			return runMigrate(cmd.Context(), cfg)
		},
	}
	registerFlags(cmd.Flags())
	return cmd
}

func runMigrate(ctx context.Context, cfg daemonConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := logging.Setup("userauthd", version, cfg.Log.Format, cfg.Log.Level, os.Stderr)

	res := &resources{}
	defer res.close()

	store, err := openStore(ctx, cfg, nil, res)
	if err != nil {
		return err
	}
	m, ok := store.(migrator)
	if !ok {
		logger.Info("store has no schema to migrate", "driver", cfg.Store.Driver)
		return nil
	}
	if err := m.Migrate(ctx); err != nil {
		return oops.With("driver", cfg.Store.Driver).Wrap(err)
	}
	logger.Info("migration complete", "driver", cfg.Store.Driver)
	return nil
}
