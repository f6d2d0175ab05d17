package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muchaco/council/config"
	"github.com/muchaco/council/internal/migration"
)

// =============================================================================
// 🗄️ Database Migration Commands
// =============================================================================

type migrateFlags struct {
	configPath *string
	dbType     string
	dbURL      string
}

func newMigrateCmd(configPath *string) *cobra.Command {
	f := &migrateFlags{configPath: configPath}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the session store schema",
		Example: `  council migrate up
  council migrate up --config /etc/council/config.yaml
  council migrate down
  council migrate status
  council migrate goto 1
  council migrate force 0
  council migrate up --db-type sqlite --db-url sqlite://council.db`,
	}
	cmd.PersistentFlags().StringVar(&f.dbType, "db-type", "", "Database type: postgres, mysql, sqlite (default: from config)")
	cmd.PersistentFlags().StringVar(&f.dbURL, "db-url", "", "Database connection URL (default: from config)")

	var all bool
	down := f.command("down", "Roll back the last migration", cobra.NoArgs,
		func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
			if all {
				return cli.RunDownAll(cmd.Context())
			}
			return cli.RunDown(cmd.Context())
		})
	down.Flags().BoolVar(&all, "all", false, "Roll back every migration")

	cmd.AddCommand(
		f.command("up", "Apply all pending migrations", cobra.NoArgs,
			func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunUp(cmd.Context())
			}),
		down,
		f.command("status", "Show applied and pending migrations", cobra.NoArgs,
			func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunStatus(cmd.Context())
			}),
		f.command("version", "Show the current schema version", cobra.NoArgs,
			func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunVersion(cmd.Context())
			}),
		f.command("info", "Show migration summary", cobra.NoArgs,
			func(cmd *cobra.Command, cli *migration.CLI, _ []string) error {
				return cli.RunInfo(cmd.Context())
			}),
		f.command("goto <version>", "Migrate up or down to a specific version", cobra.ExactArgs(1),
			func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				v, err := strconv.ParseUint(args[0], 10, 32)
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return cli.RunGoto(cmd.Context(), uint(v))
			}),
		f.command("force <version>", "Force the schema version without running migrations", cobra.ExactArgs(1),
			func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				v, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid version %q: %w", args[0], err)
				}
				return cli.RunForce(cmd.Context(), v)
			}),
		f.command("steps <n>", "Apply n migrations (negative rolls back)", cobra.ExactArgs(1),
			func(cmd *cobra.Command, cli *migration.CLI, args []string) error {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return fmt.Errorf("invalid step count %q: %w", args[0], err)
				}
				return cli.RunSteps(cmd.Context(), n)
			}),
	)
	return cmd
}

// command wraps a migration action with migrator setup and teardown.
func (f *migrateFlags) command(use, short string, args cobra.PositionalArgs,
	run func(cmd *cobra.Command, cli *migration.CLI, args []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, a []string) error {
			m, err := f.migrator()
			if err != nil {
				return fmt.Errorf("create migrator: %w", err)
			}
			defer m.Close()

			cli := migration.NewCLI(m)
			cli.SetOutput(cmd.OutOrStdout())
			return run(cmd, cli, a)
		},
	}
}

// migrator 优先使用 --db-type/--db-url，否则读取配置文件
func (f *migrateFlags) migrator() (*migration.DefaultMigrator, error) {
	logger := zap.NewNop()
	if f.dbType != "" && f.dbURL != "" {
		return migration.NewMigratorFromURL(f.dbType, f.dbURL, logger)
	}

	loader := config.NewLoader()
	if f.configPath != nil && *f.configPath != "" {
		loader = loader.WithConfigPath(*f.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.dbType != "" {
		cfg.Database.Driver = f.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}
