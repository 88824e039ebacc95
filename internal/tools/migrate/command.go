package migrate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/config"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/database"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/tools/common"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/tools/ui"
)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the feature flag schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading config")
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "print a single JSON result instead of the interactive view")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall timeout")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := run(opts, "Applying migrations", "up", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				if err := database.Migrate(db.WithContext(ctx)); err != nil {
					return nil, err
				}
				return statusLines(database.Status(db)), nil
			})
			return err
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show which tables and indexes exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := run(opts, "Schema status", "status", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				return statusLines(database.Status(db.WithContext(ctx))), nil
			})
			return err
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "plan",
		Short: "List what 'up' would create",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := run(opts, "Migration plan", "plan", func(ctx context.Context) ([]string, error) {
				_, db, err := loadConfigDB(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer closeDB(db)
				return planLines(database.Status(db.WithContext(ctx))), nil
			})
			return err
		},
	})
	return root
}

func run(opts *options, title, name string, fn func(ctx context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
	defer cancel()
	if opts.ci {
		details, err := fn(ctx)
		common.PrintCIResult(err == nil, "migrate "+name, details, err)
		return details, err
	}
	return ui.Run(ctx, title, fn)
}

func loadConfigDB(envFile string) (*config.Config, *gorm.DB, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, db, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func statusLines(status map[string]bool) []string {
	out := make([]string, 0, len(status))
	for name, present := range status {
		state := "missing"
		if present {
			state = "present"
		}
		out = append(out, name+": "+state)
	}
	sort.Strings(out)
	return out
}

func planLines(status map[string]bool) []string {
	var out []string
	for name, present := range status {
		if !present {
			out = append(out, "create "+name)
		}
	}
	sort.Strings(out)
	if len(out) == 0 {
		out = []string{"schema is up to date"}
	}
	return out
}
