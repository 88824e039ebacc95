package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/config"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/database"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/domain"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/repository"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/risk"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/service"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/tools/common"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/tools/ui"
)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
	name    string
}

// demoFlags span every risk tier so a fresh environment has something in
// each approver's queue.
var demoFlags = []service.CreateFlagInput{
	{
		Name:              "checkout-button-color",
		Description:       "New checkout UI",
		CodeChanges:       "Update button color on checkout page",
		Scope:             "frontend",
		CreatedBy:         "dev@company.com",
		RolloutPercentage: 10,
	},
	{
		Name:              "search-ranking-v2",
		Description:       "Second generation search ranking",
		CodeChanges:       "Replace ranking function in search API handler",
		Scope:             "backend",
		CreatedBy:         "search-team@company.com",
		RolloutPercentage: 5,
	},
	{
		Name:              "orders-schema-split",
		Description:       "Split orders table",
		CodeChanges:       "Database migration that alters the orders table schema",
		Scope:             "database",
		CreatedBy:         "data-team@company.com",
		RolloutPercentage: 0,
	},
	{
		Name:              "payment-token-rotation",
		Description:       "Rotate payment tokens",
		CodeChanges:       "Change payment auth token handling and encryption of stored credentials",
		Scope:             "backend",
		CreatedBy:         "payments@company.com",
		RolloutPercentage: 0,
		TargetUsers:       []string{"qa-user-1", "qa-user-2"},
	},
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "seed",
		Short:         "Load demo feature flags",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading config")
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "print a single JSON result instead of the interactive view")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", time.Minute, "overall timeout")

	root.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Submit demo flags that do not exist yet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := run(opts, "Seeding demo flags", "apply", func(ctx context.Context) ([]string, error) {
				env, err := openEnv(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer env.close()
				return apply(ctx, env.repo, env.registry, false)
			})
			return err
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "dry-run",
		Short: "Show which demo flags apply would submit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := run(opts, "Seed plan", "dry-run", func(ctx context.Context) ([]string, error) {
				env, err := openEnv(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer env.close()
				return apply(ctx, env.repo, env.registry, true)
			})
			return err
		},
	})
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check that a flag exists and report its state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.name == "" {
				return errors.New("--name is required")
			}
			_, err := run(opts, "Verify flag", "verify", func(ctx context.Context) ([]string, error) {
				env, err := openEnv(opts.envFile)
				if err != nil {
					return nil, err
				}
				defer env.close()
				return verifyFlag(ctx, env.repo, opts.name)
			})
			return err
		},
	}
	verify.Flags().StringVar(&opts.name, "name", "", "flag name")
	root.AddCommand(verify)
	return root
}

func run(opts *options, title, name string, fn func(ctx context.Context) ([]string, error)) ([]string, error) {
	timeout := opts.timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if opts.ci {
		details, err := fn(ctx)
		common.PrintCIResult(err == nil, "seed "+name, details, err)
		return details, err
	}
	return ui.Run(ctx, title, fn)
}

type seedEnv struct {
	db       *gorm.DB
	repo     repository.FeatureFlagRepository
	registry service.FlagRegistry
}

func (e *seedEnv) close() {
	if sqlDB, err := e.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func openEnv(envFile string) (*seedEnv, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	registry, repo, err := newRegistry(cfg, db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return &seedEnv{db: db, repo: repo, registry: registry}, nil
}

// newRegistry builds a registry that talks to the database only; seeding
// never touches the shared runtime snapshot store.
func newRegistry(cfg *config.Config, db *gorm.DB) (service.FlagRegistry, repository.FeatureFlagRepository, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	policy, err := service.ApproverPolicyFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	var assessor risk.Assessor = risk.NewHeuristicAssessor()
	if cfg.RiskAssessor == config.RiskAssessorHTTP {
		assessor = risk.NewHTTPAssessor(cfg.RiskAssessorURL, &http.Client{})
	}
	repo := repository.NewFeatureFlagRepository(db)
	machine := service.NewFlagStateMachine()
	registry := service.NewFlagRegistry(
		repo,
		risk.NewGuarded(assessor, cfg.RiskAssessorTimeout, logger),
		service.NewApprovalRouter(policy, machine),
		machine,
		service.NewRuntimeSnapshotCacheForRepository(repo, service.NewNoopRuntimeSnapshotStore(), cfg.RuntimeCacheTTL, logger),
		logger,
	)
	return registry, repo, nil
}

func apply(ctx context.Context, repo repository.FeatureFlagRepository, registry service.FlagRegistry, dryRun bool) ([]string, error) {
	details := make([]string, 0, len(demoFlags))
	for _, in := range demoFlags {
		existing, err := repo.FindLiveFlagByName(ctx, in.Name)
		switch {
		case err == nil:
			details = append(details, fmt.Sprintf("skip %s (already %s)", in.Name, existing.Status))
			continue
		case !errors.Is(err, domain.ErrFlagNotFound):
			return details, err
		}
		if dryRun {
			details = append(details, "would submit "+in.Name)
			continue
		}
		flag, err := registry.Create(ctx, in)
		if err != nil {
			return details, fmt.Errorf("submit %s: %w", in.Name, err)
		}
		details = append(details, fmt.Sprintf("submitted %s risk=%s approver=%s", flag.Name, flag.RiskLevel, flag.RequiredApprover))
	}
	return details, nil
}

func verifyFlag(ctx context.Context, repo repository.FeatureFlagRepository, name string) ([]string, error) {
	flag, err := repo.FindLiveFlagByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("flag %q: %w", name, err)
	}
	pending, err := repo.CountPendingApprovals(ctx, flag.ID)
	if err != nil {
		return nil, err
	}
	return []string{
		"id: " + flag.ID,
		"status: " + string(flag.Status),
		"risk_level: " + string(flag.RiskLevel),
		fmt.Sprintf("rollout_percentage: %d", flag.Config.RolloutPercentage),
		fmt.Sprintf("pending_approvals: %d", pending),
	}, nil
}
