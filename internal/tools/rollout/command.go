package rollout

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/rollout"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/tools/common"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/tools/ui"
)

type options struct {
	ci         bool
	flag       string
	user       string
	percentage int
	users      int
	from       int
	to         int
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "rolloutctl",
		Short:         "Inspect rollout bucketing offline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.ci, "ci", false, "print a single JSON result instead of the interactive view")
	root.PersistentFlags().StringVar(&opts.flag, "flag", "", "flag name")

	bucket := &cobra.Command{
		Use:   "bucket",
		Short: "Print the bucket a user falls into for a flag",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(opts, "Bucket", func(context.Context) ([]string, error) {
				if opts.flag == "" || opts.user == "" {
					return nil, errors.New("--flag and --user are required")
				}
				return bucketLines(opts.flag, opts.user, opts.percentage), nil
			})
		},
	}
	bucket.Flags().StringVar(&opts.user, "user", "", "user id")
	bucket.Flags().IntVar(&opts.percentage, "percentage", 0, "rollout percentage to evaluate against")
	root.AddCommand(bucket)

	simulate := &cobra.Command{
		Use:   "simulate",
		Short: "Estimate exposure for a rollout change across synthetic users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(opts, "Rollout simulation", func(context.Context) ([]string, error) {
				if opts.flag == "" {
					return nil, errors.New("--flag is required")
				}
				if opts.users <= 0 {
					return nil, errors.New("--users must be positive")
				}
				return simulate(opts.flag, opts.users, opts.from, opts.to), nil
			})
		},
	}
	simulate.Flags().IntVar(&opts.users, "users", 10000, "number of synthetic users")
	simulate.Flags().IntVar(&opts.from, "from", 0, "current rollout percentage")
	simulate.Flags().IntVar(&opts.to, "to", 10, "proposed rollout percentage")
	root.AddCommand(simulate)
	return root
}

func run(opts *options, title string, fn ui.Action) error {
	ctx := context.Background()
	if opts.ci {
		details, err := fn(ctx)
		common.PrintCIResult(err == nil, title, details, err)
		return err
	}
	details, err := ui.Run(ctx, title, fn)
	if err != nil && len(details) == 0 {
		fmt.Fprintln(os.Stderr, err)
	}
	return err
}

func bucketLines(flag, user string, percentage int) []string {
	d := rollout.Explain(flag, user, percentage, nil)
	return []string{
		fmt.Sprintf("hash_version: %d", rollout.HashVersion),
		fmt.Sprintf("bucket: %d", rollout.Bucket(flag, user)),
		fmt.Sprintf("rollout_percentage: %d", d.RolloutPercentage),
		fmt.Sprintf("enabled: %t", d.Enabled),
	}
}

// simulate reports how many synthetic users gain or lose the feature when
// the rollout moves from one percentage to another. Losses only happen on a
// decrease.
func simulate(flag string, users, from, to int) []string {
	from, to = rollout.ClampPercentage(from), rollout.ClampPercentage(to)
	var before, after, gained, lost int
	for i := 0; i < users; i++ {
		user := fmt.Sprintf("user-%d", i)
		b := rollout.Evaluate(flag, user, from, nil)
		a := rollout.Evaluate(flag, user, to, nil)
		if b {
			before++
		}
		if a {
			after++
		}
		switch {
		case a && !b:
			gained++
		case b && !a:
			lost++
		}
	}
	return []string{
		fmt.Sprintf("users: %d", users),
		fmt.Sprintf("enabled at %d%%: %d (%.2f%%)", from, before, pct(before, users)),
		fmt.Sprintf("enabled at %d%%: %d (%.2f%%)", to, after, pct(after, users)),
		fmt.Sprintf("gained: %d", gained),
		fmt.Sprintf("lost: %d", lost),
	}
}

func pct(n, total int) float64 {
	return float64(n) * 100 / float64(total)
}
