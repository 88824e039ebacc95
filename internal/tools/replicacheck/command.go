package replicacheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/feature-flag-control-plane/internal/tools/common"
	"github.com/sandeepkv93/feature-flag-control-plane/internal/tools/ui"
)

type options struct {
	urls    []string
	flag    string
	users   int
	ci      bool
	timeout time.Duration
}

type runtimeDecision struct {
	Enabled           bool   `json:"enabled"`
	Status            string `json:"status"`
	RolloutPercentage int    `json:"rollout_percentage"`
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "replicacheck",
		Short:         "Verify that API replicas agree on runtime decisions",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Evaluate one flag for synthetic users on every replica",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(opts.urls) < 2 {
				return errors.New("at least two --url values are required")
			}
			if opts.flag == "" {
				return errors.New("--flag is required")
			}
			ctx, cancel := context.WithTimeout(context.Background(), opts.timeout)
			defer cancel()
			action := func(ctx context.Context) ([]string, error) { return check(ctx, *opts) }
			if opts.ci {
				details, err := action(ctx)
				common.PrintCIResult(err == nil, "replicacheck run", details, err)
				return err
			}
			_, err := ui.Run(ctx, "Replica consistency", action)
			return err
		},
	}
	runCmd.Flags().StringSliceVar(&opts.urls, "url", nil, "replica base URL (repeatable)")
	runCmd.Flags().StringVar(&opts.flag, "flag", "", "flag name")
	runCmd.Flags().IntVar(&opts.users, "users", 200, "number of synthetic users")
	runCmd.Flags().BoolVar(&opts.ci, "ci", false, "print a single JSON result instead of the interactive view")
	runCmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "overall timeout")
	root.AddCommand(runCmd)
	return root
}

func check(ctx context.Context, opts options) ([]string, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	var mismatches []string
	enabled := 0
	for i := 0; i < opts.users; i++ {
		user := fmt.Sprintf("replicacheck-%d", i)
		var first *runtimeDecision
		for _, base := range opts.urls {
			d, err := fetchDecision(ctx, client, base, opts.flag, user)
			if err != nil {
				return nil, err
			}
			if first == nil {
				first = &d
				if d.Enabled {
					enabled++
				}
				continue
			}
			if d != *first {
				mismatches = append(mismatches, fmt.Sprintf("%s: %s says enabled=%t status=%s rollout=%d, %s says enabled=%t status=%s rollout=%d",
					user, opts.urls[0], first.Enabled, first.Status, first.RolloutPercentage,
					base, d.Enabled, d.Status, d.RolloutPercentage))
			}
		}
	}
	details := []string{
		fmt.Sprintf("replicas: %d", len(opts.urls)),
		fmt.Sprintf("users: %d", opts.users),
		fmt.Sprintf("enabled: %d", enabled),
	}
	if len(mismatches) > 0 {
		details = append(details, mismatches...)
		return details, fmt.Errorf("%d users saw different decisions", len(mismatches))
	}
	return details, nil
}

func fetchDecision(ctx context.Context, client *http.Client, base, flag, user string) (runtimeDecision, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/api/runtime/check")
	if err != nil {
		return runtimeDecision{}, fmt.Errorf("parse replica url: %w", err)
	}
	q := u.Query()
	q.Set("flag_name", flag)
	q.Set("user_id", user)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return runtimeDecision{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return runtimeDecision{}, fmt.Errorf("query %s: %w", base, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return runtimeDecision{}, fmt.Errorf("query %s: unexpected status %d", base, resp.StatusCode)
	}
	var env struct {
		Data runtimeDecision `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return runtimeDecision{}, fmt.Errorf("decode %s: %w", base, err)
	}
	return env.Data, nil
}
