package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/stresstrack/internal/adapters/http/client"
	"github.com/okian/stresstrack/internal/simulate"
	"github.com/okian/stresstrack/pkg/logger"
)

const envBaseURL = "STRESSTRACK_URL"

type rootOptions struct {
	baseURL string
	timeout time.Duration
	debug   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	defaults := simulate.DefaultConfig()

	baseURL := defaults.BaseURL
	if v := os.Getenv(envBaseURL); v != "" {
		baseURL = v
	}

	cmd := &cobra.Command{
		Use:          "stressctl",
		Short:        "Exercise and inspect a stresstrack collector",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := "warn"
			if opts.debug {
				level = "debug"
			}
			if err := logger.Init(logger.WithFormat("console"), logger.WithOutput(cmd.ErrOrStderr())); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			return logger.SetLevelString(level)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.baseURL, "url", baseURL, "collector base URL (env "+envBaseURL+")")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", defaults.Timeout, "HTTP request timeout")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newSimulateCmd(opts), newListCmd(opts), newHealthCmd(opts))
	return cmd
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	cfg := simulate.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Browse synthetic pages through observers and a relay, then verify the stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg.BaseURL = root.baseURL
			cfg.Timeout = root.timeout

			stats, err := simulate.Run(cmd.Context(), cfg, simulate.WithLogger(logger.Named("simulate")))
			if stats != nil {
				simulate.RenderStats(cmd.OutOrStdout(), stats)
			}
			if errors.Is(err, simulate.ErrVerification) {
				for _, m := range stats.Mismatches {
					fmt.Fprintln(cmd.ErrOrStderr(), "mismatch:", m)
				}
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&cfg.Sites, "sites", cfg.Sites, "hostnames the tabs visit")
	f.IntVar(&cfg.Tabs, "tabs", cfg.Tabs, "concurrent tabs")
	f.IntVar(&cfg.Pages, "pages", cfg.Pages, "navigations per tab")
	f.IntVar(&cfg.EventsPerPage, "events", cfg.EventsPerPage, "interaction events per page load")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "relay forwarding workers")
	f.DurationVar(&cfg.AckTimeout, "ack-timeout", cfg.AckTimeout, "how long an observer waits for the relay")
	f.StringVarP(&cfg.OutputFile, "output", "o", "", "write a JSON report to this file")
	f.Uint64Var(&cfg.Seed, "seed", 0, "random seed (0 picks one)")
	return cmd
}

func newListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every stored behavior document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api := client.New(root.baseURL, client.WithTimeout(root.timeout))
			docs, err := api.All(cmd.Context())
			if err != nil {
				return fmt.Errorf("list documents: %w", err)
			}
			simulate.RenderDocuments(cmd.OutOrStdout(), docs)
			return nil
		},
	}
}

func newHealthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the collector can reach its store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			api := client.New(root.baseURL, client.WithTimeout(root.timeout))
			if err := api.Health(cmd.Context()); err != nil {
				return fmt.Errorf("health check: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
}
