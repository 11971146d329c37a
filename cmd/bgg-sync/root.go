package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sternrassler/bgg-sync/pkg/config"
	"github.com/Sternrassler/bgg-sync/pkg/logging"
	"github.com/Sternrassler/bgg-sync/pkg/store"
	"github.com/spf13/cobra"
)

// cli holds the state shared by all subcommands of one invocation.
type cli struct {
	cfg config.Config

	dbPath      string
	logLevel    string
	metricsAddr string
	pretty      bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:               "bgg-sync",
		Short:             "bgg-sync mirrors top-ranked board games into a local SQLite database.",
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.dbPath, "db", "", "SQLite database path (overrides BGG_DB_PATH)")
	flags.StringVar(&c.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	flags.StringVar(&c.metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address (overrides METRICS_ADDR)")
	flags.BoolVar(&c.pretty, "pretty", false, "human-readable log output (overrides LOG_PRETTY)")

	root.AddCommand(c.runCmd(), c.idsCmd(), c.detailsCmd(), c.showCmd())
	return root
}

// setup loads the configuration, applies flag overrides and configures logging.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if c.dbPath != "" {
		cfg.DBPath = c.dbPath
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	if c.metricsAddr != "" {
		cfg.MetricsAddr = c.metricsAddr
	}
	if c.pretty {
		cfg.LogPretty = true
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{
		Level:  level,
		Pretty: cfg.LogPretty,
		Output: cmd.ErrOrStderr(),
	})

	c.cfg = cfg
	return nil
}

func (c *cli) runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <task>",
		Short: "Runs a named task: " + taskNames(),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := lookupTask(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := t.run(ctx, a)
				if err != nil {
					return fmt.Errorf("task %s: %w", t.name, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d %s\n", t.name, n, t.unit)
				return nil
			})
		},
	}
}

func (c *cli) idsCmd() *cobra.Command {
	var top int

	cmd := &cobra.Command{
		Use:   "ids [--top N]",
		Short: "Inserts the top-N ranked identifiers that are not stored yet.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if top < 0 {
				return fmt.Errorf("--top must not be negative (got %d)", top)
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.orchestrator.RefreshIdentifiers(ctx, top)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "inserted %d identifiers\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 0, "number of ranked identifiers to fetch (default BGG_TOP_N)")
	return cmd
}

func (c *cli) detailsCmd() *cobra.Command {
	var newOnly bool

	cmd := &cobra.Command{
		Use:   "details [--new-only]",
		Short: "Fetches details for stored identifiers and saves them.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.orchestrator.RefreshDetails(ctx, newOnly)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %d records\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&newOnly, "new-only", false, "only records without details, no pause between batches")
	return cmd
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Prints the stored record for an identifier as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := store.Open(cmd.Context(), c.cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			record, err := s.LoadRecord(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(record)
		},
	}
}

// withApp builds the pipeline, serves metrics while fn runs and releases
// everything afterwards.
func (c *cli) withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stop := startMetricsServer(c.cfg.MetricsAddr, a.tracker)
	defer stop()

	return fn(ctx, a)
}
