package main

import (
	"os"

	"github.com/spf13/cobra"

	"mcpagent/internal/app"
)

func newRunCmd(opts *cliOptions) *cobra.Command {
	var (
		targets     []string
		metricsAddr string
		runID       string
		noHistory   bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Rank servers and run the task against each target",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(opts.logger)
			report, err := application.Run(ctx, app.RunConfig{
				ConfigPath:     opts.configPath,
				Targets:        targets,
				MetricsAddr:    metricsAddr,
				RunID:          runID,
				DisableHistory: noHistory,
			})
			if err != nil {
				return err
			}
			if err := printRunReport(cmd.OutOrStdout(), report, opts.output); err != nil {
				return err
			}
			if !report.Succeeded() {
				return exitSilent(1)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&targets, "target", nil, "target URL (repeatable, replaces config targets)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "metrics listen address for the run, or \"off\"")
	cmd.Flags().StringVar(&runID, "run-id", "", "explicit run id (default: generated)")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run in history")
	return cmd
}

func newValidateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate agent configuration without contacting servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application := app.New(opts.logger)
			cfg, err := application.ValidateConfig(cmd.Context(), app.ValidateConfig{ConfigPath: opts.configPath})
			if err != nil {
				return err
			}
			return printValidation(cmd.OutOrStdout(), opts.configPath, cfg, opts.output)
		},
	}
}

func newToolsCmd(opts *cliOptions) *cobra.Command {
	var serverID string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Connect to one server and list its tools",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			application := app.New(opts.logger)
			report, err := application.ListTools(ctx, app.ToolsConfig{
				ConfigPath: opts.configPath,
				ServerID:   serverID,
			})
			if err != nil {
				return err
			}
			return printTools(cmd.OutOrStdout(), report, opts.output)
		},
	}
	cmd.Flags().StringVar(&serverID, "server", "", "server id (default: first configured server)")
	return cmd
}

func newHistoryCmd(opts *cliOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs and pass/fail counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := app.HistoryQuery{Limit: limit}
			if cmd.Flags().Changed("config") || fileExists(opts.configPath) {
				query.ConfigPath = opts.configPath
			}
			application := app.New(opts.logger)
			report, err := application.History(cmd.Context(), query)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), report, opts.output)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show (0 for all)")
	return cmd
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
