package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mcpagent/internal/app"
)

const defaultConfigPath = "mcpagent.yaml"

type cliOptions struct {
	configPath string
	logLevel   string
	output     string
	logger     *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := cliOptions{
		configPath: defaultConfigPath,
		logLevel:   "info",
		output:     outputText,
		logger:     zap.NewNop(),
	}

	root := &cobra.Command{
		Use:           "mcpagent",
		Short:         "Drive browser tool servers over MCP until one completes the task",
		Version:       fmt.Sprintf("%s (%s)", app.Version, app.Build),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			applyRootFlagBindings(cmd, &opts)
			if err := validateOutputFlag(opts.output); err != nil {
				return err
			}
			logger, err := newLogger(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = opts.logger.Sync()
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "path to agent config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", opts.logLevel, "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", opts.output, "output format (text, json, yaml)")

	root.AddCommand(
		newRunCmd(&opts),
		newValidateCmd(&opts),
		newToolsCmd(&opts),
		newHistoryCmd(&opts),
	)

	return root
}

func applyRootFlagBindings(cmd *cobra.Command, opts *cliOptions) {
	flags := cmd.Flags()
	flags.Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "config":
			opts.configPath, _ = flags.GetString("config")
		case "log-level":
			opts.logLevel, _ = flags.GetString("log-level")
		case "output":
			opts.output, _ = flags.GetString("output")
		}
	})
	opts.output = strings.ToLower(strings.TrimSpace(opts.output))
}

// newLogger writes structured logs to stderr so stdout stays parseable.
func newLogger(level string) (*zap.Logger, error) {
	parsed, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	if parsed == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}
