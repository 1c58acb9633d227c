// Package commands implements the ackflow CLI.
package commands

import (
	"github.com/arloliu/go-ackflow/config"
	"github.com/arloliu/go-ackflow/logger"
	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
)

type rootOptions struct {
	cfgFile   string
	logLevel  string
	logFormat string
}

// NewRootCommand creates the ackflow command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ackflow",
		Short: "Pace G-code streams by the firmware's advanced ok telemetry",
		Long: `ackflow keeps the command buffer of a motion controller filled by granting
extra send tokens from the buffer levels reported in every "ok N P B" line.

Every configuration key can be overridden by an environment variable:
ACKFLOW_<SECTION>_<KEY>, e.g. ACKFLOW_FLOW_INFLIGHT_CAP=20.`,
		Version:       Version + " (" + Commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/ackflow/config.yaml)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format override (text, json)")

	cmd.AddCommand(newPrintCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newConfigCommand(opts))
	cmd.CompletionOptions.DisableDefaultCmd = true

	return cmd
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

// load loads the configuration and applies the logging flags. The logger
// writes to the command's error stream and becomes the package default.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, logger.Logger, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, nil, err
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, err
	}

	l := cfg.Logging.NewLogger(cmd.ErrOrStderr())
	logger.SetDefault(l)

	return cfg, l, nil
}

// watchPath returns the configuration file to watch, or "" when no file is in use.
func (o *rootOptions) watchPath() string {
	if o.cfgFile != "" {
		return o.cfgFile
	}
	if fileExists(config.DefaultPath()) {
		return config.DefaultPath()
	}

	return ""
}
