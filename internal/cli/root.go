// Package cli implements the throttle command line.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Throttle/internal/config"
	"github.com/SmitUplenchwar2687/Throttle/internal/logging"
)

type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
}

// NewRootCmd creates the root throttle command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "throttle",
		Short: "Fixed-window request throttling",
		Long: `Throttle decides whether a request may proceed under a fixed-window
rate limit. Counters live in process memory or in a shared Redis store; when
the shared store fails, checks fall back to local counters.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(opts.envFile)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (.json, .yaml or .yml)")
	pf.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load; a missing file is ignored")
	pf.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&opts.logFormat, "log-format", logging.FormatText, "log format (text, json)")

	root.AddCommand(
		newServeCmd(opts),
		newSimulateCmd(opts),
		newPoliciesCmd(opts),
		newConfigCmd(),
	)

	return root
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// loadConfig layers defaults, the config file and the environment, then the
// persistent log flags when given explicitly.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		cfg, err = config.LoadFile(o.configFile)
		if err != nil {
			return cfg, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg config.Config) (*slog.Logger, error) {
	return logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
}
