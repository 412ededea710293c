// Package cmd holds the deepfake-detector command line: the HTTP service and
// the offline tools that share its configuration.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/example/deepfake-detector/internal/config"
	"github.com/example/deepfake-detector/internal/logging"
)

type rootOptions struct {
	configPath string
	viper      *viper.Viper
}

// Execute runs the root command and exits non-zero on failure. SIGINT and
// SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := NewRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand assembles the command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{viper: config.NewViper()})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:           "deepfake-detector",
		Short:         "Classify uploaded face images as REAL or DEEPFAKE",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.String("log-level", "", "override log.level (debug, info, warn, error)")
	flags.String("log-format", "", "override log.format (json, console)")
	_ = opts.viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = opts.viper.BindPFlag("log.format", flags.Lookup("log-format"))

	root.AddCommand(
		newServeCommand(opts),
		newClassifyCommand(opts),
		newMigrateCommand(opts),
		newHealthcheckCommand(opts),
	)
	return root
}

// load reads the configuration and builds the logger every subcommand uses.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.viper, o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, logger, nil
}
