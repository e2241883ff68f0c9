// Package main provides the entry point for the levelup progression server
// and its admin CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonathan/levelup/internal/config"
	"github.com/jonathan/levelup/internal/observability"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// skipConfig marks commands that run without a full service config.
const skipConfig = "skip-config"

// app holds state shared by all commands of one invocation.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "levelup",
		Short: "Developer curriculum progression server",
		Long: `levelup tracks developers through a staged curriculum. Submissions are
fetched from GitHub, scored by a language model and recorded as experience,
unlocking later stages, badges and ranks.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = a.logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to a JSON config file (environment variables win)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newServeCmd(a),
		newStagesCmd(a),
		newUsersCmd(a),
		newRecordCmd(a),
		newTokenCmd(a),
	)
	return root
}

// setup loads configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	level := config.DefaultLogLevel
	if cmd.Annotations[skipConfig] == "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
		level = cfg.LogLevel
	}
	if a.verbose {
		level = "debug"
	}

	logger, err := observability.NewLogger(level, a.verbose)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
