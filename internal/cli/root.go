// Package cli implements the sshkit command-line interface.
//
// Each Cobra command delegates to a workflow function that wires the
// config, security validator, connection pool, and clients together.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tmckenzie51/sshkit/internal/config"
	"github.com/tmckenzie51/sshkit/internal/pool"
	"github.com/tmckenzie51/sshkit/internal/security"
	"github.com/tmckenzie51/sshkit/internal/ui"
	"github.com/tmckenzie51/sshkit/pkg/sshutil"
)

// Global flags available to all subcommands.
var (
	configFlag  string
	noColorFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "sshkit",
	Short: "Pooled SSH connections, command execution, and interactive shells",
	Long: `sshkit manages a pool of SSH connections with automatic reconnection,
a security policy gating every connection and command, and interactive
shell sessions bridged to your terminal.

Examples:
  sshkit exec web-01 -- uptime
  sshkit shell deploy@web-01:2222
  sshkit stats --watch
  sshkit policy show`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if noColorFlag || !ui.ColorEnabled() {
			ui.DisableColors()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default: .sshkit.yaml, searched upward)")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "disable colored output")
}

// Execute runs the root command, printing structured errors in the
// three-part format before exiting non-zero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.FormatError(err))
		os.Exit(1)
	}
}

// loadConfig resolves and loads the effective configuration.
func loadConfig() (*config.Config, error) {
	path, err := config.Find(configFlag)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// newValidator builds the process-wide security validator from config.
func newValidator(cfg *config.Config) *security.Validator {
	return security.NewValidator(cfg.SecurityPolicy())
}

// newPool builds a connection pool whose clients share one validator.
func newPool(cfg *config.Config, validator *security.Validator) *pool.Manager {
	return pool.NewManager(cfg.PoolSettings(),
		pool.WithFactory(func(c sshutil.ConnectionConfig) *sshutil.Client {
			return sshutil.NewClient(c, sshutil.WithValidator(validator))
		}),
	)
}

// resolveTarget turns a host argument into a connection config with
// ~/.ssh/config resolution and file-level defaults applied.
func resolveTarget(cfg *config.Config, host string) sshutil.ConnectionConfig {
	return cfg.ApplyConnectionDefaults(sshutil.ResolveConfig(host))
}
