package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evanofslack/cf-edge-sync/internal/config"
	"github.com/evanofslack/cf-edge-sync/internal/logger"
)

var configPath string

// Execute runs the root command.
func Execute(ctx context.Context, version string) error {
	return newRootCommand(version).ExecuteContext(ctx)
}

func newRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cf-edge-sync",
		Short:         "Reconcile Cloudflare DNS and Zero Trust settings from declarative config",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "config file path (yaml or toml)")

	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newValidateCommand())

	return rootCmd
}

// loadConfig reads the config and configures logging from it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)
	return cfg, nil
}
