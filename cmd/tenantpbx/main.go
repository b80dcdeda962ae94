// Command tenantpbx provisions isolated PBX tenants on a shared Asterisk
// and answers its FastAGI call authorization requests.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowpbx/tenantpbx/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "tenantpbx",
	Short:         "Multi-tenant provisioning and call authorization for Asterisk",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the configuration for cmd and installs the default
// logger it describes.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(cfg.SlogHandler(os.Stderr))
	slog.SetDefault(logger)
	return cfg, logger, nil
}
