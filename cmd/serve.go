package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"aolcore/internal/app"
)

// serveDebug enables verbose logging across the control plane.
var serveDebug bool

// serveSilent suppresses all log output; useful when the process is wrapped
// by a supervisor that captures structured output elsewhere.
var serveSilent bool

// serveConfigPath points at a YAML configuration file. Empty runs on
// defaults.
var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the aolcore control plane",
	Long: `Starts the control plane and blocks until interrupted.

All components run in-process: the registry, the health supervisor, the
event store and bus, the credit engine, the router worker pool, and the
workflow executor. When discovery is enabled in the configuration,
registrations are mirrored to the configured Consul-compatible provider.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveSilent, serveConfigPath)

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Suppress all log output")
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Path to a YAML configuration file")
	rootCmd.AddCommand(serveCmd)
}
