package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the base command for the aolcore control plane binary.
var rootCmd = &cobra.Command{
	Use:   "aolcore",
	Short: "Service mesh control plane for multi-agent workflows",
	Long: `aolcore runs the control plane of an agent service mesh: a service
registry with health supervision, an event store with pub/sub fan-out, a
credit engine that scores agent contributions and arbitrates deliberation
restarts, a gRPC router with circuit breaking, and a DAG workflow engine.`,
	// Errors are reported by Execute; usage output on handled errors only
	// adds noise.
	SilenceUsage: true,
}

// SetVersion injects the build version, typically from main via -ldflags.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	rootCmd.AddCommand(newVersionCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
