// Package cli implements the tedge-agent command-line interface using
// Cobra, the way the teacher's internal/cli does for its own subcommands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "tedge-agent",
	Short:         "tedge-agent — thin-edge device agent",
	Long:          `tedge-agent runs the MQTT entity store, workflow engine and REST API that make up the local device agent.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called from cmd/tedge-agent/main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
