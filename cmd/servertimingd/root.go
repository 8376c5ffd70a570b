package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is injected at build time with -ldflags "-X main.version=...".
var version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "servertimingd",
	Short: "Demo HTTP server instrumented with Server-Timing",
	Long: `servertimingd serves a small set of demo endpoints behind the Server-Timing
middleware and exports every emitted measurement as OpenTelemetry metrics.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "servertimingd/%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (env SERVERTIMING_* overrides)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}
