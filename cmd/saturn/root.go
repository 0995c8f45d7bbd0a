package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "saturn",
	Short: "Saturn - token-budget governor for multi-agent LLM systems",
	Long: `Saturn meters token spend across a fleet of agents sharing
provider-level monthly budgets.

It provides:
  - Per-agent monthly, daily, and hourly budget enforcement
  - Bill-then-use admission so concurrent requests never overspend
  - Ordered provider fallback as budgets run down
  - A system-wide emergency throttle near budget exhaustion
  - Durable usage auditing with scheduled retention`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
