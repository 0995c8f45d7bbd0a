package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"helios-hq/saturn/pkg/cli"
	"helios-hq/saturn/pkg/config"
	"helios-hq/saturn/pkg/governor"
	"helios-hq/saturn/pkg/telemetry/logging"
)

var statusFlags struct {
	output string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show emergency throttle and per-provider usage",
	Long: `Show the emergency throttle state and a one-line usage summary for
every configured provider, reading the ledger directly.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusFlags.output, "output", "o", "text", "output format (text, json)")
}

type statusOutput struct {
	Emergency any              `json:"emergency"`
	Providers []providerStatus `json:"providers"`
}

type providerStatus struct {
	Provider     string  `json:"provider"`
	TotalTokens  int64   `json:"total_tokens"`
	EnforcedCap  int64   `json:"enforced_cap"`
	UsagePercent float64 `json:"usage_percentage"`
	ActiveAgents int     `json:"active_agents"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(statusFlags.output)
	if err != nil {
		return cli.NewCommandError("status", err)
	}

	gov, err := openGovernor()
	if err != nil {
		return cli.NewCommandError("status", err)
	}
	defer gov.Close()

	ctx := cmd.Context()

	emergencyStatus, err := gov.EmergencyStatus(ctx)
	if err != nil {
		return cli.NewCommandError("status", err)
	}

	out := statusOutput{Emergency: emergencyStatus}
	for _, name := range gov.Providers() {
		summary, err := gov.Summary(ctx, name)
		if err != nil {
			return cli.NewCommandError("status", err)
		}
		out.Providers = append(out.Providers, providerStatus{
			Provider:     name,
			TotalTokens:  summary.TotalTokens,
			EnforcedCap:  summary.EnforcedCap,
			UsagePercent: summary.UsagePercent,
			ActiveAgents: summary.ActiveAgents,
		})
	}

	if format == cli.FormatJSON {
		return cli.WriteJSON(os.Stdout, out)
	}

	if emergencyStatus.Active {
		fmt.Printf("Emergency throttle: ACTIVE (%.1f%% of enforced cap)\n", emergencyStatus.GlobalPercent)
	} else {
		fmt.Printf("Emergency throttle: inactive (%.1f%% of enforced cap)\n", emergencyStatus.GlobalPercent)
	}
	for _, p := range out.Providers {
		fmt.Printf("%-12s %12d / %d tokens (%.1f%%), %d active agents\n",
			p.Provider, p.TotalTokens, p.EnforcedCap, p.UsagePercent, p.ActiveAgents)
	}
	return nil
}

// openGovernor loads the config and builds a governor for read-mostly
// CLI commands, with logging kept quiet.
func openGovernor() (*governor.Governor, error) {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, err
	}
	level := "error"
	if verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: "text"})
	if err != nil {
		return nil, err
	}
	return governor.New(cfg, logger)
}
