package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"helios-hq/saturn/pkg/cli"
)

var reportFlags struct {
	provider string
	agent    string
	alerts   bool
	output   string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a usage report",
	Long: `Print the current-month usage report for a provider: per-agent
token consumption, request counts, and budget alerts.

Examples:
  # Full report for the primary provider
  saturn report --provider anthropic

  # One agent's usage
  saturn report --provider anthropic --agent imperium

  # Only agents past the warning threshold
  saturn report --provider anthropic --alerts`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVarP(&reportFlags.provider, "provider", "p", "", "provider name (defaults to the primary)")
	reportCmd.Flags().StringVarP(&reportFlags.agent, "agent", "a", "", "report a single agent")
	reportCmd.Flags().BoolVar(&reportFlags.alerts, "alerts", false, "only show budget alerts")
	reportCmd.Flags().StringVarP(&reportFlags.output, "output", "o", "text", "output format (text, json)")
}

func runReport(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseFormat(reportFlags.output)
	if err != nil {
		return cli.NewCommandError("report", err)
	}

	gov, err := openGovernor()
	if err != nil {
		return cli.NewCommandError("report", err)
	}
	defer gov.Close()

	ctx := cmd.Context()

	provider := reportFlags.provider
	if provider == "" {
		provider = gov.Providers()[0]
	}

	switch {
	case reportFlags.agent != "":
		usage, err := gov.AgentUsage(ctx, provider, reportFlags.agent)
		if err != nil {
			return cli.NewCommandError("report", err)
		}
		if usage == nil {
			fmt.Printf("no usage recorded for agent %q this month\n", reportFlags.agent)
			return nil
		}
		if format == cli.FormatJSON {
			return cli.WriteJSON(os.Stdout, usage)
		}
		fmt.Printf("%s on %s: %d tokens (%.1f%%), %d requests, status %s\n",
			usage.AgentID, provider, usage.TotalTokens, usage.UsagePercent,
			usage.RequestCount, usage.Status)
		return nil

	case reportFlags.alerts:
		alerts, err := gov.Alerts(ctx, provider)
		if err != nil {
			return cli.NewCommandError("report", err)
		}
		if format == cli.FormatJSON {
			return cli.WriteJSON(os.Stdout, alerts)
		}
		if len(alerts) == 0 {
			fmt.Println("no budget alerts")
			return nil
		}
		for _, a := range alerts {
			fmt.Printf("[%s] %s at %.1f%% (%d tokens, %d remaining)\n",
				a.Level, a.AgentID, a.UsagePercent, a.TotalTokens, a.Remaining)
		}
		return nil

	default:
		summary, err := gov.Summary(ctx, provider)
		if err != nil {
			return cli.NewCommandError("report", err)
		}
		if format == cli.FormatJSON {
			return cli.WriteJSON(os.Stdout, summary)
		}

		fmt.Printf("Provider %s, month %s\n", summary.Provider, summary.Month)
		fmt.Printf("Total: %d / %d tokens (%.1f%%), %d requests, %d active agents\n",
			summary.TotalTokens, summary.EnforcedCap, summary.UsagePercent,
			summary.TotalRequests, summary.ActiveAgents)

		ids := make([]string, 0, len(summary.Agents))
		for id := range summary.Agents {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			a := summary.Agents[id]
			fmt.Printf("  %-12s %10d tokens (%.1f%%), %d requests, %s\n",
				a.AgentID, a.TotalTokens, a.UsagePercent, a.RequestCount, a.Status)
		}
		return nil
	}
}
