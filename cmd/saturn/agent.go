package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"helios-hq/saturn/pkg/cli"
)

var agentFlags struct {
	provider string
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Operator actions on a single agent",
}

var agentSuspendCmd = &cobra.Command{
	Use:   "suspend <agent-id>",
	Short: "Suspend an agent for the current month",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentAction(cmd, args[0], "suspend")
	},
}

var agentResumeCmd = &cobra.Command{
	Use:   "resume <agent-id>",
	Short: "Resume a suspended agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentAction(cmd, args[0], "resume")
	},
}

var agentResetCmd = &cobra.Command{
	Use:   "reset <agent-id>",
	Short: "Zero an agent's current-month counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return agentAction(cmd, args[0], "reset")
	},
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.AddCommand(agentSuspendCmd, agentResumeCmd, agentResetCmd)
	agentCmd.PersistentFlags().StringVarP(&agentFlags.provider, "provider", "p", "", "provider name (defaults to the primary)")
}

func agentAction(cmd *cobra.Command, agentID, action string) error {
	gov, err := openGovernor()
	if err != nil {
		return cli.NewCommandError("agent "+action, err)
	}
	defer gov.Close()

	ctx := cmd.Context()
	provider := agentFlags.provider
	if provider == "" {
		provider = gov.Providers()[0]
	}

	switch action {
	case "suspend":
		err = gov.Suspend(ctx, provider, agentID)
	case "resume":
		err = gov.Resume(ctx, provider, agentID)
	case "reset":
		err = gov.ResetAgent(ctx, provider, agentID)
	}
	if err != nil {
		return cli.NewCommandError("agent "+action, err)
	}

	fmt.Printf("✓ %s %s on %s\n", action, agentID, provider)
	return nil
}
