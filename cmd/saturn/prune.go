package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"helios-hq/saturn/pkg/cli"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Run one retention pass over the usage log",
	Long: `Delete usage-log entries older than the configured retention period,
archiving them first when archive_before_delete is set.`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	gov, err := openGovernor()
	if err != nil {
		return cli.NewCommandError("prune", err)
	}
	defer gov.Close()

	deleted, err := gov.Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("prune", err)
	}

	fmt.Printf("✓ pruned %d usage-log entries\n", deleted)
	return nil
}
