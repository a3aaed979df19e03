package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"cutover/internal/history"
)

var (
	statusConfig string
	statusDBPath string
	statusLimit  int
)

var statusCmd = &cobra.Command{
	Use:   "status STACK",
	Short: "Show recent deployment runs for a stack",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusConfig, "config", "c", getEnvOrDefault("CUTOVER_CONFIG_FILE", ""), "Path to stacks config file")
	statusCmd.Flags().StringVarP(&statusDBPath, "db", "d", getEnvOrDefault("CUTOVER_DB_PATH", "./cutover.db"), "Path to history database")
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of recent runs to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	stackName := args[0]

	// Validates the stack exists before touching the database.
	if _, err := requireStack(statusConfig, stackName); err != nil {
		return err
	}

	store, err := history.NewStore(statusDBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	pending, err := store.PendingSwitch(ctx, stackName)
	if err != nil {
		return fmt.Errorf("failed to read switch journal: %w", err)
	}
	if pending != nil {
		fmt.Printf("WARNING: pending switch %s -> %s at %s; rollback may be required (see 'cutover rollback %s')\n\n",
			pending.FromEnv, pending.ToEnv, pending.SwitchedAt.Format("2006-01-02 15:04:05 UTC"), stackName)
	}

	runs, err := store.RunHistory(ctx, stackName, statusLimit)
	if err != nil {
		return fmt.Errorf("failed to read run history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Printf("No recorded runs for stack '%s'\n", stackName)
		return nil
	}

	fmt.Printf("Recent runs for stack '%s':\n", stackName)
	for _, run := range runs {
		fmt.Printf("  %s", formatRun(run))
	}
	return nil
}

func formatRun(run history.RunRecord) string {
	line := fmt.Sprintf("%s  %-9s  %s  %s -> %s  by %s",
		run.StartedAt.Format("2006-01-02 15:04:05"),
		run.Status, run.ImageTag, run.FromEnv, run.ToEnv, run.Operator)
	if run.DurationSeconds != nil {
		line += fmt.Sprintf("  (%.1fs)", *run.DurationSeconds)
	}
	if run.FailedStage != nil {
		line += fmt.Sprintf("  failed at %s", *run.FailedStage)
	}
	if run.RollbackAttempted {
		if run.RollbackSucceeded != nil && *run.RollbackSucceeded {
			line += "  [rolled back]"
		} else {
			line += "  [ROLLBACK FAILED]"
		}
	}
	return line + "\n"
}
