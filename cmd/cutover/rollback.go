package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cutover/internal/history"
	"cutover/internal/platform"
	"cutover/internal/traffic"
)

var (
	rollbackConfig  string
	rollbackLogFile string
	rollbackDBPath  string
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback STACK [TARGET_ENV]",
	Short: "Manually repoint a stack's traffic to a previous environment",
	Long: `Repoint a stack's live traffic back to a previous environment.

Without a target environment the command resolves it from the switch journal:
a pending entry left by a run that switched traffic but never completed names
the environment that was serving before the switch. With no pending entry the
target must be given explicitly.`,
	Example: `  cutover rollback myapp
  cutover rollback myapp blue`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().StringVarP(&rollbackConfig, "config", "c", getEnvOrDefault("CUTOVER_CONFIG_FILE", ""), "Path to stacks config file")
	rollbackCmd.Flags().StringVarP(&rollbackLogFile, "log", "l", getEnvOrDefault("CUTOVER_LOG_FILE", "./deployments.log"), "Path to log file")
	rollbackCmd.Flags().StringVarP(&rollbackDBPath, "db", "d", getEnvOrDefault("CUTOVER_DB_PATH", "./cutover.db"), "Path to history database")
}

func runRollback(cmd *cobra.Command, args []string) error {
	stackName := args[0]

	stk, err := requireStack(rollbackConfig, stackName)
	if err != nil {
		return err
	}

	logger, logFile, err := setupLogging(rollbackLogFile)
	if err != nil {
		return err
	}
	defer logFile.Close()

	store, err := history.NewStore(rollbackDBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	var target string
	if len(args) == 2 {
		target = args[1]
	} else {
		entry, err := store.PendingSwitch(ctx, stackName)
		if err != nil {
			return fmt.Errorf("failed to read switch journal: %w", err)
		}
		if entry == nil {
			return fmt.Errorf("no pending switch recorded for stack '%s'; name the target environment explicitly", stackName)
		}
		target = entry.FromEnv
		fmt.Printf("Pending switch found: traffic moved %s -> %s at %s\n",
			entry.FromEnv, entry.ToEnv, entry.SwitchedAt.Format("2006-01-02 15:04:05 UTC"))
	}

	if _, exists := stk.Environments[target]; !exists {
		return fmt.Errorf("environment '%s' is not part of stack '%s'", target, stackName)
	}

	client := platform.NewCommandClient(stk.Platform, logger)
	controller := traffic.NewRollbackController(stackName, client, store, logger)

	fmt.Printf("Rolling back stack '%s' to environment '%s'...\n", stackName, target)
	record := controller.Rollback(ctx, target, "MANUAL", "operator-initiated rollback")
	if !record.Succeeded {
		fmt.Printf("Rollback FAILED: %s\n", record.Detail)
		fmt.Println("Traffic target is in an unknown state; manual intervention required")
		os.Exit(1)
	}

	fmt.Printf("Traffic for stack '%s' now points at '%s'\n", stackName, target)
	return nil
}
