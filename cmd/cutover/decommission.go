package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cutover/internal/platform"
)

var (
	decommissionConfig  string
	decommissionLogFile string
)

var decommissionCmd = &cobra.Command{
	Use:   "decommission STACK ENV",
	Short: "Tear down an idle environment of a stack",
	Long: `Run the stack's teardown command against one of its environments.

Decommissioning is destructive and never happens automatically: the command
requires an interactive terminal, refuses the environment currently receiving
live traffic, and asks you to retype the environment name before acting.`,
	Args: cobra.ExactArgs(2),
	RunE: runDecommission,
}

func init() {
	decommissionCmd.Flags().StringVarP(&decommissionConfig, "config", "c", getEnvOrDefault("CUTOVER_CONFIG_FILE", ""), "Path to stacks config file")
	decommissionCmd.Flags().StringVarP(&decommissionLogFile, "log", "l", getEnvOrDefault("CUTOVER_LOG_FILE", "./deployments.log"), "Path to log file")
}

func runDecommission(cmd *cobra.Command, args []string) error {
	stackName := args[0]
	env := args[1]

	if !isInteractive() {
		return fmt.Errorf("decommission requires an interactive terminal")
	}

	stk, err := requireStack(decommissionConfig, stackName)
	if err != nil {
		return err
	}
	if _, exists := stk.Environments[env]; !exists {
		return fmt.Errorf("environment '%s' is not part of stack '%s'", env, stackName)
	}

	logger, logFile, err := setupLogging(decommissionLogFile)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx := context.Background()
	client := platform.NewCommandClient(stk.Platform, logger)

	live, err := client.CurrentTarget(ctx)
	if err != nil {
		return fmt.Errorf("failed to query current traffic target: %w", err)
	}
	if live == env {
		return fmt.Errorf("environment '%s' is currently receiving live traffic; refusing to decommission it", env)
	}

	fmt.Printf("This will tear down environment '%s' of stack '%s'.\n", env, stackName)
	reader := bufio.NewReader(os.Stdin)
	confirmed, err := confirmByRetyping(reader, env)
	if err != nil {
		return err
	}
	if !confirmed {
		fmt.Println("Aborted; nothing was changed")
		return nil
	}

	timeout := stk.DeployTimeout
	if timeout <= 0 {
		timeout = 300
	}
	if err := client.Decommission(ctx, env, timeout); err != nil {
		return fmt.Errorf("decommission failed: %w", err)
	}

	fmt.Printf("Environment '%s' of stack '%s' has been decommissioned\n", env, stackName)
	return nil
}

// confirmByRetyping asks the operator to retype the environment name.
func confirmByRetyping(reader *bufio.Reader, expected string) (bool, error) {
	fmt.Printf("Type the environment name to confirm: ")
	input, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	return strings.TrimSpace(input) == expected, nil
}

// isInteractive reports whether stdin is attached to a terminal.
func isInteractive() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}
