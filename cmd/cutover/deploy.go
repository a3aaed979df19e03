package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"cutover/internal/history"
	"cutover/internal/orchestrator"
	"cutover/internal/platform"
	"cutover/internal/probe"
	"cutover/internal/release"
	"cutover/internal/report"
	"cutover/internal/smoke"
	"cutover/internal/stack"
)

var (
	deployConfig   string
	deployLogFile  string
	deployDBPath   string
	deployOperator string
)

var deployCmd = &cobra.Command{
	Use:   "deploy STACK [ACTIVE_ENV [CANDIDATE_ENV]] IMAGE_TAG",
	Short: "Run a blue/green deployment for a stack",
	Long: `Deploy a versioned artifact into a stack's idle environment and cut
traffic over to it once it passes readiness, health and smoke checks.

The active environment can be named explicitly, given as 'auto' to resolve
it from the traffic router, or omitted entirely (same as 'auto'). Naming the
candidate as well is optional and exists only to have your intent checked.`,
	Example: `  cutover deploy myapp v2.1.0
  cutover deploy myapp auto v2.1.0
  cutover deploy myapp blue green v2.1.0`,
	Args: cobra.RangeArgs(2, 4),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVarP(&deployConfig, "config", "c", getEnvOrDefault("CUTOVER_CONFIG_FILE", ""), "Path to stacks config file")
	deployCmd.Flags().StringVarP(&deployLogFile, "log", "l", getEnvOrDefault("CUTOVER_LOG_FILE", "./deployments.log"), "Path to log file")
	deployCmd.Flags().StringVarP(&deployDBPath, "db", "d", getEnvOrDefault("CUTOVER_DB_PATH", "./cutover.db"), "Path to history database")
	deployCmd.Flags().StringVarP(&deployOperator, "operator", "o", getEnvOrDefault("USER", "cli"), "Operator name recorded in history and reports")
}

func runDeploy(cmd *cobra.Command, args []string) error {
	stackName := args[0]
	imageTag := args[len(args)-1]

	req := orchestrator.Request{
		ImageTag: imageTag,
		Operator: deployOperator,
	}
	switch len(args) {
	case 2:
		req.ActiveEnv = orchestrator.AutoEnvironment
	case 3:
		req.ActiveEnv = args[1]
	case 4:
		req.ActiveEnv = args[1]
		req.CandidateEnv = args[2]
	}

	stk, err := requireStack(deployConfig, stackName)
	if err != nil {
		return err
	}
	applyEnvOverrides(stk)

	logger, logFile, err := setupLogging(deployLogFile)
	if err != nil {
		return err
	}
	defer logFile.Close()

	store, err := history.NewStore(deployDBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer store.Close()

	orch, err := buildOrchestrator(stk, store, nil, logger)
	if err != nil {
		return err
	}

	fmt.Printf("Deploying %s to stack '%s'...\n", imageTag, stackName)
	rep, runErr := orch.Run(context.Background(), req)
	printDeploySummary(rep, runErr)
	if runErr != nil {
		// Error detail is already in the summary and the structured log.
		os.Exit(1)
	}
	return nil
}

// applyEnvOverrides lets operators tighten or loosen per-run timeouts without
// editing the stack config.
func applyEnvOverrides(stk *stack.Stack) {
	if v := getEnvOrDefaultInt("CUTOVER_DEPLOY_TIMEOUT", 0); v > 0 {
		stk.DeployTimeout = v
	}
	if v := getEnvOrDefaultInt("CUTOVER_HEALTH_MAX_ATTEMPTS", 0); v > 0 {
		stk.HealthRetry.MaxAttempts = v
	}
	if v := getEnvOrDefaultInt("CUTOVER_SMOKE_TIMEOUT", 0); v > 0 {
		stk.SmokeTimeout = v
	}
}

// buildOrchestrator assembles an orchestrator with production collaborators
// for one stack. The history store serves as both switch journal and run
// recorder. A nil lock manager gives the orchestrator its own.
func buildOrchestrator(stk *stack.Stack, store *history.Store, locks *orchestrator.LockManager, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	sink, err := report.NewFileSink(stk.ReportDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare report directory: %w", err)
	}

	deps := orchestrator.Dependencies{
		Client:  platform.NewCommandClient(stk.Platform, logger),
		Prober:  probe.NewProber(logger),
		Smoke:   smoke.NewRunner(stk.SmokeChecks, logger),
		Journal: store,
		Runs:    store,
		Reports: sink,
		Locks:   locks,
		Logger:  logger,
	}

	if stk.ReleaseRepo != "" {
		verifier, err := release.NewGitHubVerifier(stk.ReleaseRepo, os.Getenv("CUTOVER_GITHUB_TOKEN"), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure release verification: %w", err)
		}
		deps.Verifier = verifier
	}

	return orchestrator.New(stk, deps), nil
}

func printDeploySummary(rep report.DeploymentReport, runErr error) {
	if runErr == nil {
		fmt.Printf("Deployment completed: %s now serves traffic on stack '%s' (%.1fs)\n",
			rep.ToEnv, rep.Stack, rep.DurationSec)
		return
	}

	fmt.Printf("Deployment FAILED at stage %s: %v\n", rep.FailedStage, runErr)

	var rbFail *orchestrator.RollbackFailure
	switch {
	case errors.As(runErr, &rbFail):
		fmt.Printf("ROLLBACK FAILED: traffic target is in an unknown state, manual intervention required (check 'cutover status %s')\n", rep.Stack)
	case rep.Rollback != nil && rep.Rollback.Succeeded:
		fmt.Printf("Traffic rolled back to %s; the stack is serving the previous version\n", rep.FromEnv)
	default:
		fmt.Printf("Candidate environment %s was not promoted; live traffic was never moved\n", rep.ToEnv)
	}
}
