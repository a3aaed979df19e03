package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"cutover/internal/history"
	"cutover/internal/orchestrator"
	"cutover/internal/report"
	"cutover/internal/server"
	"cutover/internal/stack"
)

var (
	serveConfig   string
	serveLogFile  string
	serveDBPath   string
	serveHost     string
	servePort     int
	serveTestMode bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deployment HTTP server",
	Long: `Start the HTTP server that accepts signed remote deployment requests.

Each POST to /deploy/{stack} is verified against the stack's shared secret,
then run asynchronously through the full blue/green pipeline. Run status is
available at /status/{stack}.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfig, "config", "c", getEnvOrDefault("CUTOVER_CONFIG_FILE", ""), "Path to stacks config file")
	serveCmd.Flags().StringVarP(&serveLogFile, "log", "l", getEnvOrDefault("CUTOVER_LOG_FILE", "./deployments.log"), "Path to log file")
	serveCmd.Flags().StringVarP(&serveDBPath, "db", "d", getEnvOrDefault("CUTOVER_DB_PATH", "./cutover.db"), "Path to history database")
	serveCmd.Flags().StringVarP(&serveHost, "host", "H", getEnvOrDefault("CUTOVER_HOST", "127.0.0.1"), "Host to bind to")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", getEnvOrDefaultInt("CUTOVER_PORT", 8080), "Port to listen on")
	serveCmd.Flags().BoolVar(&serveTestMode, "test-mode", false, "Disable rate limiting (for testing only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, logFile, err := setupLogging(serveLogFile)
	if err != nil {
		return err
	}
	defer logFile.Close()

	configPath, stacks, err := loadStacks(serveConfig)
	if err != nil {
		return err
	}
	logger.Info("Configuration loaded", "path", configPath, "stacks", len(stacks))

	store, err := history.NewStore(serveDBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}

	registry := stack.NewRegistry(stacks)
	srv := server.NewServer(registry, store, productionFactory(store, logger), logger, serveTestMode)

	if serveTestMode {
		logger.Warn("TEST MODE ENABLED: rate limiting disabled")
	}

	if err := srv.Start(serveHost, servePort); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
	return nil
}

// productionFactory builds a fully wired orchestrator per accepted request.
// The server's own lock manager already rejects concurrent deploys for a
// stack, so each orchestrator keeps a private lock.
func productionFactory(store *history.Store, logger *slog.Logger) server.RunnerFactory {
	return func(stk *stack.Stack) server.Runner {
		orch, err := buildOrchestrator(stk, store, nil, logger)
		if err != nil {
			logger.Error("Failed to build orchestrator", "stack", stk.Name, "error", err)
			return failingRunner{err: err}
		}
		return orch
	}
}

// failingRunner surfaces a wiring error as a failed run instead of
// panicking inside the async deploy goroutine.
type failingRunner struct {
	err error
}

func (f failingRunner) Run(ctx context.Context, req orchestrator.Request) (report.DeploymentReport, error) {
	return report.DeploymentReport{}, f.err
}
