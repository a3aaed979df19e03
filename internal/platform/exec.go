package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cutover/internal/stack"
	"cutover/pkg/cmdutil"
)

// DefaultCommandTimeout bounds platform calls that have no explicit timeout
// (CurrentTarget, SetTarget). Traffic repoints are metadata updates and
// should complete well within this.
const DefaultCommandTimeout = 30 * time.Second

// CommandClient drives the platform through operator-configured command
// templates. Templates carry {env} and {tag} placeholders which are expanded
// after shell-quote parsing, so substituted values never reach a shell.
type CommandClient struct {
	commands stack.PlatformCommands
	logger   *slog.Logger
}

// NewCommandClient creates a client for a stack's platform command templates.
func NewCommandClient(commands stack.PlatformCommands, logger *slog.Logger) *CommandClient {
	return &CommandClient{
		commands: commands,
		logger:   logger,
	}
}

// Deploy runs the configured deploy command with the environment and tag
// substituted.
func (c *CommandClient) Deploy(ctx context.Context, env, imageTag string, timeoutSeconds int) error {
	_, err := c.run(ctx, "deploy", c.commands.Deploy,
		map[string]string{"env": env, "tag": imageTag},
		time.Duration(timeoutSeconds)*time.Second)
	return err
}

// WaitReady runs the configured readiness command. The platform tooling is
// expected to block until ready and exit non-zero on timeout.
func (c *CommandClient) WaitReady(ctx context.Context, env string, timeoutSeconds int) error {
	_, err := c.run(ctx, "wait_ready", c.commands.WaitReady,
		map[string]string{"env": env},
		time.Duration(timeoutSeconds)*time.Second)
	return err
}

// CurrentTarget runs the configured query command and returns its trimmed
// stdout as the active environment name.
func (c *CommandClient) CurrentTarget(ctx context.Context) (string, error) {
	result, err := c.run(ctx, "current_target", c.commands.CurrentTarget, nil, DefaultCommandTimeout)
	if err != nil {
		return "", err
	}

	target := strings.TrimSpace(string(result.Output))
	if target == "" {
		return "", fmt.Errorf("current_target command produced no output")
	}
	return target, nil
}

// SetTarget runs the configured repoint command. Exit zero means the platform
// accepted the repoint.
func (c *CommandClient) SetTarget(ctx context.Context, env string) error {
	_, err := c.run(ctx, "set_target", c.commands.SetTarget,
		map[string]string{"env": env}, DefaultCommandTimeout)
	return err
}

// Cleanup runs the optional candidate cleanup command. Stacks without one
// leave the failed candidate in place for inspection; the next deploy
// overwrites it anyway.
func (c *CommandClient) Cleanup(ctx context.Context, env string) error {
	if len(c.commands.Cleanup) == 0 {
		c.logger.Info("no cleanup command configured, leaving candidate in place", "env", env)
		return nil
	}
	_, err := c.run(ctx, "cleanup", c.commands.Cleanup,
		map[string]string{"env": env}, DefaultCommandTimeout)
	return err
}

// Decommission runs the optional teardown command for an environment.
func (c *CommandClient) Decommission(ctx context.Context, env string, timeoutSeconds int) error {
	if len(c.commands.Decommission) == 0 {
		return fmt.Errorf("no decommission command configured")
	}
	_, err := c.run(ctx, "decommission", c.commands.Decommission,
		map[string]string{"env": env},
		time.Duration(timeoutSeconds)*time.Second)
	return err
}

func (c *CommandClient) run(ctx context.Context, action string, template []string, vars map[string]string, timeout time.Duration) (*cmdutil.Result, error) {
	if len(template) == 0 {
		return nil, fmt.Errorf("no %s command configured", action)
	}

	cmd := cmdutil.ExpandPlaceholders(template, vars)

	c.logger.Info("platform command", "action", action, "command", cmdutil.FormatCommand(cmd))

	result, err := cmdutil.Run(ctx, cmdutil.ExecOptions{Timeout: timeout}, cmd)
	if err != nil {
		output := ""
		if result != nil {
			output = strings.TrimSpace(string(result.Output))
		}
		c.logger.Error("platform command failed",
			"action", action,
			"command", cmdutil.FormatCommand(cmd),
			"output", output,
			"error", err)
		return result, fmt.Errorf("%s: %w", action, err)
	}

	c.logger.Info("platform command succeeded", "action", action, "duration_ms", result.Duration.Milliseconds())
	return result, nil
}
