// Package smoke runs operator-supplied smoke checks against a freshly
// deployed candidate environment before it is trusted with live traffic.
package smoke

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cutover/pkg/cmdutil"
)

// Result is the aggregate outcome of a smoke-test run. Output holds the
// captured stdout/stderr of every executed check, verbatim; it goes into the
// failure report but is never parsed for pass/fail.
type Result struct {
	Passed      bool          `json:"passed"`
	Output      string        `json:"output,omitempty"`
	FailedCheck string        `json:"failed_check,omitempty"`
	ChecksRun   int           `json:"checks_run"`
	Duration    time.Duration `json:"-"`
}

// Runner executes an ordered list of smoke checks. Checks run against the
// candidate environment only, never the active one; the caller passes the
// candidate's name for {env} substitution.
type Runner struct {
	checks [][]string
	logger *slog.Logger
}

// NewRunner creates a runner over parsed check command templates.
func NewRunner(checks [][]string, logger *slog.Logger) *Runner {
	return &Runner{
		checks: checks,
		logger: logger,
	}
}

// Run executes all checks in order against the candidate environment. The
// first failing check short-circuits the remainder. The whole run is bounded
// by overallTimeout; exceeding it fails the run the same way a failing check
// does. Pass/fail comes from exit status alone.
func (r *Runner) Run(ctx context.Context, candidateEnv string, overallTimeout time.Duration) Result {
	start := time.Now()

	if overallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, overallTimeout)
		defer cancel()
	}

	var output strings.Builder
	result := Result{Passed: true}

	for i, template := range r.checks {
		cmd := cmdutil.ExpandPlaceholders(template, map[string]string{"env": candidateEnv})
		formatted := cmdutil.FormatCommand(cmd)

		r.logger.Info("smoke check", "check", i+1, "total", len(r.checks), "command", formatted)

		checkResult, err := cmdutil.Run(ctx, cmdutil.ExecOptions{}, cmd)
		result.ChecksRun++

		if checkResult != nil && len(checkResult.Output) > 0 {
			fmt.Fprintf(&output, "--- check %d: %s\n%s", i+1, formatted, checkResult.Output)
			if !strings.HasSuffix(string(checkResult.Output), "\n") {
				output.WriteString("\n")
			}
		}

		if ctx.Err() == context.DeadlineExceeded {
			r.logger.Error("smoke test run timed out", "check", i+1, "timeout", overallTimeout)
			result.Passed = false
			result.FailedCheck = fmt.Sprintf("check %d (%s) exceeded overall timeout %s", i+1, formatted, overallTimeout)
			break
		}

		if err != nil || !checkResult.OK() {
			r.logger.Error("smoke check failed", "check", i+1, "command", formatted, "error", err)
			result.Passed = false
			result.FailedCheck = fmt.Sprintf("check %d (%s)", i+1, formatted)
			break
		}
	}

	result.Output = output.String()
	result.Duration = time.Since(start)

	if result.Passed {
		r.logger.Info("smoke tests passed", "checks", result.ChecksRun, "duration_ms", result.Duration.Milliseconds())
	}

	return result
}
