package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cutover/internal/history"
	"cutover/internal/platform"
	"cutover/internal/probe"
	"cutover/internal/report"
	"cutover/internal/security"
	"cutover/internal/smoke"
	"cutover/internal/stack"
	"cutover/internal/traffic"
)

// ErrDeploymentInProgress is returned when the per-stack lock is already
// held. Contended requests are rejected immediately, never queued.
var ErrDeploymentInProgress = errors.New("deployment in progress")

// AutoEnvironment requests resolution of the active environment from the
// platform's current traffic target at validation time.
const AutoEnvironment = "auto"

// HealthProber is satisfied by probe.Prober.
type HealthProber interface {
	Probe(ctx context.Context, url string, policy probe.Policy) probe.Result
}

// SmokeRunner is satisfied by smoke.Runner.
type SmokeRunner interface {
	Run(ctx context.Context, candidateEnv string, overallTimeout time.Duration) smoke.Result
}

// Journal is the durable switch record. Satisfied by history.Store.
type Journal interface {
	traffic.Journal
	PendingSwitch(ctx context.Context, stackName string) (*history.SwitchEntry, error)
}

// RunRecorder persists run outcomes. Satisfied by history.Store.
type RunRecorder interface {
	RecordRun(ctx context.Context, record *history.RunRecord) (int64, error)
}

// ReleaseVerifier checks that an image tag corresponds to a published
// release. Satisfied by release.GitHubVerifier.
type ReleaseVerifier interface {
	VerifyTag(ctx context.Context, imageTag string) error
}

// ReportSink persists finished deployment reports. Satisfied by
// report.FileSink.
type ReportSink interface {
	Write(rep report.DeploymentReport) (string, error)
}

// Request describes one requested deployment run.
type Request struct {
	// ActiveEnv is the environment currently serving traffic, or "auto"
	// (or empty) to resolve it from the platform during validation.
	ActiveEnv string

	// CandidateEnv optionally names the environment to deploy into. When
	// set it must be the stack's other environment; it exists so operators
	// can state their intent explicitly and have it checked.
	CandidateEnv string

	ImageTag string
	Operator string
}

// Dependencies wires an orchestrator's collaborators. Client, Prober, Smoke
// and Journal are required; the rest may be nil.
type Dependencies struct {
	Client   platform.Client
	Prober   HealthProber
	Smoke    SmokeRunner
	Journal  Journal
	Runs     RunRecorder
	Verifier ReleaseVerifier
	Reports  ReportSink
	Locks    *LockManager
	Logger   *slog.Logger
}

// Orchestrator runs blue/green deployments for a single stack.
type Orchestrator struct {
	stack    *stack.Stack
	client   platform.Client
	prober   HealthProber
	smoker   SmokeRunner
	journal  Journal
	runs     RunRecorder
	verifier ReleaseVerifier
	reports  ReportSink
	locks    *LockManager
	logger   *slog.Logger

	// sleep is replaceable so tests can run the warm-up grace instantly.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator for a stack.
func New(s *stack.Stack, deps Dependencies) *Orchestrator {
	locks := deps.Locks
	if locks == nil {
		locks = NewLockManager()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		stack:    s,
		client:   deps.Client,
		prober:   deps.Prober,
		smoker:   deps.Smoke,
		journal:  deps.Journal,
		runs:     deps.Runs,
		verifier: deps.Verifier,
		reports:  deps.Reports,
		locks:    locks,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// SetSleep replaces the warm-up grace sleep function. Tests use this to run
// without real delays.
func (o *Orchestrator) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	o.sleep = sleep
}

// runState carries the mutable per-run data that outlives a single stage.
type runState struct {
	builder *report.Builder
	fromEnv string
	toEnv   string

	rollbackAttempted bool
	rollbackSucceeded bool
}

// Run executes one deployment. It acquires the stack's exclusive lock for
// the whole run, walks the stage sequence, and always produces a report and
// a history record for a run that got past the lock. The returned error is
// nil only when the run reached COMPLETED.
func (o *Orchestrator) Run(ctx context.Context, req Request) (report.DeploymentReport, error) {
	if !o.locks.TryLock(o.stack.Name) {
		o.logger.Warn("deployment rejected, lock held", "stack", o.stack.Name, "tag", req.ImageTag)
		o.recordRejected(req)
		return report.DeploymentReport{}, fmt.Errorf("stack %s: %w", o.stack.Name, ErrDeploymentInProgress)
	}
	defer o.locks.Unlock(o.stack.Name)

	o.logger.Info("deployment started",
		"stack", o.stack.Name,
		"tag", req.ImageTag,
		"active_env", req.ActiveEnv,
		"operator", req.Operator)

	run := &runState{
		builder: report.NewBuilder(o.stack.Name, req.ImageTag, "", "", req.Operator),
	}

	runErr := o.execute(ctx, req, run)

	finalState := StateCompleted
	var failedStage, errorClass string
	if runErr != nil {
		finalState = StateFailed
		class, stage := Classify(runErr)
		errorClass = class
		failedStage = stage.String()
	}

	rep := run.builder.Finalize(finalState.String(), failedStage, errorClass, runErr)
	o.persist(req, run, rep, runErr)

	if runErr != nil {
		o.logger.Error("deployment failed",
			"stack", o.stack.Name,
			"tag", req.ImageTag,
			"failed_stage", failedStage,
			"error_class", errorClass,
			"error", runErr)
	} else {
		o.logger.Info("deployment completed",
			"stack", o.stack.Name,
			"tag", req.ImageTag,
			"from", run.fromEnv,
			"to", run.toEnv)
	}

	return rep, runErr
}

// execute walks the stage sequence. Failures before SWITCHING return after
// best-effort candidate cleanup; failures at or after SWITCHING go through
// rollback exactly once.
func (o *Orchestrator) execute(ctx context.Context, req Request, run *runState) error {
	err := o.runStage(run, StateValidating, func() error {
		fromEnv, toEnv, err := o.validate(ctx, req)
		if err != nil {
			return err
		}
		run.fromEnv, run.toEnv = fromEnv, toEnv
		return nil
	})
	if err != nil {
		// Validation mutates nothing, so there is no candidate to clean up.
		return err
	}
	run.builder.SetEnvironments(run.fromEnv, run.toEnv)

	err = o.runStage(run, StateDeploying, func() error {
		if err := o.client.Deploy(ctx, run.toEnv, req.ImageTag, o.stack.DeployTimeout); err != nil {
			return &DeployError{Env: run.toEnv, Tag: req.ImageTag, Err: err}
		}
		return nil
	})
	if err != nil {
		return o.failBeforeSwitch(ctx, run, err)
	}

	err = o.runStage(run, StateAwaitingReady, func() error {
		if err := o.client.WaitReady(ctx, run.toEnv, o.stack.ReadyTimeout); err != nil {
			return &ReadinessTimeout{Env: run.toEnv, TimeoutSeconds: o.stack.ReadyTimeout, Err: err}
		}
		// The candidate is not considered ready until the warm-up grace
		// elapses. Default is zero.
		if o.stack.WarmupGrace > 0 {
			grace := time.Duration(o.stack.WarmupGrace) * time.Second
			o.logger.Info("warm-up grace", "stack", o.stack.Name, "env", run.toEnv, "grace", grace.String())
			if err := o.sleep(ctx, grace); err != nil {
				return &ReadinessTimeout{Env: run.toEnv, TimeoutSeconds: o.stack.ReadyTimeout, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		return o.failBeforeSwitch(ctx, run, err)
	}

	err = o.runStage(run, StateHealthChecking, func() error {
		url := o.stack.Environments[run.toEnv].InternalURL + o.stack.HealthPath
		result := o.prober.Probe(ctx, url, probe.PolicyFromSettings(o.stack.HealthRetry))
		run.builder.AddHealthProbe(result)
		if !result.Success {
			return &HealthCheckExhausted{URL: url, Attempts: result.Attempt, Detail: result.Detail}
		}
		return nil
	})
	if err != nil {
		return o.failBeforeSwitch(ctx, run, err)
	}

	err = o.runStage(run, StateSmokeTesting, func() error {
		result := o.smoker.Run(ctx, run.toEnv, time.Duration(o.stack.SmokeTimeout)*time.Second)
		run.builder.SetSmoke(result.Passed, result.ChecksRun, result.FailedCheck, result.Output, result.Duration)
		if !result.Passed {
			return &SmokeTestFailure{FailedCheck: result.FailedCheck, ChecksRun: result.ChecksRun}
		}
		return nil
	})
	if err != nil {
		return o.failBeforeSwitch(ctx, run, err)
	}

	switcher := traffic.NewSwitcher(o.stack.Name, o.client, o.journal, o.prober, o.logger)

	err = o.runStage(run, StateSwitching, func() error {
		if err := switcher.Switch(ctx, run.fromEnv, run.toEnv); err != nil {
			return &TrafficSwitchError{Target: run.toEnv, Err: err}
		}
		return nil
	})
	if err != nil {
		return o.rollbackAndFail(ctx, run, err)
	}

	err = o.runStage(run, StateValidatingSwitch, func() error {
		url := o.stack.PublicURL + o.stack.HealthPath
		result := switcher.Validate(ctx, url, probe.PolicyFromSettings(o.stack.SwitchRetry))
		run.builder.AddPostSwitchProbe(result)
		if !result.Success {
			return &PostSwitchValidationFailure{URL: url, Attempts: result.Attempt, Detail: result.Detail}
		}
		return nil
	})
	if err != nil {
		return o.rollbackAndFail(ctx, run, err)
	}

	// The run is terminal and healthy; retire the journal entry so the next
	// deployment is not blocked by it.
	if err := o.journal.ClearSwitched(context.WithoutCancel(ctx), o.stack.Name); err != nil {
		o.logger.Error("failed to clear switch journal after completed run",
			"stack", o.stack.Name, "error", err)
	}

	return nil
}

// validate runs all prerequisite checks and resolves the environment pair.
// Nothing is mutated here; any failure is a PrerequisiteError.
func (o *Orchestrator) validate(ctx context.Context, req Request) (string, string, error) {
	if err := security.ValidateImageTag(req.ImageTag); err != nil {
		return "", "", &PrerequisiteError{Reason: "invalid image tag", Err: err}
	}

	// A journal entry from an earlier run means traffic was repointed and
	// never settled. Deploying over that would destroy the rollback target.
	pending, err := o.journal.PendingSwitch(ctx, o.stack.Name)
	if err != nil {
		return "", "", &PrerequisiteError{Reason: "querying switch journal", Err: err}
	}
	if pending != nil {
		return "", "", &PrerequisiteError{
			Reason: fmt.Sprintf("unresolved traffic switch from %s to %s recorded at %s; roll back or clear it before deploying",
				pending.FromEnv, pending.ToEnv, pending.SwitchedAt.Format(time.RFC3339)),
		}
	}

	active := req.ActiveEnv
	if active == "" || active == AutoEnvironment {
		target, err := o.client.CurrentTarget(ctx)
		if err != nil {
			return "", "", &PrerequisiteError{Reason: "resolving active environment from platform", Err: err}
		}
		o.logger.Info("resolved active environment", "stack", o.stack.Name, "active_env", target)
		active = target
	}

	if _, ok := o.stack.Environments[active]; !ok {
		return "", "", &PrerequisiteError{
			Reason: fmt.Sprintf("active environment %q is not one of the stack's environments", active),
		}
	}

	candidate, ok := o.stack.OtherEnvironment(active)
	if !ok {
		return "", "", &PrerequisiteError{
			Reason: fmt.Sprintf("no candidate environment paired with %q", active),
		}
	}
	if req.CandidateEnv != "" && req.CandidateEnv != candidate {
		return "", "", &PrerequisiteError{
			Reason: fmt.Sprintf("requested candidate %q but the idle environment is %q", req.CandidateEnv, candidate),
		}
	}

	if o.verifier != nil {
		if err := o.verifier.VerifyTag(ctx, req.ImageTag); err != nil {
			return "", "", &PrerequisiteError{Reason: "release verification", Err: err}
		}
	}

	return active, candidate, nil
}

// failBeforeSwitch handles any failure while the old environment is still
// serving. There is nothing to roll back; the half-deployed candidate is
// cleaned up best-effort and the failure propagates unchanged.
func (o *Orchestrator) failBeforeSwitch(ctx context.Context, run *runState, cause error) error {
	if err := o.client.Cleanup(context.WithoutCancel(ctx), run.toEnv); err != nil {
		o.logger.Warn("candidate cleanup failed", "stack", o.stack.Name, "env", run.toEnv, "error", err)
	}
	return cause
}

// rollbackAndFail handles a failure at or after the traffic switch: one
// rollback attempt, then FAILED regardless of the rollback outcome. A failed
// rollback supersedes the triggering error as the run's error because it is
// the more severe condition.
func (o *Orchestrator) rollbackAndFail(ctx context.Context, run *runState, cause error) error {
	_, stage := Classify(cause)

	var record traffic.RollbackRecord
	_ = o.runStage(run, StateRollingBack, func() error {
		controller := traffic.NewRollbackController(o.stack.Name, o.client, o.journal, o.logger)
		// Rollback must run even when the run's context is already
		// cancelled; cancellation after the switch is a downstream failure,
		// not an excuse to leave traffic on a bad target.
		record = controller.Rollback(context.WithoutCancel(ctx), run.fromEnv, stage.String(), cause.Error())
		run.builder.SetRollback(record)
		run.rollbackAttempted = true
		run.rollbackSucceeded = record.Succeeded
		if !record.Succeeded {
			return &RollbackFailure{Target: run.fromEnv, Detail: record.Detail, Cause: cause}
		}
		return nil
	})

	if !record.Succeeded {
		return &RollbackFailure{Target: run.fromEnv, Detail: record.Detail, Cause: cause}
	}
	return cause
}

// runStage times one stage, records it in the report, and logs transitions.
func (o *Orchestrator) runStage(run *runState, state State, fn func() error) error {
	o.logger.Info("stage started", "stack", o.stack.Name, "stage", state.String())
	start := time.Now().UTC()

	err := fn()

	end := time.Now().UTC()
	run.builder.AddStage(state.String(), start, end, err)

	if err != nil {
		o.logger.Error("stage failed",
			"stack", o.stack.Name,
			"stage", state.String(),
			"duration_ms", end.Sub(start).Milliseconds(),
			"error", err)
	} else {
		o.logger.Info("stage completed",
			"stack", o.stack.Name,
			"stage", state.String(),
			"duration_ms", end.Sub(start).Milliseconds())
	}
	return err
}

// persist writes the run's history record and report. Both are best-effort:
// the deployment outcome stands even if persistence fails.
func (o *Orchestrator) persist(req Request, run *runState, rep report.DeploymentReport, runErr error) {
	ctx := context.Background()

	if o.runs != nil {
		record := &history.RunRecord{
			Stack:             o.stack.Name,
			ImageTag:          req.ImageTag,
			FromEnv:           run.fromEnv,
			ToEnv:             run.toEnv,
			Status:            history.StatusCompleted,
			Operator:          req.Operator,
			StartedAt:         rep.StartedAt,
			RollbackAttempted: run.rollbackAttempted,
		}
		completedAt := rep.CompletedAt
		record.CompletedAt = &completedAt
		duration := rep.DurationSec
		record.DurationSeconds = &duration
		if runErr != nil {
			record.Status = history.StatusFailed
			msg := runErr.Error()
			record.ErrorMessage = &msg
			if rep.FailedStage != "" {
				stage := rep.FailedStage
				record.FailedStage = &stage
			}
		}
		if run.rollbackAttempted {
			succeeded := run.rollbackSucceeded
			record.RollbackSucceeded = &succeeded
		}
		if _, err := o.runs.RecordRun(ctx, record); err != nil {
			o.logger.Error("failed to record run history", "stack", o.stack.Name, "error", err)
		}
	}

	if o.reports != nil {
		if _, err := o.reports.Write(rep); err != nil {
			o.logger.Error("failed to write deployment report", "stack", o.stack.Name, "error", err)
		}
	}
}

// recordRejected notes a lock-contended request in history. No report is
// produced; the run never started.
func (o *Orchestrator) recordRejected(req Request) {
	if o.runs == nil {
		return
	}
	msg := ErrDeploymentInProgress.Error()
	record := &history.RunRecord{
		Stack:        o.stack.Name,
		ImageTag:     req.ImageTag,
		Status:       history.StatusRejected,
		Operator:     req.Operator,
		StartedAt:    time.Now().UTC(),
		ErrorMessage: &msg,
	}
	if _, err := o.runs.RecordRun(context.Background(), record); err != nil {
		o.logger.Error("failed to record rejected run", "stack", o.stack.Name, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
