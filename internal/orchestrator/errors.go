package orchestrator

import (
	"errors"
	"fmt"
)

// classified is implemented by every error in the deployment taxonomy. Class
// names the error family for reports; Stage attributes the failure to the
// lifecycle state that produced it.
type classified interface {
	error
	Class() string
	Stage() State
}

// Classify extracts the error class and originating stage from a run error.
// Errors outside the taxonomy are reported as unclassified validation-time
// failures.
func Classify(err error) (string, State) {
	var c classified
	if errors.As(err, &c) {
		return c.Class(), c.Stage()
	}
	return "UnclassifiedError", StateValidating
}

// PrerequisiteError means a precondition failed before anything was mutated:
// bad input, an unresolved prior switch, a failed active-environment query,
// or a missing release.
type PrerequisiteError struct {
	Reason string
	Err    error
}

func (e *PrerequisiteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("prerequisite check failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("prerequisite check failed: %s", e.Reason)
}

func (e *PrerequisiteError) Unwrap() error { return e.Err }
func (e *PrerequisiteError) Class() string { return "PrerequisiteError" }
func (e *PrerequisiteError) Stage() State  { return StateValidating }

// DeployError means the platform rejected or failed the rollout of the
// candidate artifact.
type DeployError struct {
	Env string
	Tag string
	Err error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("deploy of %s to %s failed: %v", e.Tag, e.Env, e.Err)
}

func (e *DeployError) Unwrap() error { return e.Err }
func (e *DeployError) Class() string { return "DeployError" }
func (e *DeployError) Stage() State  { return StateDeploying }

// ReadinessTimeout means the candidate's instances never reported ready
// within the configured window.
type ReadinessTimeout struct {
	Env            string
	TimeoutSeconds int
	Err            error
}

func (e *ReadinessTimeout) Error() string {
	return fmt.Sprintf("%s not ready within %ds: %v", e.Env, e.TimeoutSeconds, e.Err)
}

func (e *ReadinessTimeout) Unwrap() error { return e.Err }
func (e *ReadinessTimeout) Class() string { return "ReadinessTimeout" }
func (e *ReadinessTimeout) Stage() State  { return StateAwaitingReady }

// HealthCheckExhausted means the candidate's health endpoint never returned
// 2xx within the retry budget.
type HealthCheckExhausted struct {
	URL      string
	Attempts int
	Detail   string
}

func (e *HealthCheckExhausted) Error() string {
	return fmt.Sprintf("health check of %s exhausted after %d attempts: %s", e.URL, e.Attempts, e.Detail)
}

func (e *HealthCheckExhausted) Class() string { return "HealthCheckExhausted" }
func (e *HealthCheckExhausted) Stage() State  { return StateHealthChecking }

// SmokeTestFailure means a smoke check exited non-zero or the smoke run
// timed out.
type SmokeTestFailure struct {
	FailedCheck string
	ChecksRun   int
}

func (e *SmokeTestFailure) Error() string {
	return fmt.Sprintf("smoke test failed at %s after %d checks", e.FailedCheck, e.ChecksRun)
}

func (e *SmokeTestFailure) Class() string { return "SmokeTestFailure" }
func (e *SmokeTestFailure) Stage() State  { return StateSmokeTesting }

// TrafficSwitchError means the repoint call was rejected, or the switch
// could not be durably journaled after acceptance.
type TrafficSwitchError struct {
	Target string
	Err    error
}

func (e *TrafficSwitchError) Error() string {
	return fmt.Sprintf("traffic switch to %s failed: %v", e.Target, e.Err)
}

func (e *TrafficSwitchError) Unwrap() error { return e.Err }
func (e *TrafficSwitchError) Class() string { return "TrafficSwitchError" }
func (e *TrafficSwitchError) Stage() State  { return StateSwitching }

// PostSwitchValidationFailure means traffic was repointed but the public
// routing path never passed validation.
type PostSwitchValidationFailure struct {
	URL      string
	Attempts int
	Detail   string
}

func (e *PostSwitchValidationFailure) Error() string {
	return fmt.Sprintf("post-switch validation of %s failed after %d attempts: %s", e.URL, e.Attempts, e.Detail)
}

func (e *PostSwitchValidationFailure) Class() string { return "PostSwitchValidationFailure" }
func (e *PostSwitchValidationFailure) Stage() State  { return StateValidatingSwitch }

// RollbackFailure is the most severe error the system produces: the switch
// happened, something downstream failed, and the repoint back was rejected.
// The traffic target is in an unknown state and a human must intervene.
type RollbackFailure struct {
	Target string
	Detail string
	Cause  error
}

func (e *RollbackFailure) Error() string {
	return fmt.Sprintf("rollback to %s failed (%s); manual intervention required; triggered by: %v",
		e.Target, e.Detail, e.Cause)
}

func (e *RollbackFailure) Unwrap() error { return e.Cause }
func (e *RollbackFailure) Class() string { return "RollbackFailure" }
func (e *RollbackFailure) Stage() State  { return StateRollingBack }
