// Package report assembles deployment reports and persists them as JSON files.
package report

import (
	"time"

	"cutover/internal/probe"
	"cutover/internal/traffic"
)

// StageRecord captures one stage of a deployment run.
type StageRecord struct {
	Stage     string    `json:"stage"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Error     string    `json:"error,omitempty"`
}

// SmokeRecord captures the outcome of the smoke test stage.
type SmokeRecord struct {
	Passed      bool    `json:"passed"`
	ChecksRun   int     `json:"checks_run"`
	FailedCheck string  `json:"failed_check,omitempty"`
	Output      string  `json:"output,omitempty"`
	DurationSec float64 `json:"duration_seconds"`
}

// DeploymentReport is the write-once record of a single deployment run.
// It is assembled after the run reaches a terminal state and never mutated.
type DeploymentReport struct {
	Stack       string    `json:"stack"`
	ImageTag    string    `json:"image_tag"`
	FromEnv     string    `json:"from_env"`
	ToEnv       string    `json:"to_env"`
	Operator    string    `json:"operator,omitempty"`
	FinalState  string    `json:"final_state"`
	FailedStage string    `json:"failed_stage,omitempty"`
	ErrorClass  string    `json:"error_class,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationSec float64   `json:"duration_seconds"`

	Stages           []StageRecord           `json:"stages"`
	HealthProbes     []probe.Result          `json:"health_probes,omitempty"`
	PostSwitchProbes []probe.Result          `json:"post_switch_probes,omitempty"`
	Smoke            *SmokeRecord            `json:"smoke,omitempty"`
	Rollback         *traffic.RollbackRecord `json:"rollback,omitempty"`
}

// Builder accumulates run data as the orchestrator advances and produces the
// final report exactly once.
type Builder struct {
	report DeploymentReport
}

// NewBuilder starts a report for one deployment run.
func NewBuilder(stack, imageTag, fromEnv, toEnv, operator string) *Builder {
	return &Builder{
		report: DeploymentReport{
			Stack:     stack,
			ImageTag:  imageTag,
			FromEnv:   fromEnv,
			ToEnv:     toEnv,
			Operator:  operator,
			StartedAt: time.Now().UTC(),
		},
	}
}

// SetEnvironments records the resolved active and candidate environments.
// Used when the run starts in auto mode and resolution happens mid-run.
func (b *Builder) SetEnvironments(fromEnv, toEnv string) {
	b.report.FromEnv = fromEnv
	b.report.ToEnv = toEnv
}

// AddStage appends a completed stage to the timeline.
func (b *Builder) AddStage(stage string, startedAt, endedAt time.Time, err error) {
	rec := StageRecord{Stage: stage, StartedAt: startedAt, EndedAt: endedAt}
	if err != nil {
		rec.Error = err.Error()
	}
	b.report.Stages = append(b.report.Stages, rec)
}

// AddHealthProbe appends a pre-switch health probe result.
func (b *Builder) AddHealthProbe(r probe.Result) {
	b.report.HealthProbes = append(b.report.HealthProbes, r)
}

// AddPostSwitchProbe appends a post-switch validation probe result.
func (b *Builder) AddPostSwitchProbe(r probe.Result) {
	b.report.PostSwitchProbes = append(b.report.PostSwitchProbes, r)
}

// SetSmoke records the smoke test outcome.
func (b *Builder) SetSmoke(passed bool, checksRun int, failedCheck, output string, duration time.Duration) {
	b.report.Smoke = &SmokeRecord{
		Passed:      passed,
		ChecksRun:   checksRun,
		FailedCheck: failedCheck,
		Output:      output,
		DurationSec: duration.Seconds(),
	}
}

// SetRollback records the rollback attempt.
func (b *Builder) SetRollback(rec traffic.RollbackRecord) {
	b.report.Rollback = &rec
}

// Finalize stamps the terminal state and returns the completed report.
func (b *Builder) Finalize(finalState, failedStage, errorClass string, runErr error) DeploymentReport {
	b.report.FinalState = finalState
	b.report.FailedStage = failedStage
	b.report.ErrorClass = errorClass
	if runErr != nil {
		b.report.Error = runErr.Error()
	}
	b.report.CompletedAt = time.Now().UTC()
	b.report.DurationSec = b.report.CompletedAt.Sub(b.report.StartedAt).Seconds()
	return b.report
}
