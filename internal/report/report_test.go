package report

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cutover/internal/probe"
	"cutover/internal/traffic"
)

func TestBuilder_SuccessfulRun(t *testing.T) {
	b := NewBuilder("myapp", "v2.1.0", "blue", "green", "alice")

	start := time.Now().UTC()
	b.AddStage("VALIDATING", start, start.Add(time.Second), nil)
	b.AddStage("DEPLOYING", start.Add(time.Second), start.Add(10*time.Second), nil)
	b.AddHealthProbe(probe.Result{Attempt: 1, Success: true, LatencyMs: 12})
	b.SetSmoke(true, 3, "", "all checks passed", 4*time.Second)

	rep := b.Finalize("COMPLETED", "", "", nil)

	if rep.FinalState != "COMPLETED" {
		t.Errorf("FinalState = %q", rep.FinalState)
	}
	if rep.Error != "" || rep.FailedStage != "" {
		t.Error("Expected no error fields on success")
	}
	if len(rep.Stages) != 2 {
		t.Errorf("Expected 2 stages, got %d", len(rep.Stages))
	}
	if rep.Smoke == nil || !rep.Smoke.Passed || rep.Smoke.ChecksRun != 3 {
		t.Errorf("Unexpected smoke record: %+v", rep.Smoke)
	}
	if rep.Rollback != nil {
		t.Error("Expected no rollback record on success")
	}
	if rep.CompletedAt.Before(rep.StartedAt) {
		t.Error("CompletedAt before StartedAt")
	}
}

func TestBuilder_FailedRunWithRollback(t *testing.T) {
	b := NewBuilder("myapp", "v2.1.0", "", "", "")
	b.SetEnvironments("blue", "green")

	runErr := errors.New("public endpoint probe exhausted")
	b.AddPostSwitchProbe(probe.Result{Attempt: 1, Success: false, Detail: "unexpected status 502 Bad Gateway"})
	b.SetRollback(traffic.RollbackRecord{
		TriggeringStage: "VALIDATING_SWITCH",
		Reason:          runErr.Error(),
		Succeeded:       true,
	})

	rep := b.Finalize("FAILED", "VALIDATING_SWITCH", "PostSwitchValidationFailure", runErr)

	if rep.FromEnv != "blue" || rep.ToEnv != "green" {
		t.Errorf("Environments not resolved: from=%q to=%q", rep.FromEnv, rep.ToEnv)
	}
	if rep.ErrorClass != "PostSwitchValidationFailure" {
		t.Errorf("ErrorClass = %q", rep.ErrorClass)
	}
	if rep.Rollback == nil || !rep.Rollback.Succeeded {
		t.Errorf("Unexpected rollback record: %+v", rep.Rollback)
	}
	if len(rep.PostSwitchProbes) != 1 {
		t.Errorf("Expected 1 post-switch probe, got %d", len(rep.PostSwitchProbes))
	}
}

func TestFileSink_WriteAndReadBack(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	sink, err := NewFileSink(dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewFileSink error: %v", err)
	}

	b := NewBuilder("myapp", "v1.0.0", "blue", "green", "ci")
	rep := b.Finalize("COMPLETED", "", "", nil)

	path, err := sink.Write(rep)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}

	var decoded DeploymentReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if decoded.Stack != "myapp" || decoded.FinalState != "COMPLETED" {
		t.Errorf("Round-trip mismatch: %+v", decoded)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat error: %v", err)
	}
	if info.Mode().Perm() != 0640 {
		t.Errorf("Expected 0640 perms, got %o", info.Mode().Perm())
	}
}
