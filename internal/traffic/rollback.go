package traffic

import (
	"context"
	"log/slog"
	"time"

	"cutover/internal/platform"
)

// RollbackRecord documents a rollback attempt. It is created only when a run
// enters rollback and is terminal: a failed rollback is never retried
// automatically.
type RollbackRecord struct {
	TriggeringStage string    `json:"triggering_stage"`
	Reason          string    `json:"reason"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	Succeeded       bool      `json:"succeeded"`
	Detail          string    `json:"detail,omitempty"`
}

// RollbackController reverts the traffic target to the previously-active
// environment. It is the only component permitted to run after a switch has
// occurred and something downstream failed.
type RollbackController struct {
	client  platform.Client
	journal Journal
	logger  *slog.Logger
	stack   string
}

// NewRollbackController creates a rollback controller for a stack.
func NewRollbackController(stackName string, client platform.Client, journal Journal, logger *slog.Logger) *RollbackController {
	return &RollbackController{
		client:  client,
		journal: journal,
		logger:  logger,
		stack:   stackName,
	}
}

// Rollback issues one repoint call back to previousTarget. The call is
// attempted exactly once: a stuck traffic router during rollback is an
// emergency for a human, not a retry loop. Success clears the switch
// journal; failure leaves it set for the operator to find.
func (r *RollbackController) Rollback(ctx context.Context, previousTarget, triggeringStage, reason string) RollbackRecord {
	record := RollbackRecord{
		TriggeringStage: triggeringStage,
		Reason:          reason,
		StartedAt:       time.Now().UTC(),
	}

	r.logger.Warn("rolling back traffic",
		"stack", r.stack,
		"target", previousTarget,
		"triggering_stage", triggeringStage,
		"reason", reason)

	if err := r.client.SetTarget(ctx, previousTarget); err != nil {
		record.CompletedAt = time.Now().UTC()
		record.Succeeded = false
		record.Detail = err.Error()
		r.logger.Error("rollback failed, traffic target in unknown state; manual intervention required",
			"stack", r.stack,
			"target", previousTarget,
			"error", err)
		return record
	}

	if err := r.journal.ClearSwitched(ctx, r.stack); err != nil {
		// Traffic is restored; a stale journal entry is an operator nuisance,
		// not a failed rollback.
		r.logger.Error("rollback succeeded but journal clear failed", "stack", r.stack, "error", err)
	}

	record.CompletedAt = time.Now().UTC()
	record.Succeeded = true
	r.logger.Info("rollback succeeded", "stack", r.stack, "target", previousTarget)
	return record
}
