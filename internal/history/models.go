package history

import "time"

// Run statuses recorded in the database.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRejected   = "rejected"
)

// RunRecord represents a single deployment run in the database
type RunRecord struct {
	ID                int64
	Stack             string
	ImageTag          string
	FromEnv           string
	ToEnv             string
	Status            string // in_progress, completed, failed, rejected
	FailedStage       *string
	Operator          string
	StartedAt         time.Time
	CompletedAt       *time.Time // nullable
	DurationSeconds   *float64   // nullable
	RollbackAttempted bool
	RollbackSucceeded *bool   // nullable, set only when a rollback ran
	ErrorMessage      *string // nullable
}

// SwitchEntry is a journal row recording that traffic for a stack has been
// repointed by a run that has not yet reached a terminal state. An entry that
// survives a process crash tells the operator rollback may be required.
type SwitchEntry struct {
	Stack      string
	FromEnv    string
	ToEnv      string
	SwitchedAt time.Time
}
