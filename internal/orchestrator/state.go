// Package orchestrator drives a blue/green deployment run through its
// lifecycle: a strictly linear stage sequence with a single rollback branch
// after the traffic switch.
package orchestrator

// State identifies where a deployment run is in its lifecycle.
type State string

const (
	StateValidating       State = "VALIDATING"
	StateDeploying        State = "DEPLOYING"
	StateAwaitingReady    State = "AWAITING_READY"
	StateHealthChecking   State = "HEALTH_CHECKING"
	StateSmokeTesting     State = "SMOKE_TESTING"
	StateSwitching        State = "SWITCHING"
	StateValidatingSwitch State = "VALIDATING_SWITCH"
	StateRollingBack      State = "ROLLING_BACK"
	StateCompleted        State = "COMPLETED"
	StateFailed           State = "FAILED"
)

func (s State) String() string {
	return string(s)
}

// Terminal reports whether the run can make no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// RequiresRollback reports whether a failure in this state happens at or
// after the traffic switch and therefore must revert it. The old environment
// has stopped being the traffic target by then; everything earlier fails
// without touching traffic.
func (s State) RequiresRollback() bool {
	return s == StateSwitching || s == StateValidatingSwitch
}
