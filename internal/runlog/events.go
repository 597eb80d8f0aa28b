package runlog

import "time"

// Outcome classifies one automation evaluation.
type Outcome string

const (
	OutcomeRan                Outcome = "ran"
	OutcomeSuppressedRate     Outcome = "suppressed_rate"
	OutcomeSuppressedCooldown Outcome = "suppressed_cooldown"
	OutcomeConditionsNotMet   Outcome = "conditions_not_met"
	OutcomeDepthHalted        Outcome = "depth_halted"
	OutcomeInternalError      Outcome = "internal_error"
)

// RunEvent records one automation evaluation for observability.
// Suppressions and condition skips are events too; the counters on the
// automation row only tell you about completed runs.
type RunEvent struct {
	RunID        string
	CampusID     string
	DeploymentID string
	AutomationID string
	TriggerType  string
	Outcome      Outcome
	ActionsTotal int32
	ActionsFailed int32
	Depth        int32
	Detail       string
	LatencyMs    float32
	Timestamp    time.Time
}

// Writer is the sink for automation run events.
// Write() must NEVER block the caller.
type Writer interface {
	Write(event *RunEvent)
	Close()
}
