package automation

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/campushive/hivelab/internal/notify"
)

// TriggerType discriminates the trigger union.
type TriggerType string

const (
	TriggerEvent     TriggerType = "event"
	TriggerSchedule  TriggerType = "schedule"
	TriggerThreshold TriggerType = "threshold"
)

// EventTrigger fires when the named event is emitted by an element instance.
type EventTrigger struct {
	InstanceID string `json:"instance_id"`
	EventName  string `json:"event_name"`
}

// ScheduleTrigger fires on a cron schedule, evaluated at minute granularity
// in the given timezone.
type ScheduleTrigger struct {
	Cron     string `json:"cron"`
	Timezone string `json:"timezone"` // IANA name, defaults to UTC
}

// ThresholdTrigger fires when the watched path crosses the comparison: the
// new value satisfies it and the previous value did not.
type ThresholdTrigger struct {
	Path     string  `json:"path"`
	Operator string  `json:"operator"` // > >= < <= == !=
	Value    float64 `json:"value"`
}

// Trigger is a tagged union; exactly one payload matches Type.
type Trigger struct {
	Type      TriggerType       `json:"type"`
	Event     *EventTrigger     `json:"event,omitempty"`
	Schedule  *ScheduleTrigger  `json:"schedule,omitempty"`
	Threshold *ThresholdTrigger `json:"threshold,omitempty"`
}

// Condition is one conjunctive predicate evaluated against shared state
// before actions fire.
type Condition struct {
	Field    string `json:"field"` // dotted state path
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ActionType discriminates the action union.
type ActionType string

const (
	ActionNotify      ActionType = "notify"
	ActionMutate      ActionType = "mutate"
	ActionTriggerTool ActionType = "trigger_tool"
)

// NotifyAction dispatches through the notification collaborator.
type NotifyAction struct {
	Channel    notify.Channel `json:"channel"`
	Recipients string         `json:"recipients"`
	Template   string         `json:"template"`
}

// MutateOp selects how a MutateAction writes.
type MutateOp string

const (
	MutateSet       MutateOp = "set"
	MutateIncrement MutateOp = "increment"
	MutateAppend    MutateOp = "append"
)

// MutateAction writes to shared state. The write re-enters threshold
// evaluation, so cascades from here carry a propagation depth.
type MutateAction struct {
	Path      string   `json:"path"`
	Operation MutateOp `json:"operation"`
	Value     any      `json:"value"`
}

// TriggerToolAction fires an element event on another deployment.
type TriggerToolAction struct {
	DeploymentID string         `json:"deployment_id"`
	InstanceID   string         `json:"instance_id"`
	Event        string         `json:"event"`
	Payload      map[string]any `json:"payload"`
}

// Action is a tagged union; exactly one payload matches Type.
type Action struct {
	Type        ActionType         `json:"type"`
	Notify      *NotifyAction      `json:"notify,omitempty"`
	Mutate      *MutateAction      `json:"mutate,omitempty"`
	TriggerTool *TriggerToolAction `json:"trigger_tool,omitempty"`
}

// Limits caps how often an automation may run. Zero values mean unlimited.
type Limits struct {
	MaxRunsPerDay   int `json:"max_runs_per_day"`
	CooldownSeconds int `json:"cooldown_seconds"`
}

// Automation is a trigger -> conditions -> actions rule scoped to one
// deployment. Runtime fields are updated by the store, not by callers.
type Automation struct {
	ID           string      `json:"id"`
	CampusID     string      `json:"campus_id"`
	DeploymentID string      `json:"deployment_id"`
	Name         string      `json:"name"`
	Enabled      bool        `json:"enabled"`
	Trigger      Trigger     `json:"trigger"`
	Conditions   []Condition `json:"conditions"`
	Actions      []Action    `json:"actions"`
	Limits       Limits      `json:"limits"`

	// Runtime fields.
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	RunsToday      int        `json:"runs_today"`
	RunsTodayDate  string     `json:"runs_today_date"` // UTC date of RunsToday, lazy-reset
	TimesTriggered int64      `json:"times_triggered"`
	SuccessCount   int64      `json:"success_count"`
	FailureCount   int64      `json:"failure_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrInvalidAutomation is returned when a definition fails validation.
var ErrInvalidAutomation = errors.New("invalid automation")

var comparisonOps = map[string]bool{
	">": true, ">=": true, "<": true, "<=": true, "==": true, "!=": true,
}

// Validate checks the definition before it is saved: the trigger payload must
// match its type tag, there must be at least one action, and each action's
// payload must match its tag.
func (a *Automation) Validate() error {
	switch a.Trigger.Type {
	case TriggerEvent:
		if a.Trigger.Event == nil || a.Trigger.Event.InstanceID == "" || a.Trigger.Event.EventName == "" {
			return fmt.Errorf("%w: event trigger requires instance_id and event_name", ErrInvalidAutomation)
		}
	case TriggerSchedule:
		if a.Trigger.Schedule == nil || a.Trigger.Schedule.Cron == "" {
			return fmt.Errorf("%w: schedule trigger requires a cron expression", ErrInvalidAutomation)
		}
		if _, err := cron.ParseStandard(a.Trigger.Schedule.Cron); err != nil {
			return fmt.Errorf("%w: bad cron expression %q: %v", ErrInvalidAutomation, a.Trigger.Schedule.Cron, err)
		}
		if tz := a.Trigger.Schedule.Timezone; tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("%w: bad timezone %q", ErrInvalidAutomation, tz)
			}
		}
	case TriggerThreshold:
		if a.Trigger.Threshold == nil || a.Trigger.Threshold.Path == "" {
			return fmt.Errorf("%w: threshold trigger requires a path", ErrInvalidAutomation)
		}
		if !comparisonOps[a.Trigger.Threshold.Operator] {
			return fmt.Errorf("%w: bad threshold operator %q", ErrInvalidAutomation, a.Trigger.Threshold.Operator)
		}
	default:
		return fmt.Errorf("%w: unknown trigger type %q", ErrInvalidAutomation, a.Trigger.Type)
	}

	if len(a.Actions) == 0 {
		return fmt.Errorf("%w: at least one action required", ErrInvalidAutomation)
	}
	for i, act := range a.Actions {
		switch act.Type {
		case ActionNotify:
			if act.Notify == nil || act.Notify.Channel == "" || act.Notify.Recipients == "" {
				return fmt.Errorf("%w: action %d: notify requires channel and recipients", ErrInvalidAutomation, i)
			}
		case ActionMutate:
			if act.Mutate == nil || act.Mutate.Path == "" {
				return fmt.Errorf("%w: action %d: mutate requires a path", ErrInvalidAutomation, i)
			}
			switch act.Mutate.Operation {
			case MutateSet, MutateIncrement, MutateAppend:
			default:
				return fmt.Errorf("%w: action %d: bad mutate operation %q", ErrInvalidAutomation, i, act.Mutate.Operation)
			}
		case ActionTriggerTool:
			if act.TriggerTool == nil || act.TriggerTool.DeploymentID == "" || act.TriggerTool.InstanceID == "" || act.TriggerTool.Event == "" {
				return fmt.Errorf("%w: action %d: trigger_tool requires deployment_id, instance_id and event", ErrInvalidAutomation, i)
			}
		default:
			return fmt.Errorf("%w: action %d: unknown action type %q", ErrInvalidAutomation, i, act.Type)
		}
	}

	if a.Limits.MaxRunsPerDay < 0 || a.Limits.CooldownSeconds < 0 {
		return fmt.Errorf("%w: limits must be non-negative", ErrInvalidAutomation)
	}
	for i, c := range a.Conditions {
		if c.Field == "" {
			return fmt.Errorf("%w: condition %d: field required", ErrInvalidAutomation, i)
		}
		if !comparisonOps[c.Operator] && c.Operator != "contains" && c.Operator != "exists" {
			return fmt.Errorf("%w: condition %d: bad operator %q", ErrInvalidAutomation, i, c.Operator)
		}
	}
	return nil
}
