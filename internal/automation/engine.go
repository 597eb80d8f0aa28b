package automation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/notify"
	"github.com/campushive/hivelab/internal/runlog"
	"github.com/campushive/hivelab/internal/state"
)

// EventApplier fires an element event on a deployment. Implemented by the
// execution layer; injected after construction to break the package cycle
// (execution calls back into the engine for its trigger hooks).
type EventApplier interface {
	ApplyEvent(ctx context.Context, campusID, deploymentID, instanceID, eventName string, payload map[string]any, depth int) error
}

// Config tunes the engine.
type Config struct {
	ActionTimeout time.Duration // per-action cap, default 5s
	MaxDepth      int           // max cascaded runs per chain, default 5
}

// Engine evaluates automations: trigger match, conditions, limits, then the
// actions in order. Run failures stay inside the automation's own counters
// and never propagate to the interaction that triggered them.
type Engine struct {
	automations Store
	states      state.Store
	notifier    notify.Notifier
	runs        runlog.Writer
	logger      *zap.Logger

	actionTimeout time.Duration
	maxDepth      int

	applier EventApplier
}

// NewEngine creates an engine. Call SetApplier before any trigger_tool action
// can succeed.
func NewEngine(automations Store, states state.Store, notifier notify.Notifier, runs runlog.Writer, cfg Config, logger *zap.Logger) *Engine {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 5 * time.Second
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 5
	}
	return &Engine{
		automations:   automations,
		states:        states,
		notifier:      notifier,
		runs:          runs,
		logger:        logger,
		actionTimeout: cfg.ActionTimeout,
		maxDepth:      cfg.MaxDepth,
	}
}

// SetApplier wires the execution layer in.
func (e *Engine) SetApplier(a EventApplier) {
	e.applier = a
}

// OnElementEvent is the push-model entry point for event triggers: the
// execution layer calls it at the moment an element emits an event.
func (e *Engine) OnElementEvent(ctx context.Context, campusID, deploymentID, instanceID, eventName string, depth int) {
	auts, err := e.automations.ListByDeployment(ctx, campusID, deploymentID)
	if err != nil {
		e.logger.Warn("automation lookup failed on element event",
			zap.String("deployment_id", deploymentID),
			zap.Error(err),
		)
		return
	}
	for _, a := range auts {
		if a.Trigger.Type != TriggerEvent || a.Trigger.Event == nil {
			continue
		}
		if a.Trigger.Event.InstanceID != instanceID || a.Trigger.Event.EventName != eventName {
			continue
		}
		e.run(ctx, a, depth)
	}
}

// OnStateMutation evaluates threshold triggers watching the mutated path.
// Fires only on a crossing: the new value satisfies the comparison and the
// old value did not. A value merely sitting above a threshold never re-fires.
func (e *Engine) OnStateMutation(ctx context.Context, campusID string, mut *state.Mutation, depth int) {
	auts, err := e.automations.ListByDeployment(ctx, campusID, mut.DeploymentID)
	if err != nil {
		e.logger.Warn("automation lookup failed on state mutation",
			zap.String("deployment_id", mut.DeploymentID),
			zap.Error(err),
		)
		return
	}
	for _, a := range auts {
		if a.Trigger.Type != TriggerThreshold || a.Trigger.Threshold == nil {
			continue
		}
		trig := a.Trigger.Threshold
		if trig.Path != mut.Path {
			continue
		}
		oldN, okOld := state.AsNumber(mut.Old)
		newN, okNew := state.AsNumber(mut.New)
		if !okNew {
			continue
		}
		if !okOld {
			oldN = 0
		}
		if compareNumbers(newN, trig.Operator, trig.Value) && !compareNumbers(oldN, trig.Operator, trig.Value) {
			e.run(ctx, a, depth)
		}
	}
}

// RunDue runs every schedule automation due at now. Called from the scheduler
// tick endpoint; the cron/timer service itself is an external collaborator.
func (e *Engine) RunDue(ctx context.Context, now time.Time) int {
	due, err := e.DueSchedules(ctx, now)
	if err != nil {
		e.logger.Warn("schedule listing failed", zap.Error(err))
		return 0
	}
	for _, a := range due {
		e.run(ctx, a, 0)
	}
	return len(due)
}

// RunNow force-evaluates one automation (manual run from the editor).
// Conditions and limits still apply.
func (e *Engine) RunNow(ctx context.Context, campusID, automationID string) error {
	a, err := e.automations.Get(ctx, campusID, automationID)
	if err != nil {
		return err
	}
	e.run(ctx, a, 0)
	return nil
}

// run is one trigger instance: conditions, limits, then actions in order.
// Errors are recorded, never returned; one bad run must not break the
// user-facing interaction that fired it.
func (e *Engine) run(ctx context.Context, a *Automation, depth int) {
	start := time.Now()
	event := &runlog.RunEvent{
		RunID:        uuid.NewString(),
		CampusID:     a.CampusID,
		DeploymentID: a.DeploymentID,
		AutomationID: a.ID,
		TriggerType:  string(a.Trigger.Type),
		ActionsTotal: int32(len(a.Actions)),
		Depth:        int32(depth),
		Timestamp:    start.UTC(),
	}
	defer func() {
		event.LatencyMs = float32(time.Since(start).Microseconds()) / 1000
		e.runs.Write(event)
	}()

	if depth >= e.maxDepth {
		// Safety valve for mutate->threshold->mutate chains. Halt the
		// chain, log it, keep serving.
		event.Outcome = runlog.OutcomeDepthHalted
		e.logger.Warn("max propagation depth exceeded, halting cascade",
			zap.String("automation_id", a.ID),
			zap.Int("depth", depth),
			zap.Int("max_depth", e.maxDepth),
		)
		return
	}

	ok, detail := e.conditionsPass(ctx, a)
	if !ok {
		// Neither success nor failure, just not-triggered.
		event.Outcome = runlog.OutcomeConditionsNotMet
		event.Detail = detail
		return
	}

	res, err := e.automations.ReserveRun(ctx, a.CampusID, a.ID, time.Now())
	if err != nil {
		e.logger.Warn("run reservation failed",
			zap.String("automation_id", a.ID),
			zap.Error(err),
		)
		event.Outcome = runlog.OutcomeInternalError
		event.Detail = "reservation error: " + err.Error()
		return
	}
	if !res.OK {
		switch res.Reason {
		case SuppressCooldown:
			event.Outcome = runlog.OutcomeSuppressedCooldown
		default:
			event.Outcome = runlog.OutcomeSuppressedRate
		}
		event.Detail = string(res.Reason)
		e.logger.Info("automation run suppressed",
			zap.String("automation_id", a.ID),
			zap.String("reason", string(res.Reason)),
		)
		return
	}

	succeeded, failed := 0, 0
	var failures []string
	for i, act := range a.Actions {
		if err := e.execAction(ctx, a, act, depth); err != nil {
			// Best-effort, not transactional: later actions still run.
			failed++
			failures = append(failures, fmt.Sprintf("action %d (%s): %v", i, act.Type, err))
			e.logger.Warn("automation action failed",
				zap.String("automation_id", a.ID),
				zap.Int("action_index", i),
				zap.String("action_type", string(act.Type)),
				zap.Error(err),
			)
			continue
		}
		succeeded++
	}

	if err := e.automations.RecordResult(ctx, a.CampusID, a.ID, succeeded, failed); err != nil {
		e.logger.Warn("recording run result failed",
			zap.String("automation_id", a.ID),
			zap.Error(err),
		)
	}

	event.Outcome = runlog.OutcomeRan
	event.ActionsFailed = int32(failed)
	event.Detail = strings.Join(failures, "; ")
}

// execAction runs one action under the per-action timeout, so a slow notify
// provider cannot stall the actions after it.
func (e *Engine) execAction(ctx context.Context, a *Automation, act Action, depth int) error {
	actx, cancel := context.WithTimeout(ctx, e.actionTimeout)
	defer cancel()

	switch act.Type {
	case ActionNotify:
		err := e.notifier.Send(actx, act.Notify.Channel, act.Notify.Recipients, act.Notify.Template)
		if actx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("notify timed out after %s", e.actionTimeout)
		}
		return err

	case ActionMutate:
		mut, err := e.applyMutate(actx, a, act.Mutate)
		if err != nil {
			return err
		}
		// A mutate can satisfy another automation's threshold; the
		// depth counter is what guarantees the chain terminates.
		e.OnStateMutation(ctx, a.CampusID, mut, depth+1)
		return nil

	case ActionTriggerTool:
		if e.applier == nil {
			return fmt.Errorf("no event applier wired")
		}
		tt := act.TriggerTool
		return e.applier.ApplyEvent(actx, a.CampusID, tt.DeploymentID, tt.InstanceID, tt.Event, tt.Payload, depth+1)

	default:
		return fmt.Errorf("unknown action type %q", act.Type)
	}
}

func (e *Engine) applyMutate(ctx context.Context, a *Automation, m *MutateAction) (*state.Mutation, error) {
	switch m.Operation {
	case MutateIncrement:
		delta, ok := state.AsNumber(m.Value)
		if !ok {
			return nil, fmt.Errorf("increment value is not numeric")
		}
		if delta == 0 {
			delta = 1
		}
		return e.states.Increment(ctx, a.CampusID, a.DeploymentID, m.Path, delta)
	case MutateAppend:
		return e.states.Append(ctx, a.CampusID, a.DeploymentID, m.Path, m.Value)
	default:
		return e.states.SetPath(ctx, a.CampusID, a.DeploymentID, m.Path, m.Value)
	}
}

// conditionsPass evaluates the conjunctive condition list against the
// automation's state scope.
func (e *Engine) conditionsPass(ctx context.Context, a *Automation) (bool, string) {
	if len(a.Conditions) == 0 {
		return true, ""
	}
	doc, err := e.states.Get(ctx, a.CampusID, a.DeploymentID)
	if err != nil {
		return false, "state read failed: " + err.Error()
	}
	for _, c := range a.Conditions {
		val, found := state.GetPath(doc.Data, c.Field)
		if !conditionHolds(c, val, found) {
			return false, fmt.Sprintf("condition %s %s %v not met", c.Field, c.Operator, c.Value)
		}
	}
	return true, ""
}

func conditionHolds(c Condition, val any, found bool) bool {
	switch c.Operator {
	case "exists":
		return found
	case "contains":
		s, ok := val.(string)
		want, ok2 := c.Value.(string)
		return ok && ok2 && strings.Contains(s, want)
	case "==", "!=":
		eq := valuesEqual(val, c.Value)
		if c.Operator == "==" {
			return eq
		}
		return !eq
	default:
		vn, ok := state.AsNumber(val)
		if !ok || !found {
			return false
		}
		wn, ok := state.AsNumber(c.Value)
		if !ok {
			return false
		}
		return compareNumbers(vn, c.Operator, wn)
	}
}

func valuesEqual(a, b any) bool {
	an, aok := state.AsNumber(a)
	bn, bok := state.AsNumber(b)
	if aok && bok {
		return an == bn
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareNumbers(v float64, op string, want float64) bool {
	switch op {
	case ">":
		return v > want
	case ">=":
		return v >= want
	case "<":
		return v < want
	case "<=":
		return v <= want
	case "==":
		return v == want
	case "!=":
		return v != want
	default:
		return false
	}
}
