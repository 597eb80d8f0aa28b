package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/notify"
	"github.com/campushive/hivelab/internal/runlog"
	"github.com/campushive/hivelab/internal/state"
)

type sentNotification struct {
	Channel    notify.Channel
	Recipients string
	Content    string
}

type mockNotifier struct {
	mu    sync.Mutex
	sent  []sentNotification
	err   error
	delay time.Duration
}

func (m *mockNotifier) Send(ctx context.Context, channel notify.Channel, recipients, content string) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.err != nil {
		return m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentNotification{channel, recipients, content})
	return nil
}

type captureRunlog struct {
	mu     sync.Mutex
	events []*runlog.RunEvent
}

func (c *captureRunlog) Write(e *runlog.RunEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}
func (c *captureRunlog) Close() {}

func (c *captureRunlog) last() *runlog.RunEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func (c *captureRunlog) countOutcome(o runlog.Outcome) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

type engineFixture struct {
	engine   *Engine
	auts     *MemoryStore
	states   *state.MemoryStore
	notifier *mockNotifier
	runs     *captureRunlog
}

func newFixture(t *testing.T, cfg Config) *engineFixture {
	t.Helper()
	f := &engineFixture{
		auts:     NewMemoryStore(),
		states:   state.NewMemoryStore(),
		notifier: &mockNotifier{},
		runs:     &captureRunlog{},
	}
	f.engine = NewEngine(f.auts, f.states, f.notifier, f.runs, cfg, zap.NewNop())
	return f
}

const (
	campus = "campus-1"
	dep    = "dep-1"
)

func thresholdAutomation(id, path, op string, value float64, actions ...Action) *Automation {
	return &Automation{
		ID:           id,
		CampusID:     campus,
		DeploymentID: dep,
		Name:         id,
		Enabled:      true,
		Trigger: Trigger{
			Type:      TriggerThreshold,
			Threshold: &ThresholdTrigger{Path: path, Operator: op, Value: value},
		},
		Actions: actions,
	}
}

func notifyAction(recipients string) Action {
	return Action{
		Type:   ActionNotify,
		Notify: &NotifyAction{Channel: notify.ChannelEmail, Recipients: recipients, Template: "threshold reached"},
	}
}

func TestThreshold_FiresExactlyOncePerCrossing(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.states.Init(ctx, campus, dep, map[string]any{"counters": map[string]any{"signups": 5.0}}))

	a := thresholdAutomation("a-1", "counters.signups", ">", 10, notifyAction("leaders"))
	require.NoError(t, a.Validate())
	require.NoError(t, f.auts.Save(ctx, a))

	// 5 -> 15 crosses >10 in a single mutation.
	mut, err := f.states.SetPath(ctx, campus, dep, "counters.signups", 15.0)
	require.NoError(t, err)
	f.engine.OnStateMutation(ctx, campus, mut, 0)

	got, err := f.auts.Get(ctx, campus, "a-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, got.TimesTriggered)
	require.Len(t, f.notifier.sent, 1)

	// 15 -> 20 is already above threshold: no crossing, no fire.
	mut, err = f.states.SetPath(ctx, campus, dep, "counters.signups", 20.0)
	require.NoError(t, err)
	f.engine.OnStateMutation(ctx, campus, mut, 0)

	got, err = f.auts.Get(ctx, campus, "a-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, got.TimesTriggered, "no re-fire on a value merely staying above threshold")
	require.Len(t, f.notifier.sent, 1)
}

func TestThreshold_NotifyDispatchedWithConfiguredRecipients(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.states.Init(ctx, campus, dep, map[string]any{"counters": map[string]any{"signups": 9.0}}))

	a := thresholdAutomation("a-1", "counters.signups", ">=", 10, notifyAction("leaders"))
	require.NoError(t, f.auts.Save(ctx, a))

	mut, err := f.states.SetPath(ctx, campus, dep, "counters.signups", 10.0)
	require.NoError(t, err)
	f.engine.OnStateMutation(ctx, campus, mut, 0)

	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, notify.ChannelEmail, f.notifier.sent[0].Channel)
	require.Equal(t, "leaders", f.notifier.sent[0].Recipients)
}

func TestRateLimit_ThreeOfTenRunsRecorded(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.states.Init(ctx, campus, dep, nil))

	a := thresholdAutomation("a-1", "x", ">", 0, notifyAction("leaders"))
	a.Limits = Limits{MaxRunsPerDay: 3}
	require.NoError(t, f.auts.Save(ctx, a))

	for i := 0; i < 10; i++ {
		f.engine.run(ctx, a, 0)
	}

	got, err := f.auts.Get(ctx, campus, "a-1")
	require.NoError(t, err)
	require.EqualValues(t, 3, got.TimesTriggered)
	require.EqualValues(t, 3, got.SuccessCount)
	require.EqualValues(t, 0, got.FailureCount, "suppressions are not failures")
	require.Equal(t, 7, f.runs.countOutcome(runlog.OutcomeSuppressedRate))
	require.Equal(t, 3, f.runs.countOutcome(runlog.OutcomeRan))
}

func TestCooldown_SecondTriggerSuppressed(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.states.Init(ctx, campus, dep, nil))

	a := thresholdAutomation("a-1", "x", ">", 0, notifyAction("leaders"))
	a.Limits = Limits{CooldownSeconds: 60}
	require.NoError(t, f.auts.Save(ctx, a))

	// Two triggers well inside the cooldown window.
	f.engine.run(ctx, a, 0)
	f.engine.run(ctx, a, 0)

	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, 1, f.runs.countOutcome(runlog.OutcomeRan))
	require.Equal(t, 1, f.runs.countOutcome(runlog.OutcomeSuppressedCooldown))
}

func TestReserveRun_LazyUTCDayReset(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := thresholdAutomation("a-1", "x", ">", 0, notifyAction("r"))
	a.Limits = Limits{MaxRunsPerDay: 1}
	require.NoError(t, s.Save(ctx, a))

	day1 := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	res, err := s.ReserveRun(ctx, campus, "a-1", day1)
	require.NoError(t, err)
	require.True(t, res.OK)

	res, err = s.ReserveRun(ctx, campus, "a-1", day1.Add(time.Second))
	require.NoError(t, err)
	require.False(t, res.OK)
	require.Equal(t, SuppressRate, res.Reason)

	// Crossing the UTC day boundary resets the counter lazily.
	day2 := day1.Add(2 * time.Minute)
	res, err = s.ReserveRun(ctx, campus, "a-1", day2)
	require.NoError(t, err)
	require.True(t, res.OK)
}

func TestConditions_SkipIsNeitherSuccessNorFailure(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.states.Init(ctx, campus, dep, map[string]any{"mode": "quiet"}))

	a := thresholdAutomation("a-1", "x", ">", 0, notifyAction("leaders"))
	a.Conditions = []Condition{{Field: "mode", Operator: "==", Value: "loud"}}
	require.NoError(t, f.auts.Save(ctx, a))

	f.engine.run(ctx, a, 0)

	got, err := f.auts.Get(ctx, campus, "a-1")
	require.NoError(t, err)
	require.EqualValues(t, 0, got.TimesTriggered)
	require.EqualValues(t, 0, got.SuccessCount)
	require.EqualValues(t, 0, got.FailureCount)
	require.Equal(t, 1, f.runs.countOutcome(runlog.OutcomeConditionsNotMet))
	require.Empty(t, f.notifier.sent)
}

func TestActions_FailureDoesNotAbortLaterActions(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.states.Init(ctx, campus, dep, nil))

	a := thresholdAutomation("a-1", "x", ">", 0,
		Action{Type: ActionNotify, Notify: &NotifyAction{Channel: "carrier-pigeon", Recipients: "r"}},
		Action{Type: ActionMutate, Mutate: &MutateAction{Path: "counters.after", Operation: MutateIncrement, Value: 1.0}},
	)
	require.NoError(t, f.auts.Save(ctx, a))

	// The real notifier rejects the unknown channel; the mutate after it
	// must still run.
	f.notifier.err = notify.ErrUnknownChannel
	f.engine.run(ctx, a, 0)

	doc, err := f.states.Get(ctx, campus, dep)
	require.NoError(t, err)
	v, _ := state.GetPath(doc.Data, "counters.after")
	n, _ := state.AsNumber(v)
	require.EqualValues(t, 1, n)

	got, err := f.auts.Get(ctx, campus, "a-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, got.SuccessCount)
	require.EqualValues(t, 1, got.FailureCount, "one failure bump per run with any failed action")
}

func TestActions_NotifyTimeoutRecordedAsFailure(t *testing.T) {
	f := newFixture(t, Config{ActionTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, f.states.Init(ctx, campus, dep, nil))
	f.notifier.delay = 200 * time.Millisecond

	a := thresholdAutomation("a-1", "x", ">", 0, notifyAction("leaders"))
	require.NoError(t, f.auts.Save(ctx, a))

	f.engine.run(ctx, a, 0)

	got, err := f.auts.Get(ctx, campus, "a-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, got.FailureCount)
	require.Empty(t, f.notifier.sent)
}

// A's mutate satisfies B's threshold and vice versa; the depth budget is the
// only thing standing between this configuration and an infinite loop.
// Each run resets the other path to 0 and then sets it to 1, so every write
// is a fresh 0 -> 1 crossing.
func TestCascade_DepthBudget(t *testing.T) {
	f := newFixture(t, Config{MaxDepth: 5})
	ctx := context.Background()
	require.NoError(t, f.states.Init(ctx, campus, dep, nil))

	a := thresholdAutomation("a-A", "ping", ">=", 1,
		Action{Type: ActionMutate, Mutate: &MutateAction{Path: "pong", Operation: MutateSet, Value: 0.0}},
		Action{Type: ActionMutate, Mutate: &MutateAction{Path: "pong", Operation: MutateSet, Value: 1.0}},
	)
	b := thresholdAutomation("a-B", "pong", ">=", 1,
		Action{Type: ActionMutate, Mutate: &MutateAction{Path: "ping", Operation: MutateSet, Value: 0.0}},
		Action{Type: ActionMutate, Mutate: &MutateAction{Path: "ping", Operation: MutateSet, Value: 1.0}},
	)
	require.NoError(t, f.auts.Save(ctx, a))
	require.NoError(t, f.auts.Save(ctx, b))

	mut, err := f.states.SetPath(ctx, campus, dep, "ping", 1.0)
	require.NoError(t, err)
	f.engine.OnStateMutation(ctx, campus, mut, 0)

	ran := f.runs.countOutcome(runlog.OutcomeRan)
	halted := f.runs.countOutcome(runlog.OutcomeDepthHalted)
	require.Equal(t, 5, ran, "exactly maxDepth propagated runs")
	require.GreaterOrEqual(t, halted, 1, "the chain must end in a depth halt, not exhaustion")
}

func TestRunNow_UnknownAutomation(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.engine.RunNow(context.Background(), campus, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func eventAutomation(id, instanceID, eventName string, actions ...Action) *Automation {
	return &Automation{
		ID:           id,
		CampusID:     campus,
		DeploymentID: dep,
		Name:         id,
		Enabled:      true,
		Trigger: Trigger{
			Type:  TriggerEvent,
			Event: &EventTrigger{InstanceID: instanceID, EventName: eventName},
		},
		Actions: actions,
	}
}

func TestEventTrigger_MatchesInstanceAndEventName(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	require.NoError(t, f.states.Init(ctx, campus, dep, nil))

	a := eventAutomation("a-1", "btn-1", "click", notifyAction("leaders"))
	require.NoError(t, a.Validate())
	require.NoError(t, f.auts.Save(ctx, a))

	f.engine.OnElementEvent(ctx, campus, dep, "btn-1", "click", 0)
	require.Len(t, f.notifier.sent, 1)

	// Same instance, different event name: no fire.
	f.engine.OnElementEvent(ctx, campus, dep, "btn-1", "hover", 0)
	// Same event name, different instance: no fire.
	f.engine.OnElementEvent(ctx, campus, dep, "btn-2", "click", 0)

	require.Len(t, f.notifier.sent, 1)
	require.Equal(t, 1, f.runs.countOutcome(runlog.OutcomeRan))

	got, err := f.auts.Get(ctx, campus, "a-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, got.TimesTriggered)
}

type appliedEvent struct {
	CampusID     string
	DeploymentID string
	InstanceID   string
	EventName    string
	Depth        int
}

type recordingApplier struct {
	mu      sync.Mutex
	applied []appliedEvent
	err     error
}

func (r *recordingApplier) ApplyEvent(_ context.Context, campusID, deploymentID, instanceID, eventName string, _ map[string]any, depth int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied = append(r.applied, appliedEvent{campusID, deploymentID, instanceID, eventName, depth})
	return r.err
}

func TestTriggerTool_AppliesEventOnTargetDeployment(t *testing.T) {
	f := newFixture(t, Config{})
	applier := &recordingApplier{}
	f.engine.SetApplier(applier)
	ctx := context.Background()
	require.NoError(t, f.states.Init(ctx, campus, dep, nil))

	a := eventAutomation("a-1", "btn-1", "click", Action{
		Type: ActionTriggerTool,
		TriggerTool: &TriggerToolAction{
			DeploymentID: "dep-2",
			InstanceID:   "vote-1",
			Event:        "vote",
			Payload:      map[string]any{"option": "yes"},
		},
	})
	require.NoError(t, a.Validate())
	require.NoError(t, f.auts.Save(ctx, a))

	f.engine.OnElementEvent(ctx, campus, dep, "btn-1", "click", 0)

	require.Len(t, applier.applied, 1)
	got := applier.applied[0]
	require.Equal(t, campus, got.CampusID)
	require.Equal(t, "dep-2", got.DeploymentID)
	require.Equal(t, "vote-1", got.InstanceID)
	require.Equal(t, "vote", got.EventName)
	require.Equal(t, 1, got.Depth, "applied event carries the next cascade depth")

	require.Equal(t, 1, f.runs.countOutcome(runlog.OutcomeRan))
	require.EqualValues(t, 0, f.runs.last().ActionsFailed)
}

type reserveFailStore struct {
	*MemoryStore
}

func (s *reserveFailStore) ReserveRun(context.Context, string, string, time.Time) (*RunReservation, error) {
	return nil, errors.New("store unavailable")
}

func TestReserveRunStoreError_RecordedAsInternalError(t *testing.T) {
	auts := &reserveFailStore{MemoryStore: NewMemoryStore()}
	states := state.NewMemoryStore()
	notifier := &mockNotifier{}
	runs := &captureRunlog{}
	engine := NewEngine(auts, states, notifier, runs, Config{}, zap.NewNop())
	ctx := context.Background()
	require.NoError(t, states.Init(ctx, campus, dep, nil))

	a := thresholdAutomation("a-1", "x", ">", 0, notifyAction("leaders"))
	require.NoError(t, auts.Save(ctx, a))

	require.NoError(t, engine.RunNow(ctx, campus, "a-1"))

	require.Equal(t, 1, runs.countOutcome(runlog.OutcomeInternalError))
	require.Equal(t, 0, runs.countOutcome(runlog.OutcomeConditionsNotMet),
		"a store failure is not a conditions miss")
	require.Empty(t, notifier.sent, "actions must not run when reservation fails")
}
