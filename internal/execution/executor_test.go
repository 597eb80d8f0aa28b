package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/composition"
	"github.com/campushive/hivelab/internal/elements"
	"github.com/campushive/hivelab/internal/notify"
	"github.com/campushive/hivelab/internal/state"
)

type staticResolver struct {
	comp *composition.Composition
}

func (r *staticResolver) CompositionFor(_ context.Context, _, _ string) (*composition.Composition, error) {
	return r.comp, nil
}

type recordingHook struct {
	events    []string
	mutations []*state.Mutation
}

func (h *recordingHook) OnElementEvent(_ context.Context, _, _, instanceID, eventName string, _ int) {
	h.events = append(h.events, instanceID+":"+eventName)
}

func (h *recordingHook) OnStateMutation(_ context.Context, _ string, mut *state.Mutation, _ int) {
	h.mutations = append(h.mutations, mut)
}

func buildPoll(t *testing.T, reg *elements.Registry) (*composition.Tool, string, string) {
	t.Helper()
	tool := composition.NewTool("campus-1", "user-1", "Pizza Poll", "")
	vote, err := tool.AddInstance(reg, "vote-button", map[string]any{"label": "Vote A", "option": "A"}, composition.Position{})
	require.NoError(t, err)
	counter, err := tool.AddInstance(reg, "counter", map[string]any{"state_path": "counters.votes"}, composition.Position{X: 10})
	require.NoError(t, err)
	require.NoError(t, tool.Connect(reg, vote, "vote", counter, "increment"))
	return tool, vote, counter
}

// Deploying a poll with one vote button wired to one counter: three clicks
// leave shared state at votes=3 and that value is what the display renders.
func TestApply_PollEndToEnd(t *testing.T) {
	reg, err := elements.NewRegistry()
	require.NoError(t, err)
	tool, vote, _ := buildPoll(t, reg)

	states := state.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, states.Init(ctx, "campus-1", "dep-1", map[string]any{"counters": map[string]any{"votes": 0.0}}))

	hook := &recordingHook{}
	x := NewExecutor(reg, &staticResolver{comp: &tool.Composition}, states, notify.NewLogNotifier(zap.NewNop()), hook, zap.NewNop())

	for i := 0; i < 3; i++ {
		results, err := x.Apply(ctx, "campus-1", "dep-1", vote, "vote", map[string]any{"option": "A"})
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.True(t, results[0].OK)
	}

	doc, err := states.Get(ctx, "campus-1", "dep-1")
	require.NoError(t, err)
	v, _ := state.GetPath(doc.Data, "counters.votes")
	n, _ := state.AsNumber(v)
	require.EqualValues(t, 3, n)

	// Every click raised both an element-event signal and a mutation signal.
	require.Len(t, hook.events, 3)
	require.Len(t, hook.mutations, 3)
	require.EqualValues(t, 3, hook.mutations[2].New)
}

func TestApply_UnknownInstance(t *testing.T) {
	reg, _ := elements.NewRegistry()
	tool, _, _ := buildPoll(t, reg)
	x := NewExecutor(reg, &staticResolver{comp: &tool.Composition}, state.NewMemoryStore(), nil, nil, zap.NewNop())

	_, err := x.Apply(context.Background(), "campus-1", "dep-1", "ghost", "vote", nil)
	require.ErrorIs(t, err, composition.ErrUnknownInstance)
}

func TestApply_NotAnOutputPort(t *testing.T) {
	reg, _ := elements.NewRegistry()
	tool, _, counter := buildPoll(t, reg)
	x := NewExecutor(reg, &staticResolver{comp: &tool.Composition}, state.NewMemoryStore(), nil, nil, zap.NewNop())

	// "increment" is an input port on counter, not an emittable event.
	_, err := x.Apply(context.Background(), "campus-1", "dep-1", counter, "increment", nil)
	require.ErrorIs(t, err, composition.ErrPortNotFound)
}

func TestApply_EventWithNoListenersStillSignalsHook(t *testing.T) {
	reg, _ := elements.NewRegistry()
	tool := composition.NewTool("campus-1", "user-1", "Lonely", "")
	btn, err := tool.AddInstance(reg, "button", map[string]any{"label": "Go"}, composition.Position{})
	require.NoError(t, err)

	hook := &recordingHook{}
	x := NewExecutor(reg, &staticResolver{comp: &tool.Composition}, state.NewMemoryStore(), nil, hook, zap.NewNop())

	results, err := x.Apply(context.Background(), "campus-1", "dep-1", btn, "click", nil)
	require.NoError(t, err)
	require.Empty(t, results)
	require.Equal(t, []string{btn + ":click"}, hook.events)
}

func TestDeliver_FilterStoresVerdict(t *testing.T) {
	reg, _ := elements.NewRegistry()
	tool := composition.NewTool("campus-1", "user-1", "Gate", "")
	num, err := tool.AddInstance(reg, "number-input", nil, composition.Position{})
	require.NoError(t, err)
	gate, err := tool.AddInstance(reg, "threshold-gate", map[string]any{"operator": ">", "value": 10}, composition.Position{X: 10})
	require.NoError(t, err)
	require.NoError(t, tool.Connect(reg, num, "submit", gate, "in"))

	states := state.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, states.Init(ctx, "campus-1", "dep-1", nil))
	x := NewExecutor(reg, &staticResolver{comp: &tool.Composition}, states, nil, nil, zap.NewNop())

	_, err = x.Apply(ctx, "campus-1", "dep-1", num, "submit", map[string]any{"value": 15.0})
	require.NoError(t, err)

	doc, _ := states.Get(ctx, "campus-1", "dep-1")
	v, ok := state.GetPath(doc.Data, "elements."+gate+".passed")
	require.True(t, ok)
	require.Equal(t, true, v)

	_, err = x.Apply(ctx, "campus-1", "dep-1", num, "submit", map[string]any{"value": 5.0})
	require.NoError(t, err)
	doc, _ = states.Get(ctx, "campus-1", "dep-1")
	v, _ = state.GetPath(doc.Data, "elements."+gate+".passed")
	require.Equal(t, false, v)
}

func TestDeliver_CollectorOnePerMember(t *testing.T) {
	reg, _ := elements.NewRegistry()
	tool := composition.NewTool("campus-1", "user-1", "Signups", "")
	rsvp, err := tool.AddInstance(reg, "rsvp-button", map[string]any{"event_name": "Game Night"}, composition.Position{})
	require.NoError(t, err)
	coll, err := tool.AddInstance(reg, "collector", map[string]any{"state_path": "collections.rsvps", "one_per_member": true}, composition.Position{X: 10})
	require.NoError(t, err)
	require.NoError(t, tool.Connect(reg, rsvp, "rsvp", coll, "in"))

	states := state.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, states.Init(ctx, "campus-1", "dep-1", nil))
	x := NewExecutor(reg, &staticResolver{comp: &tool.Composition}, states, nil, nil, zap.NewNop())

	payload := map[string]any{"value": "going", "user_id": "alice"}
	results, err := x.Apply(ctx, "campus-1", "dep-1", rsvp, "rsvp", payload)
	require.NoError(t, err)
	require.True(t, results[0].OK)

	// Duplicate submission from the same member is rejected at delivery,
	// not surfaced as a request error.
	results, err = x.Apply(ctx, "campus-1", "dep-1", rsvp, "rsvp", payload)
	require.NoError(t, err)
	require.False(t, results[0].OK)

	doc, _ := states.Get(ctx, "campus-1", "dep-1")
	v, _ := state.GetPath(doc.Data, "collections.rsvps")
	arr, ok := v.([]any)
	require.True(t, ok)
	require.Len(t, arr, 1)
}

func TestApply_ResolverError(t *testing.T) {
	reg, _ := elements.NewRegistry()
	x := NewExecutor(reg, failingResolver{}, state.NewMemoryStore(), nil, nil, zap.NewNop())
	_, err := x.Apply(context.Background(), "campus-1", "dep-1", "i", "e", nil)
	require.Error(t, err)
}

type failingResolver struct{}

func (failingResolver) CompositionFor(context.Context, string, string) (*composition.Composition, error) {
	return nil, errors.New("deployment gone")
}
