package composition

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"testing"

	"github.com/campushive/hivelab/internal/elements"
)

func testRegistry(t *testing.T) *elements.Registry {
	t.Helper()
	reg, err := elements.NewRegistry()
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func TestAddInstance_UnknownElement(t *testing.T) {
	reg := testRegistry(t)
	tool := NewTool("campus-1", "user-1", "Poll", "")

	_, err := tool.AddInstance(reg, "teleporter", nil, Position{})
	if !errors.Is(err, ErrUnknownElement) {
		t.Fatalf("expected ErrUnknownElement, got %v", err)
	}
}

func TestAddInstance_InvalidConfigLeavesCompositionUnchanged(t *testing.T) {
	reg := testRegistry(t)
	tool := NewTool("campus-1", "user-1", "Poll", "")

	if _, err := tool.AddInstance(reg, "button", map[string]any{"label": "Go"}, Position{}); err != nil {
		t.Fatal(err)
	}
	before, err := json.Marshal(tool.Composition)
	if err != nil {
		t.Fatal(err)
	}

	_, err = tool.AddInstance(reg, "vote-button", map[string]any{"label": "A"}, Position{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}

	after, err := json.Marshal(tool.Composition)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatalf("rejected AddInstance mutated the composition:\nbefore %s\nafter  %s", before, after)
	}
}

func TestConnect_Errors(t *testing.T) {
	reg := testRegistry(t)
	tool := NewTool("campus-1", "user-1", "Poll", "")

	vote, err := tool.AddInstance(reg, "vote-button", map[string]any{"label": "A", "option": "A"}, Position{})
	if err != nil {
		t.Fatal(err)
	}
	counter, err := tool.AddInstance(reg, "counter", map[string]any{"state_path": "counters.votes"}, Position{X: 10})
	if err != nil {
		t.Fatal(err)
	}
	text, err := tool.AddInstance(reg, "text-display", map[string]any{"text": "hi"}, Position{X: 20})
	if err != nil {
		t.Fatal(err)
	}

	if err := tool.Connect(reg, "ghost", "vote", counter, "increment"); !errors.Is(err, ErrUnknownInstance) {
		t.Fatalf("expected ErrUnknownInstance, got %v", err)
	}
	if err := tool.Connect(reg, vote, "nope", counter, "increment"); !errors.Is(err, ErrPortNotFound) {
		t.Fatalf("expected ErrPortNotFound, got %v", err)
	}
	// Wrong direction: "increment" is an input port, not a source.
	if err := tool.Connect(reg, counter, "increment", vote, "click"); !errors.Is(err, ErrPortNotFound) {
		t.Fatalf("expected ErrPortNotFound for wrong direction, got %v", err)
	}
	// number -> string
	if err := tool.Connect(reg, vote, "vote", text, "text"); !errors.Is(err, ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch, got %v", err)
	}

	if err := tool.Connect(reg, vote, "vote", counter, "increment"); err != nil {
		t.Fatalf("valid connect failed: %v", err)
	}
	if len(tool.Composition.Connections) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(tool.Composition.Connections))
	}
}

func TestConnect_CycleDetected(t *testing.T) {
	reg := testRegistry(t)
	tool := NewTool("campus-1", "user-1", "Loop", "")

	gateCfg := map[string]any{"operator": ">", "value": 0}
	a, _ := tool.AddInstance(reg, "threshold-gate", gateCfg, Position{})
	b, _ := tool.AddInstance(reg, "threshold-gate", gateCfg, Position{X: 10})
	c, _ := tool.AddInstance(reg, "threshold-gate", gateCfg, Position{X: 20})

	if err := tool.Connect(reg, a, "pass", b, "in"); err != nil {
		t.Fatal(err)
	}
	if err := tool.Connect(reg, b, "pass", c, "in"); err != nil {
		t.Fatal(err)
	}
	if err := tool.Connect(reg, c, "pass", a, "in"); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	// Self loop
	if err := tool.Connect(reg, a, "pass", a, "in"); !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected on self-loop, got %v", err)
	}
}

// After N random connect attempts that individually pass validation, a
// topological sort of the instance graph must still succeed.
func TestConnect_RandomGraphStaysAcyclic(t *testing.T) {
	reg := testRegistry(t)
	rng := rand.New(rand.NewSource(42))

	for trial := 0; trial < 20; trial++ {
		tool := NewTool("campus-1", "user-1", "Random", "")
		gateCfg := map[string]any{"operator": ">", "value": 0}

		ids := make([]string, 12)
		for i := range ids {
			id, err := tool.AddInstance(reg, "threshold-gate", gateCfg, Position{X: float64(i)})
			if err != nil {
				t.Fatal(err)
			}
			ids[i] = id
		}

		for n := 0; n < 60; n++ {
			src := ids[rng.Intn(len(ids))]
			dst := ids[rng.Intn(len(ids))]
			err := tool.Connect(reg, src, "pass", dst, "in")
			if err != nil && !errors.Is(err, ErrCycleDetected) {
				t.Fatalf("unexpected connect error: %v", err)
			}
		}

		if !topoSortable(&tool.Composition) {
			t.Fatalf("trial %d produced a cyclic graph", trial)
		}
	}
}

func topoSortable(c *Composition) bool {
	indeg := map[string]int{}
	for _, in := range c.Instances {
		indeg[in.InstanceID] = 0
	}
	for _, conn := range c.Connections {
		indeg[conn.TargetInstanceID]++
	}
	var queue []string
	for id, d := range indeg {
		if d == 0 {
			queue = append(queue, id)
		}
	}
	seen := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		seen++
		for _, conn := range c.Connections {
			if conn.SourceInstanceID != cur {
				continue
			}
			indeg[conn.TargetInstanceID]--
			if indeg[conn.TargetInstanceID] == 0 {
				queue = append(queue, conn.TargetInstanceID)
			}
		}
	}
	return seen == len(c.Instances)
}

func TestRemoveInstance_DropsConnections(t *testing.T) {
	reg := testRegistry(t)
	tool := NewTool("campus-1", "user-1", "Poll", "")

	vote, _ := tool.AddInstance(reg, "vote-button", map[string]any{"label": "A", "option": "A"}, Position{})
	counter, _ := tool.AddInstance(reg, "counter", map[string]any{"state_path": "counters.votes"}, Position{X: 10})
	if err := tool.Connect(reg, vote, "vote", counter, "increment"); err != nil {
		t.Fatal(err)
	}

	if err := tool.RemoveInstance(counter); err != nil {
		t.Fatal(err)
	}
	if len(tool.Composition.Instances) != 1 {
		t.Fatalf("expected 1 instance, got %d", len(tool.Composition.Instances))
	}
	if len(tool.Composition.Connections) != 0 {
		t.Fatalf("expected connections removed, got %d", len(tool.Composition.Connections))
	}
}

func TestPublish_RequiresValidComposition(t *testing.T) {
	reg := testRegistry(t)
	tool := NewTool("campus-1", "user-1", "Poll", "")

	vote, _ := tool.AddInstance(reg, "vote-button", map[string]any{"label": "A", "option": "A"}, Position{})
	counter, _ := tool.AddInstance(reg, "counter", map[string]any{"state_path": "counters.votes"}, Position{X: 10})
	if err := tool.Connect(reg, vote, "vote", counter, "increment"); err != nil {
		t.Fatal(err)
	}

	// Orphan a connection endpoint behind Validate's back.
	tool.Composition.Connections = append(tool.Composition.Connections, Connection{
		SourceInstanceID: "ghost", SourcePort: "vote",
		TargetInstanceID: counter, TargetPort: "increment",
	})
	if err := tool.Publish(reg); !errors.Is(err, ErrNotValid) {
		t.Fatalf("expected ErrNotValid, got %v", err)
	}
	tool.Composition.Connections = tool.Composition.Connections[:1]

	if err := tool.Publish(reg); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if tool.Status != StatusPublished {
		t.Fatalf("expected published, got %s", tool.Status)
	}
	if err := tool.Publish(reg); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus on double publish, got %v", err)
	}
}

func TestMemoryStore_VersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	tool := NewTool("campus-1", "user-1", "Poll", "")
	if err := store.Save(ctx, tool); err != nil {
		t.Fatal(err)
	}

	a, err := store.Get(ctx, "campus-1", tool.ID)
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.Get(ctx, "campus-1", tool.ID)
	if err != nil {
		t.Fatal(err)
	}

	a.Name = "Poll v2"
	if err := store.Save(ctx, a); err != nil {
		t.Fatal(err)
	}

	b.Name = "Poll v3"
	if err := store.Save(ctx, b); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}
