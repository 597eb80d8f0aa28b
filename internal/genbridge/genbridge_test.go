package genbridge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/composition"
	"github.com/campushive/hivelab/internal/elements"
)

func testRegistry(t *testing.T) *elements.Registry {
	t.Helper()
	reg, err := elements.NewRegistry()
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	return reg
}

func pollSketch() *Sketch {
	return &Sketch{
		Name:        "Pizza Poll",
		Description: "Vote for friday pizza",
		Instances: []SketchInstance{
			{Ref: "btn", Element: "vote-button", Config: map[string]any{"label": "Pepperoni", "option": "pepperoni"}},
			{Ref: "count", Element: "counter", Config: map[string]any{"state_path": "votes.pepperoni"}},
		},
		Connections: []SketchConnection{
			{FromRef: "btn", FromPort: "vote", ToRef: "count", ToPort: "increment"},
		},
	}
}

type stubGenerator struct {
	sketch *Sketch
	err    error
}

func (s *stubGenerator) Generate(context.Context, string, string) (*Sketch, error) {
	return s.sketch, s.err
}

func TestGenerateTool_ValidSketchBecomesDraft(t *testing.T) {
	svc := NewService(&stubGenerator{sketch: pollSketch()}, testRegistry(t), zap.NewNop())

	tool, err := svc.GenerateTool(context.Background(), "campus1", "u1", "a pizza poll")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tool.Status != composition.StatusDraft {
		t.Fatalf("expected draft status, got %s", tool.Status)
	}
	if tool.OwnerID != "u1" {
		t.Fatalf("expected owner u1, got %s", tool.OwnerID)
	}
	if len(tool.Composition.Instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(tool.Composition.Instances))
	}
	if len(tool.Composition.Connections) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(tool.Composition.Connections))
	}
}

func TestGenerateTool_UnknownElementRejected(t *testing.T) {
	sketch := pollSketch()
	sketch.Instances[0].Element = "mind-reader"
	svc := NewService(&stubGenerator{sketch: sketch}, testRegistry(t), zap.NewNop())

	_, err := svc.GenerateTool(context.Background(), "campus1", "u1", "p")
	if !errors.Is(err, ErrGenerationRejected) {
		t.Fatalf("expected ErrGenerationRejected, got %v", err)
	}
}

func TestGenerateTool_BadConfigRejected(t *testing.T) {
	sketch := pollSketch()
	sketch.Instances[1].Config = map[string]any{} // counter requires state_path
	svc := NewService(&stubGenerator{sketch: sketch}, testRegistry(t), zap.NewNop())

	_, err := svc.GenerateTool(context.Background(), "campus1", "u1", "p")
	if !errors.Is(err, ErrGenerationRejected) {
		t.Fatalf("expected ErrGenerationRejected, got %v", err)
	}
}

func TestGenerateTool_DanglingConnectionRejected(t *testing.T) {
	sketch := pollSketch()
	sketch.Connections[0].ToRef = "nope"
	svc := NewService(&stubGenerator{sketch: sketch}, testRegistry(t), zap.NewNop())

	_, err := svc.GenerateTool(context.Background(), "campus1", "u1", "p")
	if !errors.Is(err, ErrGenerationRejected) {
		t.Fatalf("expected ErrGenerationRejected, got %v", err)
	}
}

func TestGenerateTool_TypeMismatchRejected(t *testing.T) {
	sketch := pollSketch()
	// click is an object port; increment wants a number
	sketch.Connections[0].FromPort = "click"
	svc := NewService(&stubGenerator{sketch: sketch}, testRegistry(t), zap.NewNop())

	_, err := svc.GenerateTool(context.Background(), "campus1", "u1", "p")
	if !errors.Is(err, ErrGenerationRejected) {
		t.Fatalf("expected ErrGenerationRejected, got %v", err)
	}
}

func TestGenerateTool_EmptySketchRejected(t *testing.T) {
	svc := NewService(&stubGenerator{sketch: &Sketch{Name: "empty"}}, testRegistry(t), zap.NewNop())

	_, err := svc.GenerateTool(context.Background(), "campus1", "u1", "p")
	if !errors.Is(err, ErrGenerationRejected) {
		t.Fatalf("expected ErrGenerationRejected, got %v", err)
	}
}

func TestHTTPGenerator_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.CampusID != "campus1" || req.Prompt != "a pizza poll" {
			t.Fatalf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(pollSketch())
	}))
	defer srv.Close()

	g := NewHTTPGenerator(HTTPGeneratorConfig{Endpoint: srv.URL})
	sketch, err := g.Generate(context.Background(), "campus1", "a pizza poll")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sketch.Name != "Pizza Poll" || len(sketch.Instances) != 2 {
		t.Fatalf("unexpected sketch: %+v", sketch)
	}
}

func TestHTTPGenerator_ServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(HTTPGeneratorConfig{Endpoint: srv.URL})
	_, err := g.Generate(context.Background(), "campus1", "p")
	if !errors.Is(err, ErrGeneratorUnavailable) {
		t.Fatalf("expected ErrGeneratorUnavailable, got %v", err)
	}
}
