// Package genbridge turns natural-language prompts into draft tools via an
// external generation service. Generator output is untrusted: every sketch is
// rebuilt through the composition graph API so it passes the same element and
// wiring validation as a hand-built tool.
package genbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/composition"
	"github.com/campushive/hivelab/internal/elements"
)

// Sketch is the wire format the generation service returns. Instance refs are
// local to the sketch; real instance IDs are assigned during rebuild.
type Sketch struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Instances   []SketchInstance   `json:"instances"`
	Connections []SketchConnection `json:"connections"`
}

type SketchInstance struct {
	Ref      string               `json:"ref"`
	Element  string               `json:"element"`
	Config   map[string]any       `json:"config"`
	Position composition.Position `json:"position"`
}

type SketchConnection struct {
	FromRef  string `json:"from_ref"`
	FromPort string `json:"from_port"`
	ToRef    string `json:"to_ref"`
	ToPort   string `json:"to_port"`
}

// Generator produces a tool sketch from a prompt.
type Generator interface {
	Generate(ctx context.Context, campusID, prompt string) (*Sketch, error)
}

// ErrGenerationRejected is returned when a sketch fails composition validation.
var ErrGenerationRejected = errors.New("generated composition rejected")

// ErrGeneratorUnavailable is returned when the generation service cannot be reached.
var ErrGeneratorUnavailable = errors.New("generator unavailable")

// HTTPGenerator calls an external generation endpoint over JSON.
type HTTPGenerator struct {
	endpoint string
	client   *http.Client
	apiKey   string
}

// HTTPGeneratorConfig configures the HTTPGenerator.
type HTTPGeneratorConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// NewHTTPGenerator creates a generator backed by an HTTP endpoint.
func NewHTTPGenerator(cfg HTTPGeneratorConfig) *HTTPGenerator {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPGenerator{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		apiKey:   cfg.APIKey,
	}
}

type generateRequest struct {
	CampusID string `json:"campus_id"`
	Prompt   string `json:"prompt"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, campusID, prompt string) (*Sketch, error) {
	body, err := json.Marshal(generateRequest{CampusID: campusID, Prompt: prompt})
	if err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("Generate: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrGeneratorUnavailable, resp.StatusCode, snippet)
	}

	var sketch Sketch
	if err := json.NewDecoder(resp.Body).Decode(&sketch); err != nil {
		return nil, fmt.Errorf("Generate: decode: %w", err)
	}
	return &sketch, nil
}

// Service rebuilds generator sketches into validated draft tools.
type Service struct {
	generator Generator
	registry  *elements.Registry
	logger    *zap.Logger
}

// NewService creates a generation bridge service.
func NewService(generator Generator, registry *elements.Registry, logger *zap.Logger) *Service {
	return &Service{generator: generator, registry: registry, logger: logger}
}

// GenerateTool prompts the generator and materializes the sketch as a draft
// tool owned by the requesting user. The sketch is replayed through
// AddInstance and Connect; any invalid element, config, port or cycle rejects
// the whole sketch.
func (s *Service) GenerateTool(ctx context.Context, campusID, ownerID, prompt string) (*composition.Tool, error) {
	sketch, err := s.generator.Generate(ctx, campusID, prompt)
	if err != nil {
		return nil, err
	}

	tool, err := s.materialize(campusID, ownerID, sketch)
	if err != nil {
		s.logger.Warn("rejected generated sketch",
			zap.String("campus_id", campusID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrGenerationRejected, err)
	}

	s.logger.Info("generated draft tool",
		zap.String("campus_id", campusID),
		zap.String("tool_id", tool.ID),
		zap.Int("instances", len(sketch.Instances)),
		zap.Int("connections", len(sketch.Connections)),
	)
	return tool, nil
}

func (s *Service) materialize(campusID, ownerID string, sketch *Sketch) (*composition.Tool, error) {
	if sketch.Name == "" {
		return nil, errors.New("sketch has no name")
	}
	if len(sketch.Instances) == 0 {
		return nil, errors.New("sketch has no instances")
	}

	tool := composition.NewTool(campusID, ownerID, sketch.Name, sketch.Description)

	refs := make(map[string]string, len(sketch.Instances))
	for _, inst := range sketch.Instances {
		if inst.Ref == "" {
			return nil, errors.New("instance with empty ref")
		}
		if _, dup := refs[inst.Ref]; dup {
			return nil, fmt.Errorf("duplicate instance ref %q", inst.Ref)
		}
		id, err := tool.AddInstance(s.registry, inst.Element, inst.Config, inst.Position)
		if err != nil {
			return nil, fmt.Errorf("instance %q: %w", inst.Ref, err)
		}
		refs[inst.Ref] = id
	}

	for _, conn := range sketch.Connections {
		srcID, ok := refs[conn.FromRef]
		if !ok {
			return nil, fmt.Errorf("connection from unknown ref %q", conn.FromRef)
		}
		dstID, ok := refs[conn.ToRef]
		if !ok {
			return nil, fmt.Errorf("connection to unknown ref %q", conn.ToRef)
		}
		if err := tool.Connect(s.registry, srcID, conn.FromPort, dstID, conn.ToPort); err != nil {
			return nil, fmt.Errorf("connection %s.%s -> %s.%s: %w",
				conn.FromRef, conn.FromPort, conn.ToRef, conn.ToPort, err)
		}
	}

	if err := tool.Validate(s.registry); err != nil {
		return nil, err
	}
	return tool, nil
}
