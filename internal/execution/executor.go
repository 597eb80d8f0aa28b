// Package execution interprets a composition against a deployment's shared
// state. Propagation is single-hop: an event delivers to its direct listeners
// only, never transitively, which bounds execution cost and makes runtime
// cycle handling unnecessary (cycles are rejected at wiring time).
package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campushive/hivelab/internal/composition"
	"github.com/campushive/hivelab/internal/elements"
	"github.com/campushive/hivelab/internal/notify"
	"github.com/campushive/hivelab/internal/state"
)

// CompositionResolver maps a deployment to its tool's composition.
// Implemented by the deployment service for live mode; preview mode resolves
// from the unsaved editor document.
type CompositionResolver interface {
	CompositionFor(ctx context.Context, campusID, deploymentID string) (*composition.Composition, error)
}

// AutomationHook receives the two push signals automations trigger on.
// Implemented by the automation engine; a no-op hook is valid for previews.
type AutomationHook interface {
	OnElementEvent(ctx context.Context, campusID, deploymentID, instanceID, eventName string, depth int)
	OnStateMutation(ctx context.Context, campusID string, mut *state.Mutation, depth int)
}

// NopHook ignores all signals.
type NopHook struct{}

func (NopHook) OnElementEvent(context.Context, string, string, string, string, int) {}
func (NopHook) OnStateMutation(context.Context, string, *state.Mutation, int)       {}

// DeliveryResult reports what one connection target did with the payload.
type DeliveryResult struct {
	TargetInstanceID string `json:"target_instance_id"`
	ElementID        string `json:"element_id"`
	OK               bool   `json:"ok"`
	Detail           string `json:"detail,omitempty"`
}

// Executor applies element events. One instance serves live mode (Postgres
// state); a second wired against a MemoryStore serves preview mode with
// identical semantics.
type Executor struct {
	registry *elements.Registry
	resolver CompositionResolver
	states   state.Store
	notifier notify.Notifier
	hook     AutomationHook
	logger   *zap.Logger
}

func NewExecutor(registry *elements.Registry, resolver CompositionResolver, states state.Store, notifier notify.Notifier, hook AutomationHook, logger *zap.Logger) *Executor {
	if hook == nil {
		hook = NopHook{}
	}
	return &Executor{
		registry: registry,
		resolver: resolver,
		states:   states,
		notifier: notifier,
		hook:     hook,
		logger:   logger,
	}
}

// Apply is the public entry point for user interactions.
func (x *Executor) Apply(ctx context.Context, campusID, deploymentID, instanceID, eventName string, payload map[string]any) ([]DeliveryResult, error) {
	return x.apply(ctx, campusID, deploymentID, instanceID, eventName, payload, 0)
}

// StateFor returns a deployment's shared state document, the source surfaces
// render displays from.
func (x *Executor) StateFor(ctx context.Context, campusID, deploymentID string) (*state.Document, error) {
	return x.states.Get(ctx, campusID, deploymentID)
}

// ApplyEvent satisfies automation.EventApplier for trigger_tool actions,
// which carry a propagation depth from the run that issued them.
func (x *Executor) ApplyEvent(ctx context.Context, campusID, deploymentID, instanceID, eventName string, payload map[string]any, depth int) error {
	_, err := x.apply(ctx, campusID, deploymentID, instanceID, eventName, payload, depth)
	return err
}

func (x *Executor) apply(ctx context.Context, campusID, deploymentID, instanceID, eventName string, payload map[string]any, depth int) ([]DeliveryResult, error) {
	comp, err := x.resolver.CompositionFor(ctx, campusID, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("Apply: %w", err)
	}

	src := comp.Instance(instanceID)
	if src == nil {
		return nil, fmt.Errorf("%w: %s", composition.ErrUnknownInstance, instanceID)
	}
	srcDef, err := x.registry.Get(src.ElementID)
	if err != nil {
		return nil, err
	}
	if p, ok := srcDef.Port(eventName); !ok || p.Direction != elements.PortOut {
		return nil, fmt.Errorf("%w: %s has no output port %q", composition.ErrPortNotFound, src.ElementID, eventName)
	}

	results := make([]DeliveryResult, 0)
	for _, conn := range comp.ConnectionsFrom(instanceID, eventName) {
		target := comp.Instance(conn.TargetInstanceID)
		if target == nil {
			continue
		}
		res := DeliveryResult{TargetInstanceID: target.InstanceID, ElementID: target.ElementID, OK: true}
		if err := x.deliver(ctx, campusID, deploymentID, src, target, conn.TargetPort, payload, depth); err != nil {
			res.OK = false
			res.Detail = err.Error()
			x.logger.Warn("delivery failed",
				zap.String("deployment_id", deploymentID),
				zap.String("target_instance", target.InstanceID),
				zap.String("element", target.ElementID),
				zap.Error(err),
			)
		}
		results = append(results, res)
	}

	// The event itself is a trigger signal, independent of wiring.
	x.hook.OnElementEvent(ctx, campusID, deploymentID, instanceID, eventName, depth)

	return results, nil
}

// deliver is the element-type-specific input handling. Each state mutation is
// reported to the automation hook so threshold triggers see the crossing.
func (x *Executor) deliver(ctx context.Context, campusID, deploymentID string, src, target *composition.ElementInstance, port string, payload map[string]any, depth int) error {
	switch target.ElementID {
	case "counter":
		path := configString(target.Config, "state_path")
		mut, err := x.states.Increment(ctx, campusID, deploymentID, path, payloadNumber(payload, 1))
		if err != nil {
			return err
		}
		x.hook.OnStateMutation(ctx, campusID, mut, depth)
		return nil

	case "state-mutator":
		return x.mutate(ctx, campusID, deploymentID, target, payload, depth)

	case "collector":
		path := configString(target.Config, "state_path")
		entry := map[string]any{
			"value": payloadValue(payload),
			"from":  src.InstanceID,
			"at":    time.Now().UTC().Format(time.RFC3339),
		}
		if user := payloadUser(payload); user != "" {
			entry["user_id"] = user
			if configBool(target.Config, "one_per_member") {
				if dup, err := x.alreadyCollected(ctx, campusID, deploymentID, path, user); err != nil {
					return err
				} else if dup {
					return fmt.Errorf("member %s already submitted", user)
				}
			}
		}
		mut, err := x.states.Append(ctx, campusID, deploymentID, path, entry)
		if err != nil {
			return err
		}
		x.hook.OnStateMutation(ctx, campusID, mut, depth)
		return nil

	case "list", "leaderboard", "chart":
		path := configString(target.Config, "state_path")
		mut, err := x.states.Append(ctx, campusID, deploymentID, path, payloadValue(payload))
		if err != nil {
			return err
		}
		x.hook.OnStateMutation(ctx, campusID, mut, depth)
		return nil

	case "progress-bar", "text-display":
		// Displays re-render from the written value.
		path := configString(target.Config, "state_path")
		if path == "" {
			path = "elements." + target.InstanceID + ".value"
		}
		mut, err := x.states.SetPath(ctx, campusID, deploymentID, path, payloadValue(payload))
		if err != nil {
			return err
		}
		x.hook.OnStateMutation(ctx, campusID, mut, depth)
		return nil

	case "notifier":
		channel := notify.Channel(configString(target.Config, "channel"))
		recipients := configString(target.Config, "recipients")
		template := configString(target.Config, "template")
		return x.notifier.Send(ctx, channel, recipients, template)

	case "threshold-gate", "range-filter", "text-match", "dedupe":
		// Filters store their verdict; downstream displays read it from
		// state. Single-hop means filters never re-emit.
		passed := filterPasses(target, payloadValue(payload))
		mut, err := x.states.SetPath(ctx, campusID, deploymentID, "elements."+target.InstanceID+".passed", passed)
		if err != nil {
			return err
		}
		x.hook.OnStateMutation(ctx, campusID, mut, depth)
		return nil

	default:
		// Elements with no runtime behavior still record the last input
		// so the editor can show data flowing.
		mut, err := x.states.SetPath(ctx, campusID, deploymentID, "elements."+target.InstanceID+".last."+port, payloadValue(payload))
		if err != nil {
			return err
		}
		x.hook.OnStateMutation(ctx, campusID, mut, depth)
		return nil
	}
}

func (x *Executor) mutate(ctx context.Context, campusID, deploymentID string, target *composition.ElementInstance, payload map[string]any, depth int) error {
	path := configString(target.Config, "state_path")
	var mut *state.Mutation
	var err error
	switch configString(target.Config, "operation") {
	case "increment":
		mut, err = x.states.Increment(ctx, campusID, deploymentID, path, payloadNumber(payload, 1))
	case "append":
		mut, err = x.states.Append(ctx, campusID, deploymentID, path, payloadValue(payload))
	default:
		mut, err = x.states.SetPath(ctx, campusID, deploymentID, path, payloadValue(payload))
	}
	if err != nil {
		return err
	}
	x.hook.OnStateMutation(ctx, campusID, mut, depth)
	return nil
}

func (x *Executor) alreadyCollected(ctx context.Context, campusID, deploymentID, path, userID string) (bool, error) {
	doc, err := x.states.Get(ctx, campusID, deploymentID)
	if err != nil {
		return false, err
	}
	cur, _ := state.GetPath(doc.Data, path)
	arr, _ := cur.([]any)
	for _, item := range arr {
		if m, ok := item.(map[string]any); ok && m["user_id"] == userID {
			return true, nil
		}
	}
	return false, nil
}

func filterPasses(target *composition.ElementInstance, val any) bool {
	switch target.ElementID {
	case "threshold-gate":
		n, ok := state.AsNumber(val)
		if !ok {
			return false
		}
		want, _ := state.AsNumber(target.Config["value"])
		switch configString(target.Config, "operator") {
		case ">":
			return n > want
		case ">=":
			return n >= want
		case "<":
			return n < want
		case "<=":
			return n <= want
		case "==":
			return n == want
		case "!=":
			return n != want
		}
		return false
	case "range-filter":
		n, ok := state.AsNumber(val)
		if !ok {
			return false
		}
		min, _ := state.AsNumber(target.Config["min"])
		max, _ := state.AsNumber(target.Config["max"])
		return n >= min && n <= max
	case "text-match":
		s, ok := val.(string)
		if !ok {
			return false
		}
		return containsFold(s, configString(target.Config, "pattern"), configBool(target.Config, "case_sensitive"))
	default:
		return true
	}
}

func containsFold(s, pattern string, caseSensitive bool) bool {
	if caseSensitive {
		return strings.Contains(s, pattern)
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(pattern))
}

func configString(cfg map[string]any, key string) string {
	if cfg == nil {
		return ""
	}
	s, _ := cfg[key].(string)
	return s
}

func configBool(cfg map[string]any, key string) bool {
	if cfg == nil {
		return false
	}
	b, _ := cfg[key].(bool)
	return b
}

// payloadValue returns the conventional "value" field, or the whole payload.
func payloadValue(payload map[string]any) any {
	if payload == nil {
		return nil
	}
	if v, ok := payload["value"]; ok {
		return v
	}
	return payload
}

func payloadNumber(payload map[string]any, fallback float64) float64 {
	if payload != nil {
		if n, ok := state.AsNumber(payload["value"]); ok && n != 0 {
			return n
		}
	}
	return fallback
}

func payloadUser(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	s, _ := payload["user_id"].(string)
	return s
}
