package composition

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campushive/hivelab/internal/elements"
)

// NewTool creates an empty draft tool.
func NewTool(campusID, ownerID, name, description string) *Tool {
	now := time.Now().UTC()
	return &Tool{
		ID:          uuid.NewString(),
		CampusID:    campusID,
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Visibility:  VisibilityPrivate,
		Status:      StatusDraft,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AddInstance validates config against the element's schema and appends a new
// instance. On any failure the composition is left unchanged.
func (t *Tool) AddInstance(reg *elements.Registry, elementID string, config map[string]any, pos Position) (string, error) {
	if _, err := reg.Get(elementID); err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownElement, elementID)
	}
	if err := reg.ValidateConfig(elementID, config); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	instanceID := uuid.NewString()
	t.Composition.Instances = append(t.Composition.Instances, ElementInstance{
		InstanceID: instanceID,
		ElementID:  elementID,
		Config:     config,
		Position:   pos,
		Size:       Size{W: 4, H: 2},
	})
	return instanceID, nil
}

// RemoveInstance deletes an instance and every connection touching it.
func (t *Tool) RemoveInstance(instanceID string) error {
	if t.Composition.Instance(instanceID) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}

	instances := t.Composition.Instances[:0]
	for _, in := range t.Composition.Instances {
		if in.InstanceID != instanceID {
			instances = append(instances, in)
		}
	}
	t.Composition.Instances = instances

	conns := t.Composition.Connections[:0]
	for _, c := range t.Composition.Connections {
		if c.SourceInstanceID != instanceID && c.TargetInstanceID != instanceID {
			conns = append(conns, c)
		}
	}
	t.Composition.Connections = conns
	return nil
}

// Connect wires an output port to an input port after checking that both
// endpoints exist, directions and types line up, and the new edge keeps the
// instance graph acyclic. Wiring alone never triggers execution.
func (t *Tool) Connect(reg *elements.Registry, srcID, srcPort, dstID, dstPort string) error {
	src := t.Composition.Instance(srcID)
	if src == nil {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, srcID)
	}
	dst := t.Composition.Instance(dstID)
	if dst == nil {
		return fmt.Errorf("%w: %s", ErrUnknownInstance, dstID)
	}

	srcDef, err := reg.Get(src.ElementID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownElement, src.ElementID)
	}
	dstDef, err := reg.Get(dst.ElementID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUnknownElement, dst.ElementID)
	}

	sp, ok := srcDef.Port(srcPort)
	if !ok || sp.Direction != elements.PortOut {
		return fmt.Errorf("%w: %s has no output port %q", ErrPortNotFound, src.ElementID, srcPort)
	}
	dp, ok := dstDef.Port(dstPort)
	if !ok || dp.Direction != elements.PortIn {
		return fmt.Errorf("%w: %s has no input port %q", ErrPortNotFound, dst.ElementID, dstPort)
	}
	if !elements.Compatible(sp.Type, dp.Type) {
		return fmt.Errorf("%w: %s(%s) -> %s(%s)", ErrTypeMismatch, srcPort, sp.Type, dstPort, dp.Type)
	}

	// The new edge src->dst closes a cycle iff src is already reachable
	// from dst. Graphs are a few dozen nodes, a DFS per connect is fine.
	if t.Composition.reachable(dstID, srcID) {
		return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, srcID, dstID)
	}

	t.Composition.Connections = append(t.Composition.Connections, Connection{
		SourceInstanceID: srcID,
		SourcePort:       srcPort,
		TargetInstanceID: dstID,
		TargetPort:       dstPort,
	})
	return nil
}

// Disconnect removes an exact connection if present.
func (t *Tool) Disconnect(srcID, srcPort, dstID, dstPort string) bool {
	for i, c := range t.Composition.Connections {
		if c.SourceInstanceID == srcID && c.SourcePort == srcPort &&
			c.TargetInstanceID == dstID && c.TargetPort == dstPort {
			t.Composition.Connections = append(t.Composition.Connections[:i], t.Composition.Connections[i+1:]...)
			return true
		}
	}
	return false
}

// reachable reports whether `to` can be reached from `from` following
// connections source->target.
func (c *Composition) reachable(from, to string) bool {
	if from == to {
		return true
	}
	visited := map[string]bool{from: true}
	stack := []string{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, conn := range c.Connections {
			if conn.SourceInstanceID != cur {
				continue
			}
			next := conn.TargetInstanceID
			if next == to {
				return true
			}
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// Validate runs the full-graph sanity pass: every instance config still
// schema-valid, every connection endpoint resolving to a live instance and a
// real port. Gate for the draft -> published transition.
func (t *Tool) Validate(reg *elements.Registry) error {
	for _, in := range t.Composition.Instances {
		if err := reg.ValidateConfig(in.ElementID, in.Config); err != nil {
			return fmt.Errorf("%w: instance %s: %v", ErrNotValid, in.InstanceID, err)
		}
	}
	for _, conn := range t.Composition.Connections {
		src := t.Composition.Instance(conn.SourceInstanceID)
		dst := t.Composition.Instance(conn.TargetInstanceID)
		if src == nil || dst == nil {
			return fmt.Errorf("%w: orphan connection %s.%s -> %s.%s", ErrNotValid,
				conn.SourceInstanceID, conn.SourcePort, conn.TargetInstanceID, conn.TargetPort)
		}
		srcDef, err := reg.Get(src.ElementID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotValid, err)
		}
		dstDef, err := reg.Get(dst.ElementID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotValid, err)
		}
		if p, ok := srcDef.Port(conn.SourcePort); !ok || p.Direction != elements.PortOut {
			return fmt.Errorf("%w: connection references missing output port %s.%s", ErrNotValid, src.ElementID, conn.SourcePort)
		}
		if p, ok := dstDef.Port(conn.TargetPort); !ok || p.Direction != elements.PortIn {
			return fmt.Errorf("%w: connection references missing input port %s.%s", ErrNotValid, dst.ElementID, conn.TargetPort)
		}
	}
	return nil
}

// Publish transitions draft -> published after validation.
func (t *Tool) Publish(reg *elements.Registry) error {
	if t.Status != StatusDraft {
		return fmt.Errorf("%w: %s", ErrBadStatus, t.Status)
	}
	if err := t.Validate(reg); err != nil {
		return err
	}
	t.Status = StatusPublished
	return nil
}

// Archive retires a tool. Archived tools keep their deployments readable but
// accept no new ones.
func (t *Tool) Archive() error {
	if t.Status != StatusPublished {
		return fmt.Errorf("%w: %s", ErrBadStatus, t.Status)
	}
	t.Status = StatusArchived
	return nil
}

// Suspend is the moderation path; any non-archived tool can be suspended.
func (t *Tool) Suspend() error {
	if t.Status == StatusArchived {
		return fmt.Errorf("%w: %s", ErrBadStatus, t.Status)
	}
	t.Status = StatusSuspended
	return nil
}
