package composition

import "time"

// ToolStatus is the tool lifecycle state.
type ToolStatus string

const (
	StatusDraft     ToolStatus = "draft"
	StatusPublished ToolStatus = "published"
	StatusArchived  ToolStatus = "archived"
	StatusSuspended ToolStatus = "suspended"
)

// Visibility controls who can see a tool in directories and search.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilitySpace   Visibility = "space"
	VisibilityCampus  Visibility = "campus"
)

// Position is a canvas coordinate in editor units.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size is an element's rendered footprint in editor units.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ElementInstance is one placed element inside a composition.
type ElementInstance struct {
	InstanceID string         `json:"instance_id"`
	ElementID  string         `json:"element_id"`
	Config     map[string]any `json:"config"`
	Position   Position       `json:"position"`
	Size       Size           `json:"size"`
}

// Connection wires a source instance's output port to a target instance's
// input port.
type Connection struct {
	SourceInstanceID string `json:"source_instance_id"`
	SourcePort       string `json:"source_port"`
	TargetInstanceID string `json:"target_instance_id"`
	TargetPort       string `json:"target_port"`
}

// Composition is the directed acyclic graph of instances and connections
// defining one tool's behavior.
type Composition struct {
	Instances   []ElementInstance `json:"instances"`
	Connections []Connection      `json:"connections"`
}

// Tool is the aggregate owning a composition.
type Tool struct {
	ID          string      `json:"id"`
	CampusID    string      `json:"campus_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	OwnerID     string      `json:"owner_id"`
	Visibility  Visibility  `json:"visibility"`
	Status      ToolStatus  `json:"status"`
	Version     int64       `json:"version"` // bumped on every save; stale writes are rejected
	Composition Composition `json:"composition"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Instance returns the element instance with the given id, or nil.
func (c *Composition) Instance(instanceID string) *ElementInstance {
	for i := range c.Instances {
		if c.Instances[i].InstanceID == instanceID {
			return &c.Instances[i]
		}
	}
	return nil
}

// ConnectionsFrom returns all connections whose source is the given
// (instance, port) pair. This is the fan-out set applyEvent delivers to.
func (c *Composition) ConnectionsFrom(instanceID, port string) []Connection {
	var out []Connection
	for _, conn := range c.Connections {
		if conn.SourceInstanceID == instanceID && conn.SourcePort == port {
			out = append(out, conn)
		}
	}
	return out
}
