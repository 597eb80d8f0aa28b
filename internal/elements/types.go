package elements

// Category groups element definitions for the palette.
type Category string

const (
	CategoryInput   Category = "input"
	CategoryFilter  Category = "filter"
	CategoryDisplay Category = "display"
	CategoryAction  Category = "action"
	CategoryLayout  Category = "layout"
)

// PortDirection distinguishes input sockets from output sockets.
type PortDirection string

const (
	PortIn  PortDirection = "in"
	PortOut PortDirection = "out"
)

// PortType is the declared value type flowing through a port.
// "any" is compatible with every other type.
type PortType string

const (
	TypeNumber  PortType = "number"
	TypeString  PortType = "string"
	TypeBoolean PortType = "boolean"
	TypeObject  PortType = "object"
	TypeAny     PortType = "any"
)

// Port is a named, typed socket on an element definition.
// Event emissions are modeled as out-ports.
type Port struct {
	Name      string        `json:"name"`
	Direction PortDirection `json:"direction"`
	Type      PortType      `json:"type"`
}

// ElementDefinition describes one composable element kind.
// Definitions are declared in code and never mutated at runtime.
type ElementDefinition struct {
	ElementID    string         `json:"element_id"`
	Category     Category       `json:"category"`
	Description  string         `json:"description"`
	ConfigSchema map[string]any `json:"config_schema"` // JSON Schema, nil if the element takes no config
	Ports        []Port         `json:"ports"`
}

// Port returns the named port and whether it exists.
func (d *ElementDefinition) Port(name string) (Port, bool) {
	for _, p := range d.Ports {
		if p.Name == name {
			return p, true
		}
	}
	return Port{}, false
}

// Compatible reports whether a value of type src may flow into a port of type dst.
func Compatible(src, dst PortType) bool {
	if src == TypeAny || dst == TypeAny {
		return true
	}
	return src == dst
}
