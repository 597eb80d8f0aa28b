package elements

// Catalog returns the built-in element definitions. 27 kinds across the five
// categories; the editor palette and the composition validator both read from
// the registry built on top of this list.
func Catalog() []*ElementDefinition {
	return []*ElementDefinition{
		// --- input ---
		{
			ElementID:   "button",
			Category:    CategoryInput,
			Description: "A clickable button that emits a click event.",
			ConfigSchema: schemaObject(map[string]any{
				"label": map[string]any{"type": "string", "minLength": 1, "maxLength": 60},
				"style": map[string]any{"type": "string", "enum": []any{"primary", "secondary", "ghost"}},
			}, "label"),
			Ports: []Port{
				{Name: "click", Direction: PortOut, Type: TypeObject},
			},
		},
		{
			ElementID:   "vote-button",
			Category:    CategoryInput,
			Description: "A button bound to an option that emits one vote per click.",
			ConfigSchema: schemaObject(map[string]any{
				"label":  map[string]any{"type": "string", "minLength": 1, "maxLength": 60},
				"option": map[string]any{"type": "string", "minLength": 1},
			}, "label", "option"),
			Ports: []Port{
				{Name: "click", Direction: PortOut, Type: TypeObject},
				{Name: "vote", Direction: PortOut, Type: TypeNumber},
			},
		},
		{
			ElementID:   "rsvp-button",
			Category:    CategoryInput,
			Description: "Going / not going toggle for events.",
			ConfigSchema: schemaObject(map[string]any{
				"event_name":     map[string]any{"type": "string", "minLength": 1},
				"allow_maybe":    map[string]any{"type": "boolean"},
				"capacity_limit": map[string]any{"type": "integer", "minimum": 0},
			}, "event_name"),
			Ports: []Port{
				{Name: "rsvp", Direction: PortOut, Type: TypeObject},
			},
		},
		{
			ElementID:   "text-input",
			Category:    CategoryInput,
			Description: "Free text field that emits on submit.",
			ConfigSchema: schemaObject(map[string]any{
				"placeholder": map[string]any{"type": "string", "maxLength": 120},
				"max_length":  map[string]any{"type": "integer", "minimum": 1, "maximum": 2000},
			}),
			Ports: []Port{
				{Name: "submit", Direction: PortOut, Type: TypeString},
			},
		},
		{
			ElementID:   "number-input",
			Category:    CategoryInput,
			Description: "Numeric field with optional bounds.",
			ConfigSchema: schemaObject(map[string]any{
				"min":  map[string]any{"type": "number"},
				"max":  map[string]any{"type": "number"},
				"step": map[string]any{"type": "number", "exclusiveMinimum": 0},
			}),
			Ports: []Port{
				{Name: "submit", Direction: PortOut, Type: TypeNumber},
			},
		},
		{
			ElementID:   "select",
			Category:    CategoryInput,
			Description: "Single-choice dropdown.",
			ConfigSchema: schemaObject(map[string]any{
				"options": map[string]any{
					"type":     "array",
					"items":    map[string]any{"type": "string"},
					"minItems": 1,
				},
			}, "options"),
			Ports: []Port{
				{Name: "change", Direction: PortOut, Type: TypeString},
			},
		},
		{
			ElementID:   "slider",
			Category:    CategoryInput,
			Description: "Range slider emitting its value on release.",
			ConfigSchema: schemaObject(map[string]any{
				"min": map[string]any{"type": "number"},
				"max": map[string]any{"type": "number"},
			}, "min", "max"),
			Ports: []Port{
				{Name: "change", Direction: PortOut, Type: TypeNumber},
			},
		},

		// --- filter ---
		{
			ElementID:   "threshold-gate",
			Category:    CategoryFilter,
			Description: "Passes a number through only when it satisfies a comparison.",
			ConfigSchema: schemaObject(map[string]any{
				"operator": map[string]any{"type": "string", "enum": []any{">", ">=", "<", "<=", "==", "!="}},
				"value":    map[string]any{"type": "number"},
			}, "operator", "value"),
			Ports: []Port{
				{Name: "in", Direction: PortIn, Type: TypeNumber},
				{Name: "pass", Direction: PortOut, Type: TypeNumber},
			},
		},
		{
			ElementID:   "range-filter",
			Category:    CategoryFilter,
			Description: "Passes numbers inside an inclusive range.",
			ConfigSchema: schemaObject(map[string]any{
				"min": map[string]any{"type": "number"},
				"max": map[string]any{"type": "number"},
			}, "min", "max"),
			Ports: []Port{
				{Name: "in", Direction: PortIn, Type: TypeNumber},
				{Name: "pass", Direction: PortOut, Type: TypeNumber},
			},
		},
		{
			ElementID:   "text-match",
			Category:    CategoryFilter,
			Description: "Passes strings containing a configured substring.",
			ConfigSchema: schemaObject(map[string]any{
				"pattern":        map[string]any{"type": "string", "minLength": 1},
				"case_sensitive": map[string]any{"type": "boolean"},
			}, "pattern"),
			Ports: []Port{
				{Name: "in", Direction: PortIn, Type: TypeString},
				{Name: "pass", Direction: PortOut, Type: TypeString},
			},
		},
		{
			ElementID:   "dedupe",
			Category:    CategoryFilter,
			Description: "Drops values already seen within this deployment's state.",
			ConfigSchema: schemaObject(map[string]any{
				"key": map[string]any{"type": "string", "minLength": 1},
			}, "key"),
			Ports: []Port{
				{Name: "in", Direction: PortIn, Type: TypeAny},
				{Name: "pass", Direction: PortOut, Type: TypeAny},
			},
		},

		// --- display ---
		{
			ElementID:   "counter",
			Category:    CategoryDisplay,
			Description: "Shows a running count stored in shared state.",
			ConfigSchema: schemaObject(map[string]any{
				"label":      map[string]any{"type": "string", "maxLength": 60},
				"state_path": map[string]any{"type": "string", "minLength": 1},
			}, "state_path"),
			Ports: []Port{
				{Name: "increment", Direction: PortIn, Type: TypeNumber},
				{Name: "value", Direction: PortOut, Type: TypeNumber},
			},
		},
		{
			ElementID:   "progress-bar",
			Category:    CategoryDisplay,
			Description: "Progress toward a configured goal.",
			ConfigSchema: schemaObject(map[string]any{
				"state_path": map[string]any{"type": "string", "minLength": 1},
				"goal":       map[string]any{"type": "number", "exclusiveMinimum": 0},
			}, "state_path", "goal"),
			Ports: []Port{
				{Name: "current", Direction: PortIn, Type: TypeNumber},
			},
		},
		{
			ElementID:   "leaderboard",
			Category:    CategoryDisplay,
			Description: "Ranked list of scores from a state collection.",
			ConfigSchema: schemaObject(map[string]any{
				"state_path": map[string]any{"type": "string", "minLength": 1},
				"limit":      map[string]any{"type": "integer", "minimum": 1, "maximum": 100},
			}, "state_path"),
			Ports: []Port{
				{Name: "score", Direction: PortIn, Type: TypeObject},
			},
		},
		{
			ElementID:   "chart",
			Category:    CategoryDisplay,
			Description: "Bar or line chart over a state collection.",
			ConfigSchema: schemaObject(map[string]any{
				"state_path": map[string]any{"type": "string", "minLength": 1},
				"kind":       map[string]any{"type": "string", "enum": []any{"bar", "line", "pie"}},
			}, "state_path"),
			Ports: []Port{
				{Name: "datum", Direction: PortIn, Type: TypeAny},
			},
		},
		{
			ElementID:   "text-display",
			Category:    CategoryDisplay,
			Description: "Static or state-bound text block.",
			ConfigSchema: schemaObject(map[string]any{
				"text":       map[string]any{"type": "string"},
				"state_path": map[string]any{"type": "string"},
			}),
			Ports: []Port{
				{Name: "text", Direction: PortIn, Type: TypeString},
			},
		},
		{
			ElementID:   "list",
			Category:    CategoryDisplay,
			Description: "Append-only list of submitted items.",
			ConfigSchema: schemaObject(map[string]any{
				"state_path": map[string]any{"type": "string", "minLength": 1},
				"max_items":  map[string]any{"type": "integer", "minimum": 1, "maximum": 500},
			}, "state_path"),
			Ports: []Port{
				{Name: "append", Direction: PortIn, Type: TypeAny},
			},
		},
		{
			ElementID:   "image",
			Category:    CategoryDisplay,
			Description: "Static image by URL.",
			ConfigSchema: schemaObject(map[string]any{
				"url": map[string]any{"type": "string", "minLength": 1},
				"alt": map[string]any{"type": "string", "maxLength": 200},
			}, "url"),
			Ports: nil,
		},
		{
			ElementID:   "countdown-timer",
			Category:    CategoryDisplay,
			Description: "Counts down to a deadline; emits when it elapses.",
			ConfigSchema: schemaObject(map[string]any{
				"deadline": map[string]any{"type": "string", "format": "date-time"},
			}, "deadline"),
			Ports: []Port{
				{Name: "elapsed", Direction: PortOut, Type: TypeBoolean},
			},
		},

		// --- action ---
		{
			ElementID:   "state-mutator",
			Category:    CategoryAction,
			Description: "Writes an incoming value to a shared-state path.",
			ConfigSchema: schemaObject(map[string]any{
				"state_path": map[string]any{"type": "string", "minLength": 1},
				"operation":  map[string]any{"type": "string", "enum": []any{"set", "increment", "append"}},
			}, "state_path", "operation"),
			Ports: []Port{
				{Name: "in", Direction: PortIn, Type: TypeAny},
			},
		},
		{
			ElementID:   "notifier",
			Category:    CategoryAction,
			Description: "Sends a notification when a value arrives.",
			ConfigSchema: schemaObject(map[string]any{
				"channel":    map[string]any{"type": "string", "enum": []any{"email", "push"}},
				"recipients": map[string]any{"type": "string", "minLength": 1},
				"template":   map[string]any{"type": "string", "maxLength": 1000},
			}, "channel", "recipients"),
			Ports: []Port{
				{Name: "in", Direction: PortIn, Type: TypeAny},
			},
		},
		{
			ElementID:   "collector",
			Category:    CategoryAction,
			Description: "Collects submissions into a state collection keyed by user.",
			ConfigSchema: schemaObject(map[string]any{
				"state_path":     map[string]any{"type": "string", "minLength": 1},
				"one_per_member": map[string]any{"type": "boolean"},
			}, "state_path"),
			Ports: []Port{
				{Name: "in", Direction: PortIn, Type: TypeAny},
			},
		},
		{
			ElementID:   "webhook",
			Category:    CategoryAction,
			Description: "Posts incoming values to an external URL.",
			ConfigSchema: schemaObject(map[string]any{
				"url":    map[string]any{"type": "string", "minLength": 1},
				"secret": map[string]any{"type": "string"},
			}, "url"),
			Ports: []Port{
				{Name: "in", Direction: PortIn, Type: TypeAny},
			},
		},

		// --- layout ---
		{
			ElementID:   "container",
			Category:    CategoryLayout,
			Description: "Groups child elements visually.",
			ConfigSchema: schemaObject(map[string]any{
				"title":     map[string]any{"type": "string", "maxLength": 60},
				"collapsed": map[string]any{"type": "boolean"},
			}),
			Ports: nil,
		},
		{
			ElementID:   "grid",
			Category:    CategoryLayout,
			Description: "Fixed-column grid.",
			ConfigSchema: schemaObject(map[string]any{
				"columns": map[string]any{"type": "integer", "minimum": 1, "maximum": 6},
			}, "columns"),
			Ports: nil,
		},
		{
			ElementID:   "tabs",
			Category:    CategoryLayout,
			Description: "Tabbed sections.",
			ConfigSchema: schemaObject(map[string]any{
				"labels": map[string]any{
					"type":     "array",
					"items":    map[string]any{"type": "string"},
					"minItems": 1,
					"maxItems": 8,
				},
			}, "labels"),
			Ports: nil,
		},
		{
			ElementID:    "divider",
			Category:     CategoryLayout,
			Description:  "Horizontal rule.",
			ConfigSchema: nil,
			Ports:        nil,
		},
	}
}

// schemaObject builds a draft 2020-12 object schema with the given properties
// and required names. additionalProperties is always false so typos in
// instance configs fail validation instead of being silently carried along.
func schemaObject(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		req := make([]any, len(required))
		for i, r := range required {
			req[i] = r
		}
		s["required"] = req
	}
	return s
}
