// Package state holds the per-deployment shared runtime state: a versioned
// JSON document addressed by dotted paths ("counters.votes"). All writes go
// through declared operations so automation triggers see every mutation, and
// increments are atomic in the backing store so concurrent voters never lose
// updates.
package state

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrScopeNotFound is returned for a deployment with no state document.
	ErrScopeNotFound = errors.New("state scope not found")
	// ErrVersionConflict is returned by CompareAndSwap on a stale version.
	ErrVersionConflict = errors.New("state version conflict")
	// ErrNotANumber is returned by Increment when the current value is not numeric.
	ErrNotANumber = errors.New("value at path is not a number")
)

// Document is one deployment's shared state.
type Document struct {
	DeploymentID string
	Version      int64
	Data         map[string]any
}

// Mutation describes a single committed path write. Threshold automations are
// evaluated against Old/New to detect crossings.
type Mutation struct {
	DeploymentID string
	Path         string
	Old          any
	New          any
}

// Store is the shared-state persistence contract. Every operation is scoped
// by campus id for tenant isolation.
type Store interface {
	// Init creates the scope with an initial document. Overwrites nothing
	// if the scope already exists.
	Init(ctx context.Context, campusID, deploymentID string, initial map[string]any) error

	Get(ctx context.Context, campusID, deploymentID string) (*Document, error)

	// SetPath writes value at path, creating intermediate objects.
	SetPath(ctx context.Context, campusID, deploymentID, path string, value any) (*Mutation, error)

	// Append adds value to the array at path, creating it if absent.
	Append(ctx context.Context, campusID, deploymentID, path string, value any) (*Mutation, error)

	// Increment atomically adds delta to the number at path, treating an
	// absent value as 0. This is the primitive concurrent voters rely on.
	Increment(ctx context.Context, campusID, deploymentID, path string, delta float64) (*Mutation, error)

	// CompareAndSwap replaces the whole document iff version matches.
	CompareAndSwap(ctx context.Context, campusID, deploymentID string, version int64, data map[string]any) error

	Delete(ctx context.Context, campusID, deploymentID string) error
}

// GetPath walks a dotted path through nested maps. Returns (nil, false) when
// any segment is missing or not an object.
func GetPath(data map[string]any, path string) (any, bool) {
	segs := strings.Split(path, ".")
	var cur any = data
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetPathValue writes value at a dotted path, creating intermediate objects.
// Non-object intermediates are replaced.
func SetPathValue(data map[string]any, path string, value any) {
	segs := strings.Split(path, ".")
	cur := data
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// AsNumber coerces JSON numeric representations to float64.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}
