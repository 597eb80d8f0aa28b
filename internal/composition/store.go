package composition

import (
	"context"
	"sync"
	"time"
)

// Store persists tools. Save enforces optimistic concurrency: the write only
// lands when the stored version matches the version the caller loaded, and
// the saved tool's version is bumped by one. Stale writes fail with
// ErrVersionConflict instead of silently overwriting a concurrent edit.
type Store interface {
	Get(ctx context.Context, campusID, toolID string) (*Tool, error)
	Save(ctx context.Context, tool *Tool) error
	Delete(ctx context.Context, campusID, toolID string) error
	ListByOwner(ctx context.Context, campusID, ownerID string) ([]*Tool, error)
}

// MemoryStore is the in-memory Store used by preview mode and tests.
type MemoryStore struct {
	mu    sync.Mutex
	tools map[string]*Tool // campusID+"/"+toolID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tools: make(map[string]*Tool)}
}

func storeKey(campusID, toolID string) string {
	return campusID + "/" + toolID
}

func (s *MemoryStore) Get(_ context.Context, campusID, toolID string) (*Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tools[storeKey(campusID, toolID)]
	if !ok {
		return nil, ErrToolNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, tool *Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(tool.CampusID, tool.ID)
	if existing, ok := s.tools[key]; ok {
		if existing.Version != tool.Version {
			return ErrVersionConflict
		}
	}
	cp := *tool
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	s.tools[key] = &cp
	tool.Version = cp.Version
	tool.UpdatedAt = cp.UpdatedAt
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, campusID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeKey(campusID, toolID)
	if _, ok := s.tools[key]; !ok {
		return ErrToolNotFound
	}
	delete(s.tools, key)
	return nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, campusID, ownerID string) ([]*Tool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Tool
	for _, t := range s.tools {
		if t.CampusID == campusID && t.OwnerID == ownerID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}
