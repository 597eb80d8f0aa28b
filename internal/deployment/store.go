package deployment

import (
	"context"
	"sort"
	"sync"
)

// Store persists deployments.
type Store interface {
	Get(ctx context.Context, campusID, deploymentID string) (*Deployment, error)
	Save(ctx context.Context, d *Deployment) error
	Delete(ctx context.Context, campusID, deploymentID string) error
	ListForTarget(ctx context.Context, campusID string, surface SurfaceType, targetID string) ([]*Deployment, error)
	ListForTool(ctx context.Context, campusID, toolID string) ([]*Deployment, error)
}

// MemoryStore is the in-memory Store used in tests.
type MemoryStore struct {
	mu   sync.Mutex
	deps map[string]*Deployment // campusID+"/"+deploymentID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deps: make(map[string]*Deployment)}
}

func depKey(campusID, deploymentID string) string {
	return campusID + "/" + deploymentID
}

func (s *MemoryStore) Get(_ context.Context, campusID, deploymentID string) (*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deps[depKey(campusID, deploymentID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, d *Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.deps[depKey(d.CampusID, d.ID)] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, campusID, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := depKey(campusID, deploymentID)
	if _, ok := s.deps[key]; !ok {
		return ErrNotFound
	}
	delete(s.deps, key)
	return nil
}

func (s *MemoryStore) ListForTarget(_ context.Context, campusID string, surface SurfaceType, targetID string) ([]*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Deployment
	for _, d := range s.deps {
		if d.CampusID == campusID && d.SurfaceType == surface && d.TargetID == targetID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *MemoryStore) ListForTool(_ context.Context, campusID, toolID string) ([]*Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Deployment
	for _, d := range s.deps {
		if d.CampusID == campusID && d.ToolID == toolID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}
