package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore backs preview mode, where state lives only for the editing
// session, and tests. All operations are serialized behind one mutex; preview
// scopes see no meaningful contention.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*Document // campusID+"/"+deploymentID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*Document)}
}

func scopeKey(campusID, deploymentID string) string {
	return campusID + "/" + deploymentID
}

func (s *MemoryStore) Init(_ context.Context, campusID, deploymentID string, initial map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := scopeKey(campusID, deploymentID)
	if _, exists := s.docs[key]; exists {
		return nil
	}
	if initial == nil {
		initial = map[string]any{}
	}
	s.docs[key] = &Document{
		DeploymentID: deploymentID,
		Version:      1,
		Data:         deepCopy(initial),
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, campusID, deploymentID string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[scopeKey(campusID, deploymentID)]
	if !ok {
		return nil, ErrScopeNotFound
	}
	return &Document{
		DeploymentID: doc.DeploymentID,
		Version:      doc.Version,
		Data:         deepCopy(doc.Data),
	}, nil
}

func (s *MemoryStore) SetPath(_ context.Context, campusID, deploymentID, path string, value any) (*Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[scopeKey(campusID, deploymentID)]
	if !ok {
		return nil, ErrScopeNotFound
	}
	old, _ := GetPath(doc.Data, path)
	SetPathValue(doc.Data, path, value)
	doc.Version++
	return &Mutation{DeploymentID: deploymentID, Path: path, Old: old, New: value}, nil
}

func (s *MemoryStore) Append(_ context.Context, campusID, deploymentID, path string, value any) (*Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[scopeKey(campusID, deploymentID)]
	if !ok {
		return nil, ErrScopeNotFound
	}
	old, _ := GetPath(doc.Data, path)
	arr, _ := old.([]any)
	next := append(append([]any{}, arr...), value)
	SetPathValue(doc.Data, path, next)
	doc.Version++
	return &Mutation{DeploymentID: deploymentID, Path: path, Old: old, New: next}, nil
}

func (s *MemoryStore) Increment(_ context.Context, campusID, deploymentID, path string, delta float64) (*Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[scopeKey(campusID, deploymentID)]
	if !ok {
		return nil, ErrScopeNotFound
	}
	old, _ := GetPath(doc.Data, path)
	cur, ok := AsNumber(old)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotANumber, path)
	}
	next := cur + delta
	SetPathValue(doc.Data, path, next)
	doc.Version++
	return &Mutation{DeploymentID: deploymentID, Path: path, Old: old, New: next}, nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, campusID, deploymentID string, version int64, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[scopeKey(campusID, deploymentID)]
	if !ok {
		return ErrScopeNotFound
	}
	if doc.Version != version {
		return ErrVersionConflict
	}
	doc.Data = deepCopy(data)
	doc.Version++
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, campusID, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, scopeKey(campusID, deploymentID))
	return nil
}

// deepCopy round-trips through JSON so callers can't alias internal maps.
func deepCopy(data map[string]any) map[string]any {
	raw, err := json.Marshal(data)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}
