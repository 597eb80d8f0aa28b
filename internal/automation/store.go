package automation

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned for a missing automation.
var ErrNotFound = errors.New("automation not found")

// SuppressReason says why ReserveRun refused a run.
type SuppressReason string

const (
	SuppressNone     SuppressReason = ""
	SuppressRate     SuppressReason = "rate_limited"
	SuppressCooldown SuppressReason = "cooldown"
	SuppressDisabled SuppressReason = "disabled"
)

// RunReservation is the outcome of an atomic limit check.
type RunReservation struct {
	OK     bool
	Reason SuppressReason
}

// Store persists automations. ReserveRun and RecordResult must be atomic with
// respect to concurrent triggers; runs_today is a counter two near-simultaneous
// events would otherwise both read as 2-of-3.
type Store interface {
	Get(ctx context.Context, campusID, automationID string) (*Automation, error)
	Save(ctx context.Context, a *Automation) error
	Delete(ctx context.Context, campusID, automationID string) error
	ListByDeployment(ctx context.Context, campusID, deploymentID string) ([]*Automation, error)
	DeleteByDeployment(ctx context.Context, campusID, deploymentID string) error

	// ListScheduled returns every enabled schedule-triggered automation
	// across all campuses; the scheduler tick filters for due ones.
	ListScheduled(ctx context.Context) ([]*Automation, error)

	// ReserveRun applies the lazy UTC-day reset, then checks cooldown and
	// the daily cap in one atomic step. On success it increments RunsToday
	// and TimesTriggered and stamps LastRunAt.
	ReserveRun(ctx context.Context, campusID, automationID string, now time.Time) (*RunReservation, error)

	// RecordResult updates the aggregate counters after a run: SuccessCount
	// per succeeded action, FailureCount bumped once if any action failed.
	RecordResult(ctx context.Context, campusID, automationID string, succeeded, failed int) error
}

// MemoryStore is the in-memory Store used by preview mode and tests.
type MemoryStore struct {
	mu   sync.Mutex
	auts map[string]*Automation // campusID+"/"+automationID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{auts: make(map[string]*Automation)}
}

func autKey(campusID, automationID string) string {
	return campusID + "/" + automationID
}

func (s *MemoryStore) Get(_ context.Context, campusID, automationID string) (*Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auts[autKey(campusID, automationID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, a *Automation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.auts[autKey(a.CampusID, a.ID)]; ok {
		// Definition fields are caller-owned; runtime counters are ours.
		a.LastRunAt = existing.LastRunAt
		a.RunsToday = existing.RunsToday
		a.RunsTodayDate = existing.RunsTodayDate
		a.TimesTriggered = existing.TimesTriggered
		a.SuccessCount = existing.SuccessCount
		a.FailureCount = existing.FailureCount
	} else {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	cp := *a
	s.auts[autKey(a.CampusID, a.ID)] = &cp
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, campusID, automationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := autKey(campusID, automationID)
	if _, ok := s.auts[key]; !ok {
		return ErrNotFound
	}
	delete(s.auts, key)
	return nil
}

func (s *MemoryStore) ListByDeployment(_ context.Context, campusID, deploymentID string) ([]*Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Automation
	for _, a := range s.auts {
		if a.CampusID == campusID && a.DeploymentID == deploymentID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteByDeployment(_ context.Context, campusID, deploymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, a := range s.auts {
		if a.CampusID == campusID && a.DeploymentID == deploymentID {
			delete(s.auts, key)
		}
	}
	return nil
}

func (s *MemoryStore) ListScheduled(_ context.Context) ([]*Automation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Automation
	for _, a := range s.auts {
		if a.Enabled && a.Trigger.Type == TriggerSchedule {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ReserveRun(_ context.Context, campusID, automationID string, now time.Time) (*RunReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auts[autKey(campusID, automationID)]
	if !ok {
		return nil, ErrNotFound
	}
	if !a.Enabled {
		return &RunReservation{OK: false, Reason: SuppressDisabled}, nil
	}

	// Lazy UTC-day reset.
	today := now.UTC().Format("2006-01-02")
	if a.RunsTodayDate != today {
		a.RunsToday = 0
		a.RunsTodayDate = today
	}

	if a.Limits.CooldownSeconds > 0 && a.LastRunAt != nil {
		if now.Sub(*a.LastRunAt) < time.Duration(a.Limits.CooldownSeconds)*time.Second {
			return &RunReservation{OK: false, Reason: SuppressCooldown}, nil
		}
	}
	if a.Limits.MaxRunsPerDay > 0 && a.RunsToday >= a.Limits.MaxRunsPerDay {
		return &RunReservation{OK: false, Reason: SuppressRate}, nil
	}

	a.RunsToday++
	a.TimesTriggered++
	t := now
	a.LastRunAt = &t
	return &RunReservation{OK: true}, nil
}

func (s *MemoryStore) RecordResult(_ context.Context, campusID, automationID string, succeeded, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auts[autKey(campusID, automationID)]
	if !ok {
		return ErrNotFound
	}
	a.SuccessCount += int64(succeeded)
	if failed > 0 {
		a.FailureCount++
	}
	return nil
}
