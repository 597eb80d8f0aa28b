package permission

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type mockMembershipStore struct {
	mu    sync.Mutex
	roles map[string]string // userID:targetID -> role
	calls int
	err   error
}

func (m *mockMembershipStore) LookupRole(_ context.Context, _, userID, targetID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	role, ok := m.roles[userID+":"+targetID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return role, nil
}

func TestCheck_LeaderSatisfiesMember(t *testing.T) {
	store := &mockMembershipStore{roles: map[string]string{"u1:space1": RoleLeader}}
	c := NewPostgresCheckerWithStore(store, "campus1", 30*time.Second, zap.NewNop())

	d, err := c.Check(context.Background(), "u1", "space1", RoleMember)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected leader to satisfy member requirement")
	}
	if d.Role != RoleLeader {
		t.Fatalf("expected leader role, got %s", d.Role)
	}
}

func TestCheck_MemberDeniedLeaderAction(t *testing.T) {
	store := &mockMembershipStore{roles: map[string]string{"u1:space1": RoleMember}}
	c := NewPostgresCheckerWithStore(store, "campus1", 30*time.Second, zap.NewNop())

	d, err := c.Check(context.Background(), "u1", "space1", RoleLeader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected member to be denied a leader action")
	}
}

func TestCheck_NonMemberDenied(t *testing.T) {
	store := &mockMembershipStore{roles: map[string]string{}}
	c := NewPostgresCheckerWithStore(store, "campus1", 30*time.Second, zap.NewNop())

	d, err := c.Check(context.Background(), "stranger", "space1", RoleMember)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected non-member to be denied")
	}
	if d.Role != "" {
		t.Fatalf("expected empty role, got %s", d.Role)
	}
}

func TestCheck_CachesLookups(t *testing.T) {
	store := &mockMembershipStore{roles: map[string]string{"u1:space1": RoleMember}}
	c := NewPostgresCheckerWithStore(store, "campus1", 30*time.Second, zap.NewNop())

	for i := 0; i < 5; i++ {
		if _, err := c.Check(context.Background(), "u1", "space1", RoleMember); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	store.mu.Lock()
	calls := store.calls
	store.mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 DB lookup, got %d", calls)
	}
}

func TestCheck_CachedRoleComparedAgainstEachRequirement(t *testing.T) {
	store := &mockMembershipStore{roles: map[string]string{"u1:space1": RoleMember}}
	c := NewPostgresCheckerWithStore(store, "campus1", 30*time.Second, zap.NewNop())

	d, _ := c.Check(context.Background(), "u1", "space1", RoleMember)
	if !d.Allowed {
		t.Fatal("member check should pass")
	}

	// Same cached entry, stricter requirement.
	d, _ = c.Check(context.Background(), "u1", "space1", RoleLeader)
	if d.Allowed {
		t.Fatal("leader check should fail from the same cached role")
	}
}

func TestDecisionCache_StaleHitSignalsSingleRefresh(t *testing.T) {
	c := NewDecisionCache(1 * time.Millisecond)
	c.Set("u1", "space1", &Decision{Allowed: true, Role: RoleMember})

	time.Sleep(5 * time.Millisecond)

	refreshCount := 0
	for i := 0; i < 10; i++ {
		result := c.Get("u1", "space1")
		if !result.Hit {
			t.Fatal("expected stale hit")
		}
		if result.NeedsRefresh {
			refreshCount++
		}
	}
	if refreshCount != 1 {
		t.Fatalf("expected exactly 1 refresh signal, got %d", refreshCount)
	}
}

type mockKeyStore struct {
	rows map[string]*campusRow // prefix -> row
}

func (m *mockKeyStore) LookupByPrefix(_ context.Context, prefix string) (*campusRow, error) {
	row, ok := m.rows[prefix]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return row, nil
}

func TestAuthenticate_ValidKey(t *testing.T) {
	key := "chk_live_abc123"
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	store := &mockKeyStore{rows: map[string]*campusRow{
		key[:8]: {CampusID: "campus1", APIKeyHash: string(hash)},
	}}
	a := NewPostgresAuthenticatorWithStore(store, 30*time.Second, zap.NewNop())

	r := httptest.NewRequest("GET", "/v1/tools", nil)
	r.Header.Set("Authorization", "Bearer "+key)

	campus, err := a.Authenticate(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if campus.CampusID != "campus1" {
		t.Fatalf("expected campus1, got %s", campus.CampusID)
	}
}

func TestAuthenticate_WrongKeyRejected(t *testing.T) {
	key := "chk_live_abc123"
	hash, _ := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	store := &mockKeyStore{rows: map[string]*campusRow{
		key[:8]: {CampusID: "campus1", APIKeyHash: string(hash)},
	}}
	a := NewPostgresAuthenticatorWithStore(store, 30*time.Second, zap.NewNop())

	r := httptest.NewRequest("GET", "/v1/tools", nil)
	r.Header.Set("Authorization", "Bearer chk_live_wrong99")

	if _, err := a.Authenticate(r); err == nil {
		t.Fatal("expected rejection for wrong key")
	}
}

func TestAuthenticate_MissingOrMalformedHeader(t *testing.T) {
	a := NewStaticAuthenticator("campus-dev")

	r := httptest.NewRequest("GET", "/v1/tools", nil)
	if _, err := a.Authenticate(r); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}

	r.Header.Set("Authorization", "Bearer sk_not_ours")
	if _, err := a.Authenticate(r); err != ErrUnauthenticated {
		t.Fatalf("expected ErrUnauthenticated for non-chk key, got %v", err)
	}
}

func TestStaticChecker_AllowsLeaderActions(t *testing.T) {
	c := NewStaticChecker()
	d, err := c.Check(context.Background(), "anyone", "anywhere", RoleLeader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("static checker should allow leader actions")
	}
}
