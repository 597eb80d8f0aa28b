package permission

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Role names are ordered: admin > leader > member.
const (
	RoleMember = "member"
	RoleLeader = "leader"
	RoleAdmin  = "admin"
)

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Role    string // caller's actual role on the target, "" if none
}

// Checker answers whether a user holds at least the required role on a
// target (a space, a profile, a chat). Consulted before deploy, undeploy and
// automation edits.
type Checker interface {
	Check(ctx context.Context, userID, targetID, requiredRole string) (*Decision, error)
}

// CampusContext identifies the authenticated campus tenant for a request.
type CampusContext struct {
	CampusID string
}

// Authenticator resolves an HTTP request to its campus tenant.
type Authenticator interface {
	Authenticate(r *http.Request) (*CampusContext, error)
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ExtractBearerToken extracts a chk_ API key from the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return "", ErrUnauthenticated
	}
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if !strings.HasPrefix(token, "chk_") {
		return "", ErrUnauthenticated
	}
	return token, nil
}

// roleRank orders roles for at-least comparisons.
func roleRank(role string) int {
	switch role {
	case RoleAdmin:
		return 3
	case RoleLeader:
		return 2
	case RoleMember:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast reports whether have satisfies want.
func RoleAtLeast(have, want string) bool {
	return roleRank(have) >= roleRank(want)
}
