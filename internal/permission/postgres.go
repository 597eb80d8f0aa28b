package permission

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// MembershipStore abstracts DB queries for testability.
type MembershipStore interface {
	LookupRole(ctx context.Context, campusID, userID, targetID string) (string, error)
}

// sqlMembershipStore is the real implementation using *sql.DB.
type sqlMembershipStore struct {
	db *sql.DB
}

func (s *sqlMembershipStore) LookupRole(ctx context.Context, campusID, userID, targetID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT role FROM space_members
		WHERE campus_id = $1 AND user_id = $2 AND space_id = $3
	`, campusID, userID, targetID)

	var role string
	if err := row.Scan(&role); err != nil {
		return "", err
	}
	return role, nil
}

// PostgresChecker answers role checks from the space_members table.
type PostgresChecker struct {
	store    MembershipStore
	cache    *DecisionCache
	campusID string
	logger   *zap.Logger
}

// PostgresCheckerConfig configures the PostgresChecker.
type PostgresCheckerConfig struct {
	DB       *sql.DB
	CampusID string
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresChecker creates a new PostgresChecker.
func NewPostgresChecker(cfg PostgresCheckerConfig) *PostgresChecker {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &PostgresChecker{
		store:    &sqlMembershipStore{db: cfg.DB},
		cache:    NewDecisionCache(ttl),
		campusID: cfg.CampusID,
		logger:   cfg.Logger,
	}
}

// NewPostgresCheckerWithStore creates a checker with a custom store (for testing).
func NewPostgresCheckerWithStore(store MembershipStore, campusID string, cacheTTL time.Duration, logger *zap.Logger) *PostgresChecker {
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	return &PostgresChecker{
		store:    store,
		cache:    NewDecisionCache(cacheTTL),
		campusID: campusID,
		logger:   logger,
	}
}

func (c *PostgresChecker) Check(ctx context.Context, userID, targetID, requiredRole string) (*Decision, error) {
	cacheResult := c.cache.Get(userID, targetID)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go c.refreshInBackground(userID, targetID)
		}
		return decide(cacheResult.Decision.Role, requiredRole), nil
	}

	role, err := c.fetchRole(ctx, userID, targetID)
	if err != nil {
		return nil, fmt.Errorf("Check: %w", err)
	}

	c.cache.Set(userID, targetID, &Decision{Allowed: role != "", Role: role})
	return decide(role, requiredRole), nil
}

func (c *PostgresChecker) fetchRole(ctx context.Context, userID, targetID string) (string, error) {
	role, err := c.store.LookupRole(ctx, c.campusID, userID, targetID)
	if err != nil {
		if err == sql.ErrNoRows {
			// Non-membership is a cacheable answer, not an error.
			return "", nil
		}
		return "", err
	}
	return role, nil
}

func (c *PostgresChecker) refreshInBackground(userID, targetID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	role, err := c.fetchRole(ctx, userID, targetID)
	if err != nil {
		c.logger.Warn("background permission refresh failed",
			zap.String("user_id", userID),
			zap.String("target_id", targetID),
			zap.Error(err),
		)
		return
	}
	c.cache.Set(userID, targetID, &Decision{Allowed: role != "", Role: role})
}

func decide(role, requiredRole string) *Decision {
	return &Decision{
		Allowed: role != "" && RoleAtLeast(role, requiredRole),
		Role:    role,
	}
}

// StaticChecker is a development-only checker that grants every user the
// leader role everywhere.
type StaticChecker struct{}

func NewStaticChecker() *StaticChecker {
	return &StaticChecker{}
}

func (*StaticChecker) Check(_ context.Context, _, _, requiredRole string) (*Decision, error) {
	return &Decision{Allowed: RoleAtLeast(RoleLeader, requiredRole), Role: RoleLeader}, nil
}
