// Package profile resolves user display information for notifications and
// leaderboard rendering.
package profile

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Profile is the subset of user data the platform renders.
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// Service looks up user profiles. A nil profile with nil error means the
// user does not exist; renderers fall back to an anonymous placeholder.
type Service interface {
	GetProfile(ctx context.Context, userID string) (*Profile, error)
}

// profileCache is a TTL cache with stale-while-revalidate, the same shape as
// the permission decision cache. Profile reads happen on every leaderboard
// render so the hot path must not block.
type profileCache struct {
	store sync.Map // map[string]*profileEntry
	ttl   time.Duration
}

type profileEntry struct {
	profile    *Profile // nil means negative cache
	expiresAt  time.Time
	refreshing atomic.Bool
}

type cacheGetResult struct {
	Profile      *Profile
	Hit          bool
	NeedsRefresh bool
}

func newProfileCache(ttl time.Duration) *profileCache {
	return &profileCache{ttl: ttl}
}

func (c *profileCache) Get(userID string) cacheGetResult {
	val, ok := c.store.Load(userID)
	if !ok {
		return cacheGetResult{Hit: false}
	}

	entry := val.(*profileEntry)
	if time.Now().Before(entry.expiresAt) {
		return cacheGetResult{Profile: entry.profile, Hit: true}
	}

	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return cacheGetResult{Profile: entry.profile, Hit: true, NeedsRefresh: needsRefresh}
}

func (c *profileCache) Set(userID string, p *Profile) {
	c.store.Store(userID, &profileEntry{
		profile:   p,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// UserStore abstracts DB queries for testability.
type UserStore interface {
	LookupUser(ctx context.Context, userID string) (*Profile, error)
}

type sqlUserStore struct {
	db *sql.DB
}

func (s *sqlUserStore) LookupUser(ctx context.Context, userID string) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, COALESCE(avatar_url, '')
		FROM users
		WHERE id = $1
	`, userID)

	var p Profile
	if err := row.Scan(&p.UserID, &p.DisplayName, &p.AvatarURL); err != nil {
		return nil, err
	}
	return &p, nil
}

// PostgresService serves profiles from the users table with a read-through cache.
type PostgresService struct {
	store  UserStore
	cache  *profileCache
	logger *zap.Logger
}

// Config configures the PostgresService.
type Config struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresService creates a new PostgresService.
func NewPostgresService(cfg Config) *PostgresService {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &PostgresService{
		store:  &sqlUserStore{db: cfg.DB},
		cache:  newProfileCache(ttl),
		logger: cfg.Logger,
	}
}

// NewPostgresServiceWithStore creates a service with a custom store (for testing).
func NewPostgresServiceWithStore(store UserStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresService {
	if cacheTTL == 0 {
		cacheTTL = 60 * time.Second
	}
	return &PostgresService{
		store:  store,
		cache:  newProfileCache(cacheTTL),
		logger: logger,
	}
}

func (s *PostgresService) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	cacheResult := s.cache.Get(userID)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go s.refreshInBackground(userID)
		}
		return cacheResult.Profile, nil
	}

	p, err := s.fetchProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("GetProfile: %w", err)
	}

	s.cache.Set(userID, p)
	return p, nil
}

func (s *PostgresService) fetchProfile(ctx context.Context, userID string) (*Profile, error) {
	p, err := s.store.LookupUser(ctx, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			// Unknown users are a cacheable answer.
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (s *PostgresService) refreshInBackground(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p, err := s.fetchProfile(ctx, userID)
	if err != nil {
		s.logger.Warn("background profile refresh failed",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return
	}
	s.cache.Set(userID, p)
}

// StaticService is a development-only service that fabricates a profile for
// any user ID.
type StaticService struct{}

func NewStaticService() *StaticService {
	return &StaticService{}
}

func (*StaticService) GetProfile(_ context.Context, userID string) (*Profile, error) {
	return &Profile{UserID: userID, DisplayName: "User " + userID}, nil
}
