package permission

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// KeyStore abstracts DB queries for testability.
type KeyStore interface {
	LookupByPrefix(ctx context.Context, prefix string) (*campusRow, error)
}

type campusRow struct {
	CampusID   string
	APIKeyHash string
}

// sqlKeyStore is the real implementation using *sql.DB.
type sqlKeyStore struct {
	db *sql.DB
}

func (s *sqlKeyStore) LookupByPrefix(ctx context.Context, prefix string) (*campusRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, api_key_hash
		FROM campuses
		WHERE api_key_prefix = $1
	`, prefix)

	var r campusRow
	if err := row.Scan(&r.CampusID, &r.APIKeyHash); err != nil {
		return nil, err
	}
	return &r, nil
}

// keyCache is a TTL cache from bearer token to campus context, same
// stale-while-revalidate shape as DecisionCache.
type keyCache struct {
	store sync.Map // map[string]*keyEntry
	ttl   time.Duration
}

type keyEntry struct {
	campus     *CampusContext
	expiresAt  time.Time
	refreshing atomic.Bool
}

type keyGetResult struct {
	Campus       *CampusContext
	Hit          bool
	NeedsRefresh bool
}

func newKeyCache(ttl time.Duration) *keyCache {
	return &keyCache{ttl: ttl}
}

func (c *keyCache) Get(token string) keyGetResult {
	val, ok := c.store.Load(token)
	if !ok {
		return keyGetResult{Hit: false}
	}

	entry := val.(*keyEntry)
	if time.Now().Before(entry.expiresAt) {
		return keyGetResult{Campus: entry.campus, Hit: true}
	}

	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return keyGetResult{Campus: entry.campus, Hit: true, NeedsRefresh: needsRefresh}
}

func (c *keyCache) Set(token string, campus *CampusContext) {
	c.store.Store(token, &keyEntry{
		campus:    campus,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// PostgresAuthenticator validates API keys against the campuses table.
type PostgresAuthenticator struct {
	store  KeyStore
	cache  *keyCache
	logger *zap.Logger
}

// PostgresAuthConfig configures the PostgresAuthenticator.
type PostgresAuthConfig struct {
	DB       *sql.DB
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewPostgresAuthenticator creates a new PostgresAuthenticator.
func NewPostgresAuthenticator(cfg PostgresAuthConfig) *PostgresAuthenticator {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 30 * time.Second
	}
	return &PostgresAuthenticator{
		store:  &sqlKeyStore{db: cfg.DB},
		cache:  newKeyCache(ttl),
		logger: cfg.Logger,
	}
}

// NewPostgresAuthenticatorWithStore creates an authenticator with a custom store (for testing).
func NewPostgresAuthenticatorWithStore(store KeyStore, cacheTTL time.Duration, logger *zap.Logger) *PostgresAuthenticator {
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Second
	}
	return &PostgresAuthenticator{
		store:  store,
		cache:  newKeyCache(cacheTTL),
		logger: logger,
	}
}

func (a *PostgresAuthenticator) Authenticate(r *http.Request) (*CampusContext, error) {
	token, err := ExtractBearerToken(r)
	if err != nil {
		return nil, err
	}

	cacheResult := a.cache.Get(token)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go a.refreshInBackground(token)
		}
		return cacheResult.Campus, nil
	}

	campus, err := a.authenticateFromDB(r.Context(), token)
	if err != nil {
		return nil, fmt.Errorf("Authenticate: %w", err)
	}

	a.cache.Set(token, campus)
	return campus, nil
}

func (a *PostgresAuthenticator) authenticateFromDB(ctx context.Context, token string) (*CampusContext, error) {
	if len(token) < 8 {
		return nil, ErrUnauthenticated
	}
	prefix := token[:8]

	row, err := a.store.LookupByPrefix(ctx, prefix)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUnauthenticated
		}
		return nil, fmt.Errorf("authenticateFromDB: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(row.APIKeyHash), []byte(token)); err != nil {
		return nil, ErrUnauthenticated
	}

	return &CampusContext{CampusID: row.CampusID}, nil
}

func (a *PostgresAuthenticator) refreshInBackground(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	campus, err := a.authenticateFromDB(ctx, token)
	if err != nil {
		a.logger.Warn("background auth refresh failed", zap.Error(err))
		return
	}
	a.cache.Set(token, campus)
}

// StaticAuthenticator is a development-only authenticator that accepts any chk_ key.
type StaticAuthenticator struct {
	CampusID string
}

func NewStaticAuthenticator(campusID string) *StaticAuthenticator {
	return &StaticAuthenticator{CampusID: campusID}
}

func (a *StaticAuthenticator) Authenticate(r *http.Request) (*CampusContext, error) {
	if _, err := ExtractBearerToken(r); err != nil {
		return nil, err
	}
	return &CampusContext{CampusID: a.CampusID}, nil
}
