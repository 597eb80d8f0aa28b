package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// PostgresStore keeps one JSONB row per deployment in the shared_state table.
// Increment and Append are single UPDATE statements so concurrent writers to
// the same path serialize inside Postgres instead of racing in the app.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Init(ctx context.Context, campusID, deploymentID string, initial map[string]any) error {
	if initial == nil {
		initial = map[string]any{}
	}
	raw, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("Init: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shared_state (campus_id, deployment_id, version, doc, updated_at)
		VALUES ($1, $2, 1, $3, now())
		ON CONFLICT (campus_id, deployment_id) DO NOTHING
	`, campusID, deploymentID, raw)
	if err != nil {
		return fmt.Errorf("Init: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, campusID, deploymentID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, doc FROM shared_state
		WHERE campus_id = $1 AND deployment_id = $2
	`, campusID, deploymentID)

	var version int64
	var raw []byte
	if err := row.Scan(&version, &raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrScopeNotFound
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("Get: doc: %w", err)
	}
	return &Document{DeploymentID: deploymentID, Version: version, Data: data}, nil
}

func (s *PostgresStore) SetPath(ctx context.Context, campusID, deploymentID, path string, value any) (*Mutation, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("SetPath: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE shared_state
		SET doc = jsonb_set_lax(doc, string_to_array($3, '.'), $4::jsonb, true),
		    version = version + 1,
		    updated_at = now()
		WHERE campus_id = $1 AND deployment_id = $2
		RETURNING (SELECT doc #> string_to_array($3, '.') FROM shared_state
		           WHERE campus_id = $1 AND deployment_id = $2)
	`, campusID, deploymentID, path, raw)

	var oldRaw []byte
	if err := row.Scan(&oldRaw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrScopeNotFound
		}
		return nil, fmt.Errorf("SetPath: %w", err)
	}
	return &Mutation{
		DeploymentID: deploymentID,
		Path:         path,
		Old:          decodeJSON(oldRaw),
		New:          value,
	}, nil
}

func (s *PostgresStore) Append(ctx context.Context, campusID, deploymentID, path string, value any) (*Mutation, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("Append: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		UPDATE shared_state
		SET doc = jsonb_set(doc, string_to_array($3, '.'),
		        COALESCE(doc #> string_to_array($3, '.'), '[]'::jsonb) || $4::jsonb, true),
		    version = version + 1,
		    updated_at = now()
		WHERE campus_id = $1 AND deployment_id = $2
		RETURNING doc #> string_to_array($3, '.')
	`, campusID, deploymentID, path, raw)

	var newRaw []byte
	if err := row.Scan(&newRaw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrScopeNotFound
		}
		return nil, fmt.Errorf("Append: %w", err)
	}
	newVal := decodeJSON(newRaw)
	var oldVal any
	if arr, ok := newVal.([]any); ok && len(arr) > 0 {
		oldVal = arr[:len(arr)-1]
	}
	return &Mutation{DeploymentID: deploymentID, Path: path, Old: oldVal, New: newVal}, nil
}

func (s *PostgresStore) Increment(ctx context.Context, campusID, deploymentID, path string, delta float64) (*Mutation, error) {
	// Absent paths count from 0. The whole read-add-write happens inside
	// one UPDATE, which is what makes concurrent votes safe.
	row := s.db.QueryRowContext(ctx, `
		UPDATE shared_state
		SET doc = jsonb_set(doc, string_to_array($3, '.'),
		        to_jsonb(COALESCE((doc #>> string_to_array($3, '.'))::numeric, 0) + $4::numeric), true),
		    version = version + 1,
		    updated_at = now()
		WHERE campus_id = $1 AND deployment_id = $2
		RETURNING (doc #>> string_to_array($3, '.'))::float8
	`, campusID, deploymentID, path, delta)

	var newVal float64
	if err := row.Scan(&newVal); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrScopeNotFound
		}
		return nil, fmt.Errorf("Increment: %w", err)
	}
	return &Mutation{
		DeploymentID: deploymentID,
		Path:         path,
		Old:          newVal - delta,
		New:          newVal,
	}, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, campusID, deploymentID string, version int64, data map[string]any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("CompareAndSwap: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE shared_state
		SET doc = $4, version = version + 1, updated_at = now()
		WHERE campus_id = $1 AND deployment_id = $2 AND version = $3
	`, campusID, deploymentID, version, raw)
	if err != nil {
		return fmt.Errorf("CompareAndSwap: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		// Distinguish missing scope from stale version for the caller.
		if _, gerr := s.Get(ctx, campusID, deploymentID); gerr != nil {
			return gerr
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, campusID, deploymentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM shared_state WHERE campus_id = $1 AND deployment_id = $2
	`, campusID, deploymentID)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func decodeJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}
