package composition

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// PostgresStore persists tools as JSONB documents in the tools table.
// Every query is filtered by campus_id; tenant isolation happens here, not in
// callers.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

func (s *PostgresStore) Get(ctx context.Context, campusID, toolID string) (*Tool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, campus_id, name, description, owner_id, visibility, status,
		       version, composition, created_at, updated_at
		FROM tools
		WHERE campus_id = $1 AND id = $2
	`, campusID, toolID)

	var t Tool
	var compJSON []byte
	if err := row.Scan(
		&t.ID, &t.CampusID, &t.Name, &t.Description, &t.OwnerID,
		&t.Visibility, &t.Status, &t.Version, &compJSON, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrToolNotFound
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	if err := json.Unmarshal(compJSON, &t.Composition); err != nil {
		return nil, fmt.Errorf("Get: composition: %w", err)
	}
	return &t, nil
}

// Save upserts the tool, guarded by the version the caller loaded.
func (s *PostgresStore) Save(ctx context.Context, tool *Tool) error {
	compJSON, err := json.Marshal(tool.Composition)
	if err != nil {
		return fmt.Errorf("Save: composition: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tools (id, campus_id, name, description, owner_id, visibility,
		                   status, version, composition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8 + 1, $9, $10, now())
		ON CONFLICT (campus_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			visibility = EXCLUDED.visibility,
			status = EXCLUDED.status,
			version = tools.version + 1,
			composition = EXCLUDED.composition,
			updated_at = now()
		WHERE tools.version = $8
	`, tool.ID, tool.CampusID, tool.Name, tool.Description, tool.OwnerID,
		tool.Visibility, tool.Status, tool.Version, compJSON, tool.CreatedAt)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	if n == 0 {
		return ErrVersionConflict
	}
	tool.Version++
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, campusID, toolID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM tools WHERE campus_id = $1 AND id = $2
	`, campusID, toolID)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrToolNotFound
	}
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, campusID, ownerID string) ([]*Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campus_id, name, description, owner_id, visibility, status,
		       version, composition, created_at, updated_at
		FROM tools
		WHERE campus_id = $1 AND owner_id = $2
		ORDER BY updated_at DESC
	`, campusID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListByOwner: %w", err)
	}
	defer rows.Close()

	var out []*Tool
	for rows.Next() {
		var t Tool
		var compJSON []byte
		if err := rows.Scan(
			&t.ID, &t.CampusID, &t.Name, &t.Description, &t.OwnerID,
			&t.Visibility, &t.Status, &t.Version, &compJSON, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("ListByOwner: %w", err)
		}
		if err := json.Unmarshal(compJSON, &t.Composition); err != nil {
			s.logger.Warn("skipping tool with bad composition json",
				zap.String("tool_id", t.ID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
