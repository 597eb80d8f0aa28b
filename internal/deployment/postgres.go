package deployment

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore keeps deployments in the deployments table, one row each,
// campus-scoped like every other query in the service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const deploymentColumns = `
	id, campus_id, tool_id, surface_type, target_id,
	placement, display_order, visibility, deployed_by, created_at`

func (s *PostgresStore) Get(ctx context.Context, campusID, deploymentID string) (*Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+deploymentColumns+` FROM deployments
		WHERE campus_id = $1 AND id = $2
	`, campusID, deploymentID)

	var d Deployment
	if err := row.Scan(
		&d.ID, &d.CampusID, &d.ToolID, &d.SurfaceType, &d.TargetID,
		&d.Placement, &d.Order, &d.Visibility, &d.DeployedBy, &d.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) Save(ctx context.Context, d *Deployment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deployments (id, campus_id, tool_id, surface_type, target_id,
		                         placement, display_order, visibility, deployed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (campus_id, id) DO UPDATE SET
			placement = EXCLUDED.placement,
			display_order = EXCLUDED.display_order,
			visibility = EXCLUDED.visibility
	`, d.ID, d.CampusID, d.ToolID, d.SurfaceType, d.TargetID,
		d.Placement, d.Order, d.Visibility, d.DeployedBy, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, campusID, deploymentID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM deployments WHERE campus_id = $1 AND id = $2
	`, campusID, deploymentID)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListForTarget(ctx context.Context, campusID string, surface SurfaceType, targetID string) ([]*Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deploymentColumns+` FROM deployments
		WHERE campus_id = $1 AND surface_type = $2 AND target_id = $3
		ORDER BY display_order
	`, campusID, surface, targetID)
	if err != nil {
		return nil, fmt.Errorf("ListForTarget: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *PostgresStore) ListForTool(ctx context.Context, campusID, toolID string) ([]*Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deploymentColumns+` FROM deployments
		WHERE campus_id = $1 AND tool_id = $2
	`, campusID, toolID)
	if err != nil {
		return nil, fmt.Errorf("ListForTool: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]*Deployment, error) {
	var out []*Deployment
	for rows.Next() {
		var d Deployment
		if err := rows.Scan(
			&d.ID, &d.CampusID, &d.ToolID, &d.SurfaceType, &d.TargetID,
			&d.Placement, &d.Order, &d.Visibility, &d.DeployedBy, &d.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}
