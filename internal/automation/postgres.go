package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// definitionDoc is the JSONB blob holding the caller-owned definition fields.
type definitionDoc struct {
	Trigger    Trigger     `json:"trigger"`
	Conditions []Condition `json:"conditions,omitempty"`
	Actions    []Action    `json:"actions"`
	Limits     Limits      `json:"limits"`
}

// PostgresStore keeps automations as one row each in the automations table:
// the definition as JSONB, the runtime counters as plain columns so
// ReserveRun can update them atomically.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

const automationColumns = `
	id, campus_id, deployment_id, name, enabled, definition,
	last_run_at, runs_today, runs_today_date,
	times_triggered, success_count, failure_count,
	created_at, updated_at`

func scanAutomation(scan func(...any) error) (*Automation, error) {
	var a Automation
	var defJSON []byte
	var lastRun sql.NullTime
	var runsDate sql.NullString
	if err := scan(
		&a.ID, &a.CampusID, &a.DeploymentID, &a.Name, &a.Enabled, &defJSON,
		&lastRun, &a.RunsToday, &runsDate,
		&a.TimesTriggered, &a.SuccessCount, &a.FailureCount,
		&a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var def definitionDoc
	if err := json.Unmarshal(defJSON, &def); err != nil {
		return nil, fmt.Errorf("definition: %w", err)
	}
	a.Trigger = def.Trigger
	a.Conditions = def.Conditions
	a.Actions = def.Actions
	a.Limits = def.Limits
	if lastRun.Valid {
		t := lastRun.Time
		a.LastRunAt = &t
	}
	if runsDate.Valid {
		a.RunsTodayDate = runsDate.String
	}
	return &a, nil
}

func (s *PostgresStore) Get(ctx context.Context, campusID, automationID string) (*Automation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+automationColumns+` FROM automations
		WHERE campus_id = $1 AND id = $2
	`, campusID, automationID)
	a, err := scanAutomation(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("Get: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) Save(ctx context.Context, a *Automation) error {
	defJSON, err := json.Marshal(definitionDoc{
		Trigger:    a.Trigger,
		Conditions: a.Conditions,
		Actions:    a.Actions,
		Limits:     a.Limits,
	})
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automations (id, campus_id, deployment_id, name, enabled,
		                         definition, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (campus_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			enabled = EXCLUDED.enabled,
			definition = EXCLUDED.definition,
			updated_at = now()
	`, a.ID, a.CampusID, a.DeploymentID, a.Name, a.Enabled, defJSON)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, campusID, automationID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM automations WHERE campus_id = $1 AND id = $2
	`, campusID, automationID)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListByDeployment(ctx context.Context, campusID, deploymentID string) ([]*Automation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+automationColumns+` FROM automations
		WHERE campus_id = $1 AND deployment_id = $2
		ORDER BY created_at
	`, campusID, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("ListByDeployment: %w", err)
	}
	defer rows.Close()
	return s.collect(rows)
}

func (s *PostgresStore) DeleteByDeployment(ctx context.Context, campusID, deploymentID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM automations WHERE campus_id = $1 AND deployment_id = $2
	`, campusID, deploymentID)
	if err != nil {
		return fmt.Errorf("DeleteByDeployment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListScheduled(ctx context.Context) ([]*Automation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+automationColumns+` FROM automations
		WHERE enabled AND definition->'trigger'->>'type' = 'schedule'
	`)
	if err != nil {
		return nil, fmt.Errorf("ListScheduled: %w", err)
	}
	defer rows.Close()
	return s.collect(rows)
}

func (s *PostgresStore) collect(rows *sql.Rows) ([]*Automation, error) {
	var out []*Automation
	for rows.Next() {
		a, err := scanAutomation(rows.Scan)
		if err != nil {
			s.logger.Warn("skipping unreadable automation row", zap.Error(err))
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReserveRun performs the lazy day reset, cooldown check, daily-cap check and
// counter bump in one statement, so two concurrent triggers cannot both pass
// a cap of N with N-1 runs used.
func (s *PostgresStore) ReserveRun(ctx context.Context, campusID, automationID string, now time.Time) (*RunReservation, error) {
	today := now.UTC().Format("2006-01-02")
	res, err := s.db.ExecContext(ctx, `
		UPDATE automations SET
			runs_today = CASE WHEN runs_today_date = $3 THEN runs_today + 1 ELSE 1 END,
			runs_today_date = $3,
			last_run_at = $4,
			times_triggered = times_triggered + 1
		WHERE campus_id = $1 AND id = $2
		  AND enabled
		  AND (
			(definition->'limits'->>'cooldown_seconds')::int = 0
			OR last_run_at IS NULL
			OR last_run_at <= $4::timestamptz - make_interval(secs => (definition->'limits'->>'cooldown_seconds')::int)
		  )
		  AND (
			(definition->'limits'->>'max_runs_per_day')::int = 0
			OR (CASE WHEN runs_today_date = $3 THEN runs_today ELSE 0 END)
			   < (definition->'limits'->>'max_runs_per_day')::int
		  )
	`, campusID, automationID, today, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("ReserveRun: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("ReserveRun: %w", err)
	}
	if n > 0 {
		return &RunReservation{OK: true}, nil
	}

	// Suppressed: re-read to label the reason. The label is best-effort
	// under concurrency; the refusal itself is what's authoritative.
	a, err := s.Get(ctx, campusID, automationID)
	if err != nil {
		return nil, err
	}
	switch {
	case !a.Enabled:
		return &RunReservation{OK: false, Reason: SuppressDisabled}, nil
	case a.Limits.CooldownSeconds > 0 && a.LastRunAt != nil &&
		now.Sub(*a.LastRunAt) < time.Duration(a.Limits.CooldownSeconds)*time.Second:
		return &RunReservation{OK: false, Reason: SuppressCooldown}, nil
	default:
		return &RunReservation{OK: false, Reason: SuppressRate}, nil
	}
}

func (s *PostgresStore) RecordResult(ctx context.Context, campusID, automationID string, succeeded, failed int) error {
	failureBump := 0
	if failed > 0 {
		failureBump = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE automations SET
			success_count = success_count + $3,
			failure_count = failure_count + $4
		WHERE campus_id = $1 AND id = $2
	`, campusID, automationID, succeeded, failureBump)
	if err != nil {
		return fmt.Errorf("RecordResult: %w", err)
	}
	return nil
}
