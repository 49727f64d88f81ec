package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// SetupStatusRepository stores onboarding milestone flags, one row per organization.
type SetupStatusRepository interface {
	// Get returns the stored row. Returns nil, nil if the organization has none yet.
	Get(ctx context.Context, orgID uuid.UUID) (*models.SetupStatusRecord, error)

	// MarkStep sets the step flag, creating the row on first write, and returns the updated row.
	// setup_started_at is set to now only when it is still empty.
	MarkStep(ctx context.Context, orgID uuid.UUID, step models.SetupStep, now time.Time) (*models.SetupStatusRecord, error)

	// SetCompletedAt overwrites setup_completed_at.
	SetCompletedAt(ctx context.Context, orgID uuid.UUID, at time.Time) error

	// Delete removes the row. Deleting a missing row is not an error.
	Delete(ctx context.Context, orgID uuid.UUID) error
}

type setupStatusRepository struct {
	db *database.DB
}

// NewSetupStatusRepository creates a new setup status repository.
func NewSetupStatusRepository(db *database.DB) SetupStatusRepository {
	return &setupStatusRepository{db: db}
}

var _ SetupStatusRepository = (*setupStatusRepository)(nil)

const setupStatusColumns = `org_id, steps, setup_started_at, setup_completed_at, updated_at`

func (r *setupStatusRepository) Get(ctx context.Context, orgID uuid.UUID) (*models.SetupStatusRecord, error) {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	row := scope.Conn.QueryRow(ctx,
		`SELECT `+setupStatusColumns+` FROM engine_setup_status WHERE org_id = $1`, orgID)
	rec, err := scanSetupStatus(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get setup status: %w", err)
	}
	return rec, nil
}

func (r *setupStatusRepository) MarkStep(ctx context.Context, orgID uuid.UUID, step models.SetupStep, now time.Time) (*models.SetupStatusRecord, error) {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	query := `
		INSERT INTO engine_setup_status (org_id, steps, setup_started_at)
		VALUES ($1, jsonb_build_object($2::text, true), $3)
		ON CONFLICT (org_id) DO UPDATE SET
			steps = engine_setup_status.steps || jsonb_build_object($2::text, true),
			setup_started_at = COALESCE(engine_setup_status.setup_started_at, EXCLUDED.setup_started_at)
		RETURNING ` + setupStatusColumns

	rec, err := scanSetupStatus(scope.Conn.QueryRow(ctx, query, orgID, string(step), now))
	if err != nil {
		return nil, fmt.Errorf("mark setup step %s: %w", step, err)
	}
	return rec, nil
}

func (r *setupStatusRepository) SetCompletedAt(ctx context.Context, orgID uuid.UUID, at time.Time) error {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	_, err = scope.Conn.Exec(ctx,
		`UPDATE engine_setup_status SET setup_completed_at = $2 WHERE org_id = $1`, orgID, at)
	if err != nil {
		return fmt.Errorf("set setup completed: %w", err)
	}
	return nil
}

func (r *setupStatusRepository) Delete(ctx context.Context, orgID uuid.UUID) error {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	if _, err := scope.Conn.Exec(ctx, `DELETE FROM engine_setup_status WHERE org_id = $1`, orgID); err != nil {
		return fmt.Errorf("delete setup status: %w", err)
	}
	return nil
}

func scanSetupStatus(row pgx.Row) (*models.SetupStatusRecord, error) {
	var rec models.SetupStatusRecord
	var stepsJSON []byte
	if err := row.Scan(&rec.OrgID, &stepsJSON, &rec.SetupStartedAt, &rec.SetupCompletedAt, &rec.UpdatedAt); err != nil {
		return nil, err
	}

	rec.Steps = make(map[models.SetupStep]bool)
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &rec.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	return &rec, nil
}
