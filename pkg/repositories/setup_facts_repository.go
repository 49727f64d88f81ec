package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-connect/pkg/database"
)

// SetupFactsRepository reads onboarding signals owned by neighbouring features.
type SetupFactsRepository interface {
	HasAITierConfig(ctx context.Context, orgID uuid.UUID) (bool, error)
	CountDomains(ctx context.Context, orgID uuid.UUID) (int, error)
	CountCircles(ctx context.Context, orgID uuid.UUID) (int, error)
}

type setupFactsRepository struct {
	db *database.DB
}

// NewSetupFactsRepository creates a new setup facts repository.
func NewSetupFactsRepository(db *database.DB) SetupFactsRepository {
	return &setupFactsRepository{db: db}
}

var _ SetupFactsRepository = (*setupFactsRepository)(nil)

func (r *setupFactsRepository) HasAITierConfig(ctx context.Context, orgID uuid.UUID) (bool, error) {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return false, fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	var exists bool
	err = scope.Conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM engine_ai_tier_configs WHERE org_id = $1)`, orgID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check ai tier config: %w", err)
	}
	return exists, nil
}

func (r *setupFactsRepository) CountDomains(ctx context.Context, orgID uuid.UUID) (int, error) {
	return r.count(ctx, orgID, `SELECT COUNT(*) FROM engine_domains WHERE org_id = $1`)
}

func (r *setupFactsRepository) CountCircles(ctx context.Context, orgID uuid.UUID) (int, error) {
	return r.count(ctx, orgID, `SELECT COUNT(*) FROM engine_circles WHERE org_id = $1`)
}

func (r *setupFactsRepository) count(ctx context.Context, orgID uuid.UUID, query string) (int, error) {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return 0, fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	var n int
	if err := scope.Conn.QueryRow(ctx, query, orgID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return n, nil
}
