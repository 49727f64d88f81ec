package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/crypto"
	"github.com/ekaya-inc/ekaya-connect/pkg/database"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// IntegrationRepository defines data access for integration records.
// Secret columns (tokens, API key, BYOK client secret) are sealed before storage and
// opened after retrieval. Every call runs on an org-scoped connection.
type IntegrationRepository interface {
	// Get returns the record for (org, provider). Returns nil, nil if no record exists.
	Get(ctx context.Context, orgID uuid.UUID, providerID string) (*models.IntegrationRecord, error)

	// ListByOrg returns every record of the organization ordered by provider.
	ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.IntegrationRecord, error)

	// SaveBYOK upserts the BYOK columns and turns the toggle on. Connection columns are untouched.
	SaveBYOK(ctx context.Context, orgID uuid.UUID, providerID string, creds models.BYOKCredentials) error

	// DisableBYOK clears the BYOK columns. A missing record is a no-op.
	DisableBYOK(ctx context.Context, orgID uuid.UUID, providerID string) error

	// SaveConnection upserts the connection columns and marks the record configured.
	// BYOK columns are untouched.
	SaveConnection(ctx context.Context, conn *models.Connection) error

	// UpdateTokens persists refreshed tokens. An empty refresh token keeps the stored one.
	UpdateTokens(ctx context.Context, orgID uuid.UUID, providerID string, tokens *models.TokenSet) error

	// MarkRefreshFailed demotes a record after a failed refresh.
	MarkRefreshFailed(ctx context.Context, orgID uuid.UUID, providerID string) error

	// UpdateSyncStatus sets sync status and, when at is non-zero, last_sync_at.
	// Returns false if no record exists.
	UpdateSyncStatus(ctx context.Context, orgID uuid.UUID, providerID string, status models.SyncStatus, at time.Time) (bool, error)

	// SetEnabled toggles is_enabled. Returns apperrors.ErrNotFound if no record exists.
	SetEnabled(ctx context.Context, orgID uuid.UUID, providerID string, enabled bool) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, orgID uuid.UUID, providerID string) error

	// HasConfiguredProvider reports whether any of providerIDs has a configured record.
	HasConfiguredProvider(ctx context.Context, orgID uuid.UUID, providerIDs []string) (bool, error)
}

type integrationRepository struct {
	db  *database.DB
	box crypto.SecretBox
}

// NewIntegrationRepository creates a new integration repository.
func NewIntegrationRepository(db *database.DB, box crypto.SecretBox) IntegrationRepository {
	return &integrationRepository{db: db, box: box}
}

var _ IntegrationRepository = (*integrationRepository)(nil)

const integrationColumns = `
	org_id, provider_id,
	COALESCE(access_token, ''), COALESCE(refresh_token, ''), token_expires_at, COALESCE(api_key, ''),
	byok_enabled, COALESCE(byok_client_id, ''), COALESCE(byok_client_secret, ''), COALESCE(byok_redirect_url, ''),
	COALESCE(account_login, ''), COALESCE(account_email, ''), COALESCE(account_id, ''), COALESCE(account_type, ''),
	is_configured, is_enabled, sync_status, last_sync_at,
	setup_completed_at, COALESCE(setup_completed_by, ''),
	COALESCE(credentials_key_id, ''),
	created_at, updated_at`

func (r *integrationRepository) Get(ctx context.Context, orgID uuid.UUID, providerID string) (*models.IntegrationRecord, error) {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	query := `SELECT` + integrationColumns + `
		FROM engine_integrations
		WHERE org_id = $1 AND provider_id = $2`

	record, err := r.scanRecord(scope.Conn.QueryRow(ctx, query, orgID, providerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get integration: %w", err)
	}
	return record, nil
}

func (r *integrationRepository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]*models.IntegrationRecord, error) {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	query := `SELECT` + integrationColumns + `
		FROM engine_integrations
		WHERE org_id = $1
		ORDER BY provider_id`

	rows, err := scope.Conn.Query(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	records := make([]*models.IntegrationRecord, 0)
	for rows.Next() {
		record, err := r.scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate integrations: %w", err)
	}
	return records, nil
}

func (r *integrationRepository) SaveBYOK(ctx context.Context, orgID uuid.UUID, providerID string, creds models.BYOKCredentials) error {
	secret := creds.ClientSecret
	if err := crypto.SealAll(r.box, &secret); err != nil {
		return fmt.Errorf("seal byok secret: %w", err)
	}

	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	query := `
		INSERT INTO engine_integrations (
			org_id, provider_id, byok_enabled, byok_client_id, byok_client_secret, byok_redirect_url,
			credentials_key_id
		) VALUES ($1, $2, true, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (org_id, provider_id) DO UPDATE SET
			byok_enabled = true,
			byok_client_id = EXCLUDED.byok_client_id,
			byok_client_secret = EXCLUDED.byok_client_secret,
			byok_redirect_url = EXCLUDED.byok_redirect_url,
			credentials_key_id = EXCLUDED.credentials_key_id`

	_, err = scope.Conn.Exec(ctx, query, orgID, providerID, creds.ClientID, secret, creds.RedirectURL, r.box.KeyID())
	if err != nil {
		return fmt.Errorf("save byok credentials: %w", err)
	}
	return nil
}

func (r *integrationRepository) DisableBYOK(ctx context.Context, orgID uuid.UUID, providerID string) error {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	query := `
		UPDATE engine_integrations
		SET byok_enabled = false,
			byok_client_id = NULL,
			byok_client_secret = NULL,
			byok_redirect_url = NULL
		WHERE org_id = $1 AND provider_id = $2`

	if _, err := scope.Conn.Exec(ctx, query, orgID, providerID); err != nil {
		return fmt.Errorf("disable byok: %w", err)
	}
	return nil
}

func (r *integrationRepository) SaveConnection(ctx context.Context, conn *models.Connection) error {
	var accessToken, refreshToken string
	var expiresAt *time.Time
	if conn.Tokens != nil {
		accessToken = conn.Tokens.AccessToken
		refreshToken = conn.Tokens.RefreshToken
		expiresAt = conn.Tokens.ExpiresAt
	}
	apiKey := conn.APIKey
	if err := crypto.SealAll(r.box, &accessToken, &refreshToken, &apiKey); err != nil {
		return fmt.Errorf("seal connection secrets: %w", err)
	}

	scope, err := r.db.WithOrg(ctx, conn.OrgID)
	if err != nil {
		return fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	query := `
		INSERT INTO engine_integrations (
			org_id, provider_id,
			access_token, refresh_token, token_expires_at, api_key,
			account_login, account_email, account_id, account_type,
			is_configured, is_enabled, sync_status, last_sync_at,
			setup_completed_at, setup_completed_by, credentials_key_id
		) VALUES (
			$1, $2,
			NULLIF($3, ''), NULLIF($4, ''), $5, NULLIF($6, ''),
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''),
			true, true, 'success', $11,
			$11, NULLIF($12, ''), $13
		)
		ON CONFLICT (org_id, provider_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			api_key = EXCLUDED.api_key,
			account_login = EXCLUDED.account_login,
			account_email = EXCLUDED.account_email,
			account_id = EXCLUDED.account_id,
			account_type = EXCLUDED.account_type,
			is_configured = true,
			is_enabled = true,
			sync_status = 'success',
			last_sync_at = EXCLUDED.last_sync_at,
			setup_completed_at = EXCLUDED.setup_completed_at,
			setup_completed_by = EXCLUDED.setup_completed_by,
			credentials_key_id = EXCLUDED.credentials_key_id`

	_, err = scope.Conn.Exec(ctx, query,
		conn.OrgID, conn.ProviderID,
		accessToken, refreshToken, expiresAt, apiKey,
		conn.Account.Login, conn.Account.Email, conn.Account.AccountID, conn.Account.Type,
		conn.CompletedAt, conn.CompletedBy, r.box.KeyID(),
	)
	if err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return nil
}

func (r *integrationRepository) UpdateTokens(ctx context.Context, orgID uuid.UUID, providerID string, tokens *models.TokenSet) error {
	accessToken := tokens.AccessToken
	refreshToken := tokens.RefreshToken
	if err := crypto.SealAll(r.box, &accessToken, &refreshToken); err != nil {
		return fmt.Errorf("seal tokens: %w", err)
	}

	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	query := `
		UPDATE engine_integrations
		SET access_token = $3,
			refresh_token = COALESCE(NULLIF($4, ''), refresh_token),
			token_expires_at = $5,
			credentials_key_id = $6
		WHERE org_id = $1 AND provider_id = $2`

	tag, err := scope.Conn.Exec(ctx, query, orgID, providerID, accessToken, refreshToken, tokens.ExpiresAt, r.box.KeyID())
	if err != nil {
		return fmt.Errorf("update tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *integrationRepository) MarkRefreshFailed(ctx context.Context, orgID uuid.UUID, providerID string) error {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	query := `
		UPDATE engine_integrations
		SET is_configured = false, sync_status = 'failed'
		WHERE org_id = $1 AND provider_id = $2`

	if _, err := scope.Conn.Exec(ctx, query, orgID, providerID); err != nil {
		return fmt.Errorf("mark refresh failed: %w", err)
	}
	return nil
}

func (r *integrationRepository) UpdateSyncStatus(ctx context.Context, orgID uuid.UUID, providerID string, status models.SyncStatus, at time.Time) (bool, error) {
	if !status.IsValid() {
		return false, fmt.Errorf("invalid sync status %q", status)
	}

	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return false, fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	var lastSync *time.Time
	if !at.IsZero() {
		lastSync = &at
	}

	query := `
		UPDATE engine_integrations
		SET sync_status = $3,
			last_sync_at = COALESCE($4, last_sync_at)
		WHERE org_id = $1 AND provider_id = $2`

	tag, err := scope.Conn.Exec(ctx, query, orgID, providerID, string(status), lastSync)
	if err != nil {
		return false, fmt.Errorf("update sync status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *integrationRepository) SetEnabled(ctx context.Context, orgID uuid.UUID, providerID string, enabled bool) error {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	tag, err := scope.Conn.Exec(ctx,
		`UPDATE engine_integrations SET is_enabled = $3 WHERE org_id = $1 AND provider_id = $2`,
		orgID, providerID, enabled)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *integrationRepository) Delete(ctx context.Context, orgID uuid.UUID, providerID string) error {
	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	_, err = scope.Conn.Exec(ctx,
		`DELETE FROM engine_integrations WHERE org_id = $1 AND provider_id = $2`,
		orgID, providerID)
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	return nil
}

func (r *integrationRepository) HasConfiguredProvider(ctx context.Context, orgID uuid.UUID, providerIDs []string) (bool, error) {
	if len(providerIDs) == 0 {
		return false, nil
	}

	scope, err := r.db.WithOrg(ctx, orgID)
	if err != nil {
		return false, fmt.Errorf("acquire org scope: %w", err)
	}
	defer scope.Close()

	query := `
		SELECT EXISTS (
			SELECT 1 FROM engine_integrations
			WHERE org_id = $1 AND provider_id = ANY($2) AND is_configured
		)`

	var exists bool
	if err := scope.Conn.QueryRow(ctx, query, orgID, providerIDs).Scan(&exists); err != nil {
		return false, fmt.Errorf("check configured providers: %w", err)
	}
	return exists, nil
}

func (r *integrationRepository) scanRecord(row pgx.Row) (*models.IntegrationRecord, error) {
	var rec models.IntegrationRecord
	var syncStatus, keyID string

	err := row.Scan(
		&rec.OrgID, &rec.ProviderID,
		&rec.AccessToken, &rec.RefreshToken, &rec.TokenExpiresAt, &rec.APIKey,
		&rec.BYOKEnabled, &rec.BYOKClientID, &rec.BYOKClientSecret, &rec.BYOKRedirectURL,
		&rec.Account.Login, &rec.Account.Email, &rec.Account.AccountID, &rec.Account.Type,
		&rec.IsConfigured, &rec.IsEnabled, &syncStatus, &rec.LastSyncAt,
		&rec.SetupCompletedAt, &rec.SetupCompletedBy,
		&keyID,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.SyncStatus = models.SyncStatus(syncStatus)

	if err := crypto.OpenAll(r.box, keyID, &rec.AccessToken, &rec.RefreshToken, &rec.APIKey, &rec.BYOKClientSecret); err != nil {
		return nil, fmt.Errorf("open secrets for %s: %w", rec.ProviderID, err)
	}
	return &rec, nil
}
