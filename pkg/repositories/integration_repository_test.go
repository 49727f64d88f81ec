//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/crypto"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/testhelpers"
)

// integrationTestContext holds test dependencies for integration repository tests.
type integrationTestContext struct {
	t     *testing.T
	db    *testhelpers.ConnectDB
	box   crypto.SecretBox
	repo  IntegrationRepository
	orgID uuid.UUID
}

func setupIntegrationTest(t *testing.T) *integrationTestContext {
	db := testhelpers.GetConnectDB(t)
	box, err := crypto.NewSecretBox("integration-repository-test-key")
	require.NoError(t, err)

	tc := &integrationTestContext{
		t:     t,
		db:    db,
		box:   box,
		repo:  NewIntegrationRepository(db.DB, box),
		orgID: uuid.New(),
	}
	t.Cleanup(func() {
		db.Exec(t, `DELETE FROM engine_integrations WHERE org_id = $1`, tc.orgID)
	})
	return tc
}

func TestIntegrationRepository_GetMissing(t *testing.T) {
	tc := setupIntegrationTest(t)

	rec, err := tc.repo.Get(context.Background(), tc.orgID, models.ProviderGitHub)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestIntegrationRepository_BYOKThenConnection(t *testing.T) {
	tc := setupIntegrationTest(t)
	ctx := context.Background()

	err := tc.repo.SaveBYOK(ctx, tc.orgID, models.ProviderGitHub, models.BYOKCredentials{
		ClientID:     "Iv1.abc",
		ClientSecret: "secret-value-123",
	})
	require.NoError(t, err)

	rec, err := tc.repo.Get(ctx, tc.orgID, models.ProviderGitHub)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.BYOKEnabled)
	assert.Equal(t, "Iv1.abc", rec.BYOKClientID)
	assert.Equal(t, "secret-value-123", rec.BYOKClientSecret)
	assert.False(t, rec.IsConfigured, "saving BYOK must not mark the integration configured")
	assert.Equal(t, models.SyncStatusPending, rec.SyncStatus)

	var stored string
	require.NoError(t, tc.db.DB.Pool.QueryRow(ctx,
		`SELECT byok_client_secret FROM engine_integrations WHERE org_id = $1 AND provider_id = $2`,
		tc.orgID, models.ProviderGitHub).Scan(&stored))
	assert.NotEqual(t, "secret-value-123", stored, "secret must be sealed at rest")

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	err = tc.repo.SaveConnection(ctx, &models.Connection{
		OrgID:      tc.orgID,
		ProviderID: models.ProviderGitHub,
		Tokens: &models.TokenSet{
			AccessToken:  "gho_access",
			RefreshToken: "ghr_refresh",
			ExpiresAt:    &expires,
		},
		Account:     models.AccountIdentity{Login: "octocat", AccountID: "1"},
		CompletedBy: "user-1",
		CompletedAt: time.Now(),
	})
	require.NoError(t, err)

	rec, err = tc.repo.Get(ctx, tc.orgID, models.ProviderGitHub)
	require.NoError(t, err)
	assert.True(t, rec.IsConfigured)
	assert.Equal(t, models.SyncStatusSuccess, rec.SyncStatus)
	assert.Equal(t, "gho_access", rec.AccessToken)
	assert.Equal(t, "ghr_refresh", rec.RefreshToken)
	assert.Equal(t, "octocat", rec.Account.Login)
	assert.Equal(t, "user-1", rec.SetupCompletedBy)
	require.NotNil(t, rec.TokenExpiresAt)
	assert.True(t, expires.Equal(*rec.TokenExpiresAt))

	// BYOK fields untouched by the connection write
	assert.True(t, rec.BYOKEnabled)
	assert.Equal(t, "Iv1.abc", rec.BYOKClientID)
	assert.Equal(t, "secret-value-123", rec.BYOKClientSecret)
}

func TestIntegrationRepository_DisableBYOKKeepsConnection(t *testing.T) {
	tc := setupIntegrationTest(t)
	ctx := context.Background()

	require.NoError(t, tc.repo.SaveConnection(ctx, &models.Connection{
		OrgID:       tc.orgID,
		ProviderID:  models.ProviderZoom,
		Tokens:      &models.TokenSet{AccessToken: "zoom-access"},
		CompletedAt: time.Now(),
	}))
	require.NoError(t, tc.repo.SaveBYOK(ctx, tc.orgID, models.ProviderZoom, models.BYOKCredentials{
		ClientID: "cid", ClientSecret: "csecret", RedirectURL: "https://example.com/cb",
	}))

	require.NoError(t, tc.repo.DisableBYOK(ctx, tc.orgID, models.ProviderZoom))

	rec, err := tc.repo.Get(ctx, tc.orgID, models.ProviderZoom)
	require.NoError(t, err)
	assert.False(t, rec.BYOKEnabled)
	assert.Empty(t, rec.BYOKClientID)
	assert.Empty(t, rec.BYOKClientSecret)
	assert.Empty(t, rec.BYOKRedirectURL)
	assert.True(t, rec.IsConfigured)
	assert.Equal(t, "zoom-access", rec.AccessToken)

	// Absent row is a no-op
	require.NoError(t, tc.repo.DisableBYOK(ctx, tc.orgID, models.ProviderGitLab))
}

func TestIntegrationRepository_UpdateTokensKeepsRefreshToken(t *testing.T) {
	tc := setupIntegrationTest(t)
	ctx := context.Background()

	require.NoError(t, tc.repo.SaveConnection(ctx, &models.Connection{
		OrgID:       tc.orgID,
		ProviderID:  models.ProviderGoogleCalendar,
		Tokens:      &models.TokenSet{AccessToken: "old", RefreshToken: "refresh-1"},
		CompletedAt: time.Now(),
	}))

	expires := time.Now().Add(time.Hour)
	require.NoError(t, tc.repo.UpdateTokens(ctx, tc.orgID, models.ProviderGoogleCalendar, &models.TokenSet{
		AccessToken: "new",
		ExpiresAt:   &expires,
	}))

	rec, err := tc.repo.Get(ctx, tc.orgID, models.ProviderGoogleCalendar)
	require.NoError(t, err)
	assert.Equal(t, "new", rec.AccessToken)
	assert.Equal(t, "refresh-1", rec.RefreshToken)

	err = tc.repo.UpdateTokens(ctx, tc.orgID, models.ProviderSlack, &models.TokenSet{AccessToken: "x"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestIntegrationRepository_MarkRefreshFailed(t *testing.T) {
	tc := setupIntegrationTest(t)
	ctx := context.Background()

	require.NoError(t, tc.repo.SaveConnection(ctx, &models.Connection{
		OrgID:       tc.orgID,
		ProviderID:  models.ProviderGoogleCalendar,
		Tokens:      &models.TokenSet{AccessToken: "a", RefreshToken: "r"},
		CompletedAt: time.Now(),
	}))
	require.NoError(t, tc.repo.MarkRefreshFailed(ctx, tc.orgID, models.ProviderGoogleCalendar))

	rec, err := tc.repo.Get(ctx, tc.orgID, models.ProviderGoogleCalendar)
	require.NoError(t, err)
	assert.False(t, rec.IsConfigured)
	assert.Equal(t, models.SyncStatusFailed, rec.SyncStatus)
}

func TestIntegrationRepository_SyncStatusEnabledAndDelete(t *testing.T) {
	tc := setupIntegrationTest(t)
	ctx := context.Background()

	updated, err := tc.repo.UpdateSyncStatus(ctx, tc.orgID, models.ProviderCalCom, models.SyncStatusSuccess, time.Now())
	require.NoError(t, err)
	assert.False(t, updated, "missing record is not created by a sync update")

	require.NoError(t, tc.repo.SaveConnection(ctx, &models.Connection{
		OrgID:       tc.orgID,
		ProviderID:  models.ProviderCalCom,
		APIKey:      "cal_live_0123456789",
		CompletedAt: time.Now(),
	}))

	updated, err = tc.repo.UpdateSyncStatus(ctx, tc.orgID, models.ProviderCalCom, models.SyncStatusPending, time.Time{})
	require.NoError(t, err)
	assert.True(t, updated)

	require.NoError(t, tc.repo.SetEnabled(ctx, tc.orgID, models.ProviderCalCom, false))
	assert.ErrorIs(t, tc.repo.SetEnabled(ctx, tc.orgID, models.ProviderZoom, false), apperrors.ErrNotFound)

	records, err := tc.repo.ListByOrg(ctx, tc.orgID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "cal_live_0123456789", records[0].APIKey)
	assert.False(t, records[0].IsEnabled)
	assert.Equal(t, models.SyncStatusPending, records[0].SyncStatus)
	assert.NotNil(t, records[0].LastSyncAt)

	has, err := tc.repo.HasConfiguredProvider(ctx, tc.orgID, []string{models.ProviderCalCom, models.ProviderZoom})
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, tc.repo.Delete(ctx, tc.orgID, models.ProviderCalCom))
	require.NoError(t, tc.repo.Delete(ctx, tc.orgID, models.ProviderCalCom), "delete is idempotent")

	has, err = tc.repo.HasConfiguredProvider(ctx, tc.orgID, []string{models.ProviderCalCom})
	require.NoError(t, err)
	assert.False(t, has)
}

func TestIntegrationRepository_KeyMismatch(t *testing.T) {
	tc := setupIntegrationTest(t)
	ctx := context.Background()

	require.NoError(t, tc.repo.SaveConnection(ctx, &models.Connection{
		OrgID:       tc.orgID,
		ProviderID:  models.ProviderOpenAI,
		APIKey:      "sk-test-key-0123456789",
		CompletedAt: time.Now(),
	}))

	otherBox, err := crypto.NewSecretBox("a-different-key")
	require.NoError(t, err)
	otherRepo := NewIntegrationRepository(tc.db.DB, otherBox)

	_, err = otherRepo.Get(ctx, tc.orgID, models.ProviderOpenAI)
	assert.ErrorIs(t, err, apperrors.ErrCredentialsKeyMismatch)
}

func TestIntegrationRepository_OrgIsolation(t *testing.T) {
	tc := setupIntegrationTest(t)
	ctx := context.Background()
	otherOrg := uuid.New()
	t.Cleanup(func() {
		tc.db.Exec(t, `DELETE FROM engine_integrations WHERE org_id = $1`, otherOrg)
	})

	require.NoError(t, tc.repo.SaveBYOK(ctx, otherOrg, models.ProviderGitHub, models.BYOKCredentials{
		ClientID: "other", ClientSecret: "other-secret",
	}))

	rec, err := tc.repo.Get(ctx, tc.orgID, models.ProviderGitHub)
	require.NoError(t, err)
	assert.Nil(t, rec)
}
