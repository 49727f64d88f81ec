package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

func TestCredentialResolver_BYOKOnlyWhenEnabledAndComplete(t *testing.T) {
	tests := []struct {
		name         string
		enabled      bool
		clientID     string
		clientSecret string
		wantSource   models.CredentialSource
	}{
		{"enabled with both fields", true, "byok-id", "byok-secret", models.CredentialSourceBYOK},
		{"enabled missing secret", true, "byok-id", "", models.CredentialSourcePlatform},
		{"enabled missing id", true, "", "byok-secret", models.CredentialSourcePlatform},
		{"disabled with both fields", false, "byok-id", "byok-secret", models.CredentialSourcePlatform},
		{"disabled and empty", false, "", "", models.CredentialSourcePlatform},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newMockIntegrationRepository()
			orgID := uuid.New()
			repo.put(&models.IntegrationRecord{
				OrgID:            orgID,
				ProviderID:       models.ProviderGitHub,
				BYOKEnabled:      tt.enabled,
				BYOKClientID:     tt.clientID,
				BYOKClientSecret: tt.clientSecret,
			})
			resolver := NewCredentialResolver(testRegistry(nil), repo, testPlatformDefaults(), zap.NewNop())

			creds, err := resolver.Resolve(context.Background(), orgID, models.ProviderGitHub)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSource, creds.Source)
			if tt.wantSource == models.CredentialSourceBYOK {
				assert.Equal(t, "byok-id", creds.ClientID)
				assert.Equal(t, "byok-secret", creds.ClientSecret)
			} else {
				assert.Equal(t, "platform-github", creds.ClientID)
			}
		})
	}
}

// Turning BYOK back on means saving the same fields again; DisableBYOK does not keep them.
func TestCredentialResolver_DisableThenResaveRestoresIdenticalSet(t *testing.T) {
	env := newOAuthTestEnv(t)
	ctx := context.Background()
	fields := map[string]string{
		models.FieldClientID:     "zoom-client",
		models.FieldClientSecret: "zoom-secret",
		models.FieldRedirectURL:  "https://org.example.com/callback",
	}

	_, err := env.integrations.SaveBYOK(ctx, env.orgID, models.ProviderZoom, fields)
	require.NoError(t, err)
	before, err := env.resolver.Resolve(ctx, env.orgID, models.ProviderZoom)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialSourceBYOK, before.Source)

	require.NoError(t, env.integrations.DisableBYOK(ctx, env.orgID, models.ProviderZoom))
	off, err := env.resolver.Resolve(ctx, env.orgID, models.ProviderZoom)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialSourcePlatform, off.Source)
	assert.Equal(t, "platform-zoom", off.ClientID)

	status, err := env.integrations.GetBYOKStatus(ctx, env.orgID, models.ProviderZoom)
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.False(t, status.IsConfigured, "disabling clears the stored fields")

	_, err = env.integrations.SaveBYOK(ctx, env.orgID, models.ProviderZoom, fields)
	require.NoError(t, err)
	after, err := env.resolver.Resolve(ctx, env.orgID, models.ProviderZoom)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Equal(t, "https://org.example.com/callback", after.RedirectURL)
}

func TestCredentialResolver_BYOKWithoutRedirectUsesPlatformCallback(t *testing.T) {
	repo := newMockIntegrationRepository()
	orgID := uuid.New()
	repo.put(&models.IntegrationRecord{
		OrgID: orgID, ProviderID: models.ProviderGitLab,
		BYOKEnabled: true, BYOKClientID: "id", BYOKClientSecret: "secret",
	})
	resolver := NewCredentialResolver(testRegistry(nil), repo, testPlatformDefaults(), zap.NewNop())

	creds, err := resolver.Resolve(context.Background(), orgID, models.ProviderGitLab)
	require.NoError(t, err)
	assert.Equal(t, "https://connect.example.com/api/oauth/gitlab/callback", creds.RedirectURL)
}

func TestCredentialResolver_Errors(t *testing.T) {
	resolver := NewCredentialResolver(testRegistry(nil), newMockIntegrationRepository(),
		models.NewPlatformDefaults("https://connect.example.com", nil), zap.NewNop())
	ctx := context.Background()
	orgID := uuid.New()

	_, err := resolver.Resolve(ctx, orgID, "myspace")
	assert.ErrorIs(t, err, apperrors.ErrUnknownProvider)

	_, err = resolver.Resolve(ctx, orgID, models.ProviderBitbucket)
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)

	_, err = resolver.Resolve(ctx, orgID, models.ProviderGitHub)
	assert.ErrorIs(t, err, apperrors.ErrMissingCredentials)
}

func TestCredentialResolver_APIKeyProviders(t *testing.T) {
	repo := newMockIntegrationRepository()
	orgID := uuid.New()
	resolver := NewCredentialResolver(testRegistry(nil), repo, testPlatformDefaults(), zap.NewNop())
	ctx := context.Background()

	creds, err := resolver.Resolve(ctx, orgID, models.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialSourcePlatform, creds.Source)
	assert.Equal(t, "sk-platform-openai", creds.APIKey)

	repo.put(&models.IntegrationRecord{OrgID: orgID, ProviderID: models.ProviderOpenAI, APIKey: "sk-org-key", IsConfigured: true})
	creds, err = resolver.Resolve(ctx, orgID, models.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialSourceBYOK, creds.Source)
	assert.Equal(t, "sk-org-key", creds.APIKey)

	_, err = resolver.Resolve(ctx, orgID, models.ProviderAnthropic)
	assert.ErrorIs(t, err, apperrors.ErrMissingCredentials)
}

func TestCredentialResolver_DisconnectFallsBackToPlatform(t *testing.T) {
	env := newOAuthTestEnv(t)
	ctx := context.Background()

	_, err := env.integrations.SaveBYOK(ctx, env.orgID, models.ProviderGitHub, map[string]string{
		models.FieldClientID:     "org-client",
		models.FieldClientSecret: "org-secret",
	})
	require.NoError(t, err)

	creds, err := env.resolver.Resolve(ctx, env.orgID, models.ProviderGitHub)
	require.NoError(t, err)
	require.Equal(t, models.CredentialSourceBYOK, creds.Source)

	require.NoError(t, env.integrations.Disconnect(ctx, env.orgID, models.ProviderGitHub, "user-1"))

	creds, err = env.resolver.Resolve(ctx, env.orgID, models.ProviderGitHub)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialSourcePlatform, creds.Source)
	assert.Equal(t, "platform-github", creds.ClientID)
}
