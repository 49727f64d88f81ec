package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
)

type apiKeyTestEnv struct {
	svc     APIKeyService
	repo    *mockIntegrationRepository
	auditor *recordingAuditor
	marker  *recordingSetupMarker
	orgID   uuid.UUID
}

// newAPIKeyTestEnv points openai and calcom at a server that accepts only validKey.
func newAPIKeyTestEnv(t *testing.T, validKey string) *apiKeyTestEnv {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer "+validKey {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
			return
		}
		switch r.URL.Path {
		case "/models":
			_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o","object":"model","owned_by":"openai"}]}`))
		case "/me":
			_, _ = w.Write([]byte(`{"status":"success","data":{"id":42,"username":"alice","email":"alice@example.com"}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	defs := providers.BuiltinDefinitions()
	for _, d := range defs {
		switch d.ID {
		case models.ProviderOpenAI:
			d.APIBaseURL = srv.URL
		case models.ProviderCalCom:
			d.IdentityURL = srv.URL + "/me"
		}
	}

	repo := newMockIntegrationRepository()
	auditor := &recordingAuditor{}
	marker := &recordingSetupMarker{}
	verifier := providers.NewKeyVerifier(&http.Client{Timeout: 5 * time.Second})
	svc := NewAPIKeyService(providers.NewRegistryFromDefinitions(defs), verifier, repo, marker, auditor, &recordingTelemetry{}, zap.NewNop())

	return &apiKeyTestEnv{svc: svc, repo: repo, auditor: auditor, marker: marker, orgID: uuid.New()}
}

func TestConnectAPIKey_OpenAI(t *testing.T) {
	env := newAPIKeyTestEnv(t, "sk-good")
	ctx := context.Background()

	account, err := env.svc.ConnectAPIKey(ctx, env.orgID, "user-1", models.ProviderOpenAI, "  sk-good\n")
	require.NoError(t, err)
	assert.NotNil(t, account)

	rec, err := env.repo.Get(ctx, env.orgID, models.ProviderOpenAI)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsConfigured)
	assert.Equal(t, "sk-good", rec.APIKey, "key is stored trimmed")
	assert.Equal(t, models.SyncStatusSuccess, rec.SyncStatus)
	assert.Empty(t, env.marker.steps, "AI providers do not satisfy a connection milestone")
	assert.Contains(t, env.auditor.types(), audit.EventIntegrationConnected)
}

func TestConnectAPIKey_CalComIdentity(t *testing.T) {
	env := newAPIKeyTestEnv(t, "cal_live_good")
	ctx := context.Background()

	account, err := env.svc.ConnectAPIKey(ctx, env.orgID, "user-1", models.ProviderCalCom, "cal_live_good")
	require.NoError(t, err)
	assert.Equal(t, "alice", account.Login)
	assert.Equal(t, "alice@example.com", account.Email)
	assert.Equal(t, "42", account.AccountID)

	rec, err := env.repo.Get(ctx, env.orgID, models.ProviderCalCom)
	require.NoError(t, err)
	assert.Equal(t, "alice", rec.Account.Login)
	assert.Equal(t, []models.SetupStep{models.SetupStepMeetingProvider}, env.marker.steps)
}

func TestConnectAPIKey_RejectedKeyPersistsNothing(t *testing.T) {
	env := newAPIKeyTestEnv(t, "sk-good")
	ctx := context.Background()

	_, err := env.svc.ConnectAPIKey(ctx, env.orgID, "user-1", models.ProviderOpenAI, "sk-wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrKeyVerificationFailed)

	rec, err := env.repo.Get(ctx, env.orgID, models.ProviderOpenAI)
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, []audit.SecurityEventType{audit.EventAPIKeyRejected}, env.auditor.types())
}

func TestConnectAPIKey_Rejections(t *testing.T) {
	env := newAPIKeyTestEnv(t, "k")
	ctx := context.Background()

	_, err := env.svc.ConnectAPIKey(ctx, env.orgID, "u", models.ProviderGitHub, "k")
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedAuthType)

	_, err = env.svc.ConnectAPIKey(ctx, env.orgID, "u", "friendster", "k")
	assert.ErrorIs(t, err, apperrors.ErrUnknownProvider)

	_, err = env.svc.ConnectAPIKey(ctx, env.orgID, "u", models.ProviderOpenAI, "   ")
	assert.ErrorIs(t, err, apperrors.ErrKeyVerificationFailed)
}
