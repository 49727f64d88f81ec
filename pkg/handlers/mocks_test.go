package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
	"github.com/ekaya-inc/ekaya-connect/pkg/testhelpers"
)

type mockIntegrationService struct {
	list        []*models.IntegrationSummary
	byokStatus  *models.BYOKStatus
	err         error
	savedFields map[string]string
	enabled     *bool
	disconnects []string
	resyncs     []string
}

func (m *mockIntegrationService) ListIntegrations(context.Context, uuid.UUID) ([]*models.IntegrationSummary, error) {
	return m.list, m.err
}

func (m *mockIntegrationService) SaveBYOK(_ context.Context, _ uuid.UUID, _ string, fields map[string]string) (*models.BYOKStatus, error) {
	m.savedFields = fields
	return m.byokStatus, m.err
}

func (m *mockIntegrationService) GetBYOKStatus(context.Context, uuid.UUID, string) (*models.BYOKStatus, error) {
	return m.byokStatus, m.err
}

func (m *mockIntegrationService) DisableBYOK(context.Context, uuid.UUID, string) error {
	return m.err
}

func (m *mockIntegrationService) Disconnect(_ context.Context, _ uuid.UUID, providerID, userID string) error {
	m.disconnects = append(m.disconnects, providerID+":"+userID)
	return m.err
}

func (m *mockIntegrationService) RequestResync(_ context.Context, _ uuid.UUID, providerID string) error {
	m.resyncs = append(m.resyncs, providerID)
	return m.err
}

func (m *mockIntegrationService) SetEnabled(_ context.Context, _ uuid.UUID, _ string, enabled bool) error {
	m.enabled = &enabled
	return m.err
}

var _ services.IntegrationService = (*mockIntegrationService)(nil)

type mockAPIKeyService struct {
	account *models.AccountIdentity
	err     error
	gotKey  string
	gotUser string
}

func (m *mockAPIKeyService) ConnectAPIKey(_ context.Context, _ uuid.UUID, userID, _, key string) (*models.AccountIdentity, error) {
	m.gotKey, m.gotUser = key, userID
	return m.account, m.err
}

var _ services.APIKeyService = (*mockAPIKeyService)(nil)

type mockOAuthFlowService struct {
	authURL      string
	buildErr     error
	result       *services.AuthorizationResult
	completeErr  error
	gotUserID    string
	gotCode      string
	gotState     string
	completeCall int
}

func (m *mockOAuthFlowService) BuildAuthorizationURL(_ context.Context, _ uuid.UUID, userID, _ string) (string, error) {
	m.gotUserID = userID
	return m.authURL, m.buildErr
}

func (m *mockOAuthFlowService) ExchangeCode(context.Context, *models.ProviderDefinition, string, *models.CredentialSet) (*models.TokenSet, error) {
	return nil, nil
}

func (m *mockOAuthFlowService) CompleteAuthorization(_ context.Context, _, code, state string) (*services.AuthorizationResult, error) {
	m.completeCall++
	m.gotCode, m.gotState = code, state
	return m.result, m.completeErr
}

func (m *mockOAuthFlowService) RefreshIfNeeded(_ context.Context, rec *models.IntegrationRecord) (*models.IntegrationRecord, error) {
	return rec, nil
}

func (m *mockOAuthFlowService) GetValidAccessToken(context.Context, uuid.UUID, string) (string, error) {
	return "", nil
}

var _ services.OAuthFlowService = (*mockOAuthFlowService)(nil)

type mockWebhookIngestor struct {
	event     *models.WebhookEvent
	err       error
	calls     int
	eventType string
}

func (m *mockWebhookIngestor) Ingest(_ context.Context, providerID string, orgID uuid.UUID, eventType string, _ []byte) (*models.WebhookEvent, error) {
	m.calls++
	m.eventType = eventType
	if m.err != nil {
		return nil, m.err
	}
	ev := *m.event
	ev.ProviderID, ev.OrgID = providerID, orgID
	return &ev, nil
}

var _ services.WebhookIngestor = (*mockWebhookIngestor)(nil)

type mockSetupStatusService struct {
	status *models.SetupStatus
	err    error
	marked []models.SetupStep
	resets int
}

func (m *mockSetupStatusService) GetStatus(context.Context, uuid.UUID) (*models.SetupStatus, error) {
	return m.status, m.err
}

func (m *mockSetupStatusService) MarkStepComplete(_ context.Context, _ uuid.UUID, step models.SetupStep) (*models.SetupStatus, error) {
	m.marked = append(m.marked, step)
	return m.status, m.err
}

func (m *mockSetupStatusService) Reset(context.Context, uuid.UUID) error {
	m.resets++
	return m.err
}

var _ services.SetupStatusService = (*mockSetupStatusService)(nil)

// testAuthMiddleware accepts unsigned test tokens from testhelpers.
func testAuthMiddleware(t *testing.T) *auth.Middleware {
	t.Helper()
	jwks, err := auth.NewJWKSClient(&auth.JWKSConfig{EnableVerification: false})
	require.NoError(t, err)
	t.Cleanup(jwks.Close)
	return auth.NewMiddleware(auth.NewAuthService(jwks, zap.NewNop()), zap.NewNop())
}

// doRequest sends a request through mux with a bearer token for orgID carrying roles.
// An empty roles list sends no Authorization header.
func doRequest(mux *http.ServeMux, method, path string, body string, orgID uuid.UUID, roles ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, stringReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if len(roles) > 0 {
		req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer("user-1", orgID.String(), "user@example.com", roles...))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}
