package handlers

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
	"github.com/ekaya-inc/ekaya-connect/pkg/testhelpers"
)

const (
	testFrontend      = "https://app.example.com"
	testDefaultReturn = testFrontend + "/settings/integrations"
)

func newOAuthMux(t *testing.T, flow *mockOAuthFlowService) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	sessions := auth.NewSessionStore("test-session-secret", testFrontend, false)
	NewOAuthHandler(flow, sessions, testDefaultReturn, zap.NewNop()).RegisterRoutes(mux, testAuthMiddleware(t))
	return mux
}

func redirectQuery(t *testing.T, rec *httptest.ResponseRecorder) (string, url.Values) {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return u.Scheme + "://" + u.Host + u.Path, u.Query()
}

func TestOAuthHandler_Authorize(t *testing.T) {
	orgID := uuid.New()
	flow := &mockOAuthFlowService{authURL: "https://github.com/login/oauth/authorize?client_id=x"}
	mux := newOAuthMux(t, flow)
	path := "/api/orgs/" + orgID.String() + "/integrations/github/authorize"

	rec := doRequest(mux, http.MethodGet, path, "", orgID, models.RoleMember)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, flow.authURL, rec.Header().Get("Location"))
	assert.Equal(t, "user-1", flow.gotUserID)

	rec = doRequest(mux, http.MethodGet, path+"?format=json", "", orgID, models.RoleMember)
	require.Equal(t, http.StatusOK, rec.Code)
	var data AuthorizeResponse
	decodeData(t, rec, &data)
	assert.Equal(t, flow.authURL, data.AuthorizationURL)

	rec = doRequest(mux, http.MethodGet, path, "", orgID)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOAuthHandler_AuthorizeErrors(t *testing.T) {
	orgID := uuid.New()
	path := "/api/orgs/" + orgID.String() + "/integrations/bitbucket/authorize"

	mux := newOAuthMux(t, &mockOAuthFlowService{buildErr: apperrors.ErrProviderUnavailable})
	rec := doRequest(mux, http.MethodGet, path, "", orgID, models.RoleMember)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "provider_unavailable", decodeEnvelope(t, rec).Error)

	mux = newOAuthMux(t, &mockOAuthFlowService{buildErr: apperrors.ErrMissingCredentials})
	rec = doRequest(mux, http.MethodGet, path, "", orgID, models.RoleMember)
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestOAuthHandler_CallbackSuccess(t *testing.T) {
	flow := &mockOAuthFlowService{result: &services.AuthorizationResult{OrgID: uuid.New(), ProviderID: models.ProviderGitHub}}
	mux := newOAuthMux(t, flow)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/oauth/github/callback?code=abc&state=s1", nil))

	target, q := redirectQuery(t, rec)
	assert.Equal(t, testDefaultReturn, target)
	assert.Equal(t, "github", q.Get("integration"))
	assert.Equal(t, "connected", q.Get("status"))
	assert.Empty(t, q.Get("reason"))
	assert.Equal(t, "abc", flow.gotCode)
	assert.Equal(t, "s1", flow.gotState)
}

func TestOAuthHandler_CallbackFailures(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		err        error
		wantReason string
		wantCalls  int
	}{
		{"provider denied", "?error=access_denied&error_description=user+said+no", nil, "access_denied", 0},
		{"missing code", "?state=s1", nil, "missing_parameters", 0},
		{"invalid state", "?code=abc&state=forged", apperrors.ErrInvalidState, "invalid_state", 1},
		{"exchange rejected", "?code=abc&state=s1", &services.TokenExchangeError{ProviderID: "github", Code: "bad_verification_code"}, "token_exchange_failed", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &mockOAuthFlowService{completeErr: tt.err}
			mux := newOAuthMux(t, flow)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/oauth/github/callback"+tt.query, nil))

			target, q := redirectQuery(t, rec)
			assert.Equal(t, testDefaultReturn, target)
			assert.Equal(t, "error", q.Get("status"))
			assert.Equal(t, tt.wantReason, q.Get("reason"))
			assert.Equal(t, tt.wantCalls, flow.completeCall)
		})
	}
}

func TestOAuthHandler_ReturnToRoundTrip(t *testing.T) {
	orgID := uuid.New()
	flow := &mockOAuthFlowService{
		authURL: "https://zoom.us/oauth/authorize",
		result:  &services.AuthorizationResult{OrgID: orgID, ProviderID: models.ProviderZoom},
	}
	mux := newOAuthMux(t, flow)

	returnTo := testFrontend + "/onboarding/meetings"
	req := httptest.NewRequest(http.MethodGet, "/api/orgs/"+orgID.String()+"/integrations/zoom/authorize?return_to="+url.QueryEscape(returnTo), nil)
	req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer("user-1", orgID.String(), "user@example.com", models.RoleAdmin))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	callback := httptest.NewRequest(http.MethodGet, "/api/oauth/zoom/callback?code=abc&state=s1", nil)
	for _, c := range cookies {
		callback.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, callback)

	target, q := redirectQuery(t, rec)
	assert.Equal(t, returnTo, target)
	assert.Equal(t, "connected", q.Get("status"))
}

func TestOAuthHandler_ReturnToIgnoresForeignOrigin(t *testing.T) {
	orgID := uuid.New()
	flow := &mockOAuthFlowService{
		authURL: "https://zoom.us/oauth/authorize",
		result:  &services.AuthorizationResult{OrgID: orgID, ProviderID: models.ProviderZoom},
	}
	mux := newOAuthMux(t, flow)

	req := httptest.NewRequest(http.MethodGet, "/api/orgs/"+orgID.String()+"/integrations/zoom/authorize?return_to="+url.QueryEscape("https://evil.example.net/"), nil)
	req.Header.Set("Authorization", testhelpers.GenerateTestJWTWithBearer("user-1", orgID.String(), "user@example.com", models.RoleAdmin))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}
