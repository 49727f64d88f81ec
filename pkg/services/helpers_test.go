package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
)

// fakeProvider stands in for a provider's token and identity endpoints.
type fakeProvider struct {
	srv *httptest.Server

	mu            sync.Mutex
	tokenCalls    int
	grantTypes    []string
	clientIDs     []string
	tokenStatus   int
	tokenResponse map[string]any
	identityCalls int
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{
		tokenStatus: http.StatusOK,
		tokenResponse: map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"token_type":    "bearer",
			"expires_in":    3600,
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		fp.mu.Lock()
		fp.tokenCalls++
		fp.grantTypes = append(fp.grantTypes, r.PostForm.Get("grant_type"))
		fp.clientIDs = append(fp.clientIDs, r.PostForm.Get("client_id"))
		status, body := fp.tokenStatus, fp.tokenResponse
		fp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		fp.mu.Lock()
		fp.identityCalls++
		fp.mu.Unlock()
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"login":"octocat","id":583231,"email":"octocat@example.com","type":"User"}`))
	})

	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func (fp *fakeProvider) respondWith(status int, body map[string]any) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.tokenStatus = status
	fp.tokenResponse = body
}

func (fp *fakeProvider) calls() int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.tokenCalls
}

func (fp *fakeProvider) lastClientID() string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.clientIDs) == 0 {
		return ""
	}
	return fp.clientIDs[len(fp.clientIDs)-1]
}

// testRegistry returns the builtin catalog with github and google_calendar pointed at fp.
func testRegistry(fp *fakeProvider) providers.Registry {
	defs := providers.BuiltinDefinitions()
	if fp != nil {
		for _, d := range defs {
			if d.ID != models.ProviderGitHub && d.ID != models.ProviderGoogleCalendar {
				continue
			}
			d.Endpoint = oauth2.Endpoint{
				AuthURL:   fp.srv.URL + "/authorize",
				TokenURL:  fp.srv.URL + "/token",
				AuthStyle: oauth2.AuthStyleInParams,
			}
			d.IdentityURL = fp.srv.URL + "/user"
			d.IdentityFields = models.IdentityFields{Login: "login", Email: "email", AccountID: "id", Type: "type"}
		}
	}
	return providers.NewRegistryFromDefinitions(defs)
}

func testPlatformDefaults() *models.PlatformDefaults {
	oauthClient := func(id string) models.PlatformCredentials {
		return models.PlatformCredentials{ClientID: "platform-" + id, ClientSecret: "platform-secret-" + id}
	}
	return models.NewPlatformDefaults("https://connect.example.com", map[string]models.PlatformCredentials{
		models.ProviderGitHub:         oauthClient(models.ProviderGitHub),
		models.ProviderGitLab:         oauthClient(models.ProviderGitLab),
		models.ProviderGoogleCalendar: oauthClient(models.ProviderGoogleCalendar),
		models.ProviderCalCom:         oauthClient(models.ProviderCalCom),
		models.ProviderZoom:           oauthClient(models.ProviderZoom),
		models.ProviderSlack:          oauthClient(models.ProviderSlack),
		models.ProviderOpenAI:         {APIKey: "sk-platform-openai"},
	})
}

// oauthTestEnv wires the OAuth flow against in-memory stores and a fake provider.
type oauthTestEnv struct {
	provider     *fakeProvider
	repo         *mockIntegrationRepository
	auditor      *recordingAuditor
	telemetry    *recordingTelemetry
	marker       *recordingSetupMarker
	states       StateCodec
	resolver     CredentialResolver
	integrations IntegrationService
	flow         *oauthFlowService
	orgID        uuid.UUID
}

func newOAuthTestEnv(t *testing.T) *oauthTestEnv {
	t.Helper()
	fp := newFakeProvider(t)
	registry := testRegistry(fp)
	repo := newMockIntegrationRepository()
	auditor := &recordingAuditor{}
	tl := &recordingTelemetry{}
	marker := &recordingSetupMarker{}
	logger := zap.NewNop()

	resolver := NewCredentialResolver(registry, repo, testPlatformDefaults(), logger)
	states := NewStateCodec("test-state-secret", NewMemoryNonceStore())
	httpClient := &http.Client{Timeout: 5 * time.Second}

	flow := NewOAuthFlowService(OAuthFlowDeps{
		Registry:        registry,
		Resolver:        resolver,
		IntegrationRepo: repo,
		States:          states,
		Identity:        providers.NewIdentityProber(httpClient, providers.DefaultBreakerSettings(), logger),
		Setup:           marker,
		Auditor:         auditor,
		Telemetry:       tl,
		HTTPClient:      httpClient,
		Logger:          logger,
	}).(*oauthFlowService)

	return &oauthTestEnv{
		provider:     fp,
		repo:         repo,
		auditor:      auditor,
		telemetry:    tl,
		marker:       marker,
		states:       states,
		resolver:     resolver,
		integrations: NewIntegrationService(registry, repo, auditor, tl, logger),
		flow:         flow,
		orgID:        uuid.New(),
	}
}
