package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	"github.com/ekaya-inc/ekaya-connect/pkg/telemetry"
)

// RefreshWindow is how close to expiry an access token may get before it is refreshed.
const RefreshWindow = 5 * time.Minute

// TokenExchangeError is a provider rejection at the token endpoint.
type TokenExchangeError struct {
	ProviderID  string
	StatusCode  int
	Code        string // provider "error" field, e.g. invalid_grant
	Description string
	Err         error
}

func (e *TokenExchangeError) Error() string {
	msg := fmt.Sprintf("token exchange with %s failed", e.ProviderID)
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " (" + e.Description + ")"
	}
	return msg
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// Is matches apperrors.ErrTokenExchange.
func (e *TokenExchangeError) Is(target error) bool {
	return target == apperrors.ErrTokenExchange
}

// AuthorizationResult describes a completed OAuth connection.
type AuthorizationResult struct {
	OrgID      uuid.UUID
	UserID     string
	ProviderID string
	Account    models.AccountIdentity
}

// SetupMilestoneMarker records onboarding progress when an integration connects.
type SetupMilestoneMarker interface {
	MarkStepComplete(ctx context.Context, orgID uuid.UUID, step models.SetupStep) (*models.SetupStatus, error)
}

// OAuthFlowService drives the authorization-code flow and token refresh.
type OAuthFlowService interface {
	// BuildAuthorizationURL returns the provider consent URL with every declared scope
	// and a signed single-use state.
	BuildAuthorizationURL(ctx context.Context, orgID uuid.UUID, userID, providerID string) (string, error)

	// ExchangeCode trades an authorization code for tokens using already-resolved credentials.
	ExchangeCode(ctx context.Context, def *models.ProviderDefinition, code string, creds *models.CredentialSet) (*models.TokenSet, error)

	// CompleteAuthorization handles the provider callback and persists the connection.
	CompleteAuthorization(ctx context.Context, providerID, code, state string) (*AuthorizationResult, error)

	// RefreshIfNeeded refreshes a token that expires within RefreshWindow. It makes at most
	// one refresh call and demotes the record when the provider rejects it.
	RefreshIfNeeded(ctx context.Context, record *models.IntegrationRecord) (*models.IntegrationRecord, error)

	// GetValidAccessToken returns a usable access token, refreshing first if needed.
	// Returns "" when the organization has no usable token.
	GetValidAccessToken(ctx context.Context, orgID uuid.UUID, providerID string) (string, error)
}

// OAuthFlowDeps are the collaborators of the OAuth flow service.
type OAuthFlowDeps struct {
	Registry        providers.Registry
	Resolver        CredentialResolver
	IntegrationRepo repositories.IntegrationRepository
	States          StateCodec
	Identity        providers.IdentityProber
	Setup           SetupMilestoneMarker
	Auditor         audit.Auditor
	Telemetry       telemetry.Telemetry
	// HTTPClient carries the per-call timeout for every provider request.
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type oauthFlowService struct {
	registry        providers.Registry
	resolver        CredentialResolver
	integrationRepo repositories.IntegrationRepository
	states          StateCodec
	identity        providers.IdentityProber
	setup           SetupMilestoneMarker
	auditor         audit.Auditor
	telemetry       telemetry.Telemetry
	httpClient      *http.Client
	logger          *zap.Logger
	now             func() time.Time
}

// NewOAuthFlowService creates a new OAuth flow service.
func NewOAuthFlowService(deps OAuthFlowDeps) OAuthFlowService {
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	auditor := deps.Auditor
	if auditor == nil {
		auditor = audit.NoopAuditor{}
	}
	tl := deps.Telemetry
	if tl == nil {
		tl = telemetry.NewNoop()
	}
	return &oauthFlowService{
		registry:        deps.Registry,
		resolver:        deps.Resolver,
		integrationRepo: deps.IntegrationRepo,
		states:          deps.States,
		identity:        deps.Identity,
		setup:           deps.Setup,
		auditor:         auditor,
		telemetry:       tl,
		httpClient:      httpClient,
		logger:          deps.Logger.Named("oauth_flow"),
		now:             time.Now,
	}
}

var _ OAuthFlowService = (*oauthFlowService)(nil)

func (s *oauthFlowService) BuildAuthorizationURL(ctx context.Context, orgID uuid.UUID, userID, providerID string) (string, error) {
	def, err := s.registry.RequireAvailable(providerID)
	if err != nil {
		return "", err
	}
	if !def.AuthType.SupportsOAuth() {
		return "", fmt.Errorf("%w: %s uses API keys", apperrors.ErrUnsupportedAuthType, def.DisplayName)
	}

	creds, err := s.resolver.Resolve(ctx, orgID, providerID)
	if err != nil {
		return "", err
	}
	if !creds.HasOAuthClient() {
		return "", fmt.Errorf("%w: no OAuth client for %s", apperrors.ErrMissingCredentials, def.DisplayName)
	}

	state, err := s.states.Encode(ctx, OAuthState{OrgID: orgID, UserID: userID, ProviderID: providerID})
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}

	authURL := oauthConfig(def, creds).AuthCodeURL(state, authParams(def)...)

	s.logger.Info("Built authorization URL",
		zap.String("org_id", orgID.String()),
		zap.String("provider", providerID),
		zap.String("credential_source", string(creds.Source)))
	return authURL, nil
}

func (s *oauthFlowService) ExchangeCode(ctx context.Context, def *models.ProviderDefinition, code string, creds *models.CredentialSet) (*models.TokenSet, error) {
	if code == "" {
		return nil, &TokenExchangeError{ProviderID: def.ID, Code: "invalid_request", Description: "missing authorization code"}
	}

	tok, err := oauthConfig(def, creds).Exchange(s.clientContext(ctx), code)
	if err != nil {
		return nil, s.exchangeError(def.ID, err)
	}
	return tokenSet(tok), nil
}

func (s *oauthFlowService) CompleteAuthorization(ctx context.Context, providerID, code, rawState string) (*AuthorizationResult, error) {
	state, err := s.states.Decode(ctx, rawState)
	if err != nil {
		s.auditor.Record(ctx, audit.SecurityEvent{
			EventType:  audit.EventOAuthStateRejected,
			ProviderID: providerID,
			Severity:   audit.SeverityWarning,
			Details:    map[string]string{"reason": logging.SanitizeError(err)},
		})
		return nil, err
	}
	if state.ProviderID != providerID {
		s.auditor.Record(ctx, audit.SecurityEvent{
			EventType:  audit.EventOAuthStateRejected,
			OrgID:      state.OrgID,
			ProviderID: providerID,
			Severity:   audit.SeverityWarning,
			Details:    map[string]string{"reason": "provider mismatch", "state_provider": state.ProviderID},
		})
		return nil, fmt.Errorf("%w: state was issued for %s", apperrors.ErrInvalidState, state.ProviderID)
	}

	def, err := s.registry.RequireAvailable(providerID)
	if err != nil {
		return nil, err
	}

	creds, err := s.resolver.Resolve(ctx, state.OrgID, providerID)
	if err != nil {
		return nil, err
	}

	tokens, err := s.ExchangeCode(ctx, def, code, creds)
	if err != nil {
		s.logger.Warn("Token exchange failed",
			zap.String("org_id", state.OrgID.String()),
			zap.String("provider", providerID),
			zap.String("error", logging.SanitizeError(err)))
		return nil, err
	}

	account := s.probeAccount(ctx, def, tokens.AccessToken)

	now := s.now()
	err = s.integrationRepo.SaveConnection(ctx, &models.Connection{
		OrgID:       state.OrgID,
		ProviderID:  providerID,
		Tokens:      tokens,
		Account:     account,
		CompletedBy: state.UserID,
		CompletedAt: now,
	})
	if err != nil {
		return nil, fmt.Errorf("save connection: %w", err)
	}

	recordConnected(ctx, connectedEvent{
		orgID:     state.OrgID,
		userID:    state.UserID,
		def:       def,
		source:    creds.Source,
		method:    "oauth",
		setup:     s.setup,
		auditor:   s.auditor,
		telemetry: s.telemetry,
		logger:    s.logger,
	})

	return &AuthorizationResult{
		OrgID:      state.OrgID,
		UserID:     state.UserID,
		ProviderID: providerID,
		Account:    account,
	}, nil
}

func (s *oauthFlowService) RefreshIfNeeded(ctx context.Context, record *models.IntegrationRecord) (*models.IntegrationRecord, error) {
	if !s.needsRefresh(record) {
		return record, nil
	}
	def, err := s.registry.RequireAvailable(record.ProviderID)
	if err != nil {
		return nil, err
	}
	creds, err := s.resolver.Resolve(ctx, record.OrgID, record.ProviderID)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, def, record, creds)
}

func (s *oauthFlowService) GetValidAccessToken(ctx context.Context, orgID uuid.UUID, providerID string) (string, error) {
	def, err := s.registry.RequireAvailable(providerID)
	if err != nil {
		return "", err
	}
	creds, err := s.resolver.Resolve(ctx, orgID, providerID)
	if err != nil {
		return "", err
	}

	record, err := s.integrationRepo.Get(ctx, orgID, providerID)
	if err != nil {
		return "", fmt.Errorf("load integration: %w", err)
	}
	if record == nil || !record.IsConfigured || record.AccessToken == "" {
		return "", nil
	}

	if s.needsRefresh(record) {
		record, err = s.refresh(ctx, def, record, creds)
		if err != nil {
			return "", err
		}
	} else if s.expired(record) {
		// Past expiry with nothing to refresh it with
		return "", nil
	}
	return record.AccessToken, nil
}

func (s *oauthFlowService) needsRefresh(record *models.IntegrationRecord) bool {
	if record == nil || record.TokenExpiresAt == nil || record.RefreshToken == "" {
		return false
	}
	return record.TokenExpiresAt.Before(s.now().Add(RefreshWindow))
}

func (s *oauthFlowService) expired(record *models.IntegrationRecord) bool {
	return record.TokenExpiresAt != nil && !record.TokenExpiresAt.After(s.now())
}

func (s *oauthFlowService) refresh(ctx context.Context, def *models.ProviderDefinition, record *models.IntegrationRecord, creds *models.CredentialSet) (*models.IntegrationRecord, error) {
	// An empty access token forces the token source to call the token endpoint exactly once.
	src := oauthConfig(def, creds).TokenSource(s.clientContext(ctx), &oauth2.Token{
		RefreshToken: record.RefreshToken,
	})
	tok, err := src.Token()
	if err != nil {
		s.demote(ctx, record, err)
		return nil, fmt.Errorf("%w: %w", apperrors.ErrRefreshFailed, s.exchangeError(def.ID, err))
	}

	tokens := tokenSet(tok)
	if err := s.integrationRepo.UpdateTokens(ctx, record.OrgID, record.ProviderID, tokens); err != nil {
		return nil, fmt.Errorf("persist refreshed tokens: %w", err)
	}

	refreshed := *record
	refreshed.AccessToken = tokens.AccessToken
	refreshed.TokenExpiresAt = tokens.ExpiresAt
	if tokens.RefreshToken != "" {
		refreshed.RefreshToken = tokens.RefreshToken
	}

	s.logger.Debug("Refreshed access token",
		zap.String("org_id", record.OrgID.String()),
		zap.String("provider", record.ProviderID))
	return &refreshed, nil
}

func (s *oauthFlowService) demote(ctx context.Context, record *models.IntegrationRecord, cause error) {
	if err := s.integrationRepo.MarkRefreshFailed(ctx, record.OrgID, record.ProviderID); err != nil {
		s.logger.Error("Failed to demote integration after refresh failure",
			zap.String("org_id", record.OrgID.String()),
			zap.String("provider", record.ProviderID),
			zap.Error(err))
	}

	s.auditor.Record(ctx, audit.SecurityEvent{
		EventType:  audit.EventTokenRefreshFailed,
		OrgID:      record.OrgID,
		ProviderID: record.ProviderID,
		Severity:   audit.SeverityWarning,
		Details:    map[string]string{"reason": logging.SanitizeError(cause)},
	})
	telemetry.SendBestEffort(ctx, s.telemetry, s.logger, telemetry.NewEvent(record.OrgID, telemetry.EventTokenRefreshFailed, map[string]any{
		"provider": record.ProviderID,
	}))
}

// probeAccount is best-effort: a connection without identity is still a connection.
func (s *oauthFlowService) probeAccount(ctx context.Context, def *models.ProviderDefinition, accessToken string) models.AccountIdentity {
	if s.identity == nil || def.IdentityURL == "" {
		return models.AccountIdentity{}
	}
	account, err := s.identity.Probe(s.clientContext(ctx), def, accessToken)
	if err != nil {
		s.logger.Warn("Account identity probe failed",
			zap.String("provider", def.ID),
			zap.String("error", logging.SanitizeError(err)))
		return models.AccountIdentity{}
	}
	return *account
}

// clientContext routes oauth2's requests through the timeout-bounded client.
func (s *oauthFlowService) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

func (s *oauthFlowService) exchangeError(providerID string, err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		exErr := &TokenExchangeError{
			ProviderID:  providerID,
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
			Err:         err,
		}
		if retrieveErr.Response != nil {
			exErr.StatusCode = retrieveErr.Response.StatusCode
		}
		return exErr
	}
	return &TokenExchangeError{ProviderID: providerID, Description: logging.SanitizeError(err), Err: err}
}

func oauthConfig(def *models.ProviderDefinition, creds *models.CredentialSet) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     def.Endpoint,
		RedirectURL:  creds.RedirectURL,
		Scopes:       append([]string(nil), def.Scopes...),
	}
}

func authParams(def *models.ProviderDefinition) []oauth2.AuthCodeOption {
	keys := make([]string, 0, len(def.ExtraAuthParams))
	for k := range def.ExtraAuthParams {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	opts := make([]oauth2.AuthCodeOption, 0, len(keys))
	for _, k := range keys {
		opts = append(opts, oauth2.SetAuthURLParam(k, def.ExtraAuthParams[k]))
	}
	return opts
}

func tokenSet(tok *oauth2.Token) *models.TokenSet {
	ts := &models.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		ts.ExpiresAt = &exp
	}
	return ts
}
