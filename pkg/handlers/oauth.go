package handlers

import (
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// AuthorizeResponse is returned by authorize when ?format=json is set.
type AuthorizeResponse struct {
	AuthorizationURL string `json:"authorization_url"`
}

// OAuthHandler starts and completes provider authorization-code flows.
type OAuthHandler struct {
	flow     services.OAuthFlowService
	sessions *auth.SessionStore
	// defaultReturnURL is where the browser lands after the callback when no return_to was kept.
	defaultReturnURL string
	logger           *zap.Logger
}

// NewOAuthHandler creates a new OAuth handler.
func NewOAuthHandler(flow services.OAuthFlowService, sessions *auth.SessionStore, defaultReturnURL string, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{
		flow:             flow,
		sessions:         sessions,
		defaultReturnURL: defaultReturnURL,
		logger:           logger,
	}
}

// RegisterRoutes registers the OAuth handler's routes on the given mux.
func (h *OAuthHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/orgs/{oid}/integrations/{provider}/authorize",
		authMiddleware.RequireAuthWithPathValidation("oid")(h.Authorize))

	// The provider redirects the browser here without our JWT. The signed single-use state carries the org.
	mux.HandleFunc("GET /api/oauth/{provider}/callback", h.Callback)
}

// Authorize handles GET /api/orgs/{oid}/integrations/{provider}/authorize
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	providerID := r.PathValue("provider")
	userID := auth.GetUserIDFromContext(r.Context())

	authURL, err := h.flow.BuildAuthorizationURL(r.Context(), orgID, userID, providerID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to start authorization",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID))
		return
	}

	if returnTo := r.URL.Query().Get("return_to"); returnTo != "" && h.sessions != nil {
		if err := h.sessions.SaveReturnTo(w, r, returnTo); err != nil {
			h.logger.Warn("Failed to save return_to", zap.Error(err))
		}
	}

	if r.URL.Query().Get("format") == "json" {
		writeData(w, http.StatusOK, AuthorizeResponse{AuthorizationURL: authURL}, h.logger)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /api/oauth/{provider}/callback?code&state
// The browser always ends on the frontend; the outcome travels in query parameters.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("provider")
	query := r.URL.Query()

	returnTo := h.defaultReturnURL
	if h.sessions != nil {
		saved, err := h.sessions.PopReturnTo(w, r)
		if err != nil {
			h.logger.Debug("Failed to clear return_to cookie", zap.Error(err))
		}
		if saved != "" {
			returnTo = saved
		}
	}

	// User denied consent or the provider refused the request.
	if providerErr := query.Get("error"); providerErr != "" {
		h.logger.Info("Provider returned authorization error",
			zap.String("provider", providerID),
			zap.String("error", providerErr),
			zap.String("description", logging.SanitizeString(query.Get("error_description"))))
		h.redirectWithOutcome(w, r, returnTo, providerID, "error", providerErr)
		return
	}

	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		h.redirectWithOutcome(w, r, returnTo, providerID, "error", "missing_parameters")
		return
	}

	result, err := h.flow.CompleteAuthorization(r.Context(), providerID, code, state)
	if err != nil {
		_, errCode, _ := mapError(err, "")
		h.logger.Warn("OAuth callback failed",
			zap.String("provider", providerID),
			zap.String("error_code", errCode),
			zap.String("error", logging.SanitizeError(err)))
		h.redirectWithOutcome(w, r, returnTo, providerID, "error", errCode)
		return
	}

	h.logger.Info("OAuth callback completed",
		zap.String("org_id", result.OrgID.String()),
		zap.String("provider", providerID))
	h.redirectWithOutcome(w, r, returnTo, providerID, "connected", "")
}

func (h *OAuthHandler) redirectWithOutcome(w http.ResponseWriter, r *http.Request, target, providerID, status, reason string) {
	u, err := url.Parse(target)
	if err != nil {
		u = &url.URL{Path: "/"}
	}
	q := u.Query()
	q.Set("integration", providerID)
	q.Set("status", status)
	if reason != "" {
		q.Set("reason", reason)
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}
