package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// ConnectAPIKeyRequest is the body of POST .../api-key.
type ConnectAPIKeyRequest struct {
	APIKey string `json:"api_key"`
}

// SetEnabledRequest is the body of PUT .../enabled.
type SetEnabledRequest struct {
	Enabled *bool `json:"enabled"`
}

// IntegrationsHandler handles integration record HTTP requests.
type IntegrationsHandler struct {
	integrationService services.IntegrationService
	apiKeyService      services.APIKeyService
	logger             *zap.Logger
}

// NewIntegrationsHandler creates a new integrations handler.
func NewIntegrationsHandler(integrationService services.IntegrationService, apiKeyService services.APIKeyService, logger *zap.Logger) *IntegrationsHandler {
	return &IntegrationsHandler{
		integrationService: integrationService,
		apiKeyService:      apiKeyService,
		logger:             logger,
	}
}

// RegisterRoutes registers the integrations handler's routes on the given mux.
func (h *IntegrationsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/orgs/{oid}/integrations"
	requireAuth := authMiddleware.RequireAuthWithPathValidation("oid")
	requireAdmin := auth.RequireRole(models.RoleAdmin)

	mux.HandleFunc("GET "+base, requireAuth(h.List))
	mux.HandleFunc("POST "+base+"/{provider}/api-key", requireAuth(requireAdmin(h.ConnectAPIKey)))
	mux.HandleFunc("PUT "+base+"/{provider}/enabled", requireAuth(requireAdmin(h.SetEnabled)))
	mux.HandleFunc("POST "+base+"/{provider}/sync", requireAuth(h.RequestResync))
	mux.HandleFunc("DELETE "+base+"/{provider}", requireAuth(requireAdmin(h.Disconnect)))
}

// List handles GET /api/orgs/{oid}/integrations
func (h *IntegrationsHandler) List(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	integrations, err := h.integrationService.ListIntegrations(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to list integrations",
			zap.String("org_id", orgID.String()))
		return
	}

	writeData(w, http.StatusOK, map[string]any{"integrations": integrations}, h.logger)
}

// ConnectAPIKey handles POST /api/orgs/{oid}/integrations/{provider}/api-key
func (h *IntegrationsHandler) ConnectAPIKey(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	providerID := r.PathValue("provider")

	var req ConnectAPIKeyRequest
	if !decodeJSONBody(w, r, &req, h.logger) {
		return
	}
	if req.APIKey == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_api_key", "api_key is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	userID := auth.GetUserIDFromContext(r.Context())
	account, err := h.apiKeyService.ConnectAPIKey(r.Context(), orgID, userID, providerID, req.APIKey)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to connect API key",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID))
		return
	}

	writeData(w, http.StatusOK, map[string]any{"provider_id": providerID, "account": account}, h.logger)
}

// SetEnabled handles PUT /api/orgs/{oid}/integrations/{provider}/enabled
func (h *IntegrationsHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	providerID := r.PathValue("provider")

	var req SetEnabledRequest
	if !decodeJSONBody(w, r, &req, h.logger) {
		return
	}
	if req.Enabled == nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_enabled", "enabled is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.integrationService.SetEnabled(r.Context(), orgID, providerID, *req.Enabled); err != nil {
		writeServiceError(w, h.logger, err, "Failed to update integration",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID))
		return
	}

	writeData(w, http.StatusOK, map[string]any{"provider_id": providerID, "enabled": *req.Enabled}, h.logger)
}

// RequestResync handles POST /api/orgs/{oid}/integrations/{provider}/sync
func (h *IntegrationsHandler) RequestResync(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	providerID := r.PathValue("provider")

	if err := h.integrationService.RequestResync(r.Context(), orgID, providerID); err != nil {
		writeServiceError(w, h.logger, err, "Failed to request sync",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID))
		return
	}

	writeData(w, http.StatusAccepted, map[string]any{"provider_id": providerID, "sync_status": models.SyncStatusPending}, h.logger)
}

// Disconnect handles DELETE /api/orgs/{oid}/integrations/{provider}
func (h *IntegrationsHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	providerID := r.PathValue("provider")

	userID := auth.GetUserIDFromContext(r.Context())
	if err := h.integrationService.Disconnect(r.Context(), orgID, providerID, userID); err != nil {
		writeServiceError(w, h.logger, err, "Failed to disconnect integration",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Integration disconnected"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
