package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// BYOKHandler handles organization-supplied OAuth application credentials.
// The request body of PUT is a flat object of credential field keys to values.
type BYOKHandler struct {
	integrationService services.IntegrationService
	logger             *zap.Logger
}

// NewBYOKHandler creates a new BYOK handler.
func NewBYOKHandler(integrationService services.IntegrationService, logger *zap.Logger) *BYOKHandler {
	return &BYOKHandler{integrationService: integrationService, logger: logger}
}

// RegisterRoutes registers the BYOK handler's routes on the given mux.
func (h *BYOKHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	path := "/api/orgs/{oid}/integrations/{provider}/byok"
	requireAuth := authMiddleware.RequireAuthWithPathValidation("oid")
	requireAdmin := auth.RequireRole(models.RoleAdmin)

	mux.HandleFunc("GET "+path, requireAuth(h.Get))
	mux.HandleFunc("PUT "+path, requireAuth(requireAdmin(h.Save)))
	mux.HandleFunc("DELETE "+path, requireAuth(requireAdmin(h.Disable)))
}

// Get handles GET /api/orgs/{oid}/integrations/{provider}/byok
func (h *BYOKHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	providerID := r.PathValue("provider")

	status, err := h.integrationService.GetBYOKStatus(r.Context(), orgID, providerID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to load BYOK credentials",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID))
		return
	}
	writeData(w, http.StatusOK, status, h.logger)
}

// Save handles PUT /api/orgs/{oid}/integrations/{provider}/byok
func (h *BYOKHandler) Save(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	providerID := r.PathValue("provider")

	var fields map[string]string
	if !decodeJSONBody(w, r, &fields, h.logger) {
		return
	}

	status, err := h.integrationService.SaveBYOK(r.Context(), orgID, providerID, fields)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to save BYOK credentials",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID))
		return
	}

	h.logger.Info("BYOK credentials saved",
		zap.String("org_id", orgID.String()),
		zap.String("provider", providerID))
	writeData(w, http.StatusOK, status, h.logger)
}

// Disable handles DELETE /api/orgs/{oid}/integrations/{provider}/byok
func (h *BYOKHandler) Disable(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	providerID := r.PathValue("provider")

	if err := h.integrationService.DisableBYOK(r.Context(), orgID, providerID); err != nil {
		writeServiceError(w, h.logger, err, "Failed to disable BYOK credentials",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID))
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "BYOK credentials removed"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
