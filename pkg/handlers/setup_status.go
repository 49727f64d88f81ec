package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// SetupStatusHandler exposes onboarding progress.
type SetupStatusHandler struct {
	setupService services.SetupStatusService
	logger       *zap.Logger
}

// NewSetupStatusHandler creates a new setup status handler.
func NewSetupStatusHandler(setupService services.SetupStatusService, logger *zap.Logger) *SetupStatusHandler {
	return &SetupStatusHandler{setupService: setupService, logger: logger}
}

// RegisterRoutes registers the setup status handler's routes on the given mux.
func (h *SetupStatusHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	base := "/api/orgs/{oid}/setup-status"
	requireAuth := authMiddleware.RequireAuthWithPathValidation("oid")

	mux.HandleFunc("GET "+base, requireAuth(h.Get))
	mux.HandleFunc("POST "+base+"/steps/{step}", requireAuth(h.MarkStep))
	mux.HandleFunc("DELETE "+base, requireAuth(auth.RequireRole(models.RoleAdmin)(h.Reset)))
}

// Get handles GET /api/orgs/{oid}/setup-status
func (h *SetupStatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	status, err := h.setupService.GetStatus(r.Context(), orgID)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to load setup status",
			zap.String("org_id", orgID.String()))
		return
	}
	writeData(w, http.StatusOK, status, h.logger)
}

// MarkStep handles POST /api/orgs/{oid}/setup-status/steps/{step}
func (h *SetupStatusHandler) MarkStep(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	step := models.SetupStep(r.PathValue("step"))

	status, err := h.setupService.MarkStepComplete(r.Context(), orgID, step)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to update setup status",
			zap.String("org_id", orgID.String()),
			zap.String("step", string(step)))
		return
	}
	writeData(w, http.StatusOK, status, h.logger)
}

// Reset handles DELETE /api/orgs/{oid}/setup-status
func (h *SetupStatusHandler) Reset(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.setupService.Reset(r.Context(), orgID); err != nil {
		writeServiceError(w, h.logger, err, "Failed to reset setup status",
			zap.String("org_id", orgID.String()))
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Setup status reset"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
