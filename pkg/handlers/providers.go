package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
)

// ProvidersHandler serves the provider catalog.
type ProvidersHandler struct {
	registry providers.Registry
	logger   *zap.Logger
}

// NewProvidersHandler creates a new providers handler.
func NewProvidersHandler(registry providers.Registry, logger *zap.Logger) *ProvidersHandler {
	return &ProvidersHandler{registry: registry, logger: logger}
}

// RegisterRoutes registers the providers handler's routes on the given mux.
func (h *ProvidersHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/providers", h.List)
}

// List handles GET /api/providers?category=
func (h *ProvidersHandler) List(w http.ResponseWriter, r *http.Request) {
	var defs []*models.ProviderDefinition
	if raw := r.URL.Query().Get("category"); raw != "" {
		category := models.ProviderCategory(raw)
		if !category.IsValid() {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_category", "Unknown provider category"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		defs = h.registry.ListByCategory(category)
	} else {
		defs = h.registry.List()
	}

	writeData(w, http.StatusOK, map[string]any{"providers": defs}, h.logger)
}
