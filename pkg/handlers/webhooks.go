package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 1 << 20

// webhookEventHeaders names the header carrying the event type for providers
// that keep it out of the body.
var webhookEventHeaders = map[string]string{
	models.ProviderGitHub: "X-GitHub-Event",
}

// WebhookHandler receives provider webhooks.
//
// Requests are not authenticated. Provider signatures (X-Hub-Signature-256,
// x-zm-signature, X-Cal-Signature-256, X-Slack-Signature) are not verified yet.
type WebhookHandler struct {
	ingestor services.WebhookIngestor
	logger   *zap.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(ingestor services.WebhookIngestor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, logger: logger}
}

// RegisterRoutes registers the webhook handler's routes on the given mux.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/webhooks/{provider}/{oid}", h.Receive)
}

// Receive handles POST /api/webhooks/{provider}/{oid}
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	orgID, ok := ParseOrgID(w, r, h.logger)
	if !ok {
		return
	}
	providerID := r.PathValue("provider")

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		status, code := http.StatusBadRequest, "invalid_payload"
		if errors.As(err, &tooLarge) {
			status, code = http.StatusRequestEntityTooLarge, "payload_too_large"
		}
		if err := ErrorResponse(w, status, code, "Could not read webhook body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if providerID == models.ProviderSlack {
		if challenge, ok := slackChallenge(raw); ok {
			if err := WriteJSON(w, http.StatusOK, map[string]string{"challenge": challenge}); err != nil {
				h.logger.Error("Failed to write response", zap.Error(err))
			}
			return
		}
	}

	var eventType string
	if header, ok := webhookEventHeaders[providerID]; ok {
		eventType = r.Header.Get(header)
	}

	event, err := h.ingestor.Ingest(r.Context(), providerID, orgID, eventType, raw)
	if err != nil {
		writeServiceError(w, h.logger, err, "Failed to ingest webhook",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID))
		return
	}

	writeData(w, http.StatusOK, event, h.logger)
}

// slackChallenge answers the Events API url_verification handshake.
func slackChallenge(raw []byte) (string, bool) {
	var body struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", false
	}
	return body.Challenge, body.Type == "url_verification" && body.Challenge != ""
}
