package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
)

// WebhookIngestor normalizes inbound provider events and records sync health.
type WebhookIngestor interface {
	// Ingest maps raw into a WebhookEvent. eventType carries the event name for providers
	// that send it as a header (GitHub's X-GitHub-Event) and is empty otherwise.
	// Unknown event kinds come back with Ignored set. Malformed payloads return
	// apperrors.ErrInvalidWebhookPayload.
	Ingest(ctx context.Context, providerID string, orgID uuid.UUID, eventType string, raw []byte) (*models.WebhookEvent, error)
}

type webhookIngestor struct {
	registry        providers.Registry
	integrationRepo repositories.IntegrationRepository
	normalizers     map[string]webhookNormalizer
	logger          *zap.Logger
	now             func() time.Time
}

// NewWebhookIngestor creates a new webhook ingestor.
func NewWebhookIngestor(registry providers.Registry, integrationRepo repositories.IntegrationRepository, logger *zap.Logger) WebhookIngestor {
	return &webhookIngestor{
		registry:        registry,
		integrationRepo: integrationRepo,
		normalizers:     webhookNormalizers,
		logger:          logger.Named("webhooks"),
		now:             time.Now,
	}
}

var _ WebhookIngestor = (*webhookIngestor)(nil)

func (w *webhookIngestor) Ingest(ctx context.Context, providerID string, orgID uuid.UUID, eventType string, raw []byte) (*models.WebhookEvent, error) {
	def, err := w.registry.RequireAvailable(providerID)
	if err != nil {
		return nil, err
	}
	normalize, ok := w.normalizers[providerID]
	if !def.SupportsWebhooks || !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrWebhooksUnsupported, def.DisplayName)
	}

	event, err := normalize(eventType, raw)
	if err != nil {
		if errors.Is(err, apperrors.ErrInvalidWebhookPayload) {
			w.recordSync(ctx, orgID, providerID, models.SyncStatusFailed, time.Time{})
		}
		w.logger.Warn("Rejected webhook payload",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID),
			zap.Error(err))
		return nil, err
	}

	event.ProviderID = providerID
	event.OrgID = orgID

	if event.Ignored {
		w.logger.Debug("Ignoring webhook event",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID),
			zap.String("kind", event.Kind))
		return event, nil
	}

	w.recordSync(ctx, orgID, providerID, models.SyncStatusSuccess, w.now())
	w.logger.Info("Ingested webhook event",
		zap.String("org_id", orgID.String()),
		zap.String("provider", providerID),
		zap.String("kind", event.Kind),
		zap.String("external_id", event.ExternalID))
	return event, nil
}

// recordSync never fails ingestion; events for orgs without a record are still returned.
func (w *webhookIngestor) recordSync(ctx context.Context, orgID uuid.UUID, providerID string, status models.SyncStatus, at time.Time) {
	updated, err := w.integrationRepo.UpdateSyncStatus(ctx, orgID, providerID, status, at)
	if err != nil {
		w.logger.Error("Failed to record webhook sync status",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID),
			zap.Error(err))
		return
	}
	if !updated {
		w.logger.Debug("Webhook for organization without integration record",
			zap.String("org_id", orgID.String()),
			zap.String("provider", providerID))
	}
}
