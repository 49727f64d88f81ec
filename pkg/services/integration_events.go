package services

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/telemetry"
)

// setupStepForCategory maps a provider category to the milestone its connection satisfies.
func setupStepForCategory(category models.ProviderCategory) (models.SetupStep, bool) {
	switch category {
	case models.CategoryCalendar:
		return models.SetupStepMeetingProvider, true
	case models.CategorySourceControl:
		return models.SetupStepSourceControl, true
	}
	return "", false
}

type connectedEvent struct {
	orgID     uuid.UUID
	userID    string
	def       *models.ProviderDefinition
	source    models.CredentialSource
	method    string
	setup     SetupMilestoneMarker
	auditor   audit.Auditor
	telemetry telemetry.Telemetry
	logger    *zap.Logger
}

// recordConnected runs the side effects of a completed connection. None of them can fail it.
func recordConnected(ctx context.Context, ev connectedEvent) {
	if step, ok := setupStepForCategory(ev.def.Category); ok && ev.setup != nil {
		if _, err := ev.setup.MarkStepComplete(ctx, ev.orgID, step); err != nil {
			ev.logger.Warn("Failed to mark setup step",
				zap.String("org_id", ev.orgID.String()),
				zap.String("step", string(step)),
				zap.Error(err))
		}
	}

	ev.auditor.Record(ctx, audit.SecurityEvent{
		EventType:  audit.EventIntegrationConnected,
		OrgID:      ev.orgID,
		ProviderID: ev.def.ID,
		UserID:     ev.userID,
		Details: map[string]string{
			"method":            ev.method,
			"credential_source": string(ev.source),
		},
	})

	telemetry.SendBestEffort(ctx, ev.telemetry, ev.logger, telemetry.NewEvent(ev.orgID, telemetry.EventIntegrationConnected, map[string]any{
		"provider":          ev.def.ID,
		"category":          string(ev.def.Category),
		"method":            ev.method,
		"credential_source": string(ev.source),
	}))

	ev.logger.Info("Integration connected",
		zap.String("org_id", ev.orgID.String()),
		zap.String("provider", ev.def.ID),
		zap.String("method", ev.method))
}
