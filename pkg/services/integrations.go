package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	"github.com/ekaya-inc/ekaya-connect/pkg/telemetry"
)

// IntegrationService manages integration records outside of the connect flows.
type IntegrationService interface {
	// ListIntegrations returns masked summaries of every record of the organization.
	ListIntegrations(ctx context.Context, orgID uuid.UUID) ([]*models.IntegrationSummary, error)

	// SaveBYOK validates fields against the provider's credential schema and stores them.
	// It never marks the integration configured.
	SaveBYOK(ctx context.Context, orgID uuid.UUID, providerID string, fields map[string]string) (*models.BYOKStatus, error)

	// GetBYOKStatus returns the masked BYOK view. A missing record reports disabled.
	GetBYOKStatus(ctx context.Context, orgID uuid.UUID, providerID string) (*models.BYOKStatus, error)

	// DisableBYOK clears BYOK credentials and leaves the connection alone.
	DisableBYOK(ctx context.Context, orgID uuid.UUID, providerID string) error

	// Disconnect deletes the record including BYOK credentials. Idempotent.
	Disconnect(ctx context.Context, orgID uuid.UUID, providerID, userID string) error

	// RequestResync marks a configured integration as pending a sync.
	RequestResync(ctx context.Context, orgID uuid.UUID, providerID string) error

	// SetEnabled pauses or resumes a connected integration.
	SetEnabled(ctx context.Context, orgID uuid.UUID, providerID string, enabled bool) error
}

type integrationService struct {
	registry        providers.Registry
	integrationRepo repositories.IntegrationRepository
	auditor         audit.Auditor
	telemetry       telemetry.Telemetry
	logger          *zap.Logger
}

// NewIntegrationService creates a new integration service.
func NewIntegrationService(
	registry providers.Registry,
	integrationRepo repositories.IntegrationRepository,
	auditor audit.Auditor,
	tl telemetry.Telemetry,
	logger *zap.Logger,
) IntegrationService {
	return &integrationService{
		registry:        registry,
		integrationRepo: integrationRepo,
		auditor:         auditor,
		telemetry:       tl,
		logger:          logger.Named("integrations"),
	}
}

var _ IntegrationService = (*integrationService)(nil)

func (s *integrationService) ListIntegrations(ctx context.Context, orgID uuid.UUID) ([]*models.IntegrationSummary, error) {
	records, err := s.integrationRepo.ListByOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}

	summaries := make([]*models.IntegrationSummary, 0, len(records))
	for _, rec := range records {
		def, err := s.registry.Get(rec.ProviderID)
		if err != nil {
			// Rows for providers dropped from the catalog stay in the table but are not shown.
			s.logger.Debug("Skipping integration for unknown provider",
				zap.String("org_id", orgID.String()),
				zap.String("provider", rec.ProviderID))
			continue
		}
		summaries = append(summaries, &models.IntegrationSummary{
			ProviderID:       rec.ProviderID,
			DisplayName:      def.DisplayName,
			Category:         def.Category,
			IsConfigured:     rec.IsConfigured,
			IsEnabled:        rec.IsEnabled,
			BYOKEnabled:      rec.BYOKEnabled,
			SyncStatus:       rec.SyncStatus,
			Account:          rec.Account,
			APIKeyPreview:    models.MaskedSecret(rec.APIKey),
			TokenExpiresAt:   rec.TokenExpiresAt,
			LastSyncAt:       rec.LastSyncAt,
			SetupCompletedAt: rec.SetupCompletedAt,
			SetupCompletedBy: rec.SetupCompletedBy,
		})
	}
	return summaries, nil
}

func (s *integrationService) SaveBYOK(ctx context.Context, orgID uuid.UUID, providerID string, fields map[string]string) (*models.BYOKStatus, error) {
	def, err := s.registry.RequireAvailable(providerID)
	if err != nil {
		return nil, err
	}
	if !def.AuthType.SupportsOAuth() {
		return nil, fmt.Errorf("%w: %s has no OAuth application to bring", apperrors.ErrUnsupportedAuthType, def.DisplayName)
	}

	creds, err := validateBYOKFields(def, fields)
	if err != nil {
		return nil, err
	}

	if err := s.integrationRepo.SaveBYOK(ctx, orgID, providerID, creds); err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.SecurityEvent{
		EventType:  audit.EventBYOKCredentialsChanged,
		OrgID:      orgID,
		ProviderID: providerID,
		Details:    map[string]string{"action": "saved", "client_id": models.MaskedSecret(creds.ClientID)},
	})

	return s.GetBYOKStatus(ctx, orgID, providerID)
}

// validateBYOKFields checks fields against the provider's BYOK schema. The api_key field
// belongs to the API-key connect flow and is not accepted here.
func validateBYOKFields(def *models.ProviderDefinition, fields map[string]string) (models.BYOKCredentials, error) {
	var creds models.BYOKCredentials

	for key := range fields {
		if _, ok := def.Field(key); !ok || key == models.FieldAPIKey {
			return creds, fmt.Errorf("%w: unknown field %q for %s", apperrors.ErrInvalidCredentials, key, def.DisplayName)
		}
	}

	for _, f := range def.CredentialFields {
		if f.Key == models.FieldAPIKey {
			continue
		}
		value := strings.TrimSpace(fields[f.Key])
		if f.Required && value == "" {
			return creds, fmt.Errorf("%w: %s is required", apperrors.ErrInvalidCredentials, f.Label)
		}
		if value != "" && f.InputKind == models.InputURL {
			u, err := url.Parse(value)
			if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
				return creds, fmt.Errorf("%w: %s must be an absolute http(s) URL", apperrors.ErrInvalidCredentials, f.Label)
			}
		}

		switch f.Key {
		case models.FieldClientID:
			creds.ClientID = value
		case models.FieldClientSecret:
			creds.ClientSecret = value
		case models.FieldRedirectURL:
			creds.RedirectURL = value
		}
	}

	if creds.ClientID == "" || creds.ClientSecret == "" {
		return creds, fmt.Errorf("%w: client id and client secret are required", apperrors.ErrInvalidCredentials)
	}
	return creds, nil
}

func (s *integrationService) GetBYOKStatus(ctx context.Context, orgID uuid.UUID, providerID string) (*models.BYOKStatus, error) {
	if _, err := s.registry.RequireAvailable(providerID); err != nil {
		return nil, err
	}

	rec, err := s.integrationRepo.Get(ctx, orgID, providerID)
	if err != nil {
		return nil, err
	}

	status := &models.BYOKStatus{ProviderID: providerID}
	if rec == nil {
		return status, nil
	}
	status.Enabled = rec.BYOKEnabled
	status.IsConfigured = rec.HasBYOKCredentials()
	status.ClientIDPreview = models.MaskedSecret(rec.BYOKClientID)
	status.ClientSecretPreview = models.MaskedSecret(rec.BYOKClientSecret)
	status.RedirectURL = rec.BYOKRedirectURL
	return status, nil
}

func (s *integrationService) DisableBYOK(ctx context.Context, orgID uuid.UUID, providerID string) error {
	if _, err := s.registry.RequireAvailable(providerID); err != nil {
		return err
	}
	if err := s.integrationRepo.DisableBYOK(ctx, orgID, providerID); err != nil {
		return err
	}

	s.auditor.Record(ctx, audit.SecurityEvent{
		EventType:  audit.EventBYOKCredentialsChanged,
		OrgID:      orgID,
		ProviderID: providerID,
		Details:    map[string]string{"action": "disabled"},
	})
	return nil
}

func (s *integrationService) Disconnect(ctx context.Context, orgID uuid.UUID, providerID, userID string) error {
	if _, err := s.registry.RequireAvailable(providerID); err != nil {
		return err
	}
	if err := s.integrationRepo.Delete(ctx, orgID, providerID); err != nil {
		return err
	}

	s.auditor.Record(ctx, audit.SecurityEvent{
		EventType:  audit.EventIntegrationDisconnected,
		OrgID:      orgID,
		ProviderID: providerID,
		UserID:     userID,
	})
	telemetry.SendBestEffort(ctx, s.telemetry, s.logger, telemetry.NewEvent(orgID, telemetry.EventIntegrationDisconnected, map[string]any{
		"provider": providerID,
	}))

	s.logger.Info("Integration disconnected",
		zap.String("org_id", orgID.String()),
		zap.String("provider", providerID))
	return nil
}

func (s *integrationService) RequestResync(ctx context.Context, orgID uuid.UUID, providerID string) error {
	def, err := s.registry.RequireAvailable(providerID)
	if err != nil {
		return err
	}

	rec, err := s.integrationRepo.Get(ctx, orgID, providerID)
	if err != nil {
		return err
	}
	if rec == nil || !rec.IsConfigured {
		return fmt.Errorf("%w: %s", apperrors.ErrNotConfigured, def.DisplayName)
	}

	_, err = s.integrationRepo.UpdateSyncStatus(ctx, orgID, providerID, models.SyncStatusPending, time.Time{})
	return err
}

func (s *integrationService) SetEnabled(ctx context.Context, orgID uuid.UUID, providerID string, enabled bool) error {
	if _, err := s.registry.RequireAvailable(providerID); err != nil {
		return err
	}
	if err := s.integrationRepo.SetEnabled(ctx, orgID, providerID, enabled); err != nil {
		return err
	}

	s.logger.Info("Integration enabled state changed",
		zap.String("org_id", orgID.String()),
		zap.String("provider", providerID),
		zap.Bool("enabled", enabled))
	return nil
}
