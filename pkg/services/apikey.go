package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/audit"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
	"github.com/ekaya-inc/ekaya-connect/pkg/telemetry"
)

// APIKeyService connects providers that authenticate with a static key.
type APIKeyService interface {
	// ConnectAPIKey verifies key with one provider call and only then persists it.
	// A rejected key returns a *providers.KeyVerificationError and nothing is stored.
	ConnectAPIKey(ctx context.Context, orgID uuid.UUID, userID, providerID, key string) (*models.AccountIdentity, error)
}

type apiKeyService struct {
	registry        providers.Registry
	verifier        providers.KeyVerifier
	integrationRepo repositories.IntegrationRepository
	setup           SetupMilestoneMarker
	auditor         audit.Auditor
	telemetry       telemetry.Telemetry
	logger          *zap.Logger
	now             func() time.Time
}

// NewAPIKeyService creates a new API key service.
func NewAPIKeyService(
	registry providers.Registry,
	verifier providers.KeyVerifier,
	integrationRepo repositories.IntegrationRepository,
	setup SetupMilestoneMarker,
	auditor audit.Auditor,
	tl telemetry.Telemetry,
	logger *zap.Logger,
) APIKeyService {
	return &apiKeyService{
		registry:        registry,
		verifier:        verifier,
		integrationRepo: integrationRepo,
		setup:           setup,
		auditor:         auditor,
		telemetry:       tl,
		logger:          logger.Named("api_key"),
		now:             time.Now,
	}
}

var _ APIKeyService = (*apiKeyService)(nil)

func (s *apiKeyService) ConnectAPIKey(ctx context.Context, orgID uuid.UUID, userID, providerID, key string) (*models.AccountIdentity, error) {
	def, err := s.registry.RequireAvailable(providerID)
	if err != nil {
		return nil, err
	}
	if !def.AuthType.SupportsAPIKey() {
		return nil, fmt.Errorf("%w: %s connects with OAuth", apperrors.ErrUnsupportedAuthType, def.DisplayName)
	}

	key = strings.TrimSpace(key)
	account, err := s.verifier.Verify(ctx, def, key)
	if err != nil {
		s.auditor.Record(ctx, audit.SecurityEvent{
			EventType:  audit.EventAPIKeyRejected,
			OrgID:      orgID,
			ProviderID: providerID,
			UserID:     userID,
			Severity:   audit.SeverityWarning,
			Details:    map[string]string{"reason": logging.SanitizeError(err)},
		})
		return nil, err
	}
	if account == nil {
		account = &models.AccountIdentity{}
	}

	err = s.integrationRepo.SaveConnection(ctx, &models.Connection{
		OrgID:       orgID,
		ProviderID:  providerID,
		APIKey:      key,
		Account:     *account,
		CompletedBy: userID,
		CompletedAt: s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("save api key: %w", err)
	}

	recordConnected(ctx, connectedEvent{
		orgID:     orgID,
		userID:    userID,
		def:       def,
		source:    models.CredentialSourceBYOK,
		method:    "api_key",
		setup:     s.setup,
		auditor:   s.auditor,
		telemetry: s.telemetry,
		logger:    s.logger,
	})
	return account, nil
}
