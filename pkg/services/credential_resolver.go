// Package services contains business logic for ekaya-connect.
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
	"github.com/ekaya-inc/ekaya-connect/pkg/repositories"
)

// CredentialResolver decides which credentials an organization uses for a provider.
type CredentialResolver interface {
	// Resolve returns the BYOK set when the organization has enabled and filled it in,
	// otherwise the platform defaults. Returns apperrors.ErrMissingCredentials when
	// neither exists. The result is recomputed on every call.
	Resolve(ctx context.Context, orgID uuid.UUID, providerID string) (*models.CredentialSet, error)
}

type credentialResolver struct {
	registry        providers.Registry
	integrationRepo repositories.IntegrationRepository
	platform        *models.PlatformDefaults
	logger          *zap.Logger
}

// NewCredentialResolver creates a new credential resolver.
func NewCredentialResolver(
	registry providers.Registry,
	integrationRepo repositories.IntegrationRepository,
	platform *models.PlatformDefaults,
	logger *zap.Logger,
) CredentialResolver {
	return &credentialResolver{
		registry:        registry,
		integrationRepo: integrationRepo,
		platform:        platform,
		logger:          logger.Named("credential_resolver"),
	}
}

var _ CredentialResolver = (*credentialResolver)(nil)

func (r *credentialResolver) Resolve(ctx context.Context, orgID uuid.UUID, providerID string) (*models.CredentialSet, error) {
	def, err := r.registry.RequireAvailable(providerID)
	if err != nil {
		return nil, err
	}

	record, err := r.integrationRepo.Get(ctx, orgID, providerID)
	if err != nil {
		return nil, fmt.Errorf("load integration: %w", err)
	}

	if record != nil {
		if def.AuthType.SupportsOAuth() && record.HasBYOKCredentials() {
			redirectURL := record.BYOKRedirectURL
			if redirectURL == "" {
				redirectURL = r.platform.CallbackURL(providerID)
			}
			return &models.CredentialSet{
				Source:       models.CredentialSourceBYOK,
				ProviderID:   providerID,
				ClientID:     record.BYOKClientID,
				ClientSecret: record.BYOKClientSecret,
				RedirectURL:  redirectURL,
			}, nil
		}

		// The organization's own key is the credential for key-only providers.
		if def.AuthType == models.AuthTypeAPIKey && record.APIKey != "" {
			return &models.CredentialSet{
				Source:     models.CredentialSourceBYOK,
				ProviderID: providerID,
				APIKey:     record.APIKey,
			}, nil
		}
	}

	if pc, ok := r.platform.For(providerID); ok {
		usable := (def.AuthType.SupportsOAuth() && pc.ClientID != "" && pc.ClientSecret != "") ||
			(def.AuthType.SupportsAPIKey() && pc.APIKey != "")
		if usable {
			return &models.CredentialSet{
				Source:       models.CredentialSourcePlatform,
				ProviderID:   providerID,
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				RedirectURL:  r.platform.CallbackURL(providerID),
				APIKey:       pc.APIKey,
			}, nil
		}
	}

	r.logger.Debug("No credentials available",
		zap.String("org_id", orgID.String()),
		zap.String("provider", providerID))
	return nil, fmt.Errorf("%w: %s", apperrors.ErrMissingCredentials, def.DisplayName)
}
