package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// KeyVerificationError is returned when a provider rejects an API key probe.
// It matches apperrors.ErrKeyVerificationFailed with errors.Is.
type KeyVerificationError struct {
	ProviderID string
	// Reason is safe to show to the user.
	Reason string
	Err    error
}

func (e *KeyVerificationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", apperrors.ErrKeyVerificationFailed, e.ProviderID, e.Reason)
}

func (e *KeyVerificationError) Unwrap() error { return e.Err }

func (e *KeyVerificationError) Is(target error) bool {
	return target == apperrors.ErrKeyVerificationFailed
}

// KeyVerifier probes a provider once to confirm an API key works.
type KeyVerifier interface {
	// Verify returns the account identity when the provider exposes one, or an
	// empty identity when the probe succeeds without it.
	Verify(ctx context.Context, def *models.ProviderDefinition, apiKey string) (*models.AccountIdentity, error)
}

type keyVerifier struct {
	httpClient *http.Client
}

var _ KeyVerifier = (*keyVerifier)(nil)

// NewKeyVerifier creates a verifier. httpClient carries the per-call timeout.
func NewKeyVerifier(httpClient *http.Client) KeyVerifier {
	return &keyVerifier{httpClient: httpClient}
}

func (v *keyVerifier) Verify(ctx context.Context, def *models.ProviderDefinition, apiKey string) (*models.AccountIdentity, error) {
	if !def.AuthType.SupportsAPIKey() {
		return nil, fmt.Errorf("%w: %s does not accept API keys", apperrors.ErrUnsupportedAuthType, def.ID)
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, &KeyVerificationError{ProviderID: def.ID, Reason: "API key is empty"}
	}

	var (
		identity *models.AccountIdentity
		err      error
	)
	switch def.VerifierKind {
	case models.VerifierOpenAI:
		identity, err = v.verifyOpenAI(ctx, def, apiKey)
	case models.VerifierAnthropic:
		identity, err = v.verifyAnthropic(ctx, def, apiKey)
	case models.VerifierHTTPIdentity:
		identity, err = fetchIdentity(ctx, v.httpClient, def, apiKey)
	default:
		return nil, fmt.Errorf("no key verifier configured for provider %s", def.ID)
	}
	if err != nil {
		return nil, &KeyVerificationError{ProviderID: def.ID, Reason: describeKeyError(err), Err: err}
	}
	return identity, nil
}

func (v *keyVerifier) verifyOpenAI(ctx context.Context, def *models.ProviderDefinition, apiKey string) (*models.AccountIdentity, error) {
	config := openai.DefaultConfig(apiKey)
	if def.APIBaseURL != "" {
		config.BaseURL = strings.TrimSuffix(def.APIBaseURL, "/")
	}
	config.HTTPClient = v.httpClient
	client := openai.NewClientWithConfig(config)

	if _, err := client.ListModels(ctx); err != nil {
		return nil, err
	}
	return &models.AccountIdentity{}, nil
}

func (v *keyVerifier) verifyAnthropic(ctx context.Context, def *models.ProviderDefinition, apiKey string) (*models.AccountIdentity, error) {
	opts := []anthropic.ClientOption{anthropic.WithHTTPClient(v.httpClient)}
	if def.APIBaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(def.APIBaseURL, "/")))
	}
	client := anthropic.NewClient(apiKey, opts...)

	// Listing batches is authenticated but unbilled and does not name a model.
	limit := 1
	if _, err := client.ListBatches(ctx, anthropic.ListBatchesRequest{Limit: &limit}); err != nil {
		return nil, err
	}
	return &models.AccountIdentity{}, nil
}

// describeKeyError turns SDK and HTTP errors into a short user-facing reason.
func describeKeyError(err error) string {
	var statusErr *IdentityStatusError
	if errors.As(err, &statusErr) {
		return describeStatus(statusErr.StatusCode)
	}
	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) {
		return describeStatus(openaiErr.HTTPStatusCode)
	}
	var anthropicErr *anthropic.RequestError
	if errors.As(err, &anthropicErr) {
		return describeStatus(anthropicErr.StatusCode)
	}
	var anthropicAPIErr *anthropic.APIError
	if errors.As(err, &anthropicAPIErr) {
		switch {
		case anthropicAPIErr.IsAuthenticationErr():
			return describeStatus(http.StatusUnauthorized)
		case anthropicAPIErr.IsPermissionErr():
			return describeStatus(http.StatusForbidden)
		case anthropicAPIErr.IsRateLimitErr():
			return describeStatus(http.StatusTooManyRequests)
		case anthropicAPIErr.IsApiErr(), anthropicAPIErr.IsOverloadedErr():
			return describeStatus(http.StatusServiceUnavailable)
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") || strings.Contains(lower, "authentication"):
		return "invalid API key"
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return "provider did not respond in time"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return "provider is unreachable"
	}
	return "provider rejected the API key"
}

func describeStatus(code int) string {
	switch {
	case code == http.StatusUnauthorized:
		return "invalid API key"
	case code == http.StatusForbidden:
		return "API key lacks required permissions"
	case code == http.StatusTooManyRequests:
		return "provider rate limit reached"
	case code >= 500:
		return "provider is unavailable"
	}
	return fmt.Sprintf("provider returned status %d", code)
}
