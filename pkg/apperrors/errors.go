package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrCredentialsKeyMismatch = errors.New("integration credentials were encrypted with a different key")

	ErrUnknownProvider       = errors.New("unknown provider")
	ErrProviderUnavailable   = errors.New("provider is not yet available")
	ErrUnsupportedAuthType   = errors.New("operation not supported by provider auth type")
	ErrMissingCredentials    = errors.New("no BYOK or platform credentials configured for provider")
	ErrInvalidCredentials    = errors.New("invalid credential fields")
	ErrInvalidState          = errors.New("invalid or expired oauth state")
	ErrTokenExchange         = errors.New("oauth token exchange failed")
	ErrRefreshFailed         = errors.New("oauth token refresh failed")
	ErrKeyVerificationFailed = errors.New("api key verification failed")
	ErrNotConfigured         = errors.New("integration is not configured")
	ErrWebhooksUnsupported   = errors.New("provider does not support webhooks")
	ErrInvalidWebhookPayload = errors.New("invalid webhook payload")
	ErrUnknownSetupStep      = errors.New("unknown setup step")
)
