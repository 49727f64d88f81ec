package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/logging"
	"github.com/ekaya-inc/ekaya-connect/pkg/providers"
	"github.com/ekaya-inc/ekaya-connect/pkg/services"
)

// errorMapping is the HTTP shape of a service error.
type errorMapping struct {
	status int
	code   string
}

// sentinelMappings is checked in order; the first errors.Is match wins.
var sentinelMappings = []struct {
	err error
	errorMapping
}{
	{apperrors.ErrUnknownProvider, errorMapping{http.StatusNotFound, "unknown_provider"}},
	{apperrors.ErrProviderUnavailable, errorMapping{http.StatusConflict, "provider_unavailable"}},
	{apperrors.ErrUnsupportedAuthType, errorMapping{http.StatusBadRequest, "unsupported_auth_type"}},
	{apperrors.ErrMissingCredentials, errorMapping{http.StatusPreconditionFailed, "credentials_missing"}},
	{apperrors.ErrInvalidCredentials, errorMapping{http.StatusBadRequest, "invalid_credentials"}},
	{apperrors.ErrInvalidState, errorMapping{http.StatusBadRequest, "invalid_state"}},
	{apperrors.ErrRefreshFailed, errorMapping{http.StatusBadGateway, "token_refresh_failed"}},
	{apperrors.ErrTokenExchange, errorMapping{http.StatusBadGateway, "token_exchange_failed"}},
	{apperrors.ErrKeyVerificationFailed, errorMapping{http.StatusUnprocessableEntity, "key_verification_failed"}},
	{apperrors.ErrNotConfigured, errorMapping{http.StatusConflict, "not_configured"}},
	{apperrors.ErrWebhooksUnsupported, errorMapping{http.StatusNotFound, "webhooks_unsupported"}},
	{apperrors.ErrInvalidWebhookPayload, errorMapping{http.StatusBadRequest, "invalid_payload"}},
	{apperrors.ErrUnknownSetupStep, errorMapping{http.StatusBadRequest, "unknown_setup_step"}},
	{apperrors.ErrNotFound, errorMapping{http.StatusNotFound, "not_found"}},
	{apperrors.ErrCredentialsKeyMismatch, errorMapping{http.StatusInternalServerError, "credentials_key_mismatch"}},
}

// mapError returns the status, code and client-safe message for err.
// Unmapped errors become 500 with fallback as the message.
func mapError(err error, fallback string) (int, string, string) {
	var exErr *services.TokenExchangeError
	if errors.As(err, &exErr) {
		msg := "Provider rejected the token request"
		if exErr.Code != "" {
			msg += ": " + exErr.Code
		}
		code := "token_exchange_failed"
		if errors.Is(err, apperrors.ErrRefreshFailed) {
			code = "token_refresh_failed"
		}
		return http.StatusBadGateway, code, msg
	}

	var kvErr *providers.KeyVerificationError
	if errors.As(err, &kvErr) {
		return http.StatusUnprocessableEntity, "key_verification_failed", "API key rejected: " + kvErr.Reason
	}

	for _, m := range sentinelMappings {
		if errors.Is(err, m.err) {
			if m.status >= http.StatusInternalServerError {
				return m.status, m.code, fallback
			}
			return m.status, m.code, logging.SanitizeError(err)
		}
	}
	return http.StatusInternalServerError, "internal_error", fallback
}

// writeServiceError maps err and writes it. Server-side failures are logged at error level.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error, fallback string, fields ...zap.Field) {
	status, code, msg := mapError(err, fallback)
	fields = append(fields, zap.String("error_code", code), zap.String("error", logging.SanitizeError(err)))
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		logger.Error(fallback, fields...)
	} else {
		logger.Debug(fallback, fields...)
	}
	if err := ErrorResponse(w, status, code, msg); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
