// Package audit provides security audit logging for SIEM consumption.
// It logs credential lifecycle events in structured JSON format for easy parsing
// and integration with security information and event management systems.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/auth"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	EventOAuthStateRejected      SecurityEventType = "oauth_state_rejected"
	EventIntegrationConnected    SecurityEventType = "integration_connected"
	EventIntegrationDisconnected SecurityEventType = "integration_disconnected"
	EventAPIKeyRejected          SecurityEventType = "api_key_rejected"
	EventTokenRefreshFailed      SecurityEventType = "token_refresh_failed"
	EventBYOKCredentialsChanged  SecurityEventType = "byok_credentials_changed"
)

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// SecurityEvent represents an auditable security event with all relevant context
// for SIEM ingestion and analysis.
type SecurityEvent struct {
	Timestamp  time.Time         `json:"timestamp"`
	EventType  SecurityEventType `json:"event_type"`
	OrgID      uuid.UUID         `json:"org_id"`
	ProviderID string            `json:"provider_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	ClientIP   string            `json:"client_ip,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Severity   string            `json:"severity"`
}

// Auditor records credential lifecycle events.
type Auditor interface {
	Record(ctx context.Context, event SecurityEvent)
}

// SecurityAuditor logs security events for SIEM consumption.
type SecurityAuditor struct {
	logger *zap.Logger
	now    func() time.Time
}

var _ Auditor = (*SecurityAuditor)(nil)

// NewSecurityAuditor creates a new security auditor with a dedicated logger namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit"), now: time.Now}
}

// Record logs event. Timestamp and user are filled in when missing; the user comes
// from JWT claims in ctx. Critical events log at ERROR, warnings at WARN.
func (a *SecurityAuditor) Record(ctx context.Context, event SecurityEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = a.now().UTC()
	}
	if event.UserID == "" {
		event.UserID = auth.GetUserIDFromContext(ctx)
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	// Marshaling known types should never fail
	eventJSON, _ := json.Marshal(event)

	fields := []zap.Field{
		zap.String("event_json", string(eventJSON)),
		zap.String("event_type", string(event.EventType)),
		zap.String("org_id", event.OrgID.String()),
		zap.String("provider", event.ProviderID),
		zap.String("user_id", event.UserID),
		zap.String("client_ip", event.ClientIP),
		zap.String("severity", event.Severity),
	}

	switch event.Severity {
	case SeverityCritical:
		a.logger.Error("Security event", fields...)
	case SeverityWarning:
		a.logger.Warn("Security event", fields...)
	default:
		a.logger.Info("Security event", fields...)
	}
}

// NoopAuditor discards events.
type NoopAuditor struct{}

func (NoopAuditor) Record(context.Context, SecurityEvent) {}
