package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the last known synchronization outcome of an integration.
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusFailed  SyncStatus = "failed"
)

// IsValid reports whether s is a known sync status.
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusSuccess, SyncStatusPending, SyncStatusFailed:
		return true
	}
	return false
}

// AccountIdentity is the externally visible account an integration is connected to.
type AccountIdentity struct {
	Login     string `json:"login,omitempty"`
	Email     string `json:"email,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Type      string `json:"type,omitempty"`
}

// IntegrationRecord is the persisted state of one (organization, provider) pair (decrypted form).
type IntegrationRecord struct {
	OrgID      uuid.UUID `json:"org_id"`
	ProviderID string    `json:"provider_id"`

	// OAuth connection
	AccessToken    string     `json:"-"`
	RefreshToken   string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`

	// API-key connection
	APIKey string `json:"-"`

	// Bring-your-own-key application credentials
	BYOKEnabled      bool   `json:"byok_enabled"`
	BYOKClientID     string `json:"-"`
	BYOKClientSecret string `json:"-"`
	BYOKRedirectURL  string `json:"-"`

	Account AccountIdentity `json:"account"`

	IsConfigured bool       `json:"is_configured"`
	IsEnabled    bool       `json:"is_enabled"`
	SyncStatus   SyncStatus `json:"sync_status"`

	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	SetupCompletedAt *time.Time `json:"setup_completed_at,omitempty"`
	SetupCompletedBy string     `json:"setup_completed_by,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasBYOKCredentials is true when the BYOK toggle is on and both client fields are present.
func (r *IntegrationRecord) HasBYOKCredentials() bool {
	return r.BYOKEnabled && r.BYOKClientID != "" && r.BYOKClientSecret != ""
}

// BYOKCredentials is the field subset written by a BYOK save.
type BYOKCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Connection is the field subset written by a completed OAuth or API-key connection.
type Connection struct {
	OrgID       uuid.UUID
	ProviderID  string
	Tokens      *TokenSet
	APIKey      string
	Account     AccountIdentity
	CompletedBy string
	CompletedAt time.Time
}

// TokenSet holds tokens returned by a provider token endpoint.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// IntegrationSummary is the client-facing view of a record. Secrets are never included.
type IntegrationSummary struct {
	ProviderID       string           `json:"provider_id"`
	DisplayName      string           `json:"display_name"`
	Category         ProviderCategory `json:"category"`
	IsConfigured     bool             `json:"is_configured"`
	IsEnabled        bool             `json:"is_enabled"`
	BYOKEnabled      bool             `json:"byok_enabled"`
	SyncStatus       SyncStatus       `json:"sync_status"`
	Account          AccountIdentity  `json:"account"`
	APIKeyPreview    string           `json:"api_key_preview,omitempty"`
	TokenExpiresAt   *time.Time       `json:"token_expires_at,omitempty"`
	LastSyncAt       *time.Time       `json:"last_sync_at,omitempty"`
	SetupCompletedAt *time.Time       `json:"setup_completed_at,omitempty"`
	SetupCompletedBy string           `json:"setup_completed_by,omitempty"`
}

// BYOKStatus is the masked view of BYOK credentials.
type BYOKStatus struct {
	ProviderID          string `json:"provider_id"`
	Enabled             bool   `json:"enabled"`
	IsConfigured        bool   `json:"is_configured"`
	ClientIDPreview     string `json:"client_id_preview,omitempty"`
	ClientSecretPreview string `json:"client_secret_preview,omitempty"`
	RedirectURL         string `json:"redirect_url,omitempty"`
}

// secretPreviewLength is how many leading characters of a secret are revealed.
const secretPreviewLength = 4

// MaskedSecret returns a short prefix preview: "ghp_...".
func MaskedSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= secretPreviewLength*2 {
		return "***"
	}
	return secret[:secretPreviewLength] + "..."
}
