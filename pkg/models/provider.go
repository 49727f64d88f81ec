// Package models contains domain types for ekaya-connect.
package models

import "golang.org/x/oauth2"

// ProviderCategory groups providers by what they integrate with.
type ProviderCategory string

const (
	CategorySourceControl ProviderCategory = "source_control"
	CategoryCalendar      ProviderCategory = "calendar"
	CategoryAI            ProviderCategory = "ai"
	CategoryCommunication ProviderCategory = "communication"
)

// IsValid reports whether c is one of the known categories.
func (c ProviderCategory) IsValid() bool {
	switch c {
	case CategorySourceControl, CategoryCalendar, CategoryAI, CategoryCommunication:
		return true
	}
	return false
}

// AuthType describes how an organization authenticates against a provider.
type AuthType string

const (
	AuthTypeOAuth  AuthType = "oauth"
	AuthTypeAPIKey AuthType = "api_key"
	AuthTypeBoth   AuthType = "both"
)

// SupportsOAuth is true for oauth and both.
func (a AuthType) SupportsOAuth() bool {
	return a == AuthTypeOAuth || a == AuthTypeBoth
}

// SupportsAPIKey is true for api_key and both.
func (a AuthType) SupportsAPIKey() bool {
	return a == AuthTypeAPIKey || a == AuthTypeBoth
}

// Provider ids in the built-in catalog.
const (
	ProviderGitHub         = "github"
	ProviderGitLab         = "gitlab"
	ProviderBitbucket      = "bitbucket"
	ProviderGoogleCalendar = "google_calendar"
	ProviderCalCom         = "calcom"
	ProviderZoom           = "zoom"
	ProviderOpenAI         = "openai"
	ProviderAnthropic      = "anthropic"
	ProviderSlack          = "slack"
	ProviderMicrosoftTeams = "microsoft_teams"
)

// InputKind is the form control used to collect a credential field.
type InputKind string

const (
	InputText     InputKind = "text"
	InputPassword InputKind = "password"
	InputURL      InputKind = "url"
)

// CredentialField describes one BYOK or API-key input a provider accepts.
type CredentialField struct {
	Key         string    `json:"key" yaml:"key"`
	Label       string    `json:"label" yaml:"label"`
	InputKind   InputKind `json:"input_kind" yaml:"input_kind"`
	Placeholder string    `json:"placeholder,omitempty" yaml:"placeholder"`
	HelpText    string    `json:"help_text,omitempty" yaml:"help_text"`
	Required    bool      `json:"required" yaml:"required"`
}

// Well-known credential field keys.
const (
	FieldClientID     = "client_id"
	FieldClientSecret = "client_secret"
	FieldRedirectURL  = "redirect_url"
	FieldAPIKey       = "api_key"
)

// VerifierKind selects how an API key is probed before it is stored.
type VerifierKind string

const (
	VerifierNone         VerifierKind = ""
	VerifierOpenAI       VerifierKind = "openai"
	VerifierAnthropic    VerifierKind = "anthropic"
	VerifierHTTPIdentity VerifierKind = "http_identity"
)

// IdentityFields maps JSON keys of a provider's identity response onto AccountIdentity.
// Keys may use dots to reach nested objects ("data.email").
type IdentityFields struct {
	Login     string `json:"login,omitempty" yaml:"login"`
	Email     string `json:"email,omitempty" yaml:"email"`
	AccountID string `json:"account_id,omitempty" yaml:"account_id"`
	Type      string `json:"type,omitempty" yaml:"type"`
}

// ProviderDefinition is the immutable catalog entry for one provider.
type ProviderDefinition struct {
	ID               string            `json:"id"`
	Category         ProviderCategory  `json:"category"`
	DisplayName      string            `json:"display_name"`
	AuthType         AuthType          `json:"auth_type"`
	Scopes           []string          `json:"scopes,omitempty"`
	CredentialFields []CredentialField `json:"credential_fields"`
	SupportsWebhooks bool              `json:"supports_webhooks"`
	ComingSoon       bool              `json:"coming_soon"`

	// Transport metadata, not exposed to clients.
	Endpoint        oauth2.Endpoint   `json:"-"`
	ExtraAuthParams map[string]string `json:"-"`
	IdentityURL     string            `json:"-"`
	IdentityFields  IdentityFields    `json:"-"`
	APIBaseURL      string            `json:"-"`
	VerifierKind    VerifierKind      `json:"-"`
}

// Field returns the credential field with the given key.
func (d *ProviderDefinition) Field(key string) (CredentialField, bool) {
	for _, f := range d.CredentialFields {
		if f.Key == key {
			return f, true
		}
	}
	return CredentialField{}, false
}

// Clone returns a deep copy so callers cannot mutate the catalog.
func (d *ProviderDefinition) Clone() *ProviderDefinition {
	c := *d
	c.Scopes = append([]string(nil), d.Scopes...)
	c.CredentialFields = append([]CredentialField(nil), d.CredentialFields...)
	if d.ExtraAuthParams != nil {
		c.ExtraAuthParams = make(map[string]string, len(d.ExtraAuthParams))
		for k, v := range d.ExtraAuthParams {
			c.ExtraAuthParams[k] = v
		}
	}
	return &c
}
