package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskedSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "***"},
		{"12345678", "***"},
		{"ghp_abcdefghijklmnop", "ghp_..."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskedSecret(tt.in), "input %q", tt.in)
	}
}

func TestIntegrationRecord_HasBYOKCredentials(t *testing.T) {
	rec := &IntegrationRecord{BYOKEnabled: true, BYOKClientID: "id", BYOKClientSecret: "secret"}
	assert.True(t, rec.HasBYOKCredentials())

	rec.BYOKEnabled = false
	assert.False(t, rec.HasBYOKCredentials(), "toggle off keeps fields but disables BYOK")

	rec.BYOKEnabled = true
	rec.BYOKClientSecret = ""
	assert.False(t, rec.HasBYOKCredentials())
}

func TestPlatformDefaults(t *testing.T) {
	p := NewPlatformDefaults("https://connect.example.com", map[string]PlatformCredentials{
		ProviderGitHub: {ClientID: "gh", ClientSecret: "s"},
		ProviderZoom:   {},
	})

	c, ok := p.For(ProviderGitHub)
	assert.True(t, ok)
	assert.Equal(t, "gh", c.ClientID)

	_, ok = p.For(ProviderZoom)
	assert.False(t, ok, "empty credentials are not platform defaults")

	assert.Equal(t, "https://connect.example.com/api/oauth/github/callback", p.CallbackURL(ProviderGitHub))

	var nilDefaults *PlatformDefaults
	_, ok = nilDefaults.For(ProviderGitHub)
	assert.False(t, ok)
	assert.Empty(t, nilDefaults.CallbackURL(ProviderGitHub))
}

func TestAuthType(t *testing.T) {
	assert.True(t, AuthTypeOAuth.SupportsOAuth())
	assert.False(t, AuthTypeOAuth.SupportsAPIKey())
	assert.True(t, AuthTypeAPIKey.SupportsAPIKey())
	assert.False(t, AuthTypeAPIKey.SupportsOAuth())
	assert.True(t, AuthTypeBoth.SupportsOAuth())
	assert.True(t, AuthTypeBoth.SupportsAPIKey())
}

func TestProviderDefinition_Clone(t *testing.T) {
	orig := &ProviderDefinition{
		ID:               ProviderGoogleCalendar,
		Scopes:           []string{"calendar.readonly"},
		CredentialFields: []CredentialField{{Key: "client_id", Required: true}},
		ExtraAuthParams:  map[string]string{"access_type": "offline"},
	}

	c := orig.Clone()
	c.Scopes[0] = "changed"
	c.ExtraAuthParams["access_type"] = "online"
	c.CredentialFields[0].Required = false

	assert.Equal(t, "calendar.readonly", orig.Scopes[0])
	assert.Equal(t, "offline", orig.ExtraAuthParams["access_type"])
	assert.True(t, orig.CredentialFields[0].Required)

	f, ok := orig.Field("client_id")
	assert.True(t, ok)
	assert.True(t, f.Required)
	_, ok = orig.Field("api_key")
	assert.False(t, ok)
}

func TestValidators(t *testing.T) {
	assert.True(t, CategoryCalendar.IsValid())
	assert.False(t, ProviderCategory("crm").IsValid())
	assert.True(t, SetupStepDomain.IsValid())
	assert.False(t, SetupStep("billing").IsValid())
	assert.True(t, SyncStatusPending.IsValid())
	assert.False(t, SyncStatus("stale").IsValid())
}
