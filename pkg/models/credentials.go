package models

// CredentialSource tags where a CredentialSet came from.
type CredentialSource string

const (
	CredentialSourceBYOK     CredentialSource = "byok"
	CredentialSourcePlatform CredentialSource = "platform"
)

// CredentialSet is the resolved credential bag handed to flow operations.
type CredentialSet struct {
	Source       CredentialSource `json:"source"`
	ProviderID   string           `json:"provider_id"`
	ClientID     string           `json:"-"`
	ClientSecret string           `json:"-"`
	RedirectURL  string           `json:"redirect_url,omitempty"`
	APIKey       string           `json:"-"`
}

// HasOAuthClient is true when both client fields are present.
func (c *CredentialSet) HasOAuthClient() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// PlatformCredentials are the process-wide credentials for one provider.
type PlatformCredentials struct {
	ClientID     string
	ClientSecret string
	APIKey       string
}

// IsEmpty is true when nothing usable is configured.
func (p PlatformCredentials) IsEmpty() bool {
	return p.ClientID == "" && p.ClientSecret == "" && p.APIKey == ""
}

// PlatformDefaults is built once at startup and never mutated afterwards.
type PlatformDefaults struct {
	// CallbackBaseURL is the externally reachable base URL used to build redirect URLs.
	CallbackBaseURL string
	credentials     map[string]PlatformCredentials
}

// NewPlatformDefaults copies creds into an immutable value.
func NewPlatformDefaults(callbackBaseURL string, creds map[string]PlatformCredentials) *PlatformDefaults {
	copied := make(map[string]PlatformCredentials, len(creds))
	for id, c := range creds {
		if c.IsEmpty() {
			continue
		}
		copied[id] = c
	}
	return &PlatformDefaults{CallbackBaseURL: callbackBaseURL, credentials: copied}
}

// For returns the platform credentials for a provider.
func (p *PlatformDefaults) For(providerID string) (PlatformCredentials, bool) {
	if p == nil {
		return PlatformCredentials{}, false
	}
	c, ok := p.credentials[providerID]
	return c, ok
}

// CallbackURL returns the platform OAuth callback for a provider.
func (p *PlatformDefaults) CallbackURL(providerID string) string {
	if p == nil {
		return ""
	}
	return p.CallbackBaseURL + "/api/oauth/" + providerID + "/callback"
}
