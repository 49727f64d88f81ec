package providers

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// Overrides re-points provider endpoints (self-hosted GitLab or Cal.com) and
// toggles availability without a rebuild. Applied once at startup.
//
//	providers:
//	  gitlab:
//	    auth_url: https://gitlab.internal/oauth/authorize
//	    token_url: https://gitlab.internal/oauth/token
//	    identity_url: https://gitlab.internal/api/v4/user
//	  bitbucket:
//	    coming_soon: false
type Overrides struct {
	Providers map[string]ProviderOverride `yaml:"providers"`
}

// ProviderOverride holds optional per-provider replacements. Empty values keep the built-in.
type ProviderOverride struct {
	AuthURL     string   `yaml:"auth_url"`
	TokenURL    string   `yaml:"token_url"`
	IdentityURL string   `yaml:"identity_url"`
	APIBaseURL  string   `yaml:"api_base_url"`
	Scopes      []string `yaml:"scopes"`
	ComingSoon  *bool    `yaml:"coming_soon"`
}

// LoadOverrides reads an overrides file. An empty path returns nil, nil.
func LoadOverrides(path string) (*Overrides, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider overrides: %w", err)
	}
	return ParseOverrides(data)
}

// ParseOverrides decodes overrides YAML.
func ParseOverrides(data []byte) (*Overrides, error) {
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to parse provider overrides: %w", err)
	}
	return &o, nil
}

func (o *Overrides) apply(defs []*models.ProviderDefinition) error {
	byID := make(map[string]*models.ProviderDefinition, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	for id, ov := range o.Providers {
		def, ok := byID[id]
		if !ok {
			return fmt.Errorf("provider overrides: %w: %q", apperrors.ErrUnknownProvider, id)
		}
		if ov.AuthURL != "" {
			def.Endpoint.AuthURL = ov.AuthURL
		}
		if ov.TokenURL != "" {
			def.Endpoint.TokenURL = ov.TokenURL
		}
		if ov.IdentityURL != "" {
			def.IdentityURL = ov.IdentityURL
		}
		if ov.APIBaseURL != "" {
			def.APIBaseURL = ov.APIBaseURL
		}
		if len(ov.Scopes) > 0 {
			def.Scopes = append([]string(nil), ov.Scopes...)
		}
		if ov.ComingSoon != nil {
			def.ComingSoon = *ov.ComingSoon
		}
	}
	return nil
}
