package providers

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// byokFields are the application credentials an organization supplies for OAuth providers.
func byokFields(consoleName string) []models.CredentialField {
	return []models.CredentialField{
		{
			Key:       models.FieldClientID,
			Label:     "Client ID",
			InputKind: models.InputText,
			HelpText:  "From your " + consoleName + " OAuth application",
			Required:  true,
		},
		{
			Key:       models.FieldClientSecret,
			Label:     "Client Secret",
			InputKind: models.InputPassword,
			Required:  true,
		},
		{
			Key:         models.FieldRedirectURL,
			Label:       "Redirect URL",
			InputKind:   models.InputURL,
			Placeholder: "https://app.example.com/api/oauth/{provider}/callback",
			HelpText:    "Leave empty to use the platform callback",
		},
	}
}

func apiKeyField(placeholder, helpText string) models.CredentialField {
	return models.CredentialField{
		Key:         models.FieldAPIKey,
		Label:       "API Key",
		InputKind:   models.InputPassword,
		Placeholder: placeholder,
		HelpText:    helpText,
		Required:    true,
	}
}

// builtinCatalog returns a fresh copy of the compiled-in provider table.
func builtinCatalog() []*models.ProviderDefinition {
	return []*models.ProviderDefinition{
		{
			ID:               models.ProviderGitHub,
			Category:         models.CategorySourceControl,
			DisplayName:      "GitHub",
			AuthType:         models.AuthTypeOAuth,
			Scopes:           []string{"repo", "read:user", "user:email", "read:org"},
			CredentialFields: byokFields("GitHub"),
			SupportsWebhooks: true,
			Endpoint:         endpoints.GitHub,
			IdentityURL:      "https://api.github.com/user",
			IdentityFields:   models.IdentityFields{Login: "login", Email: "email", AccountID: "id", Type: "type"},
			APIBaseURL:       "https://api.github.com",
		},
		{
			ID:               models.ProviderGitLab,
			Category:         models.CategorySourceControl,
			DisplayName:      "GitLab",
			AuthType:         models.AuthTypeOAuth,
			Scopes:           []string{"read_user", "read_api", "read_repository"},
			CredentialFields: byokFields("GitLab"),
			SupportsWebhooks: true,
			Endpoint:         endpoints.GitLab,
			IdentityURL:      "https://gitlab.com/api/v4/user",
			IdentityFields:   models.IdentityFields{Login: "username", Email: "email", AccountID: "id"},
			APIBaseURL:       "https://gitlab.com/api/v4",
		},
		{
			ID:               models.ProviderBitbucket,
			Category:         models.CategorySourceControl,
			DisplayName:      "Bitbucket",
			AuthType:         models.AuthTypeOAuth,
			Scopes:           []string{"account", "repository"},
			CredentialFields: byokFields("Bitbucket"),
			SupportsWebhooks: true,
			ComingSoon:       true,
			Endpoint:         endpoints.Bitbucket,
			IdentityURL:      "https://api.bitbucket.org/2.0/user",
			IdentityFields:   models.IdentityFields{Login: "username", AccountID: "account_id", Type: "type"},
			APIBaseURL:       "https://api.bitbucket.org/2.0",
		},
		{
			ID:          models.ProviderGoogleCalendar,
			Category:    models.CategoryCalendar,
			DisplayName: "Google Calendar",
			AuthType:    models.AuthTypeOAuth,
			Scopes: []string{
				"https://www.googleapis.com/auth/calendar.readonly",
				"https://www.googleapis.com/auth/calendar.events.readonly",
				"openid",
				"email",
			},
			CredentialFields: byokFields("Google Cloud"),
			SupportsWebhooks: true,
			Endpoint:         endpoints.Google,
			// Google only returns a refresh token when offline access and consent are requested.
			ExtraAuthParams: map[string]string{"access_type": "offline", "prompt": "consent"},
			IdentityURL:     "https://openidconnect.googleapis.com/v1/userinfo",
			IdentityFields:  models.IdentityFields{Email: "email", AccountID: "sub"},
			APIBaseURL:      "https://www.googleapis.com/calendar/v3",
		},
		{
			ID:          models.ProviderCalCom,
			Category:    models.CategoryCalendar,
			DisplayName: "Cal.com",
			AuthType:    models.AuthTypeBoth,
			Scopes:      []string{"READ_BOOKING", "READ_PROFILE"},
			CredentialFields: append(byokFields("Cal.com"),
				apiKeyField("cal_live_...", "Settings > Developer > API Keys")),
			SupportsWebhooks: true,
			Endpoint: oauth2.Endpoint{
				AuthURL:   "https://app.cal.com/auth/oauth2/authorize",
				TokenURL:  "https://app.cal.com/api/auth/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
			IdentityURL:    "https://api.cal.com/v2/me",
			IdentityFields: models.IdentityFields{Login: "data.username", Email: "data.email", AccountID: "data.id"},
			APIBaseURL:     "https://api.cal.com/v2",
			VerifierKind:   models.VerifierHTTPIdentity,
		},
		{
			ID:               models.ProviderZoom,
			Category:         models.CategoryCalendar,
			DisplayName:      "Zoom",
			AuthType:         models.AuthTypeOAuth,
			Scopes:           []string{"meeting:read", "user:read"},
			CredentialFields: byokFields("Zoom Marketplace"),
			SupportsWebhooks: true,
			Endpoint:         endpoints.Zoom,
			IdentityURL:      "https://api.zoom.us/v2/users/me",
			IdentityFields:   models.IdentityFields{Email: "email", AccountID: "account_id", Type: "type"},
			APIBaseURL:       "https://api.zoom.us/v2",
		},
		{
			ID:               models.ProviderOpenAI,
			Category:         models.CategoryAI,
			DisplayName:      "OpenAI",
			AuthType:         models.AuthTypeAPIKey,
			CredentialFields: []models.CredentialField{apiKeyField("sk-...", "platform.openai.com > API keys")},
			APIBaseURL:       "https://api.openai.com/v1",
			VerifierKind:     models.VerifierOpenAI,
		},
		{
			ID:               models.ProviderAnthropic,
			Category:         models.CategoryAI,
			DisplayName:      "Anthropic",
			AuthType:         models.AuthTypeAPIKey,
			CredentialFields: []models.CredentialField{apiKeyField("sk-ant-...", "console.anthropic.com > API Keys")},
			APIBaseURL:       "https://api.anthropic.com/v1",
			VerifierKind:     models.VerifierAnthropic,
		},
		{
			ID:               models.ProviderSlack,
			Category:         models.CategoryCommunication,
			DisplayName:      "Slack",
			AuthType:         models.AuthTypeOAuth,
			Scopes:           []string{"channels:read", "chat:write", "users:read", "users:read.email"},
			CredentialFields: byokFields("Slack"),
			SupportsWebhooks: true,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://slack.com/oauth/v2/authorize",
				TokenURL: "https://slack.com/api/oauth.v2.access",
			},
			IdentityURL:    "https://slack.com/api/auth.test",
			IdentityFields: models.IdentityFields{Login: "user", AccountID: "team_id"},
			APIBaseURL:     "https://slack.com/api",
		},
		{
			ID:               models.ProviderMicrosoftTeams,
			Category:         models.CategoryCommunication,
			DisplayName:      "Microsoft Teams",
			AuthType:         models.AuthTypeOAuth,
			Scopes:           []string{"offline_access", "User.Read", "Chat.Read"},
			CredentialFields: byokFields("Azure"),
			ComingSoon:       true,
			Endpoint:         endpoints.AzureAD("common"),
			IdentityURL:      "https://graph.microsoft.com/v1.0/me",
			IdentityFields:   models.IdentityFields{Login: "userPrincipalName", Email: "mail", AccountID: "id"},
			APIBaseURL:       "https://graph.microsoft.com/v1.0",
		},
	}
}
