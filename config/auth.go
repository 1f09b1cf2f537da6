package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the authentication mode for the application.
type AuthMode string

const (
	// AuthModeOAuth uses Entra ID (OIDC + Microsoft Graph) for authentication.
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeMock uses a config-defined identity (for development only).
	AuthModeMock AuthMode = "mock"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "oauth", "mock":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oauth, mock)", v)
	}
}

// AzureConfig contains the Entra ID application registration.
type AzureConfig struct {
	TenantID      string        `env:"TENANT_ID"`
	ClientID      string        `env:"CLIENT_ID"`
	ClientSecret  string        `env:"CLIENT_SECRET"`
	RedirectURI   string        `env:"REDIRECT_URI"   envDefault:"http://localhost:8080/auth/callback"`
	Scope         string        `env:"SCOPE"          envDefault:"openid profile email User.Read GroupMember.Read.All"`
	AuthorityHost string        `env:"AUTHORITY_HOST" envDefault:"https://login.microsoftonline.com"`
	GraphBaseURL  string        `env:"GRAPH_BASE_URL" envDefault:"https://graph.microsoft.com/v1.0"`
	DiscoveryURL  string        `env:"DISCOVERY_URL"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT"   envDefault:"10s"`
}

// Issuer returns the OIDC issuer used for discovery. DISCOVERY_URL wins over
// the tenant-derived v2.0 endpoint.
func (c AzureConfig) Issuer() string {
	if c.DiscoveryURL != "" {
		return c.DiscoveryURL
	}
	return c.AuthorityHost + "/" + c.TenantID + "/v2.0"
}

// Scopes splits Scope on whitespace.
func (c AzureConfig) Scopes() []string {
	return strings.Fields(c.Scope)
}

// DevAuthConfig controls mock/dev authentication identity.
// Used when AUTH_MODE=mock for development and testing.
type DevAuthConfig struct {
	UserID      string   `env:"USER_ID"      envDefault:"dev-user"`
	Email       string   `env:"EMAIL"        envDefault:"dev@example.org"`
	DisplayName string   `env:"DISPLAY_NAME" envDefault:"Dev User"`
	Groups      []string `env:"GROUPS"       envDefault:"All_Staff" envSeparator:";"`
	// Attributes are key=value pairs separated by ';', e.g. "extensionAttribute10=Director of Schools".
	Attributes map[string]string `env:"ATTRIBUTES" envSeparator:";" envKeyValSeparator:"="`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which authentication provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"oauth"`

	// Azure configuration (used when Mode=oauth).
	Azure AzureConfig `envPrefix:"AZURE_"`

	// DevAuth configuration (used when Mode=mock).
	DevAuth DevAuthConfig `envPrefix:"DEV_AUTH_"`

	// SeedDefaultRules inserts the default permission rules at startup when none exist.
	SeedDefaultRules bool `env:"AUTH_SEED_DEFAULT_RULES" envDefault:"true"`

	// RulesSource selects where permission rules live: postgres, or static
	// (in-memory defaults, for development without a database).
	RulesSource RulesSource `env:"AUTH_RULES_SOURCE" envDefault:"postgres"`
}

// RulesSource selects the permission rule repository.
type RulesSource string

const (
	RulesSourcePostgres RulesSource = "postgres"
	RulesSourceStatic   RulesSource = "static"
)

// UnmarshalText implements encoding.TextUnmarshaler for RulesSource.
func (r *RulesSource) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "postgres", "static":
		*r = RulesSource(v)
		return nil
	default:
		return fmt.Errorf("invalid RulesSource: %q (valid options: postgres, static)", v)
	}
}

// Sanitize trims provider settings.
func (a *AuthConfig) Sanitize() {
	a.Azure.TenantID = strings.TrimSpace(a.Azure.TenantID)
	a.Azure.ClientID = strings.TrimSpace(a.Azure.ClientID)
	a.Azure.AuthorityHost = strings.TrimRight(strings.TrimSpace(a.Azure.AuthorityHost), "/")
	a.Azure.GraphBaseURL = strings.TrimRight(strings.TrimSpace(a.Azure.GraphBaseURL), "/")
	a.Azure.DiscoveryURL = strings.TrimRight(strings.TrimSpace(a.Azure.DiscoveryURL), "/")
	if a.Azure.HTTPTimeout <= 0 {
		a.Azure.HTTPTimeout = 10 * time.Second
	}
}

// Validate checks that the selected mode is fully configured.
func (a *AuthConfig) Validate() error {
	if a.Mode != AuthModeOAuth {
		return nil
	}
	var missing []string
	if a.Azure.ClientID == "" {
		missing = append(missing, "AZURE_CLIENT_ID")
	}
	if a.Azure.ClientSecret == "" {
		missing = append(missing, "AZURE_CLIENT_SECRET")
	}
	if a.Azure.TenantID == "" && a.Azure.DiscoveryURL == "" {
		missing = append(missing, "AZURE_TENANT_ID")
	}
	if len(missing) > 0 {
		return errors.New("AUTH_MODE=oauth requires " + strings.Join(missing, ", "))
	}
	return nil
}
