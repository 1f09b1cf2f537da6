package devauth

// Package devauth provides a simple, config-driven AuthProvider for local development.

import (
	"context"
	"errors"
	"maps"
	"net/url"
	"slices"
	"strings"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/ports"
)

// Config controls the dev auth provider behavior.
// UserID and Email are required; Groups and Attributes may be empty.
type Config struct {
	UserID      string
	Email       string
	DisplayName string
	Groups      []string
	Attributes  map[string]string
	// CallbackPath is where Begin sends the browser; defaults to /auth/callback.
	CallbackPath string
}

// Provider implements ports.AuthProvider for local development.
// It short-circuits the OAuth flow by redirecting straight back to our own
// callback with the caller's state. Exchange returns the configured identity.
type Provider struct {
	identity     domainauth.Identity
	callbackPath string
}

// NewProvider constructs a dev auth provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.UserID == "" {
		return nil, errors.New("dev auth: UserID is required")
	}
	if cfg.Email == "" {
		return nil, errors.New("dev auth: Email is required")
	}

	groups := make([]domainauth.Group, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		if g = strings.TrimSpace(g); g != "" {
			groups = append(groups, domainauth.Group{ID: "dev-" + strings.ToLower(strings.ReplaceAll(g, " ", "-")), Name: g})
		}
	}
	attrs := make(map[string]any, len(cfg.Attributes))
	for k, v := range cfg.Attributes {
		attrs[k] = v
	}

	callback := cfg.CallbackPath
	if callback == "" {
		callback = "/auth/callback"
	}
	return &Provider{
		identity: domainauth.Identity{
			UserID:      cfg.UserID,
			Email:       cfg.Email,
			DisplayName: cfg.DisplayName,
			Groups:      groups,
			Attributes:  attrs,
		},
		callbackPath: callback,
	}, nil
}

// Begin returns the local callback URL carrying the caller's state.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, error) {
	if in.State == "" {
		return "", errors.New("dev auth: state is required")
	}
	q := url.Values{"code": {"dev"}, "state": {in.State}}
	return p.callbackPath + "?" + q.Encode(), nil
}

// Exchange ignores the code and returns a copy of the dev identity.
func (p *Provider) Exchange(_ context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code == "" {
		return domainauth.Identity{}, errors.New("dev auth: code is required")
	}
	id := p.identity
	id.Groups = slices.Clone(p.identity.Groups)
	id.Attributes = maps.Clone(p.identity.Attributes)
	return id, nil
}
