// Package oidc implements the identity exchange against Microsoft Entra ID:
// OIDC discovery and id_token verification, then Microsoft Graph for the
// profile attributes and group memberships used by permission rules.
package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	domainauth "github.com/ocs-portal/portal-auth/internal/domain/auth"
	"github.com/ocs-portal/portal-auth/internal/ports"
)

// profileSelect lists the Graph user fields exposed to attribute rules.
const profileSelect = "id,displayName,mail,userPrincipalName,jobTitle,department,officeLocation,employeeId,onPremisesExtensionAttributes"

// maxGroupPages bounds memberOf paging.
const maxGroupPages = 50

// ProviderConfig holds configuration for the Entra ID provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// Issuer is the OIDC issuer, e.g. https://login.microsoftonline.com/{tenant}/v2.0.
	Issuer       string
	GraphBaseURL string
	HTTPClient   *http.Client // Optional, defaults to a client with a 30s timeout
}

// Provider implements ports.AuthProvider for Entra ID.
type Provider struct {
	config     *oauth2.Config
	verifier   *gooidc.IDTokenVerifier
	graphBase  string
	httpClient *http.Client
}

// NewProvider runs OIDC discovery and builds the provider.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*Provider, error) {
	switch {
	case cfg.ClientID == "":
		return nil, errors.New("client ID is required")
	case cfg.ClientSecret == "":
		return nil, errors.New("client secret is required")
	case cfg.RedirectURL == "":
		return nil, errors.New("redirect URL is required")
	case cfg.Issuer == "":
		return nil, errors.New("issuer is required")
	case cfg.GraphBaseURL == "":
		return nil, errors.New("graph base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	issuer := strings.TrimSuffix(strings.TrimSuffix(cfg.Issuer, "/"), "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(gooidc.ClientContext(ctx, httpClient), issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc discovery: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "profile", "email"}
	}

	return &Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint:     op.Endpoint(),
		},
		verifier:   op.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		graphBase:  strings.TrimRight(cfg.GraphBaseURL, "/"),
		httpClient: httpClient,
	}, nil
}

// Begin builds the authorization URL carrying state and nonce.
func (p *Provider) Begin(_ context.Context, in ports.BeginInput) (string, error) {
	if in.State == "" || in.Nonce == "" {
		return "", errors.New("state and nonce are required")
	}
	return p.config.AuthCodeURL(in.State,
		oauth2.SetAuthURLParam("nonce", in.Nonce),
		oauth2.SetAuthURLParam("prompt", "select_account"),
	), nil
}

// idClaims are the id_token claims we read.
type idClaims struct {
	Subject           string `json:"sub"`
	ObjectID          string `json:"oid"`
	Email             string `json:"email"`
	PreferredUsername string `json:"preferred_username"`
	Name              string `json:"name"`
	Nonce             string `json:"nonce"`
}

// Exchange redeems the code, verifies the id_token and nonce, then loads the
// Graph profile and group memberships concurrently.
func (p *Provider) Exchange(ctx context.Context, in ports.ExchangeInput) (domainauth.Identity, error) {
	if in.Code == "" {
		return domainauth.Identity{}, errors.New("authorization code is required")
	}
	if in.Nonce == "" {
		return domainauth.Identity{}, errors.New("nonce is required")
	}

	ctx = gooidc.ClientContext(ctx, p.httpClient)
	tok, err := p.config.Exchange(ctx, in.Code)
	if err != nil {
		return domainauth.Identity{}, fmt.Errorf("exchange code for token: %w", err)
	}

	claims, err := p.verifyIDToken(ctx, tok, in.Nonce)
	if err != nil {
		return domainauth.Identity{}, err
	}

	graph := p.config.Client(ctx, tok)
	var (
		profile map[string]any
		groups  []domainauth.Group
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		profile, err = p.fetchProfile(gctx, graph)
		return err
	})
	g.Go(func() error {
		var err error
		groups, err = p.fetchGroups(gctx, graph)
		return err
	})
	if err := g.Wait(); err != nil {
		return domainauth.Identity{}, err
	}

	return buildIdentity(claims, profile, groups), nil
}

func (p *Provider) verifyIDToken(ctx context.Context, tok *oauth2.Token, nonce string) (idClaims, error) {
	var c idClaims
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return c, errors.New("missing id_token in token response")
	}
	idTok, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return c, fmt.Errorf("verify id_token: %w", err)
	}
	if err := idTok.Claims(&c); err != nil {
		return c, fmt.Errorf("parse id_token claims: %w", err)
	}
	if c.Nonce != nonce {
		return c, errors.New("id_token nonce mismatch")
	}
	return c, nil
}

func (p *Provider) fetchProfile(ctx context.Context, client *http.Client) (map[string]any, error) {
	u := p.graphBase + "/me?" + url.Values{"$select": {profileSelect}}.Encode()
	var profile map[string]any
	if err := getJSON(ctx, client, u, &profile); err != nil {
		return nil, fmt.Errorf("graph profile: %w", err)
	}
	liftExtensionAttributes(profile)
	return profile, nil
}

type memberOfPage struct {
	NextLink string `json:"@odata.nextLink"`
	Value    []struct {
		Type        string `json:"@odata.type"`
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"value"`
}

func (p *Provider) fetchGroups(ctx context.Context, client *http.Client) ([]domainauth.Group, error) {
	next := p.graphBase + "/me/memberOf?" + url.Values{"$select": {"id,displayName"}}.Encode()
	var groups []domainauth.Group
	for page := 0; next != ""; page++ {
		if page >= maxGroupPages {
			return nil, fmt.Errorf("graph memberOf: more than %d pages", maxGroupPages)
		}
		var body memberOfPage
		if err := getJSON(ctx, client, next, &body); err != nil {
			return nil, fmt.Errorf("graph memberOf: %w", err)
		}
		for _, v := range body.Value {
			if v.Type != "" && v.Type != "#microsoft.graph.group" {
				continue
			}
			groups = append(groups, domainauth.Group{ID: v.ID, Name: v.DisplayName})
		}
		if body.NextLink != "" && !p.sameGraphOrigin(body.NextLink) {
			return nil, fmt.Errorf("graph memberOf: next link %q leaves %s", body.NextLink, p.graphBase)
		}
		next = body.NextLink
	}
	return groups, nil
}

// sameGraphOrigin reports whether link targets the configured Graph scheme
// and host. The oauth2 client attaches the bearer token to every request.
func (p *Provider) sameGraphOrigin(link string) bool {
	base, err := url.Parse(p.graphBase)
	if err != nil {
		return false
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host)
}

func getJSON(ctx context.Context, client *http.Client, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// liftExtensionAttributes copies onPremisesExtensionAttributes entries to the
// top level so rules can address them as extensionAttributeN.
func liftExtensionAttributes(profile map[string]any) {
	ext, ok := profile["onPremisesExtensionAttributes"].(map[string]any)
	if !ok {
		return
	}
	for k, v := range ext {
		if v == nil {
			continue
		}
		if _, exists := profile[k]; !exists {
			profile[k] = v
		}
	}
}

func buildIdentity(c idClaims, profile map[string]any, groups []domainauth.Group) domainauth.Identity {
	str := func(key string) string {
		s, _ := profile[key].(string)
		return s
	}
	return domainauth.Identity{
		UserID:      firstNonEmpty(c.ObjectID, str("id"), c.Subject),
		Email:       firstNonEmpty(str("mail"), c.Email, str("userPrincipalName"), c.PreferredUsername),
		DisplayName: firstNonEmpty(str("displayName"), c.Name),
		Groups:      groups,
		Attributes:  profile,
	}
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
