package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/ovaphlow/docnet/internal/config"
)

// Provider is one external identity provider.
type Provider interface {
	Name() string
	// AuthCodeURL returns the consent page URL carrying state.
	AuthCodeURL(state string) string
	// Exchange redeems an authorization code for the provider's assertion.
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// NewProvider builds the provider described by pc. With an issuer URL the
// id_token is verified through OIDC discovery; otherwise the userinfo
// endpoint is queried with the access token.
func NewProvider(ctx context.Context, name string, pc config.Provider) (Provider, error) {
	if pc.IssuerURL != "" {
		return NewOIDCProvider(ctx, name, pc)
	}
	return NewUserInfoProvider(name, pc)
}

func oauth2Config(pc config.Provider, endpoint oauth2.Endpoint) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Endpoint:     endpoint,
		RedirectURL:  pc.RedirectURL,
		Scopes:       pc.Scopes,
	}
}

// OIDCProvider verifies the id_token returned by the token endpoint.
type OIDCProvider struct {
	name     string
	provider *gooidc.Provider
	verifier *gooidc.IDTokenVerifier
	oauth2   *oauth2.Config
}

func NewOIDCProvider(ctx context.Context, name string, pc config.Provider) (*OIDCProvider, error) {
	p, err := gooidc.NewProvider(ctx, pc.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", name, err)
	}
	return &OIDCProvider{
		name:     name,
		provider: p,
		verifier: p.Verifier(&gooidc.Config{ClientID: pc.ClientID}),
		oauth2:   oauth2Config(pc, p.Endpoint()),
	}, nil
}

// NewOIDCProviderWithVerifier skips discovery and uses the given endpoints
// and verifier.
func NewOIDCProviderWithVerifier(name string, oc *oauth2.Config, v *gooidc.IDTokenVerifier) *OIDCProvider {
	return &OIDCProvider{name: name, verifier: v, oauth2: oc}
}

func (p *OIDCProvider) Name() string { return p.name }

func (p *OIDCProvider) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state)
}

func (p *OIDCProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	tok, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("missing id_token in token response")
	}
	idTok, err := p.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("verify id_token: %w", err)
	}
	var id Identity
	if err := idTok.Claims(&id); err != nil {
		return nil, fmt.Errorf("parse id_token claims: %w", err)
	}
	id.Subject = idTok.Subject

	// some providers only put the email on the userinfo endpoint
	if id.Email == "" && p.provider != nil {
		info, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
		if err != nil {
			return nil, fmt.Errorf("fetch userinfo: %w", err)
		}
		id.Email, id.EmailVerified = info.Email, info.EmailVerified
		if id.Name == "" {
			var extra struct {
				Name string `json:"name"`
			}
			if err := info.Claims(&extra); err == nil {
				id.Name = extra.Name
			}
		}
	}
	return &id, nil
}

// UserInfoProvider is a plain OAuth2 provider whose identity comes from a
// userinfo endpoint.
type UserInfoProvider struct {
	name        string
	oauth2      *oauth2.Config
	userInfoURL string
}

func NewUserInfoProvider(name string, pc config.Provider) (*UserInfoProvider, error) {
	if pc.UserInfoURL == "" {
		return nil, fmt.Errorf("%s: userinfo url is required", name)
	}
	return &UserInfoProvider{
		name:        name,
		oauth2:      oauth2Config(pc, oauth2.Endpoint{AuthURL: pc.AuthURL, TokenURL: pc.TokenURL}),
		userInfoURL: pc.UserInfoURL,
	}, nil
}

func (p *UserInfoProvider) Name() string { return p.name }

func (p *UserInfoProvider) AuthCodeURL(state string) string {
	return p.oauth2.AuthCodeURL(state)
}

func (p *UserInfoProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	tok, err := p.oauth2.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.oauth2.Client(ctx, tok).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("userinfo status %d: %s", resp.StatusCode, body)
	}
	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	return &id, nil
}
