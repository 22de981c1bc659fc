package identity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig holds OpenID Connect provider settings
type OIDCConfig struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Claim carrying the permission entries; defaults to "permissions"
	PermissionsClaim string
}

// OIDCProvider implements Provider against an OpenID Connect issuer
type OIDCProvider struct {
	config       OIDCConfig
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
}

// NewOIDCProvider discovers the issuer and builds the provider
func NewOIDCProvider(ctx context.Context, config OIDCConfig) (*OIDCProvider, error) {
	if config.IssuerURL == "" {
		return nil, fmt.Errorf("issuer URL is required")
	}
	if config.ClientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	if len(config.Scopes) == 0 {
		config.Scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	if config.PermissionsClaim == "" {
		config.PermissionsClaim = "permissions"
	}

	provider, err := oidc.NewProvider(ctx, config.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: config.ClientID})

	oauth2Config := &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  config.RedirectURL,
		Scopes:       config.Scopes,
	}

	return &OIDCProvider{
		config:       config,
		provider:     provider,
		verifier:     verifier,
		oauth2Config: oauth2Config,
	}, nil
}

// Login returns the authorization URL for the issuer
func (p *OIDCProvider) Login(ctx context.Context, opts LoginOptions) (string, error) {
	cfg := *p.oauth2Config
	if opts.RedirectURI != "" {
		cfg.RedirectURL = opts.RedirectURI
	}
	if len(opts.Scopes) > 0 {
		cfg.Scopes = opts.Scopes
	}
	return cfg.AuthCodeURL(opts.State, oauth2.AccessTypeOffline), nil
}

// Logout is a no-op at the provider level. Session teardown is the
// caller's concern; RP-initiated logout is not implemented.
func (p *OIDCProvider) Logout(ctx context.Context, rawToken string) error {
	return nil
}

// GetToken exchanges an authorization code for a token
func (p *OIDCProvider) GetToken(ctx context.Context, code string) (*Token, error) {
	if code == "" {
		return nil, ErrNoToken
	}

	oauth2Token, err := p.oauth2Config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("missing id_token in token response")
	}

	if _, err := p.verifier.Verify(ctx, rawIDToken); err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	return &Token{
		AccessToken: oauth2Token.AccessToken,
		TokenType:   oauth2Token.TokenType,
		Expiry:      oauth2Token.Expiry,
	}, nil
}

// Verify checks the raw ID token and extracts the principal
func (p *OIDCProvider) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	idToken, err := p.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	return &Identity{
		Subject: idToken.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// GetPermissions fetches userinfo and decodes the permissions claim.
// The claim may carry either wire shape; PermissionEntry normalizes both.
func (p *OIDCProvider) GetPermissions(ctx context.Context, rawToken string) ([]PermissionEntry, error) {
	userInfo, err := p.provider.UserInfo(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: rawToken,
		TokenType:   "Bearer",
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}

	var claims map[string]json.RawMessage
	if err := userInfo.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo claims: %w", err)
	}

	raw, ok := claims[p.config.PermissionsClaim]
	if !ok {
		return nil, nil
	}

	var entries []PermissionEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse permissions claim: %w", err)
	}

	return entries, nil
}
