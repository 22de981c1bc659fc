// Package identity abstracts the external authentication collaborator.
// The resolver and HTTP middleware only depend on the Provider interface;
// the OIDC implementation lives in oidc.go and a static implementation
// backs development and tests.
package identity

import (
	"context"
	"sync"
)

// Provider is the authentication collaborator contract
type Provider interface {
	// Login returns the URL the user agent should be redirected to
	Login(ctx context.Context, opts LoginOptions) (string, error)

	// Logout invalidates the given token
	Logout(ctx context.Context, rawToken string) error

	// GetToken exchanges an authorization code for a token.
	// Returns ErrNoToken when the code yields nothing.
	GetToken(ctx context.Context, code string) (*Token, error)

	// Verify checks a raw bearer token and returns the principal it
	// identifies. Returns ErrInvalidToken on failure.
	Verify(ctx context.Context, rawToken string) (*Identity, error)

	// GetPermissions returns the externally-granted permission entries
	// for the holder of the token
	GetPermissions(ctx context.Context, rawToken string) ([]PermissionEntry, error)
}

// StaticProvider is a Provider backed by a fixed token table. Used for
// local development and tests.
type StaticProvider struct {
	mu          sync.RWMutex
	identities  map[string]*Identity        // token -> identity
	permissions map[string][]PermissionEntry // token -> entries
	loginURL    string
}

// NewStaticProvider creates an empty static provider
func NewStaticProvider(loginURL string) *StaticProvider {
	return &StaticProvider{
		identities:  make(map[string]*Identity),
		permissions: make(map[string][]PermissionEntry),
		loginURL:    loginURL,
	}
}

// AddToken registers a token with its identity and permission entries
func (p *StaticProvider) AddToken(token string, id Identity, perms []PermissionEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.identities[token] = &id
	p.permissions[token] = perms
}

// Login returns the configured login URL
func (p *StaticProvider) Login(ctx context.Context, opts LoginOptions) (string, error) {
	url := p.loginURL
	if opts.State != "" {
		url += "?state=" + opts.State
	}
	return url, nil
}

// Logout removes the token from the table
func (p *StaticProvider) Logout(ctx context.Context, rawToken string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.identities, rawToken)
	delete(p.permissions, rawToken)
	return nil
}

// GetToken treats the code itself as the token when it is registered
func (p *StaticProvider) GetToken(ctx context.Context, code string) (*Token, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.identities[code]; !ok {
		return nil, ErrNoToken
	}
	return &Token{AccessToken: code, TokenType: "Bearer"}, nil
}

// Verify looks the token up in the table
func (p *StaticProvider) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	id, ok := p.identities[rawToken]
	if !ok {
		return nil, ErrInvalidToken
	}
	return id, nil
}

// GetPermissions returns the registered entries for the token
func (p *StaticProvider) GetPermissions(ctx context.Context, rawToken string) ([]PermissionEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.identities[rawToken]; !ok {
		return nil, ErrInvalidToken
	}
	return p.permissions[rawToken], nil
}
