package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Identity describes an authenticated principal
type Identity struct {
	Subject string `json:"subject"`
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Token is an issued access token with its expiry
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Expiry      time.Time `json:"expiry,omitempty"`
}

// LoginOptions control how a login flow is initiated
type LoginOptions struct {
	RedirectURI string
	State       string
	Scopes      []string
}

// PermissionEntry is a single externally-granted permission key. Upstream
// providers send it in two wire shapes: a bare string ("crm.leads.read",
// implicitly granted) or an object {"key": "...", "isGranted": bool}.
// Both decode into this one canonical form.
type PermissionEntry struct {
	Key       string
	IsGranted bool
}

// UnmarshalJSON accepts both the bare-string and the object shape
func (p *PermissionEntry) UnmarshalJSON(data []byte) error {
	var key string
	if err := json.Unmarshal(data, &key); err == nil {
		p.Key = key
		p.IsGranted = true
		return nil
	}

	var obj struct {
		Key       string `json:"key"`
		IsGranted *bool  `json:"isGranted"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("permission entry must be a string or an object: %w", err)
	}
	if obj.Key == "" {
		return errors.New("permission entry object missing key")
	}

	p.Key = obj.Key
	// absent isGranted means granted
	p.IsGranted = obj.IsGranted == nil || *obj.IsGranted
	return nil
}

// MarshalJSON always emits the object shape
func (p PermissionEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key       string `json:"key"`
		IsGranted bool   `json:"isGranted"`
	}{Key: p.Key, IsGranted: p.IsGranted})
}

// GrantedKeys returns the keys of all granted entries
func GrantedKeys(entries []PermissionEntry) []string {
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsGranted {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// Sentinel errors returned by providers
var (
	// ErrNoToken indicates no token is available for the caller
	ErrNoToken = errors.New("no token available")
	// ErrInvalidToken indicates the presented token failed verification
	ErrInvalidToken = errors.New("invalid token")
)
