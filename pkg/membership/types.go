package membership

import (
	"errors"
	"time"

	"github.com/arborhq/arbor/pkg/catalog"
)

// MembershipType distinguishes a grant made directly on an entity from one
// inherited from an ancestor entity.
type MembershipType string

const (
	TypeDirect    MembershipType = "direct"
	TypeInherited MembershipType = "inherited"
)

// ValidMembershipType reports whether t is a known membership type.
func ValidMembershipType(t MembershipType) bool {
	return t == TypeDirect || t == TypeInherited
}

// Membership binds one user to one entity under one role. RoleID is nil for
// visibility-only memberships that grant no permissions.
type Membership struct {
	ID        string         `json:"membership_id"`
	UserID    string         `json:"user_id"`
	EntityID  string         `json:"entity_id"`
	RoleID    *string        `json:"role_id,omitempty"`
	Type      MembershipType `json:"membership_type"`
	IsPrimary bool           `json:"is_primary"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// CreateMembershipRequest is the payload for creating a membership.
type CreateMembershipRequest struct {
	UserID    string         `json:"user_id"`
	EntityID  string         `json:"entity_id"`
	RoleID    *string        `json:"role_id,omitempty"`
	Type      MembershipType `json:"membership_type"`
	IsPrimary bool           `json:"is_primary"`
}

// PermissionDetail is one row of the effective permission set: a single
// granted action with its risk classification.
type PermissionDetail struct {
	Application string           `json:"application"`
	Module      string           `json:"module"`
	Action      string           `json:"action"`
	Category    catalog.Category `json:"category"`
	Risk        catalog.Risk     `json:"risk"`
}

// PermissionSummary counts granted actions by risk category.
type PermissionSummary struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// EffectivePermissionSet is the merged, deduplicated union of permissions
// across a user's active memberships. Grants holds the canonical map used
// for point checks; Permissions is the flat detail view.
type EffectivePermissionSet struct {
	UserID      string                `json:"user_id"`
	Grants      catalog.PermissionMap `json:"grants"`
	Permissions []PermissionDetail    `json:"permissions"`
	Summary     PermissionSummary     `json:"summary"`
}

var (
	ErrMembershipNotFound  = errors.New("membership not found")
	ErrDuplicateMembership = errors.New("user already has a membership for this entity")
	ErrNoPrimaryEntity     = errors.New("no membership is flagged primary for this user")
)
