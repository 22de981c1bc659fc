package invitations

import (
	"errors"
	"time"

	"github.com/arborhq/arbor/pkg/hierarchy"
	"github.com/arborhq/arbor/pkg/membership"
)

// Status is the lifecycle state of an invitation. All transitions are
// one-way: pending to accepted, expired, or revoked.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// Entry is one staged entity/role assignment inside an invitation.
type Entry struct {
	EntityID       string                    `json:"entity_id"`
	RoleID         *string                   `json:"role_id,omitempty"`
	EntityType     hierarchy.EntityType      `json:"entity_type"`
	MembershipType membership.MembershipType `json:"membership_type"`
}

// Invitation is a pending multi-entity role assignment for an email not yet
// bound to a user account.
type Invitation struct {
	ID              string     `json:"invitation_id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	Entries         []Entry    `json:"entities"`
	PrimaryEntityID *string    `json:"primary_entity_id,omitempty"`
	Message         string     `json:"message,omitempty"`
	Status          Status     `json:"status"`
	ExpiresAt       time.Time  `json:"expires_at"`
	AcceptedBy      *string    `json:"accepted_by,omitempty"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// CreateInvitationRequest is the payload for creating an invitation.
type CreateInvitationRequest struct {
	Email           string  `json:"email"`
	Name            string  `json:"name"`
	Entries         []Entry `json:"entities"`
	PrimaryEntityID *string `json:"primary_entity_id,omitempty"`
	Message         string  `json:"message,omitempty"`
}

// AddEntryRequest stages one more entity on a pending invitation.
type AddEntryRequest struct {
	EntityID       string                    `json:"entity_id"`
	RoleID         *string                   `json:"role_id,omitempty"`
	EntityType     hierarchy.EntityType      `json:"entity_type"`
	MembershipType membership.MembershipType `json:"membership_type"`
	MakePrimary    bool                      `json:"make_primary"`
}

var (
	ErrInvitationNotFound = errors.New("invitation not found")

	// ErrEmptyEntityList indicates a create request with no entities.
	ErrEmptyEntityList = errors.New("invitation must contain at least one entity")

	// ErrInvalidPrimaryEntity indicates the primary entity is not among the
	// invitation's entries.
	ErrInvalidPrimaryEntity = errors.New("primary entity is not among the invited entities")

	// ErrDuplicateEntity indicates the same entity appears twice in an
	// invitation.
	ErrDuplicateEntity = errors.New("duplicate entity in invitation")

	// ErrInvitationNotPending indicates a transition attempted on a
	// non-pending invitation.
	ErrInvitationNotPending = errors.New("invitation is not pending")

	// ErrMissingPrimaryEntity blocks acceptance while no primary is chosen.
	ErrMissingPrimaryEntity = errors.New("invitation has no primary entity")

	// ErrEntityNotOnInvitation indicates a staging edit referenced an entity
	// the invitation does not contain.
	ErrEntityNotOnInvitation = errors.New("entity is not on the invitation")
)
