package hierarchy

import (
	"errors"
	"time"

	"github.com/arborhq/arbor/pkg/credits"
)

// EntityType is the kind of node in the organization tree.
type EntityType string

const (
	EntityTypeTenant       EntityType = "tenant"
	EntityTypeOrganization EntityType = "organization"
	EntityTypeLocation     EntityType = "location"
	EntityTypeDepartment   EntityType = "department"
	EntityTypeTeam         EntityType = "team"
)

// ValidEntityType reports whether t is one of the known entity types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityTypeTenant, EntityTypeOrganization, EntityTypeLocation,
		EntityTypeDepartment, EntityTypeTeam:
		return true
	}
	return false
}

// Entity is a node in the organization tree.
type Entity struct {
	ID                  string          `json:"entity_id"`
	Name                string          `json:"entity_name"`
	Type                EntityType      `json:"entity_type"`
	Level               int             `json:"entity_level"`
	Path                []string        `json:"hierarchy_path"`
	ParentID            *string         `json:"parent_entity_id,omitempty"`
	IsActive            bool            `json:"is_active"`
	ResponsiblePersonID *string         `json:"responsible_person_id,omitempty"`
	TotalCredits        credits.Credits `json:"total_credits"`
	ReservedCredits     credits.Credits `json:"reserved_credits"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`

	// Children is populated by subtree queries; nil elsewhere.
	Children []*Entity `json:"children,omitempty"`
}

// AvailableCredits returns totalCredits - reservedCredits. The value is
// always derived, never stored.
func (e *Entity) AvailableCredits() credits.Credits {
	return e.TotalCredits - e.ReservedCredits
}

// IsDescendantOf reports whether e sits below ancestorID in the tree.
func (e *Entity) IsDescendantOf(ancestorID string) bool {
	for _, id := range e.Path {
		if id == ancestorID {
			return true
		}
	}
	return false
}

// CreateEntityRequest is the payload for creating a child entity under a
// parent. ParentID is nil only when creating a tenant root.
type CreateEntityRequest struct {
	Name                string     `json:"entity_name"`
	Type                EntityType `json:"entity_type"`
	ParentID            *string    `json:"parent_entity_id,omitempty"`
	ResponsiblePersonID *string    `json:"responsible_person_id,omitempty"`
}

// UpdateEntityRequest carries optional field updates for an entity.
type UpdateEntityRequest struct {
	Name                *string `json:"entity_name,omitempty"`
	ResponsiblePersonID *string `json:"responsible_person_id,omitempty"`
}

// TypeCounts maps entity types to the number of nodes of that type in a
// subtree.
type TypeCounts map[EntityType]int

var (
	// ErrNotFound indicates the referenced entity does not exist or is
	// inactive and inactive nodes were not requested.
	ErrNotFound = errors.New("entity not found")

	// ErrCycleDetected indicates a requested move would create a cycle.
	// Rejected before any mutation.
	ErrCycleDetected = errors.New("move would create a cycle")

	// ErrCorruptHierarchy indicates a traversal revisited a node. The store
	// never produces this internally; it defends against corrupted external
	// data. Fatal and non-retryable.
	ErrCorruptHierarchy = errors.New("corrupt hierarchy: cycle encountered during traversal")

	// ErrHasActiveChildren blocks deactivation of an entity that still has
	// active descendants.
	ErrHasActiveChildren = errors.New("entity has active children")

	// ErrInvalidEntityType indicates an unknown entity type.
	ErrInvalidEntityType = errors.New("invalid entity type")
)
