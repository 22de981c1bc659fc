package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ActionSet is the set of action codes granted on one module.
type ActionSet map[string]bool

// MarshalJSON emits the set as a sorted list for stable output.
func (s ActionSet) MarshalJSON() ([]byte, error) {
	actions := make([]string, 0, len(s))
	for action := range s {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return json.Marshal(actions)
}

// UnmarshalJSON accepts a list of action codes.
func (s *ActionSet) UnmarshalJSON(data []byte) error {
	var actions []string
	if err := json.Unmarshal(data, &actions); err != nil {
		return err
	}
	set := make(ActionSet, len(actions))
	for _, action := range actions {
		set[action] = true
	}
	*s = set
	return nil
}

// PermissionMap is the canonical permission representation:
// application -> module -> set of action codes. Both external wire shapes
// (nested mapping and flat dotted list) decode into this one form.
type PermissionMap map[string]map[string]ActionSet

// UnmarshalJSON normalizes either external shape. This is the single place
// that branches on permission shape.
func (m *PermissionMap) UnmarshalJSON(data []byte) error {
	// Flat form: ["app.module.action", ...]
	var flat []string
	if err := json.Unmarshal(data, &flat); err == nil {
		*m = NormalizeFlat(flat)
		return nil
	}

	// Nested form: {"app": {"module": ["action", ...]}}
	var nested map[string]map[string][]string
	if err := json.Unmarshal(data, &nested); err != nil {
		return fmt.Errorf("permissions must be a flat list or a nested mapping: %w", err)
	}
	*m = NormalizeNested(nested)
	return nil
}

// Grant adds an action to the map, creating intermediate levels as needed.
func (m PermissionMap) Grant(application, module, action string) {
	modules, ok := m[application]
	if !ok {
		modules = make(map[string]ActionSet)
		m[application] = modules
	}
	actions, ok := modules[module]
	if !ok {
		actions = make(ActionSet)
		modules[module] = actions
	}
	actions[action] = true
}

// Has reports whether the exact action is granted.
func (m PermissionMap) Has(application, module, action string) bool {
	return m[application][module][action]
}

// RestrictionValue is a numeric or boolean limit attached to a role.
type RestrictionValue struct {
	Number *float64
	Bool   *bool
}

// NumberValue creates a numeric restriction.
func NumberValue(n float64) RestrictionValue {
	return RestrictionValue{Number: &n}
}

// BoolValue creates a boolean restriction.
func BoolValue(b bool) RestrictionValue {
	return RestrictionValue{Bool: &b}
}

// UnmarshalJSON accepts a JSON number or boolean.
func (v *RestrictionValue) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		v.Number = &n
		v.Bool = nil
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		v.Bool = &b
		v.Number = nil
		return nil
	}
	return fmt.Errorf("restriction value must be a number or a boolean: %s", string(data))
}

// MarshalJSON emits the underlying number or boolean.
func (v RestrictionValue) MarshalJSON() ([]byte, error) {
	if v.Number != nil {
		return json.Marshal(*v.Number)
	}
	if v.Bool != nil {
		return json.Marshal(*v.Bool)
	}
	return []byte("null"), nil
}

// RestrictionMap maps restriction keys (e.g. "crm.max_contacts") to limits.
type RestrictionMap map[string]RestrictionValue

// Role is a named, reusable permission bundle.
type Role struct {
	ID           string         `json:"role_id"`
	Name         string         `json:"role_name"`
	Description  string         `json:"description,omitempty"`
	Color        string         `json:"color,omitempty"`
	Icon         string         `json:"icon,omitempty"`
	IsSystemRole bool           `json:"is_system_role"`
	Priority     int            `json:"priority"`
	Permissions  PermissionMap  `json:"permissions"`
	Restrictions RestrictionMap `json:"restrictions,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// CreateRoleRequest is the payload for creating a tenant-defined role.
// Permissions accepts both wire shapes.
type CreateRoleRequest struct {
	Name         string         `json:"role_name"`
	Description  string         `json:"description,omitempty"`
	Color        string         `json:"color,omitempty"`
	Icon         string         `json:"icon,omitempty"`
	Priority     int            `json:"priority"`
	Permissions  PermissionMap  `json:"permissions"`
	Restrictions RestrictionMap `json:"restrictions,omitempty"`
}

// UpdateRoleRequest carries optional field updates for a role.
type UpdateRoleRequest struct {
	Name         *string         `json:"role_name,omitempty"`
	Description  *string         `json:"description,omitempty"`
	Color        *string         `json:"color,omitempty"`
	Icon         *string         `json:"icon,omitempty"`
	Priority     *int            `json:"priority,omitempty"`
	Permissions  *PermissionMap  `json:"permissions,omitempty"`
	Restrictions *RestrictionMap `json:"restrictions,omitempty"`
}

var (
	// ErrRoleNotFound indicates the referenced role does not exist.
	ErrRoleNotFound = errors.New("role not found")

	// ErrRoleInUse blocks deletion while any active membership references
	// the role.
	ErrRoleInUse = errors.New("role is referenced by active memberships")

	// ErrSystemRoleImmutable blocks edits and deletion of system roles.
	ErrSystemRoleImmutable = errors.New("system roles cannot be modified or deleted")

	// ErrDuplicateRoleName indicates a role with the same name exists.
	ErrDuplicateRoleName = errors.New("role name already exists")
)
