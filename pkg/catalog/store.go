package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store handles role persistence. Permissions and restrictions live in
// JSONB columns in their canonical form.
type Store struct {
	db *sql.DB
}

// NewStore creates a new catalog store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = `id, name, description, color, icon, is_system_role, priority,
       permissions, restrictions, created_at, updated_at`

// CreateRole creates a tenant-defined role. System roles only enter through
// the seed path.
func (s *Store) CreateRole(ctx context.Context, req *CreateRoleRequest) (*Role, error) {
	role := &Role{
		ID:           uuid.NewString(),
		Name:         req.Name,
		Description:  req.Description,
		Color:        req.Color,
		Icon:         req.Icon,
		Priority:     req.Priority,
		Permissions:  req.Permissions,
		Restrictions: req.Restrictions,
	}
	if role.Permissions == nil {
		role.Permissions = make(PermissionMap)
	}

	if err := s.insertRole(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Store) insertRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	restrictionsJSON, err := json.Marshal(role.Restrictions)
	if err != nil {
		return fmt.Errorf("failed to marshal restrictions: %w", err)
	}

	query := `
		INSERT INTO roles (id, name, description, color, icon, is_system_role, priority, permissions, restrictions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		role.Color,
		role.Icon,
		role.IsSystemRole,
		role.Priority,
		string(permissionsJSON),
		string(restrictionsJSON),
	).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", ErrDuplicateRoleName, role.Name)
		}
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// GetRole retrieves a single role by ID.
func (s *Store) GetRole(ctx context.Context, id string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a single role by name.
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`
	role, err := scanRole(s.db.QueryRowContext(ctx, query, name))
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRolesByIDs loads several roles at once, keyed by ID. Missing IDs are
// absent from the result, not an error; the resolver decides how to react.
func (s *Store) GetRolesByIDs(ctx context.Context, ids []string) (map[string]*Role, error) {
	if len(ids) == 0 {
		return map[string]*Role{}, nil
	}

	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Role, len(ids))
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		result[role.ID] = role
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	return result, nil
}

// ListRoles returns all roles ordered by priority descending, then name.
func (s *Store) ListRoles(ctx context.Context) ([]*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY priority DESC, name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := []*Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// UpdateRole applies partial updates to a tenant-defined role. System roles
// are immutable.
func (s *Store) UpdateRole(ctx context.Context, id string, req *UpdateRoleRequest) (*Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1 FOR UPDATE`
	role, err := scanRole(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock role: %w", err)
	}
	if role.IsSystemRole {
		return nil, ErrSystemRoleImmutable
	}

	if req.Name != nil {
		role.Name = *req.Name
	}
	if req.Description != nil {
		role.Description = *req.Description
	}
	if req.Color != nil {
		role.Color = *req.Color
	}
	if req.Icon != nil {
		role.Icon = *req.Icon
	}
	if req.Priority != nil {
		role.Priority = *req.Priority
	}
	if req.Permissions != nil {
		role.Permissions = *req.Permissions
	}
	if req.Restrictions != nil {
		role.Restrictions = *req.Restrictions
	}

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}
	restrictionsJSON, err := json.Marshal(role.Restrictions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal restrictions: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE roles
		SET name = $1, description = $2, color = $3, icon = $4, priority = $5,
		    permissions = $6, restrictions = $7, updated_at = NOW()
		WHERE id = $8
	`, role.Name, role.Description, role.Color, role.Icon, role.Priority,
		string(permissionsJSON), string(restrictionsJSON), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit role update: %w", err)
	}
	return role, nil
}

// DeleteRole removes a tenant-defined role. Deletion is blocked while any
// active membership references it and for system roles.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var isSystemRole bool
	err = tx.QueryRowContext(ctx, `SELECT is_system_role FROM roles WHERE id = $1 FOR UPDATE`, id).
		Scan(&isSystemRole)
	if err == sql.ErrNoRows {
		return ErrRoleNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock role: %w", err)
	}
	if isSystemRole {
		return ErrSystemRoleImmutable
	}

	var inUse bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM memberships WHERE role_id = $1)`, id).
		Scan(&inUse)
	if err != nil {
		return fmt.Errorf("failed to check role references: %w", err)
	}
	if inUse {
		return ErrRoleInUse
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role deletion: %w", err)
	}
	return nil
}

// UpsertSystemRole inserts or refreshes a seeded system role, keyed by
// name. This is the only write path that touches system roles.
func (s *Store) UpsertSystemRole(ctx context.Context, role *Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	role.IsSystemRole = true

	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	restrictionsJSON, err := json.Marshal(role.Restrictions)
	if err != nil {
		return fmt.Errorf("failed to marshal restrictions: %w", err)
	}

	query := `
		INSERT INTO roles (id, name, description, color, icon, is_system_role, priority, permissions, restrictions)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $8)
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description,
		    color = EXCLUDED.color,
		    icon = EXCLUDED.icon,
		    is_system_role = TRUE,
		    priority = EXCLUDED.priority,
		    permissions = EXCLUDED.permissions,
		    restrictions = EXCLUDED.restrictions,
		    updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		role.ID,
		role.Name,
		role.Description,
		role.Color,
		role.Icon,
		role.Priority,
		string(permissionsJSON),
		string(restrictionsJSON),
	).Scan(&role.ID, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert system role %s: %w", role.Name, err)
	}
	return nil
}

// scanRole scans a role from a database row.
func scanRole(scanner interface {
	Scan(dest ...interface{}) error
}) (*Role, error) {
	var role Role
	var description, color, icon sql.NullString
	var permissionsJSON, restrictionsJSON []byte

	err := scanner.Scan(
		&role.ID,
		&role.Name,
		&description,
		&color,
		&icon,
		&role.IsSystemRole,
		&role.Priority,
		&permissionsJSON,
		&restrictionsJSON,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	role.Description = description.String
	role.Color = color.String
	role.Icon = icon.String

	role.Permissions = make(PermissionMap)
	if len(permissionsJSON) > 0 {
		if err := json.Unmarshal(permissionsJSON, &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
		}
	}
	if len(restrictionsJSON) > 0 && string(restrictionsJSON) != "null" {
		if err := json.Unmarshal(restrictionsJSON, &role.Restrictions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal restrictions: %w", err)
		}
	}

	return &role, nil
}
