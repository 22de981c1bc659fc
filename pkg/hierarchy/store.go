package hierarchy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store handles hierarchy persistence. Tree reads run outside any lock;
// structural mutations (moves, deactivation) take row locks inside a
// transaction so only writers targeting the same subtree serialize.
type Store struct {
	db *sql.DB
}

// NewStore creates a new hierarchy store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const entityColumns = `id, name, entity_type, parent_id, entity_level, hierarchy_path,
       responsible_person_id, is_active, total_credits, reserved_credits, created_at, updated_at`

// CreateEntity creates a new entity under the requested parent. A nil parent
// creates a tenant root at level 0 with an empty path.
func (s *Store) CreateEntity(ctx context.Context, req *CreateEntityRequest) (*Entity, error) {
	if !ValidEntityType(req.Type) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEntityType, req.Type)
	}

	entity := &Entity{
		ID:                  uuid.NewString(),
		Name:                req.Name,
		Type:                req.Type,
		ParentID:            req.ParentID,
		ResponsiblePersonID: req.ResponsiblePersonID,
		IsActive:            true,
		Path:                []string{},
	}

	if req.ParentID != nil {
		parent, err := s.GetEntity(ctx, *req.ParentID, false)
		if err != nil {
			return nil, err
		}
		entity.Level = parent.Level + 1
		entity.Path = childPath(parent)
	}

	pathJSON, err := json.Marshal(entity.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal hierarchy path: %w", err)
	}

	query := `
		INSERT INTO entities (id, name, entity_type, parent_id, entity_level, hierarchy_path,
		                      responsible_person_id, is_active, total_credits, reserved_credits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0)
		RETURNING created_at, updated_at
	`
	err = s.db.QueryRowContext(ctx, query,
		entity.ID,
		entity.Name,
		entity.Type,
		entity.ParentID,
		entity.Level,
		string(pathJSON),
		entity.ResponsiblePersonID,
		entity.IsActive,
	).Scan(&entity.CreatedAt, &entity.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	return entity, nil
}

// GetEntity retrieves a single entity by ID. Inactive entities are reported
// as ErrNotFound unless includeInactive is set.
func (s *Store) GetEntity(ctx context.Context, id string, includeInactive bool) (*Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1`
	entity, err := scanEntity(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	if !entity.IsActive && !includeInactive {
		return nil, ErrNotFound
	}
	return entity, nil
}

// GetSubtree returns the entity with its full nested subtree. Children are
// in deterministic order; traversal revisits surface as ErrCorruptHierarchy.
func (s *Store) GetSubtree(ctx context.Context, id string, includeInactive bool) (*Entity, error) {
	root, err := s.GetEntity(ctx, id, includeInactive)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + entityColumns + ` FROM entities WHERE hierarchy_path @> to_jsonb($1::text)`
	args := []interface{}{id}
	if !includeInactive {
		query += ` AND is_active = true`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load subtree: %w", err)
	}
	defer rows.Close()

	entities := []*Entity{root}
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load subtree: %w", err)
	}

	return BuildTree(id, entities)
}

// GetAncestors returns the entity's ancestors ordered root first, immediate
// parent last. The credit ledger uses this to validate cascading limits.
func (s *Store) GetAncestors(ctx context.Context, id string) ([]*Entity, error) {
	entity, err := s.GetEntity(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if len(entity.Path) == 0 {
		return nil, nil
	}

	query := `SELECT ` + entityColumns + ` FROM entities WHERE id = ANY($1)`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(entity.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to load ancestors: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Entity, len(entity.Path))
	for rows.Next() {
		ancestor, err := scanEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ancestor: %w", err)
		}
		byID[ancestor.ID] = ancestor
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load ancestors: %w", err)
	}

	ancestors := make([]*Entity, 0, len(entity.Path))
	for _, ancestorID := range entity.Path {
		ancestor, ok := byID[ancestorID]
		if !ok {
			return nil, fmt.Errorf("%w: ancestor %s missing for entity %s",
				ErrCorruptHierarchy, ancestorID, id)
		}
		ancestors = append(ancestors, ancestor)
	}

	return ancestors, nil
}

// CountByType tallies the nodes of the subtree per entity type, visiting
// every node exactly once.
func (s *Store) CountByType(ctx context.Context, id string) (TypeCounts, error) {
	root, err := s.GetSubtree(ctx, id, true)
	if err != nil {
		return nil, err
	}
	return CountByType(root)
}

// MoveEntity re-parents an entity and recomputes entity_level and
// hierarchy_path for the whole moved subtree in one transaction. A move that
// would create a cycle is rejected with ErrCycleDetected before any mutation.
func (s *Store) MoveEntity(ctx context.Context, id, newParentID string) error {
	if id == newParentID {
		return ErrCycleDetected
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lockQuery := `SELECT ` + entityColumns + ` FROM entities WHERE id = $1 FOR UPDATE`

	entity, err := scanEntity(tx.QueryRowContext(ctx, lockQuery, id))
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock entity: %w", err)
	}

	newParent, err := scanEntity(tx.QueryRowContext(ctx, lockQuery, newParentID))
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock new parent: %w", err)
	}

	if newParent.IsDescendantOf(id) {
		return ErrCycleDetected
	}

	// Lock and load the moved subtree so concurrent moves against this chain
	// serialize.
	subtreeQuery := `SELECT ` + entityColumns + ` FROM entities
		WHERE hierarchy_path @> to_jsonb($1::text) FOR UPDATE`
	rows, err := tx.QueryContext(ctx, subtreeQuery, id)
	if err != nil {
		return fmt.Errorf("failed to lock subtree: %w", err)
	}
	descendants := []*Entity{}
	for rows.Next() {
		d, err := scanEntity(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan descendant: %w", err)
		}
		descendants = append(descendants, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to lock subtree: %w", err)
	}
	rows.Close()

	oldDepth := len(entity.Path)
	newPath := childPath(newParent)
	levelDelta := (len(newPath)) - oldDepth

	if err := updatePlacement(ctx, tx, entity.ID, &newParentID, newPath, entity.Level+levelDelta); err != nil {
		return err
	}

	for _, d := range descendants {
		// Splice the new prefix in front of the descendant's path below the
		// moved node.
		rebased := make([]string, 0, len(newPath)+len(d.Path)-oldDepth)
		rebased = append(rebased, newPath...)
		rebased = append(rebased, d.Path[oldDepth:]...)
		if err := updatePlacement(ctx, tx, d.ID, d.ParentID, rebased, d.Level+levelDelta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit move: %w", err)
	}
	return nil
}

// UpdateEntity applies a rename and/or responsible-person change.
func (s *Store) UpdateEntity(ctx context.Context, id string, req *UpdateEntityRequest) error {
	if req.Name == nil && req.ResponsiblePersonID == nil {
		return nil
	}

	query := `
		UPDATE entities
		SET name = COALESCE($1, name),
		    responsible_person_id = COALESCE($2, responsible_person_id),
		    updated_at = NOW()
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, req.Name, req.ResponsiblePersonID, id)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateEntity soft-deletes an entity. Entities are never hard-deleted
// while children exist; deactivation is blocked while any active child
// remains.
func (s *Store) DeactivateEntity(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var isActive bool
	err = tx.QueryRowContext(ctx, `SELECT is_active FROM entities WHERE id = $1 FOR UPDATE`, id).
		Scan(&isActive)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock entity: %w", err)
	}

	var activeChildren bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM entities WHERE parent_id = $1 AND is_active = true)`, id).
		Scan(&activeChildren)
	if err != nil {
		return fmt.Errorf("failed to check children: %w", err)
	}
	if activeChildren {
		return ErrHasActiveChildren
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE entities SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to deactivate entity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deactivation: %w", err)
	}
	return nil
}

func updatePlacement(ctx context.Context, tx *sql.Tx, id string, parentID *string, path []string, level int) error {
	pathJSON, err := json.Marshal(path)
	if err != nil {
		return fmt.Errorf("failed to marshal hierarchy path: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE entities
		SET parent_id = $1, hierarchy_path = $2, entity_level = $3, updated_at = NOW()
		WHERE id = $4
	`, parentID, string(pathJSON), level, id)
	if err != nil {
		return fmt.Errorf("failed to update placement of %s: %w", id, err)
	}
	return nil
}

// scanEntity scans an entity from a database row.
func scanEntity(scanner interface {
	Scan(dest ...interface{}) error
}) (*Entity, error) {
	var entity Entity
	var pathJSON []byte
	var parentID, responsible sql.NullString
	var createdAt, updatedAt time.Time

	err := scanner.Scan(
		&entity.ID,
		&entity.Name,
		&entity.Type,
		&parentID,
		&entity.Level,
		&pathJSON,
		&responsible,
		&entity.IsActive,
		&entity.TotalCredits,
		&entity.ReservedCredits,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		id := parentID.String
		entity.ParentID = &id
	}
	if responsible.Valid {
		id := responsible.String
		entity.ResponsiblePersonID = &id
	}
	entity.CreatedAt = createdAt
	entity.UpdatedAt = updatedAt

	if len(pathJSON) > 0 {
		if err := json.Unmarshal(pathJSON, &entity.Path); err != nil {
			return nil, fmt.Errorf("failed to unmarshal hierarchy path: %w", err)
		}
	}
	if entity.Path == nil {
		entity.Path = []string{}
	}

	return &entity, nil
}
