package membership

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store handles membership persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a new membership store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const membershipColumns = `id, user_id, entity_id, role_id, membership_type, is_primary, created_at, updated_at`

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// CreateMembership creates a direct membership. When IsPrimary is set, any
// previous primary flag for the user is cleared in the same transaction so
// at most one membership per user stays primary.
func (s *Store) CreateMembership(ctx context.Context, req *CreateMembershipRequest) (*Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	m, err := CreateMembershipTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit membership: %w", err)
	}
	return m, nil
}

// CreateMembershipTx creates a membership inside an existing transaction.
// Invitation acceptance uses this to materialize several memberships
// atomically.
func CreateMembershipTx(ctx context.Context, tx *sql.Tx, req *CreateMembershipRequest) (*Membership, error) {
	m := &Membership{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		EntityID:  req.EntityID,
		RoleID:    req.RoleID,
		Type:      req.Type,
		IsPrimary: req.IsPrimary,
	}
	if m.Type == "" {
		m.Type = TypeDirect
	}
	if !ValidMembershipType(m.Type) {
		return nil, fmt.Errorf("invalid membership type: %s", m.Type)
	}

	if m.IsPrimary {
		if err := clearPrimary(ctx, tx, m.UserID); err != nil {
			return nil, err
		}
	}

	err := tx.QueryRowContext(ctx, `
		INSERT INTO memberships (id, user_id, entity_id, role_id, membership_type, is_primary)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, m.ID, m.UserID, m.EntityID, m.RoleID, m.Type, m.IsPrimary).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return nil, fmt.Errorf("%w: user %s entity %s", ErrDuplicateMembership, m.UserID, m.EntityID)
		}
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}
	return m, nil
}

func clearPrimary(ctx context.Context, q querier, userID string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE memberships SET is_primary = FALSE, updated_at = NOW()
		WHERE user_id = $1 AND is_primary = TRUE
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear previous primary membership: %w", err)
	}
	return nil
}

// GetMembership retrieves a single membership by ID.
func (s *Store) GetMembership(ctx context.Context, id string) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE id = $1`
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListActiveForUser returns the user's memberships on active entities,
// primary first. Memberships on deactivated entities contribute nothing to
// resolution.
func (s *Store) ListActiveForUser(ctx context.Context, userID string) ([]*Membership, error) {
	query := `
		SELECT m.id, m.user_id, m.entity_id, m.role_id, m.membership_type, m.is_primary, m.created_at, m.updated_at
		FROM memberships m
		JOIN entities e ON e.id = m.entity_id
		WHERE m.user_id = $1 AND e.is_active = TRUE
		ORDER BY m.is_primary DESC, m.created_at
	`
	return s.queryMemberships(ctx, query, userID)
}

// ListByEntity returns all memberships on a single entity.
func (s *Store) ListByEntity(ctx context.Context, entityID string) ([]*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE entity_id = $1 ORDER BY created_at`
	return s.queryMemberships(ctx, query, entityID)
}

func (s *Store) queryMemberships(ctx context.Context, query string, args ...interface{}) ([]*Membership, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	memberships := []*Membership{}
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return memberships, nil
}

// GetPrimaryForUser returns the user's primary membership, if any.
func (s *Store) GetPrimaryForUser(ctx context.Context, userID string) (*Membership, error) {
	query := `
		SELECT m.id, m.user_id, m.entity_id, m.role_id, m.membership_type, m.is_primary, m.created_at, m.updated_at
		FROM memberships m
		JOIN entities e ON e.id = m.entity_id
		WHERE m.user_id = $1 AND m.is_primary = TRUE AND e.is_active = TRUE
		LIMIT 1
	`
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNoPrimaryEntity
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get primary membership: %w", err)
	}
	return m, nil
}

// SetPrimary flags one membership as the user's primary, clearing any
// previous flag in the same transaction.
func (s *Store) SetPrimary(ctx context.Context, id string) (*Membership, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + membershipColumns + ` FROM memberships WHERE id = $1 FOR UPDATE`
	m, err := scanMembership(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock membership: %w", err)
	}

	if err := clearPrimary(ctx, tx, m.UserID); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE memberships SET is_primary = TRUE, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to set primary membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit primary change: %w", err)
	}
	m.IsPrimary = true
	return m, nil
}

// DeleteMembership removes a membership. Deleting a primary membership
// leaves the user primary-less; callers decide whether to pick a new one.
func (s *Store) DeleteMembership(ctx context.Context, id string) (*Membership, error) {
	query := `DELETE FROM memberships WHERE id = $1 RETURNING ` + membershipColumns
	m, err := scanMembership(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete membership: %w", err)
	}
	return m, nil
}

// DeleteAllForUser removes every membership of a deactivated user.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM memberships WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete memberships: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted memberships: %w", err)
	}
	return deleted, nil
}

func scanMembership(scanner interface {
	Scan(dest ...interface{}) error
}) (*Membership, error) {
	var m Membership
	var roleID sql.NullString

	err := scanner.Scan(
		&m.ID,
		&m.UserID,
		&m.EntityID,
		&roleID,
		&m.Type,
		&m.IsPrimary,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if roleID.Valid {
		m.RoleID = &roleID.String
	}
	return &m, nil
}
