package invitations

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arborhq/arbor/pkg/catalog"
	"github.com/arborhq/arbor/pkg/membership"
	"github.com/arborhq/arbor/pkg/observability"
)

// DefaultRoleFunc picks the role assigned to a staged entity when the caller
// does not specify one. Returning nil means the entry stays role-less
// (visibility only). The rule is injected so it can change without touching
// the workflow.
type DefaultRoleFunc func(ctx context.Context) (*string, error)

type roleLister interface {
	ListRoles(ctx context.Context) ([]*catalog.Role, error)
}

// FirstAvailableRole returns the catalog's highest-priority role, matching
// the default the product applies when an admin toggles an entity on.
func FirstAvailableRole(roles roleLister) DefaultRoleFunc {
	return func(ctx context.Context) (*string, error) {
		all, err := roles.ListRoles(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to pick default role: %w", err)
		}
		if len(all) == 0 {
			return nil, nil
		}
		return &all[0].ID, nil
	}
}

// ServiceConfig carries the workflow's collaborators and policy knobs.
type ServiceConfig struct {
	TTL         time.Duration
	DefaultRole DefaultRoleFunc
	Logger      *observability.Logger
}

// Service stages multi-entity role grants for a not-yet-onboarded user and
// materializes them atomically on acceptance.
type Service struct {
	db          *sql.DB
	ttl         time.Duration
	defaultRole DefaultRoleFunc
	logger      *observability.Logger
}

// NewService creates an invitation service.
func NewService(db *sql.DB, cfg ServiceConfig) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	if cfg.DefaultRole == nil {
		cfg.DefaultRole = func(ctx context.Context) (*string, error) { return nil, nil }
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.DefaultLogger()
	}
	return &Service{
		db:          db,
		ttl:         cfg.TTL,
		defaultRole: cfg.DefaultRole,
		logger:      cfg.Logger,
	}
}

const invitationColumns = `id, email, name, entries, primary_entity_id, message, status,
       expires_at, accepted_by, accepted_at, created_at, updated_at`

// CreateInvitation validates and stores a new pending invitation. Entries
// without a role get the injected default.
func (s *Service) CreateInvitation(ctx context.Context, req *CreateInvitationRequest) (*Invitation, error) {
	if len(req.Entries) == 0 {
		return nil, ErrEmptyEntityList
	}
	if err := validateEntries(req.Entries, req.PrimaryEntityID); err != nil {
		return nil, err
	}

	entries := make([]Entry, len(req.Entries))
	copy(entries, req.Entries)
	for i := range entries {
		if entries[i].MembershipType == "" {
			entries[i].MembershipType = membership.TypeDirect
		}
		if entries[i].RoleID == nil {
			roleID, err := s.defaultRole(ctx)
			if err != nil {
				return nil, err
			}
			entries[i].RoleID = roleID
		}
	}

	inv := &Invitation{
		ID:              uuid.NewString(),
		Email:           req.Email,
		Name:            req.Name,
		Entries:         entries,
		PrimaryEntityID: req.PrimaryEntityID,
		Message:         req.Message,
		Status:          StatusPending,
		ExpiresAt:       time.Now().UTC().Add(s.ttl),
	}

	entriesJSON, err := json.Marshal(inv.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entries: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO invitations (id, email, name, entries, primary_entity_id, message, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, inv.ID, inv.Email, inv.Name, string(entriesJSON), inv.PrimaryEntityID,
		inv.Message, inv.Status, inv.ExpiresAt).
		Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}
	return inv, nil
}

func validateEntries(entries []Entry, primaryEntityID *string) error {
	seen := make(map[string]bool, len(entries))
	primaryFound := primaryEntityID == nil
	for _, entry := range entries {
		if seen[entry.EntityID] {
			return fmt.Errorf("%w: %s", ErrDuplicateEntity, entry.EntityID)
		}
		seen[entry.EntityID] = true
		if primaryEntityID != nil && entry.EntityID == *primaryEntityID {
			primaryFound = true
		}
	}
	if !primaryFound {
		return fmt.Errorf("%w: %s", ErrInvalidPrimaryEntity, *primaryEntityID)
	}
	return nil
}

// GetInvitation retrieves a single invitation.
func (s *Service) GetInvitation(ctx context.Context, id string) (*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1`
	inv, err := scanInvitation(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return inv, nil
}

// ListInvitations returns invitations, optionally filtered by status and
// email.
func (s *Service) ListInvitations(ctx context.Context, status Status, email string) ([]*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE 1=1`
	args := []interface{}{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if email != "" {
		args = append(args, email)
		query += fmt.Sprintf(" AND email = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invitations := []*Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invitations = append(invitations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return invitations, nil
}

// AddEntry stages one more entity on a pending invitation.
func (s *Service) AddEntry(ctx context.Context, id string, req *AddEntryRequest) (*Invitation, error) {
	return s.editPending(ctx, id, func(inv *Invitation) error {
		for _, entry := range inv.Entries {
			if entry.EntityID == req.EntityID {
				return fmt.Errorf("%w: %s", ErrDuplicateEntity, req.EntityID)
			}
		}

		entry := Entry{
			EntityID:       req.EntityID,
			RoleID:         req.RoleID,
			EntityType:     req.EntityType,
			MembershipType: req.MembershipType,
		}
		if entry.MembershipType == "" {
			entry.MembershipType = membership.TypeDirect
		}
		if entry.RoleID == nil {
			roleID, err := s.defaultRole(ctx)
			if err != nil {
				return err
			}
			entry.RoleID = roleID
		}

		inv.Entries = append(inv.Entries, entry)
		if req.MakePrimary {
			inv.PrimaryEntityID = &entry.EntityID
		}
		return nil
	})
}

// RemoveEntry removes a staged entity. Removing the current primary clears
// primary_entity_id without promoting another entry; the invitation stays
// primary-less (and unacceptable) until the caller picks a new one.
func (s *Service) RemoveEntry(ctx context.Context, id, entityID string) (*Invitation, error) {
	return s.editPending(ctx, id, func(inv *Invitation) error {
		kept := make([]Entry, 0, len(inv.Entries))
		found := false
		for _, entry := range inv.Entries {
			if entry.EntityID == entityID {
				found = true
				continue
			}
			kept = append(kept, entry)
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrEntityNotOnInvitation, entityID)
		}
		if len(kept) == 0 {
			return ErrEmptyEntityList
		}

		inv.Entries = kept
		if inv.PrimaryEntityID != nil && *inv.PrimaryEntityID == entityID {
			inv.PrimaryEntityID = nil
		}
		return nil
	})
}

// SetPrimary designates one staged entity as primary.
func (s *Service) SetPrimary(ctx context.Context, id, entityID string) (*Invitation, error) {
	return s.editPending(ctx, id, func(inv *Invitation) error {
		for _, entry := range inv.Entries {
			if entry.EntityID == entityID {
				inv.PrimaryEntityID = &entry.EntityID
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrInvalidPrimaryEntity, entityID)
	})
}

// editPending applies a staging edit under a row lock, rejecting non-pending
// invitations.
func (s *Service) editPending(ctx context.Context, id string, edit func(*Invitation) error) (*Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := lockInvitation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrInvitationNotPending, inv.Status)
	}

	if err := edit(inv); err != nil {
		return nil, err
	}

	entriesJSON, err := json.Marshal(inv.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal entries: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE invitations
		SET entries = $2, primary_entity_id = $3, updated_at = NOW()
		WHERE id = $1
	`, id, string(entriesJSON), inv.PrimaryEntityID)
	if err != nil {
		return nil, fmt.Errorf("failed to update invitation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation edit: %w", err)
	}
	return inv, nil
}

// Accept materializes all staged memberships for the accepting user in one
// transaction: either every membership is created and the invitation flips
// to accepted, or nothing changes.
func (s *Service) Accept(ctx context.Context, id, userID string) (*Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := lockInvitation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrInvitationNotPending, inv.Status)
	}
	if time.Now().UTC().After(inv.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired at %s", ErrInvitationNotPending, inv.ExpiresAt.Format(time.RFC3339))
	}
	if len(inv.Entries) == 0 {
		return nil, ErrEmptyEntityList
	}
	if inv.PrimaryEntityID == nil {
		return nil, ErrMissingPrimaryEntity
	}

	for _, entry := range inv.Entries {
		_, err := membership.CreateMembershipTx(ctx, tx, &membership.CreateMembershipRequest{
			UserID:    userID,
			EntityID:  entry.EntityID,
			RoleID:    entry.RoleID,
			Type:      entry.MembershipType,
			IsPrimary: entry.EntityID == *inv.PrimaryEntityID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to materialize membership for entity %s: %w", entry.EntityID, err)
		}
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE invitations
		SET status = $2, accepted_by = $3, accepted_at = $4, updated_at = NOW()
		WHERE id = $1
	`, id, StatusAccepted, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit acceptance: %w", err)
	}

	inv.Status = StatusAccepted
	inv.AcceptedBy = &userID
	inv.AcceptedAt = &now
	return inv, nil
}

// Revoke withdraws a pending invitation.
func (s *Service) Revoke(ctx context.Context, id string) (*Invitation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv, err := lockInvitation(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if inv.Status != StatusPending {
		return nil, fmt.Errorf("%w: status is %s", ErrInvitationNotPending, inv.Status)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE invitations SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, StatusRevoked)
	if err != nil {
		return nil, fmt.Errorf("failed to revoke invitation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit revocation: %w", err)
	}

	inv.Status = StatusRevoked
	return inv, nil
}

// ExpireStale flips pending invitations past their expiry to expired and
// returns how many were swept. The sweeper runs this on a schedule; expiry
// is never checked lazily on the write path alone.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invitations
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at < NOW()
	`, StatusExpired, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to expire invitations: %w", err)
	}
	expired, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired invitations: %w", err)
	}
	return expired, nil
}

// CountPending returns the number of pending invitations, for the sweeper's
// gauge.
func (s *Service) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invitations WHERE status = $1`, StatusPending).
		Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending invitations: %w", err)
	}
	return count, nil
}

func lockInvitation(ctx context.Context, tx *sql.Tx, id string) (*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM invitations WHERE id = $1 FOR UPDATE`
	inv, err := scanInvitation(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invitation: %w", err)
	}
	return inv, nil
}

func scanInvitation(scanner interface {
	Scan(dest ...interface{}) error
}) (*Invitation, error) {
	var inv Invitation
	var entriesJSON []byte
	var primaryEntityID, acceptedBy sql.NullString
	var acceptedAt sql.NullTime

	err := scanner.Scan(
		&inv.ID,
		&inv.Email,
		&inv.Name,
		&entriesJSON,
		&primaryEntityID,
		&inv.Message,
		&inv.Status,
		&inv.ExpiresAt,
		&acceptedBy,
		&acceptedAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(entriesJSON) > 0 {
		if err := json.Unmarshal(entriesJSON, &inv.Entries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entries: %w", err)
		}
	}
	if primaryEntityID.Valid {
		inv.PrimaryEntityID = &primaryEntityID.String
	}
	if acceptedBy.Valid {
		inv.AcceptedBy = &acceptedBy.String
	}
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	return &inv, nil
}
