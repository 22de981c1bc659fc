package credits

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/arborhq/arbor/pkg/observability"
)

// Store is the credit allocation ledger. Every mutation runs in a
// transaction that first locks the entity row, so mutations targeting the
// same entity serialize while reads and mutations on other entities proceed
// concurrently. Serialization and deadlock failures surface as
// ErrConcurrentModification for the caller to retry.
type Store struct {
	db      *sql.DB
	policy  CascadePolicy
	metrics *observability.Metrics
}

// NewStore creates a ledger store with the given cascade policy.
func NewStore(db *sql.DB, policy CascadePolicy, metrics *observability.Metrics) *Store {
	if policy == "" {
		policy = CascadeIndependent
	}
	return &Store{db: db, policy: policy, metrics: metrics}
}

// Policy returns the configured cascade policy.
func (s *Store) Policy() CascadePolicy {
	return s.policy
}

// GetBalance returns the entity's persisted credit fields.
func (s *Store) GetBalance(ctx context.Context, entityID string) (*Balance, error) {
	b := &Balance{EntityID: entityID}
	err := s.db.QueryRowContext(ctx, `
		SELECT total_credits, reserved_credits, updated_at
		FROM entities WHERE id = $1
	`, entityID).Scan(&b.TotalCredits, &b.ReservedCredits, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return b, nil
}

// GrantCredits increases an entity's total budget. Grants are how credits
// enter the system; under the independent policy they do not draw from any
// parent balance.
func (s *Store) GrantCredits(ctx context.Context, entityID string, amount Credits) (*Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var balance *Balance
	err := s.inTx(ctx, "grant", func(tx *sql.Tx) error {
		b, err := lockBalance(ctx, tx, entityID)
		if err != nil {
			return err
		}
		b.TotalCredits += amount
		if err := updateBalance(ctx, tx, b); err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// AllocateToApplication reserves part of the entity's available balance for
// one application. The allocation is a reservation of intent, not a spend:
// the entity's total is untouched and reservedCredits grows by the amount.
func (s *Store) AllocateToApplication(ctx context.Context, entityID, applicationCode string, amount Credits) (*Allocation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if applicationCode == "" {
		return nil, fmt.Errorf("application code is required")
	}

	var allocation *Allocation
	err := s.inTx(ctx, "allocate", func(tx *sql.Tx) error {
		b, err := lockBalance(ctx, tx, entityID)
		if err != nil {
			return err
		}
		if amount > b.Available() {
			s.denied("insufficient_available")
			return fmt.Errorf("%w: requested %s, available %s",
				ErrInsufficientAvailableCredits, amount, b.Available())
		}
		if err := s.cascadeCheck(ctx, tx, entityID, amount); err != nil {
			return err
		}

		a, err := upsertAllocation(ctx, tx, entityID, applicationCode, amount)
		if err != nil {
			return err
		}

		b.ReservedCredits += amount
		if err := updateBalance(ctx, tx, b); err != nil {
			return err
		}
		allocation = a
		return nil
	})
	return allocation, err
}

// ConsumeAllocation spends part of an application's allocated budget.
func (s *Store) ConsumeAllocation(ctx context.Context, entityID, applicationCode string, amount Credits) (*Allocation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var allocation *Allocation
	err := s.inTx(ctx, "consume", func(tx *sql.Tx) error {
		if _, err := lockBalance(ctx, tx, entityID); err != nil {
			return err
		}
		a, err := lockAllocation(ctx, tx, entityID, applicationCode)
		if err != nil {
			return err
		}
		if amount > a.Available() {
			s.denied("allocation_exceeded")
			return fmt.Errorf("%w: requested %s, available %s",
				ErrAllocationExceeded, amount, a.Available())
		}
		a.UsedCredits += amount
		if err := updateAllocation(ctx, tx, a); err != nil {
			return err
		}
		allocation = a
		return nil
	})
	return allocation, err
}

// Deallocate returns unspent allocated credits to the entity's available
// balance. Credits already consumed cannot be reclaimed.
func (s *Store) Deallocate(ctx context.Context, entityID, applicationCode string, amount Credits) (*Allocation, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var allocation *Allocation
	err := s.inTx(ctx, "deallocate", func(tx *sql.Tx) error {
		b, err := lockBalance(ctx, tx, entityID)
		if err != nil {
			return err
		}
		a, err := lockAllocation(ctx, tx, entityID, applicationCode)
		if err != nil {
			return err
		}
		if amount > a.Available() {
			s.denied("deallocation_exceeds_allocated")
			return fmt.Errorf("%w: requested %s, unspent %s",
				ErrDeallocationExceedsAllocated, amount, a.Available())
		}
		a.AllocatedCredits -= amount
		if err := updateAllocation(ctx, tx, a); err != nil {
			return err
		}

		b.ReservedCredits -= amount
		if err := updateBalance(ctx, tx, b); err != nil {
			return err
		}
		allocation = a
		return nil
	})
	return allocation, err
}

// CascadeCheck verifies that an allocation of the given size would not
// exceed availability anywhere along the entity's ancestor chain. Under the
// independent policy it always passes.
func (s *Store) CascadeCheck(ctx context.Context, entityID string, amount Credits) error {
	if s.policy != CascadeBounded {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	return s.cascadeCheck(ctx, tx, entityID, amount)
}

func (s *Store) cascadeCheck(ctx context.Context, tx *sql.Tx, entityID string, amount Credits) error {
	if s.policy != CascadeBounded {
		return nil
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT e.id, e.total_credits, e.reserved_credits
		FROM entities e
		WHERE e.id IN (
			SELECT jsonb_array_elements_text(t.hierarchy_path)
			FROM entities t WHERE t.id = $1
		)
	`, entityID)
	if err != nil {
		return fmt.Errorf("failed to load ancestor balances: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.EntityID, &b.TotalCredits, &b.ReservedCredits); err != nil {
			return fmt.Errorf("failed to scan ancestor balance: %w", err)
		}
		if amount > b.Available() {
			s.denied("cascade_exceeded")
			return fmt.Errorf("%w: ancestor %s has %s available",
				ErrCascadeExceeded, b.EntityID, b.Available())
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to load ancestor balances: %w", err)
	}
	return nil
}

// GetAllocation returns one (entity, application) allocation.
func (s *Store) GetAllocation(ctx context.Context, entityID, applicationCode string) (*Allocation, error) {
	a := &Allocation{EntityID: entityID, ApplicationCode: applicationCode}
	err := s.db.QueryRowContext(ctx, `
		SELECT allocated_credits, used_credits, auto_replenish, created_at, updated_at
		FROM application_allocations
		WHERE entity_id = $1 AND application_code = $2
	`, entityID, applicationCode).
		Scan(&a.AllocatedCredits, &a.UsedCredits, &a.AutoReplenish, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get allocation: %w", err)
	}
	return a, nil
}

// ListAllocations returns all allocations of an entity.
func (s *Store) ListAllocations(ctx context.Context, entityID string) ([]*Allocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, application_code, allocated_credits, used_credits, auto_replenish, created_at, updated_at
		FROM application_allocations
		WHERE entity_id = $1
		ORDER BY application_code
	`, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	defer rows.Close()

	allocations := []*Allocation{}
	for rows.Next() {
		var a Allocation
		err := rows.Scan(&a.EntityID, &a.ApplicationCode, &a.AllocatedCredits,
			&a.UsedCredits, &a.AutoReplenish, &a.CreatedAt, &a.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		allocations = append(allocations, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list allocations: %w", err)
	}
	return allocations, nil
}

// SetAutoReplenish toggles the auto-replenish flag on an allocation.
func (s *Store) SetAutoReplenish(ctx context.Context, entityID, applicationCode string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE application_allocations
		SET auto_replenish = $3, updated_at = NOW()
		WHERE entity_id = $1 AND application_code = $2
	`, entityID, applicationCode, enabled)
	if err != nil {
		return fmt.Errorf("failed to update auto replenish: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update auto replenish: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// inTx runs fn in a transaction, translating serialization and deadlock
// failures into ErrConcurrentModification and recording operation metrics.
func (s *Store) inTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		s.observe(operation, "error")
		return translateConflict(err)
	}
	if err := tx.Commit(); err != nil {
		s.observe(operation, "error")
		return translateConflict(fmt.Errorf("failed to commit %s: %w", operation, err))
	}
	s.observe(operation, "success")
	return nil
}

func (s *Store) observe(operation, status string) {
	if s.metrics == nil {
		return
	}
	s.metrics.CreditOperationsTotal.WithLabelValues(operation, status).Inc()
}

func (s *Store) denied(reason string) {
	if s.metrics == nil {
		return
	}
	s.metrics.AllocationDenialsTotal.WithLabelValues(reason).Inc()
}

func translateConflict(err error) error {
	var pqErr *pq.Error
	// 40001 serialization_failure, 40P01 deadlock_detected
	if errors.As(err, &pqErr) && (pqErr.Code == "40001" || pqErr.Code == "40P01") {
		return fmt.Errorf("%w: %s", ErrConcurrentModification, pqErr.Message)
	}
	return err
}

func lockBalance(ctx context.Context, tx *sql.Tx, entityID string) (*Balance, error) {
	b := &Balance{EntityID: entityID}
	err := tx.QueryRowContext(ctx, `
		SELECT total_credits, reserved_credits, updated_at
		FROM entities WHERE id = $1 FOR UPDATE
	`, entityID).Scan(&b.TotalCredits, &b.ReservedCredits, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock entity balance: %w", err)
	}
	return b, nil
}

func updateBalance(ctx context.Context, tx *sql.Tx, b *Balance) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE entities
		SET total_credits = $2, reserved_credits = $3, updated_at = NOW()
		WHERE id = $1
	`, b.EntityID, b.TotalCredits, b.ReservedCredits)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

func lockAllocation(ctx context.Context, tx *sql.Tx, entityID, applicationCode string) (*Allocation, error) {
	a := &Allocation{EntityID: entityID, ApplicationCode: applicationCode}
	err := tx.QueryRowContext(ctx, `
		SELECT allocated_credits, used_credits, auto_replenish, created_at, updated_at
		FROM application_allocations
		WHERE entity_id = $1 AND application_code = $2
		FOR UPDATE
	`, entityID, applicationCode).
		Scan(&a.AllocatedCredits, &a.UsedCredits, &a.AutoReplenish, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock allocation: %w", err)
	}
	return a, nil
}

func upsertAllocation(ctx context.Context, tx *sql.Tx, entityID, applicationCode string, amount Credits) (*Allocation, error) {
	a := &Allocation{EntityID: entityID, ApplicationCode: applicationCode}
	err := tx.QueryRowContext(ctx, `
		INSERT INTO application_allocations (entity_id, application_code, allocated_credits)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_id, application_code) DO UPDATE
		SET allocated_credits = application_allocations.allocated_credits + EXCLUDED.allocated_credits,
		    updated_at = NOW()
		RETURNING allocated_credits, used_credits, auto_replenish, created_at, updated_at
	`, entityID, applicationCode, amount).
		Scan(&a.AllocatedCredits, &a.UsedCredits, &a.AutoReplenish, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert allocation: %w", err)
	}
	return a, nil
}

func updateAllocation(ctx context.Context, tx *sql.Tx, a *Allocation) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE application_allocations
		SET allocated_credits = $3, used_credits = $4, updated_at = NOW()
		WHERE entity_id = $1 AND application_code = $2
	`, a.EntityID, a.ApplicationCode, a.AllocatedCredits, a.UsedCredits)
	if err != nil {
		return fmt.Errorf("failed to update allocation: %w", err)
	}
	return nil
}
