package credits

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Credits is a fixed-point credit amount stored as hundredths of a credit.
// Binary floating point is never used for stored amounts; repeated
// allocate/consume/deallocate cycles must not accumulate rounding drift.
type Credits int64

// FromFloat converts a display value (e.g. parsed from an API request) into
// a fixed-point amount, rounding to the nearest hundredth.
func FromFloat(v float64) Credits {
	return Credits(math.Round(v * 100))
}

// Float returns the display value of the amount.
func (c Credits) Float() float64 {
	return float64(c) / 100
}

// String formats the amount with two decimal places.
func (c Credits) String() string {
	sign := ""
	v := int64(c)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// ParseCredits parses a decimal string such as "150", "150.5" or "150.25".
func ParseCredits(s string) (Credits, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty credit amount")
	}
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" {
		whole = "0"
	}
	// Any sign was consumed above; only digits may remain, otherwise
	// ParseInt would accept a second sign inside either part.
	if !digitsOnly(whole) || !digitsOnly(frac) {
		return 0, fmt.Errorf("invalid credit amount %q", s)
	}
	if len(frac) > 2 {
		return 0, fmt.Errorf("credit amount %q has more than two decimal places", s)
	}
	for len(frac) < 2 {
		frac += "0"
	}
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid credit amount %q", s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid credit amount %q", s)
	}
	v := w*100 + f
	if neg {
		v = -v
	}
	return Credits(v), nil
}

func digitsOnly(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Balance is the credit state of a single entity. Only TotalCredits and
// ReservedCredits are persisted; AvailableCredits is always derived.
type Balance struct {
	EntityID        string    `json:"entity_id"`
	TotalCredits    Credits   `json:"total_credits"`
	ReservedCredits Credits   `json:"reserved_credits"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Available returns totalCredits - reservedCredits.
func (b Balance) Available() Credits {
	return b.TotalCredits - b.ReservedCredits
}

// Allocation is the credit state of one (entity, application) pair. Only
// AllocatedCredits and UsedCredits are persisted.
type Allocation struct {
	EntityID         string    `json:"entity_id"`
	ApplicationCode  string    `json:"application_code"`
	AllocatedCredits Credits   `json:"allocated_credits"`
	UsedCredits      Credits   `json:"used_credits"`
	AutoReplenish    bool      `json:"auto_replenish"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Available returns allocatedCredits - usedCredits.
func (a Allocation) Available() Credits {
	return a.AllocatedCredits - a.UsedCredits
}

// CascadePolicy controls whether child-entity allocations are bounded by
// ancestor availability. The source product displays per-entity balances with
// no visible parent deduction, so Independent is the default; Bounded turns
// on true hierarchical budgeting.
type CascadePolicy string

const (
	CascadeIndependent CascadePolicy = "independent"
	CascadeBounded     CascadePolicy = "bounded"
)

var (
	// ErrNotFound indicates the entity or allocation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientAvailableCredits indicates an allocation request larger
	// than the entity's available balance.
	ErrInsufficientAvailableCredits = errors.New("insufficient available credits")

	// ErrAllocationExceeded indicates a consume request larger than the
	// allocation's remaining availability.
	ErrAllocationExceeded = errors.New("allocation exceeded")

	// ErrDeallocationExceedsAllocated indicates a deallocate request larger
	// than the unspent portion of the allocation.
	ErrDeallocationExceedsAllocated = errors.New("deallocation exceeds allocated credits")

	// ErrCascadeExceeded indicates the amount exceeds availability somewhere
	// along the ancestor chain under the bounded cascade policy.
	ErrCascadeExceeded = errors.New("amount exceeds ancestor availability")

	// ErrConcurrentModification indicates a conflicting concurrent credit
	// mutation; the caller should retry with fresh state.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrInvalidAmount indicates a negative or zero amount.
	ErrInvalidAmount = errors.New("invalid amount (must be > 0)")
)
