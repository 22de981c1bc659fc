package credits

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/pkg/audit"
	"github.com/arborhq/arbor/pkg/contextkeys"
)

// Handlers provides HTTP handlers for the credit ledger.
type Handlers struct {
	store       *Store
	auditLogger audit.Logger
}

// NewHandlers creates new credit ledger handlers.
func NewHandlers(store *Store, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		store:       store,
		auditLogger: auditLogger,
	}
}

// Store exposes the underlying store for wiring into other components.
func (h *Handlers) Store() *Store {
	return h.store
}

// RegisterRoutes registers all credit ledger routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/entities/{id}/credits", h.GetCredits).Methods("GET")
	router.HandleFunc("/entities/{id}/credits/grant", h.GrantCredits).Methods("POST")
	router.HandleFunc("/entities/{id}/allocations", h.ListAllocations).Methods("GET")
	router.HandleFunc("/entities/{id}/allocations", h.Allocate).Methods("POST")
	router.HandleFunc("/entities/{id}/allocations/{app}/consume", h.Consume).Methods("POST")
	router.HandleFunc("/entities/{id}/allocations/{app}/deallocate", h.Deallocate).Methods("POST")
	router.HandleFunc("/entities/{id}/allocations/{app}/auto-replenish", h.SetAutoReplenish).Methods("PUT")
}

// amountRequest carries a decimal credit amount, accepted as either a JSON
// number or a string.
type amountRequest struct {
	Amount          json.Number `json:"amount"`
	ApplicationCode string      `json:"application_code,omitempty"`
}

func (req *amountRequest) credits() (Credits, error) {
	return ParseCredits(req.Amount.String())
}

// balanceResponse is the balance view with the derived availability.
type balanceResponse struct {
	*Balance
	AvailableCredits Credits       `json:"available_credits"`
	Allocations      []*Allocation `json:"allocations,omitempty"`
}

// GetCredits returns an entity's balance together with its allocations.
func (h *Handlers) GetCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	balance, err := h.store.GetBalance(ctx, vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	allocations, err := h.store.ListAllocations(ctx, vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balanceResponse{
		Balance:          balance,
		AvailableCredits: balance.Available(),
		Allocations:      allocations,
	})
}

// GrantCredits increases an entity's total budget.
func (h *Handlers) GrantCredits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	amount, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	balance, err := h.store.GrantCredits(ctx, vars["id"], amount)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeCreditGrant,
		contextkeys.ActorID(ctx), audit.ResourceTypeEntity, vars["id"], nil,
		"granted "+amount.String()+" credits")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balanceResponse{Balance: balance, AvailableCredits: balance.Available()})
}

// ListAllocations returns all of an entity's application allocations.
func (h *Handlers) ListAllocations(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	allocations, err := h.store.ListAllocations(r.Context(), vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"allocations": allocations,
		"count":       len(allocations),
	})
}

// Allocate reserves credits for an application.
func (h *Handlers) Allocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ApplicationCode == "" {
		http.Error(w, "application_code is required", http.StatusBadRequest)
		return
	}
	amount, err := req.credits()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	allocation, err := h.store.AllocateToApplication(ctx, vars["id"], req.ApplicationCode, amount)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeCreditAllocate,
		contextkeys.ActorID(ctx), audit.ResourceTypeAllocation,
		vars["id"]+"/"+req.ApplicationCode, nil,
		"allocated "+amount.String()+" credits")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(allocation)
}

// Consume spends credits from an allocation.
func (h *Handlers) Consume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	amount, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	allocation, err := h.store.ConsumeAllocation(ctx, vars["id"], vars["app"], amount)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeCreditConsume,
		contextkeys.ActorID(ctx), audit.ResourceTypeAllocation,
		vars["id"]+"/"+vars["app"], nil,
		"consumed "+amount.String()+" credits")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(allocation)
}

// Deallocate returns unspent allocated credits to the entity balance.
func (h *Handlers) Deallocate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	amount, ok := h.decodeAmount(w, r)
	if !ok {
		return
	}

	allocation, err := h.store.Deallocate(ctx, vars["id"], vars["app"], amount)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeCreditDeallocate,
		contextkeys.ActorID(ctx), audit.ResourceTypeAllocation,
		vars["id"]+"/"+vars["app"], nil,
		"deallocated "+amount.String()+" credits")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(allocation)
}

// SetAutoReplenish toggles auto-replenishment on an allocation.
func (h *Handlers) SetAutoReplenish(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.SetAutoReplenish(r.Context(), vars["id"], vars["app"], req.Enabled); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) decodeAmount(w http.ResponseWriter, r *http.Request) (Credits, bool) {
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return 0, false
	}
	amount, err := req.credits()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return amount, true
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientAvailableCredits),
		errors.Is(err, ErrAllocationExceeded),
		errors.Is(err, ErrDeallocationExceedsAllocated),
		errors.Is(err, ErrCascadeExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
