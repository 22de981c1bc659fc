package membership

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/pkg/audit"
	"github.com/arborhq/arbor/pkg/contextkeys"
	"github.com/arborhq/arbor/pkg/hierarchy"
)

// Handlers provides HTTP handlers for membership and resolution operations.
type Handlers struct {
	store       *Store
	resolver    *Resolver
	auditLogger audit.Logger
}

// NewHandlers creates new membership handlers.
func NewHandlers(store *Store, resolver *Resolver, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		store:       store,
		resolver:    resolver,
		auditLogger: auditLogger,
	}
}

// Store exposes the underlying store for wiring into other components.
func (h *Handlers) Store() *Store {
	return h.store
}

// RegisterRoutes registers all membership routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/memberships", h.CreateMembership).Methods("POST")
	router.HandleFunc("/memberships/{id}", h.GetMembership).Methods("GET")
	router.HandleFunc("/memberships/{id}", h.DeleteMembership).Methods("DELETE")
	router.HandleFunc("/memberships/{id}/primary", h.SetPrimary).Methods("PUT")
	router.HandleFunc("/users/{userId}/memberships", h.ListUserMemberships).Methods("GET")
	router.HandleFunc("/entities/{entityId}/memberships", h.ListEntityMemberships).Methods("GET")
	router.HandleFunc("/users/{userId}/permissions", h.EffectivePermissions).Methods("GET")
	router.HandleFunc("/users/{userId}/permissions/summary", h.PermissionSummary).Methods("GET")
	router.HandleFunc("/users/{userId}/permissions/check", h.CheckPermission).Methods("GET")
	router.HandleFunc("/users/{userId}/entities/{entityId}/permissions", h.EffectivePermissionsAt).Methods("GET")
	router.HandleFunc("/users/{userId}/restrictions", h.EffectiveRestrictions).Methods("GET")
	router.HandleFunc("/users/{userId}/primary-entity", h.PrimaryEntity).Methods("GET")
}

// CreateMembership creates a direct membership.
func (h *Handlers) CreateMembership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateMembershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.EntityID == "" {
		http.Error(w, "user_id and entity_id are required", http.StatusBadRequest)
		return
	}

	m, err := h.store.CreateMembership(ctx, &req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	h.resolver.InvalidateUser(ctx, m.UserID)

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeMembershipCreate,
		contextkeys.ActorID(ctx), audit.ResourceTypeMembership, m.ID, nil,
		"membership created")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m)
}

// GetMembership retrieves a single membership.
func (h *Handlers) GetMembership(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	m, err := h.store.GetMembership(r.Context(), vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// DeleteMembership removes a membership.
func (h *Handlers) DeleteMembership(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	m, err := h.store.DeleteMembership(ctx, vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	h.resolver.InvalidateUser(ctx, m.UserID)

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeMembershipDelete,
		contextkeys.ActorID(ctx), audit.ResourceTypeMembership, m.ID, nil,
		"membership deleted")

	w.WriteHeader(http.StatusNoContent)
}

// SetPrimary flags a membership as the user's primary.
func (h *Handlers) SetPrimary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	m, err := h.store.SetPrimary(ctx, vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	h.resolver.InvalidateUser(ctx, m.UserID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m)
}

// ListUserMemberships returns the user's memberships on active entities.
func (h *Handlers) ListUserMemberships(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	memberships, err := h.store.ListActiveForUser(r.Context(), vars["userId"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"memberships": memberships,
		"count":       len(memberships),
	})
}

// ListEntityMemberships returns all memberships on one entity.
func (h *Handlers) ListEntityMemberships(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	memberships, err := h.store.ListByEntity(r.Context(), vars["entityId"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"memberships": memberships,
		"count":       len(memberships),
	})
}

// EffectivePermissions returns the full permission detail view for a user.
func (h *Handlers) EffectivePermissions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	set, err := h.resolver.EffectivePermissions(r.Context(), vars["userId"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set)
}

// PermissionSummary returns only the counts by risk category.
func (h *Handlers) PermissionSummary(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	set, err := h.resolver.EffectivePermissions(r.Context(), vars["userId"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set.Summary)
}

// CheckPermission answers a single point check. An optional entity_id query
// parameter scopes the check to one entity.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)
	query := r.URL.Query()

	application := query.Get("application")
	module := query.Get("module")
	action := query.Get("action")
	if application == "" || module == "" || action == "" {
		http.Error(w, "application, module and action are required", http.StatusBadRequest)
		return
	}

	var allowed bool
	var err error
	if entityID := query.Get("entity_id"); entityID != "" {
		allowed, err = h.resolver.HasPermissionAt(ctx, vars["userId"], entityID, application, module, action)
	} else {
		allowed, err = h.resolver.HasPermission(ctx, vars["userId"], application, module, action)
	}
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"allowed": allowed})
}

// EffectivePermissionsAt returns the permission set scoped to one entity.
func (h *Handlers) EffectivePermissionsAt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	set, err := h.resolver.EffectivePermissionsAt(r.Context(), vars["userId"], vars["entityId"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set)
}

// EffectiveRestrictions returns the merged restriction map for a user.
func (h *Handlers) EffectiveRestrictions(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	restrictions, err := h.resolver.EffectiveRestrictions(r.Context(), vars["userId"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"restrictions": restrictions})
}

// PrimaryEntity returns the entity of the user's primary membership.
func (h *Handlers) PrimaryEntity(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	entity, err := h.resolver.PrimaryEntity(r.Context(), vars["userId"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entity)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrMembershipNotFound),
		errors.Is(err, ErrNoPrimaryEntity),
		errors.Is(err, hierarchy.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateMembership):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
