package catalog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/pkg/audit"
	"github.com/arborhq/arbor/pkg/contextkeys"
)

// Handlers provides HTTP handlers for role catalog operations.
type Handlers struct {
	store       *Store
	auditLogger audit.Logger
}

// NewHandlers creates new catalog handlers.
func NewHandlers(db *sql.DB, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		store:       NewStore(db),
		auditLogger: auditLogger,
	}
}

// Store exposes the underlying store for wiring into other components.
func (h *Handlers) Store() *Store {
	return h.store
}

// RegisterRoutes registers all catalog routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/roles/{id}", h.GetRole).Methods("GET")
	router.HandleFunc("/roles/{id}", h.UpdateRole).Methods("PATCH")
	router.HandleFunc("/roles/{id}", h.DeleteRole).Methods("DELETE")
}

// CreateRole creates a tenant-defined role.
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "role_name is required", http.StatusBadRequest)
		return
	}

	role, err := h.store.CreateRole(ctx, &req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeRoleCreate,
		contextkeys.ActorID(ctx), audit.ResourceTypeRole, role.ID, nil,
		"role created")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(role)
}

// ListRoles lists all roles.
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.store.ListRoles(r.Context())
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"roles": roles,
		"count": len(roles),
	})
}

// GetRole retrieves a single role.
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	role, err := h.store.GetRole(r.Context(), vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(role)
}

// UpdateRole applies partial updates to a role.
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var req UpdateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	role, err := h.store.UpdateRole(ctx, vars["id"], &req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeRoleUpdate,
		contextkeys.ActorID(ctx), audit.ResourceTypeRole, role.ID, nil,
		"role updated")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(role)
}

// DeleteRole removes a role.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	if err := h.store.DeleteRole(ctx, vars["id"]); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeRoleDelete,
		contextkeys.ActorID(ctx), audit.ResourceTypeRole, vars["id"], nil,
		"role deleted")

	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRoleNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRoleInUse),
		errors.Is(err, ErrSystemRoleImmutable),
		errors.Is(err, ErrDuplicateRoleName):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
