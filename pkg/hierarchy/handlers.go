package hierarchy

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/pkg/audit"
	"github.com/arborhq/arbor/pkg/contextkeys"
)

// Handlers provides HTTP handlers for hierarchy operations.
type Handlers struct {
	store       *Store
	auditLogger audit.Logger
}

// NewHandlers creates new hierarchy handlers.
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

// RegisterRoutes registers all hierarchy routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/entities", h.CreateEntity).Methods("POST")
	router.HandleFunc("/entities/{id}", h.GetEntity).Methods("GET")
	router.HandleFunc("/entities/{id}", h.UpdateEntity).Methods("PATCH")
	router.HandleFunc("/entities/{id}", h.DeactivateEntity).Methods("DELETE")
	router.HandleFunc("/entities/{id}/subtree", h.GetSubtree).Methods("GET")
	router.HandleFunc("/entities/{id}/ancestors", h.GetAncestors).Methods("GET")
	router.HandleFunc("/entities/{id}/counts", h.CountByType).Methods("GET")
	router.HandleFunc("/entities/{id}/move", h.MoveEntity).Methods("POST")
}

// CreateEntity creates a new entity under a parent.
func (h *Handlers) CreateEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		http.Error(w, "entity_name is required", http.StatusBadRequest)
		return
	}

	entity, err := h.store.CreateEntity(ctx, &req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeEntityCreate,
		contextkeys.ActorID(ctx), audit.ResourceTypeEntity, entity.ID, nil,
		"entity created")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entity)
}

// GetEntity retrieves a single entity.
func (h *Handlers) GetEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	entity, err := h.store.GetEntity(ctx, vars["id"], includeInactive(r))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entity)
}

// GetSubtree retrieves the full nested subtree rooted at an entity.
func (h *Handlers) GetSubtree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	root, err := h.store.GetSubtree(ctx, vars["id"], includeInactive(r))
	if err != nil {
		if errors.Is(err, ErrCorruptHierarchy) {
			h.auditLogger.LogAlert(ctx, audit.EventTypeAlertCorruptHierarchy,
				audit.ResourceTypeEntity, vars["id"], err.Error())
		}
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(root)
}

// GetAncestors lists the entity's ancestors from root to immediate parent.
func (h *Handlers) GetAncestors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	ancestors, err := h.store.GetAncestors(ctx, vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	if ancestors == nil {
		ancestors = []*Entity{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ancestors)
}

// CountByType returns per-type node counts for the subtree.
func (h *Handlers) CountByType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	counts, err := h.store.CountByType(ctx, vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(counts)
}

// MoveEntity re-parents an entity.
func (h *Handlers) MoveEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var req struct {
		NewParentID string `json:"new_parent_entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.NewParentID == "" {
		http.Error(w, "new_parent_entity_id is required", http.StatusBadRequest)
		return
	}

	if err := h.store.MoveEntity(ctx, vars["id"], req.NewParentID); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeEntityMove,
		contextkeys.ActorID(ctx), audit.ResourceTypeEntity, vars["id"], nil,
		"entity moved")

	w.WriteHeader(http.StatusNoContent)
}

// UpdateEntity renames an entity or changes its responsible person.
func (h *Handlers) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var req UpdateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.store.UpdateEntity(ctx, vars["id"], &req); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeEntityUpdate,
		contextkeys.ActorID(ctx), audit.ResourceTypeEntity, vars["id"], nil,
		"entity updated")

	w.WriteHeader(http.StatusNoContent)
}

// DeactivateEntity soft-deletes an entity.
func (h *Handlers) DeactivateEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	if err := h.store.DeactivateEntity(ctx, vars["id"]); err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeEntityDeactivate,
		contextkeys.ActorID(ctx), audit.ResourceTypeEntity, vars["id"], nil,
		"entity deactivated")

	w.WriteHeader(http.StatusNoContent)
}

func includeInactive(r *http.Request) bool {
	return r.URL.Query().Get("include_inactive") == "true"
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrCycleDetected),
		errors.Is(err, ErrHasActiveChildren),
		errors.Is(err, ErrInvalidEntityType):
		return http.StatusConflict
	case errors.Is(err, ErrCorruptHierarchy):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
