package invitations

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/pkg/audit"
	"github.com/arborhq/arbor/pkg/contextkeys"
)

// Handlers provides HTTP handlers for the invitation workflow.
type Handlers struct {
	service     *Service
	auditLogger audit.Logger
}

// NewHandlers creates new invitation handlers.
func NewHandlers(service *Service, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		service:     service,
		auditLogger: auditLogger,
	}
}

// Service exposes the underlying service for wiring into other components.
func (h *Handlers) Service() *Service {
	return h.service
}

// RegisterRoutes registers all invitation routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/invitations", h.CreateInvitation).Methods("POST")
	router.HandleFunc("/invitations", h.ListInvitations).Methods("GET")
	router.HandleFunc("/invitations/{id}", h.GetInvitation).Methods("GET")
	router.HandleFunc("/invitations/{id}", h.Revoke).Methods("DELETE")
	router.HandleFunc("/invitations/{id}/entities", h.AddEntry).Methods("POST")
	router.HandleFunc("/invitations/{id}/entities/{entityId}", h.RemoveEntry).Methods("DELETE")
	router.HandleFunc("/invitations/{id}/primary", h.SetPrimary).Methods("PUT")
	router.HandleFunc("/invitations/{id}/accept", h.Accept).Methods("POST")
}

// CreateInvitation creates a pending invitation.
func (h *Handlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateInvitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Email == "" {
		http.Error(w, "email is required", http.StatusBadRequest)
		return
	}

	inv, err := h.service.CreateInvitation(ctx, &req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeInvitationCreate,
		contextkeys.ActorID(ctx), audit.ResourceTypeInvitation, inv.ID, nil,
		"invitation created")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(inv)
}

// ListInvitations lists invitations with optional status and email filters.
func (h *Handlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	invitations, err := h.service.ListInvitations(r.Context(),
		Status(query.Get("status")), query.Get("email"))
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"invitations": invitations,
		"count":       len(invitations),
	})
}

// GetInvitation retrieves a single invitation.
func (h *Handlers) GetInvitation(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	inv, err := h.service.GetInvitation(r.Context(), vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inv)
}

// AddEntry stages another entity on a pending invitation.
func (h *Handlers) AddEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var req AddEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EntityID == "" {
		http.Error(w, "entity_id is required", http.StatusBadRequest)
		return
	}

	inv, err := h.service.AddEntry(ctx, vars["id"], &req)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inv)
}

// RemoveEntry removes a staged entity from a pending invitation.
func (h *Handlers) RemoveEntry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	inv, err := h.service.RemoveEntry(r.Context(), vars["id"], vars["entityId"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inv)
}

// SetPrimary designates a staged entity as primary.
func (h *Handlers) SetPrimary(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var req struct {
		EntityID string `json:"entity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	inv, err := h.service.SetPrimary(r.Context(), vars["id"], req.EntityID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inv)
}

// Accept materializes the invitation's memberships for the accepting user.
func (h *Handlers) Accept(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	inv, err := h.service.Accept(ctx, vars["id"], req.UserID)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeInvitationAccept,
		req.UserID, audit.ResourceTypeInvitation, inv.ID, nil,
		"invitation accepted")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inv)
}

// Revoke withdraws a pending invitation.
func (h *Handlers) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	vars := mux.Vars(r)

	inv, err := h.service.Revoke(ctx, vars["id"])
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	h.auditLogger.LogDataMutation(ctx, audit.EventTypeInvitationRevoke,
		contextkeys.ActorID(ctx), audit.ResourceTypeInvitation, inv.ID, nil,
		"invitation revoked")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(inv)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvitationNotFound),
		errors.Is(err, ErrEntityNotOnInvitation):
		return http.StatusNotFound
	case errors.Is(err, ErrEmptyEntityList),
		errors.Is(err, ErrInvalidPrimaryEntity),
		errors.Is(err, ErrDuplicateEntity),
		errors.Is(err, ErrMissingPrimaryEntity):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvitationNotPending):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
