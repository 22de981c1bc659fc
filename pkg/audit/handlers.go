package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
)

// Handlers provides HTTP endpoints for querying audit events
type Handlers struct {
	logger *DBLogger
}

// NewHandlers creates audit HTTP handlers backed by the given logger
func NewHandlers(logger *DBLogger) *Handlers {
	return &Handlers{logger: logger}
}

// RegisterRoutes registers audit endpoints on the router
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/audit/events", h.SearchEvents).Methods(http.MethodGet)
}

// SearchEvents handles GET /audit/events
func (h *Handlers) SearchEvents(w http.ResponseWriter, r *http.Request) {
	filter := SearchFilter{Limit: 100}

	q := r.URL.Query()

	if v := q.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid start_time", http.StatusBadRequest)
			return
		}
		filter.StartTime = &t
	}

	if v := q.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "invalid end_time", http.StatusBadRequest)
			return
		}
		filter.EndTime = &t
	}

	filter.ActorID = q.Get("actor_id")
	filter.ResourceType = ResourceType(q.Get("resource_type"))
	filter.ResourceID = q.Get("resource_id")

	for _, et := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, EventType(et))
	}

	if v := q.Get("status"); v != "" {
		status := EventStatus(v)
		filter.Status = &status
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		filter.Offset = n
	}

	events, err := h.logger.Search(r.Context(), filter)
	if err != nil {
		http.Error(w, "failed to search audit events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
