package audit

import "time"

// EventType represents the category of audit event.
type EventType string

const (
	// Hierarchy events
	EventTypeEntityCreate     EventType = "entity.create"
	EventTypeEntityUpdate     EventType = "entity.update"
	EventTypeEntityMove       EventType = "entity.move"
	EventTypeEntityDeactivate EventType = "entity.deactivate"

	// Role catalog events
	EventTypeRoleCreate EventType = "role.create"
	EventTypeRoleUpdate EventType = "role.update"
	EventTypeRoleDelete EventType = "role.delete"

	// Membership events
	EventTypeMembershipCreate EventType = "membership.create"
	EventTypeMembershipDelete EventType = "membership.delete"

	// Credit ledger events
	EventTypeCreditGrant      EventType = "credit.grant"
	EventTypeCreditAllocate   EventType = "credit.allocate"
	EventTypeCreditConsume    EventType = "credit.consume"
	EventTypeCreditDeallocate EventType = "credit.deallocate"

	// Invitation events
	EventTypeInvitationCreate EventType = "invitation.create"
	EventTypeInvitationAccept EventType = "invitation.accept"
	EventTypeInvitationRevoke EventType = "invitation.revoke"
	EventTypeInvitationExpire EventType = "invitation.expire"

	// Data-quality alerts, surfaced to operators
	EventTypeAlertNoPrimaryEntity EventType = "alert.no_primary_entity"
	EventTypeAlertCorruptHierarchy EventType = "alert.corrupt_hierarchy"
)

// EventStatus represents the outcome of an event.
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being mutated.
type ResourceType string

const (
	ResourceTypeEntity     ResourceType = "entity"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypeMembership ResourceType = "membership"
	ResourceTypeAllocation ResourceType = "allocation"
	ResourceTypeInvitation ResourceType = "invitation"
	ResourceTypeUser       ResourceType = "user"
)

// ChangeDetails captures before/after values for a mutation.
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// Event represents a single audit log entry.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor information
	ActorID   string `json:"actor_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Resource information
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Additional details
	Message  string                 `json:"message,omitempty"`
	Changes  *ChangeDetails         `json:"changes,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
