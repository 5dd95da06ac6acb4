package audit

import "time"

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	Course     string    `json:"course,omitempty"`
	Action     string    `json:"action"`
	Detail     string    `json:"detail,omitempty"`
}

const (
	EventAccountCreated  = "identity.account_created"
	EventIdentityLinked  = "identity.linked"
	EventLogin           = "identity.login"
	EventEnrolled        = "enrollment.enrolled"
	EventAllowed         = "enrollment.allowed"
	EventPending         = "enrollment.pending"
	EventDrained         = "enrollment.drained"
	EventUnenrolled      = "enrollment.unenrolled"
	EventUnenrollPending = "enrollment.pending_removed"
)
