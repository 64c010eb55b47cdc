package wfstate

import "github.com/google/uuid"

// NewRequestID generates a new request_id, following the teacher's
// convention of a plain UUID for globally-unique, externally-visible
// identifiers.
func NewRequestID() string {
	return uuid.New().String()
}

// NewApprovalID generates a new approval_id.
func NewApprovalID() string {
	return uuid.New().String()
}

// NewEventID generates a new audit event_id.
func NewEventID() string {
	return uuid.New().String()
}
