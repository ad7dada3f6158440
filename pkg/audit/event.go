// Package audit provides audit logging for entity commands. Every control
// request — single or bulk — is recorded as a JSON-lines event so an
// installer can reconstruct who commanded what after the fact.
package audit

import (
	"fmt"
	"time"
)

// Event records one command executed against an entity.
type Event struct {
	ID          string        `json:"id"`
	Timestamp   time.Time     `json:"timestamp"`
	EntityID    string        `json:"entity_id"`
	Command     string        `json:"command"`
	Parameters  string        `json:"parameters,omitempty"` // compact JSON of state/brightness
	BulkID      string        `json:"bulk_id,omitempty"`    // set for bulk-operation members
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"` // wire error code
	Duration    time.Duration `json:"duration"`
	ClientIP    string        `json:"client_ip,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
}

// Filter defines criteria for querying audit events.
type Filter struct {
	EntityID    string
	Command     string
	BulkID      string
	StartTime   time.Time
	EndTime     time.Time
	SuccessOnly bool
	FailureOnly bool
	Limit       int
	Offset      int
}

// NewEvent creates an audit event for one entity command.
func NewEvent(entityID, command string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		EntityID:  entityID,
		Command:   command,
	}
}

// WithParameters records the command parameters as compact JSON.
func (e *Event) WithParameters(params string) *Event {
	e.Parameters = params
	return e
}

// WithBulk marks the event as part of a bulk operation.
func (e *Event) WithBulk(bulkID string) *Event {
	e.BulkID = bulkID
	return e
}

// WithSuccess marks the event as successful.
func (e *Event) WithSuccess() *Event {
	e.Success = true
	return e
}

// WithError marks the event as failed with a wire error code.
func (e *Event) WithError(code string) *Event {
	e.Success = false
	e.Error = code
	return e
}

// WithDuration sets the command duration.
func (e *Event) WithDuration(d time.Duration) *Event {
	e.Duration = d
	return e
}

// WithClient records the caller's address and request id.
func (e *Event) WithClient(ip, requestID string) *Event {
	e.ClientIP = ip
	e.RequestID = requestID
	return e
}

func generateID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}
