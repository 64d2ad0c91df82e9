// Package core runs the session response engine: it turns a user action into
// a model request, settles pending events from the reply, delivers the reply
// and keeps memories compacted.
package core

import (
	"errors"
	"time"

	"github.com/xonecas/heartline/internal/protocol"
	"github.com/xonecas/heartline/internal/store"
)

var (
	// ErrUnknownContact is returned when a session names a missing contact.
	ErrUnknownContact = errors.New("unknown contact")
	// ErrNothingToRegenerate is returned when the timeline has no trailing reply.
	ErrNothingToRegenerate = errors.New("nothing to regenerate")
	// ErrIndexOutOfRange is returned by RetryAt for a bad message index.
	ErrIndexOutOfRange = errors.New("message index out of range")
	// ErrInvalidAmount is returned for a transfer that is not positive.
	ErrInvalidAmount = errors.New("transfer amount must be positive")
	// ErrAlreadyPartnered is returned when inviting while a relationship is active.
	ErrAlreadyPartnered = errors.New("relationship already active")
)

// Session is the explicit conversation context passed to every operation.
type Session struct {
	ContactID store.ID
	Mode      protocol.Mode
}

// EventType identifies the type of event.
type EventType string

const (
	EventTypingStarted    EventType = "typing_started"
	EventTypingStopped    EventType = "typing_stopped"
	EventMessageAppended  EventType = "message_appended"
	EventMessageRetracted EventType = "message_retracted"
	EventTransferResolved EventType = "transfer_resolved"
	EventInviteResolved   EventType = "invite_resolved"
	EventSummaryCompleted EventType = "summary_completed"
	EventSummaryFailed    EventType = "summary_failed"
	EventTransportError   EventType = "transport_error"
	EventStorageError     EventType = "storage_error"
)

// Event represents something that happened to a contact's session.
type Event struct {
	Type      EventType
	ContactID store.ID
	Data      interface{}
	Timestamp time.Time
}

// MessageData contains data for message events.
type MessageData struct {
	Message store.Message
}

// ErrorData contains data for error events.
type ErrorData struct {
	Error string
}

// ResolutionData describes a settled transfer or invitation.
type ResolutionData struct {
	Decision protocol.Decision
	// Fallback is set when the decision came from keyword scoring.
	Fallback bool
	Amount   float64
}

// SummaryKind tells daily compaction and round summaries apart.
type SummaryKind string

const (
	SummaryDaily SummaryKind = "daily"
	SummaryRound SummaryKind = "round"
)

// SummaryData contains data for summary events.
type SummaryData struct {
	Kind     SummaryKind
	Consumed int
	Promoted int
	Skipped  bool
}
