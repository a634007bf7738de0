// Package saga manages the lifecycle of long-lived business transactions:
// durable state keyed by saga id, expiration, and at-least-once delivery of
// the commands and events a saga fires.
package saga

import (
	"context"
	"time"

	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

// Status is the lifecycle state of a saga. All non-initial states are
// terminal.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusExpired    Status = "expired"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool { return s != StatusInProgress }

// Saga is the contract the provider drives. Concrete sagas embed Base for
// the lifecycle mechanics and implement Start plus their state codec.
//
// The state blob is an explicit per-saga schema: MarshalState must capture
// everything needed to resume the saga, and UnmarshalState must restore it.
// Lifecycle fields (id, status, timestamps) are persisted separately and
// restored by the provider.
type Saga interface {
	ID() ID
	Status() Status
	CreatedAt() time.Time
	ExpireDate() time.Time
	ClosedAt() (time.Time, bool)

	// Start is the saga's entry point, invoked exactly once with the
	// trigger command.
	Start(ctx context.Context, trigger msgs.Message) error

	MakeExpired()

	// TakeFiredMessages drains and returns the queued commands and events,
	// in insertion order.
	TakeFiredMessages() (commands []msgs.Message, events []msgs.Message)

	MarshalState() ([]byte, error)
	UnmarshalState(data []byte) error

	header() *header
}

// header holds the lifecycle fields the provider persists alongside the user
// state. Mutation goes through Base transition methods only.
type header struct {
	id            ID
	status        Status
	createdAt     time.Time
	expireDate    time.Time
	closedAt      *time.Time
	firedCommands []msgs.Message
	raisedEvents  []msgs.Message
}

func (h *header) init(id ID, createdAt, expireDate time.Time) {
	h.id = id
	h.status = StatusInProgress
	h.createdAt = createdAt
	h.expireDate = expireDate
}

func (h *header) restore(id ID, status Status, createdAt, expireDate time.Time, closedAt *time.Time) {
	h.id = id
	h.status = status
	h.createdAt = createdAt
	h.expireDate = expireDate
	h.closedAt = closedAt
}

// Base supplies the saga lifecycle mechanics. Embed it by value in concrete
// saga types.
type Base struct {
	hdr header
}

func (b *Base) header() *header { return &b.hdr }

func (b *Base) ID() ID                { return b.hdr.id }
func (b *Base) Status() Status        { return b.hdr.status }
func (b *Base) CreatedAt() time.Time  { return b.hdr.createdAt }
func (b *Base) ExpireDate() time.Time { return b.hdr.expireDate }

// ClosedAt returns the close timestamp; ok is false while the saga is in
// progress.
func (b *Base) ClosedAt() (time.Time, bool) {
	if b.hdr.closedAt == nil {
		return time.Time{}, false
	}
	return *b.hdr.closedAt, true
}

// Fire queues a command for delivery on the next successful save. Closed
// sagas accept no further messages.
func (b *Base) Fire(cmd msgs.Message) error {
	if b.hdr.status.Terminal() {
		return &AlreadyClosedError{ID: b.hdr.id, Status: b.hdr.status}
	}
	b.hdr.firedCommands = append(b.hdr.firedCommands, cmd)
	return nil
}

// Raise queues an event for delivery on the next successful save.
func (b *Base) Raise(evt msgs.Message) error {
	if b.hdr.status.Terminal() {
		return &AlreadyClosedError{ID: b.hdr.id, Status: b.hdr.status}
	}
	b.hdr.raisedEvents = append(b.hdr.raisedEvents, evt)
	return nil
}

// Complete transitions the saga to its successful terminal state. No-op when
// the saga is already closed.
func (b *Base) Complete() { b.close(StatusCompleted) }

// Fail transitions the saga to its failed terminal state. No-op when the
// saga is already closed.
func (b *Base) Fail() { b.close(StatusFailed) }

// MakeExpired transitions the saga to the expired terminal state. No-op when
// the saga is already closed.
func (b *Base) MakeExpired() { b.close(StatusExpired) }

func (b *Base) close(status Status) {
	if b.hdr.status.Terminal() {
		return
	}
	now := time.Now().UTC()
	b.hdr.status = status
	b.hdr.closedAt = &now
}

// TakeFiredMessages drains the queued commands and events.
func (b *Base) TakeFiredMessages() ([]msgs.Message, []msgs.Message) {
	commands := b.hdr.firedCommands
	events := b.hdr.raisedEvents
	b.hdr.firedCommands = nil
	b.hdr.raisedEvents = nil
	return commands, events
}

// PendingMessages reports the queue sizes without draining them.
func (b *Base) PendingMessages() (commands int, events int) {
	return len(b.hdr.firedCommands), len(b.hdr.raisedEvents)
}

// EnsureOpen guards the handler boundary: terminal sagas may be loaded but
// must not accept further domain messages.
func EnsureOpen(s Saga) error {
	if s.Status().Terminal() {
		return &AlreadyClosedError{ID: s.ID(), Status: s.Status()}
	}
	return nil
}
