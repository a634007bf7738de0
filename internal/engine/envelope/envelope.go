// Package envelope holds the opaque transport envelopes the engine consumes
// and produces, plus adapters to and from watermill messages. A package is
// alive for exactly one pipeline run; acknowledgement is terminal and happens
// at most once.
package envelope

import (
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	idspkg "github.com/AndrewSinukov/service-bus/internal/engine/ids"
)

// Metadata keys stamped onto transport messages.
const (
	HeaderMessageType = "sb_message_type"
	HeaderTraceID     = "sb_trace_id"
	HeaderDelay       = "sb_delay"
)

// Acker is the transport-side acknowledgement handle for one package.
type Acker interface {
	Ack() error
	Nack(requeue bool) error
}

type ackState int

const (
	ackOpen ackState = iota
	ackAcked
	ackNacked
)

// Incoming is a consumed transport package. Headers and payload are opaque to
// the transport; decoding happens in the pipeline.
type Incoming struct {
	id      string
	traceID string
	payload []byte
	headers map[string]string

	mu    sync.Mutex
	state ackState
	acker Acker
}

// NewIncoming wraps raw transport data into a package. A missing trace id
// falls back to the package id so one causal chain is always traceable.
func NewIncoming(id, traceID string, payload []byte, headers map[string]string, acker Acker) *Incoming {
	if traceID == "" {
		traceID = id
	}
	if headers == nil {
		headers = map[string]string{}
	}
	return &Incoming{
		id:      id,
		traceID: traceID,
		payload: payload,
		headers: headers,
		acker:   acker,
	}
}

func (p *Incoming) ID() string      { return p.id }
func (p *Incoming) TraceID() string { return p.traceID }
func (p *Incoming) Payload() []byte { return p.payload }

// Header returns a single header value.
func (p *Incoming) Header(key string) string { return p.headers[key] }

// Headers returns a copy of the package headers.
func (p *Incoming) Headers() map[string]string {
	clone := make(map[string]string, len(p.headers))
	for k, v := range p.headers {
		clone[k] = v
	}
	return clone
}

// Ack acknowledges the package. Idempotent: repeated calls and calls after a
// Nack are no-ops, so at most one terminal acknowledgement reaches the
// transport.
func (p *Incoming) Ack() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ackOpen {
		return nil
	}
	p.state = ackAcked
	if p.acker == nil {
		return nil
	}
	return p.acker.Ack()
}

// Nack rejects the package, optionally requeueing it. Idempotent in the same
// way as Ack.
func (p *Incoming) Nack(requeue bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ackOpen {
		return nil
	}
	p.state = ackNacked
	if p.acker == nil {
		return nil
	}
	return p.acker.Nack(requeue)
}

// Acknowledged reports whether a terminal acknowledgement happened.
func (p *Incoming) Acknowledged() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state != ackOpen
}

// Outgoing is a to-be-sent transport package.
type Outgoing struct {
	ID            string
	TraceID       string
	Destination   string
	Payload       []byte
	Headers       map[string]string
	DeliveryDelay time.Duration
}

type watermillAcker struct {
	msg *message.Message
}

func (a watermillAcker) Ack() error {
	a.msg.Ack()
	return nil
}

func (a watermillAcker) Nack(requeue bool) error {
	// Watermill has no requeue flag; a nack always returns the message to
	// the subscriber.
	a.msg.Nack()
	return nil
}

// FromWatermill adapts a consumed watermill message into an Incoming package.
func FromWatermill(msg *message.Message) *Incoming {
	headers := make(map[string]string, len(msg.Metadata))
	for k, v := range msg.Metadata {
		headers[k] = v
	}
	return NewIncoming(msg.UUID, headers[HeaderTraceID], msg.Payload, headers, watermillAcker{msg: msg})
}

// ToWatermill converts an Outgoing package into a watermill message ready for
// publishing. Missing ids are generated, trace id and delay are stamped into
// the metadata.
func ToWatermill(out Outgoing) *message.Message {
	id := out.ID
	if id == "" {
		id = idspkg.CreateULID()
	}
	msg := message.NewMessage(id, out.Payload)
	for k, v := range out.Headers {
		msg.Metadata[k] = v
	}
	if out.TraceID != "" {
		msg.Metadata[HeaderTraceID] = out.TraceID
	}
	if out.DeliveryDelay > 0 {
		msg.Metadata[HeaderDelay] = out.DeliveryDelay.String()
	}
	return msg
}
