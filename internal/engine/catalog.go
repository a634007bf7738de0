package engine

import (
	"context"
	"fmt"
	"sync"

	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

// Violation describes one failed validation constraint on a message property.
type Violation struct {
	Property string `json:"property"`
	Message  string `json:"message"`
}

// ObjectValidator validates decoded messages against the configured groups.
// Implementations typically forward to a struct validator.
type ObjectValidator interface {
	Validate(m msgs.Message, groups []string) []Violation
}

// HandlerFunc processes one decoded message under a kernel context.
type HandlerFunc func(ctx context.Context, m msgs.Message, kctx *KernelContext) error

// ValidationFailedEventFactory builds the event published instead of raising
// ValidationFailed when a handler opts in.
type ValidationFailedEventFactory func(m msgs.Message, violations []Violation) msgs.Message

// ThrowableEventFactory builds the event published instead of surfacing a
// handler error when a handler opts in.
type ThrowableEventFactory func(m msgs.Message, handlerErr error, traceID string) msgs.Message

// HandlerOptions configure the execution of one handler.
type HandlerOptions struct {
	Validate              bool
	ValidationGroups      []string
	ValidationFailedEvent ValidationFailedEventFactory
	ThrowableEvent        ThrowableEventFactory
	LoggerChannel         string
	Description           string
}

// HandlerDescriptor binds a message type key to one handler and its options.
// Descriptors built with NewHandler additionally carry the reflected function
// and its dependency parameter types for executor-side resolution.
type HandlerDescriptor struct {
	MessageType string
	Handler     HandlerFunc
	Options     HandlerOptions

	reflected *reflectedHandler
}

// Catalog is the static, pre-built list of handler descriptors the router is
// constructed from. Iteration order is declaration order.
type Catalog struct {
	mu          sync.Mutex
	descriptors []HandlerDescriptor
	frozen      bool
}

func NewCatalog() *Catalog {
	return &Catalog{}
}

// Add appends a descriptor. Registration order is preserved and becomes the
// router's dispatch order within one message type.
func (c *Catalog) Add(d HandlerDescriptor) error {
	if d.MessageType == "" {
		return fmt.Errorf("servicebus: handler descriptor requires a message type")
	}
	if d.Handler == nil && d.reflected == nil {
		return fmt.Errorf("servicebus: handler descriptor for %q requires a handler", d.MessageType)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return fmt.Errorf("servicebus: catalog is frozen, cannot add handler for %q", d.MessageType)
	}
	c.descriptors = append(c.descriptors, d)
	return nil
}

// Freeze makes the catalog immutable.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Descriptors returns a copy of the registered descriptors in declaration
// order.
func (c *Catalog) Descriptors() []HandlerDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	clone := make([]HandlerDescriptor, len(c.descriptors))
	copy(clone, c.descriptors)
	return clone
}
