package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/AndrewSinukov/service-bus/internal/engine/envelope"
)

// Endpoint is a named destination outgoing messages are sent to.
type Endpoint interface {
	Name() string
	Send(ctx context.Context, out envelope.Outgoing) error
}

// EndpointNotConfiguredError reports a command that could not be routed to
// exactly one endpoint.
type EndpointNotConfiguredError struct {
	MessageType string
	Matched     int
}

func (e *EndpointNotConfiguredError) Error() string {
	return fmt.Sprintf("servicebus: message type %q routes to %d endpoints, commands require exactly one", e.MessageType, e.Matched)
}

// EndpointRouter maps outgoing message type keys to endpoints. Publishing an
// event may fan out to multiple endpoints; a command must route to exactly
// one. The router is frozen before the pipeline starts.
type EndpointRouter struct {
	mu     sync.RWMutex
	routes map[string][]Endpoint
	frozen bool
}

func NewEndpointRouter() *EndpointRouter {
	return &EndpointRouter{routes: make(map[string][]Endpoint)}
}

// Add binds a message type key to an endpoint. Binding the same endpoint name
// twice for one type is rejected.
func (er *EndpointRouter) Add(messageType string, ep Endpoint) error {
	if messageType == "" {
		return fmt.Errorf("servicebus: endpoint route requires a message type")
	}
	if ep == nil {
		return fmt.Errorf("servicebus: endpoint route for %q requires an endpoint", messageType)
	}

	er.mu.Lock()
	defer er.mu.Unlock()
	if er.frozen {
		return fmt.Errorf("servicebus: endpoint router is frozen, cannot route %q", messageType)
	}
	for _, existing := range er.routes[messageType] {
		if existing.Name() == ep.Name() {
			return fmt.Errorf("servicebus: endpoint %q already routes %q", ep.Name(), messageType)
		}
	}
	er.routes[messageType] = append(er.routes[messageType], ep)
	return nil
}

// Freeze makes the router immutable.
func (er *EndpointRouter) Freeze() {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.frozen = true
}

// Route returns the endpoints bound to the message type, in binding order.
func (er *EndpointRouter) Route(messageType string) []Endpoint {
	er.mu.RLock()
	defer er.mu.RUnlock()
	eps := er.routes[messageType]
	clone := make([]Endpoint, len(eps))
	copy(clone, eps)
	return clone
}

// PublisherEndpoint sends outgoing packages to a fixed destination through a
// watermill publisher.
type PublisherEndpoint struct {
	name        string
	destination string
	publisher   message.Publisher
}

func NewPublisherEndpoint(name, destination string, publisher message.Publisher) *PublisherEndpoint {
	if publisher == nil {
		panic("servicebus: publisher cannot be nil")
	}
	if destination == "" {
		panic("servicebus: endpoint destination cannot be empty")
	}
	if name == "" {
		name = destination
	}
	return &PublisherEndpoint{name: name, destination: destination, publisher: publisher}
}

func (e *PublisherEndpoint) Name() string { return e.name }

func (e *PublisherEndpoint) Send(ctx context.Context, out envelope.Outgoing) error {
	out.Destination = e.destination
	msg := envelope.ToWatermill(out)
	if ctx != nil {
		msg.SetContext(ctx)
	}
	return e.publisher.Publish(e.destination, msg)
}
