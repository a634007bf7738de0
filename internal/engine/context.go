package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/AndrewSinukov/service-bus/internal/engine/codec"
	"github.com/AndrewSinukov/service-bus/internal/engine/envelope"
	idspkg "github.com/AndrewSinukov/service-bus/internal/engine/ids"
	"github.com/AndrewSinukov/service-bus/internal/engine/logging"
	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

// DeliveryOptions carry per-delivery overrides. The trace id defaults to the
// incoming package's trace id; headers are merged onto the outgoing envelope.
type DeliveryOptions struct {
	TraceID string
	Headers map[string]string
	Delay   time.Duration
}

// DeliveryOption customises one Send/Publish/Delivery call.
type DeliveryOption func(*DeliveryOptions)

func WithTraceID(traceID string) DeliveryOption {
	return func(o *DeliveryOptions) { o.TraceID = traceID }
}

func WithHeader(key, value string) DeliveryOption {
	return func(o *DeliveryOptions) {
		if o.Headers == nil {
			o.Headers = map[string]string{}
		}
		o.Headers[key] = value
	}
}

func WithDelay(delay time.Duration) DeliveryOption {
	return func(o *DeliveryOptions) { o.Delay = delay }
}

// KernelContext is the per-message execution context handlers receive.
// Contexts are created fresh for every executor and never shared.
type KernelContext struct {
	pkg       *envelope.Incoming
	registry  *msgs.Registry
	encoder   codec.Encoder
	endpoints *EndpointRouter
	logger    logging.Logger
	options   HandlerOptions
}

func NewKernelContext(pkg *envelope.Incoming, registry *msgs.Registry, encoder codec.Encoder, endpoints *EndpointRouter, logger logging.Logger) *KernelContext {
	return &KernelContext{
		pkg:       pkg,
		registry:  registry,
		encoder:   encoder,
		endpoints: endpoints,
		logger:    logger,
	}
}

func (c *KernelContext) PackageID() string { return c.pkg.ID() }
func (c *KernelContext) TraceID() string   { return c.pkg.TraceID() }

// CurrentOptions returns the options installed by the executor before the
// user handler ran.
func (c *KernelContext) CurrentOptions() HandlerOptions { return c.options }

func (c *KernelContext) installOptions(opts HandlerOptions) { c.options = opts }

// Logger returns the context logger bound to the active handler's channel,
// carrying the package and trace ids.
func (c *KernelContext) Logger() logging.Logger {
	return c.logger.Channel(c.options.LoggerChannel).With(logging.Fields{
		"package_id": c.pkg.ID(),
		"trace_id":   c.pkg.TraceID(),
	})
}

// LogContextMessage routes a structured log record to the channel of the
// currently active handler options.
func (c *KernelContext) LogContextMessage(level string, msg string, extra logging.Fields) {
	logger := c.Logger()
	switch level {
	case "debug":
		logger.Debug(msg, extra)
	case "warning":
		logger.Warning(msg, extra)
	case "error":
		logger.Error(msg, nil, extra)
	case "critical":
		logger.Critical(msg, nil, extra)
	default:
		logger.Info(msg, extra)
	}
}

// Send routes a command to exactly one endpoint. Zero or multiple matches
// fail with EndpointNotConfiguredError.
func (c *KernelContext) Send(ctx context.Context, cmd msgs.Message, opts ...DeliveryOption) error {
	return deliver(ctx, c.registry, c.encoder, c.endpoints, c.logger, c.pkg.TraceID(), cmd, true, opts)
}

// Publish fans an event out to all matching endpoints. Zero matches is not an
// error but is logged at debug.
func (c *KernelContext) Publish(ctx context.Context, evt msgs.Message, opts ...DeliveryOption) error {
	return deliver(ctx, c.registry, c.encoder, c.endpoints, c.logger, c.pkg.TraceID(), evt, false, opts)
}

// Delivery dispatches polymorphically: commands and queries go through Send
// semantics, events through Publish semantics.
func (c *KernelContext) Delivery(ctx context.Context, m msgs.Message, opts ...DeliveryOption) error {
	return dispatchDelivery(ctx, c.registry, c.encoder, c.endpoints, c.logger, c.pkg.TraceID(), m, opts)
}

// dispatchDelivery applies the kind-aware routing contract shared by the
// kernel context and the service-level delivery helper: commands and queries
// require exactly one endpoint, events fan out.
func dispatchDelivery(ctx context.Context, registry *msgs.Registry, encoder codec.Encoder, endpoints *EndpointRouter, logger logging.Logger, defaultTraceID string, m msgs.Message, opts []DeliveryOption) error {
	key, ok := registry.KeyOf(m)
	if !ok {
		return fmt.Errorf("servicebus: message type %T is not registered", m)
	}
	kind, _ := registry.KindOf(key)
	exactlyOne := kind != msgs.KindEvent
	return deliver(ctx, registry, encoder, endpoints, logger, defaultTraceID, m, exactlyOne, opts)
}

// deliver encodes the message once and hands it to the routed endpoints.
// Shared by the kernel context and the service-level delivery helper.
func deliver(ctx context.Context, registry *msgs.Registry, encoder codec.Encoder, endpoints *EndpointRouter, logger logging.Logger, defaultTraceID string, m msgs.Message, exactlyOne bool, opts []DeliveryOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	options := DeliveryOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.TraceID == "" {
		options.TraceID = defaultTraceID
	}

	payload, key, err := encoder.Encode(m)
	if err != nil {
		return err
	}

	routed := endpoints.Route(key)
	if exactlyOne && len(routed) != 1 {
		return &EndpointNotConfiguredError{MessageType: key, Matched: len(routed)}
	}
	if len(routed) == 0 {
		logger.Debug("no endpoints configured for published message", logging.Fields{
			"message_type": key,
			"trace_id":     options.TraceID,
		})
		return nil
	}

	headers := map[string]string{}
	for k, v := range options.Headers {
		headers[k] = v
	}
	headers[envelope.HeaderMessageType] = key

	var errs []error
	for _, ep := range routed {
		out := envelope.Outgoing{
			ID:            idspkg.CreateULID(),
			TraceID:       options.TraceID,
			Payload:       payload,
			Headers:       headers,
			DeliveryDelay: options.Delay,
		}
		if err := ep.Send(ctx, out); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %q: %w", ep.Name(), err))
		}
	}
	return errors.Join(errs...)
}
