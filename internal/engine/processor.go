package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AndrewSinukov/service-bus/internal/engine/codec"
	"github.com/AndrewSinukov/service-bus/internal/engine/envelope"
	"github.com/AndrewSinukov/service-bus/internal/engine/logging"
	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

// EntryPointProcessor drives the per-package pipeline:
// decode, route, fan out executors, acknowledge. It holds no mutable
// per-package state, so Handle is safe to call concurrently for distinct
// packages.
type EntryPointProcessor struct {
	decoder   codec.Decoder
	encoder   codec.Encoder
	registry  *msgs.Registry
	router    *Router
	endpoints *EndpointRouter
	logger    logging.Logger
	metrics   *ProcessorMetrics
	tracer    trace.Tracer
}

// ProcessorOption customises an EntryPointProcessor.
type ProcessorOption func(*EntryPointProcessor)

// WithProcessorMetrics attaches Prometheus instruments to the processor.
func WithProcessorMetrics(m *ProcessorMetrics) ProcessorOption {
	return func(p *EntryPointProcessor) { p.metrics = m }
}

func NewEntryPointProcessor(decoder codec.Decoder, encoder codec.Encoder, registry *msgs.Registry, router *Router, endpoints *EndpointRouter, logger logging.Logger, opts ...ProcessorOption) *EntryPointProcessor {
	if decoder == nil || encoder == nil {
		panic("servicebus: processor requires a codec")
	}
	if registry == nil || router == nil || endpoints == nil {
		panic("servicebus: processor requires registry, router, and endpoint router")
	}
	if logger == nil {
		panic("servicebus: processor requires a logger")
	}

	p := &EntryPointProcessor{
		decoder:   decoder,
		encoder:   encoder,
		registry:  registry,
		router:    router,
		endpoints: endpoints,
		logger:    logger,
		tracer:    otel.Tracer("servicebus-entry-point"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle processes one incoming package. Handler and domain failures are
// absorbed and reported; the only errors that escape are acknowledgement
// failures and cancellation. Exactly one of ack or nack reaches the
// transport per package; further calls for an already acknowledged package
// do not reach the transport again.
func (p *EntryPointProcessor) Handle(ctx context.Context, pkg *envelope.Incoming) error {
	ctx, span := p.tracer.Start(ctx, "ProcessPackage")
	defer span.End()
	span.SetAttributes(
		attribute.String("package.id", pkg.ID()),
		attribute.String("package.trace_id", pkg.TraceID()),
	)

	m, err := p.decoder.Decode(pkg)
	if err != nil {
		p.logger.Error("failed to decode incoming package", err, logging.Fields{
			"package_id": pkg.ID(),
			"trace_id":   pkg.TraceID(),
			"payload":    string(pkg.Payload()),
		})
		p.metrics.observePackage(packageOutcomeDecodeFailed)
		return pkg.Ack()
	}

	executors := p.router.Match(m)
	if len(executors) == 0 {
		p.logger.Debug("no handlers for message", logging.Fields{
			"package_id":   pkg.ID(),
			"trace_id":     pkg.TraceID(),
			"message_type": p.messageType(m),
		})
		p.metrics.observePackage(packageOutcomeAcked)
		return pkg.Ack()
	}

	// Executors run sequentially in router order; the next one starts only
	// after the previous settled. One failing executor does not abort its
	// siblings.
	for _, ex := range executors {
		if ctx.Err() != nil {
			return p.nackCancelled(ctx, pkg)
		}

		kctx := NewKernelContext(pkg, p.registry, p.encoder, p.endpoints, p.logger)
		start := time.Now()
		execErr := ex.Execute(ctx, m, kctx)
		p.metrics.observeHandler(ex.MessageType(), time.Since(start), execErr)

		if execErr != nil {
			kctx.Logger().Error("message handler failed", execErr, logging.Fields{
				"message_type": ex.MessageType(),
				"description":  ex.Options().Description,
			})
		}
	}

	if ctx.Err() != nil {
		return p.nackCancelled(ctx, pkg)
	}

	p.metrics.observePackage(packageOutcomeAcked)
	return pkg.Ack()
}

// nackCancelled returns the package to the queue after cancellation; the
// package still gets exactly one terminal acknowledgement.
func (p *EntryPointProcessor) nackCancelled(ctx context.Context, pkg *envelope.Incoming) error {
	p.metrics.observePackage(packageOutcomeNacked)
	if err := pkg.Nack(true); err != nil {
		return errors.Join(ctx.Err(), err)
	}
	return ctx.Err()
}

func (p *EntryPointProcessor) messageType(m msgs.Message) string {
	key, _ := p.registry.KeyOf(m)
	return key
}
