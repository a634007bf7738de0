package engine

import (
	"context"
	"errors"
	"fmt"

	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

// ValidationFailedError reports a message that failed input validation and
// whose handler has no validation-failed event configured.
type ValidationFailedError struct {
	MessageType string
	Violations  []Violation
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("servicebus: message %q failed validation with %d violations", e.MessageType, len(e.Violations))
}

// Executor wraps one handler invocation: options installation, input
// validation, dependency injection, and translation of errors into
// error events. Executors are immutable once built by the router.
type Executor struct {
	descriptor HandlerDescriptor
	validator  ObjectValidator
	resolvers  ResolverMap
}

// Options returns the handler options this executor installs on the context.
func (e *Executor) Options() HandlerOptions { return e.descriptor.Options }

// MessageType returns the declared type key the handler was registered for.
func (e *Executor) MessageType() string { return e.descriptor.MessageType }

// Execute runs the wrapped handler for one message. A configured
// validation-failed or throwable event converts the corresponding failure
// into a published event; everything else is returned to the processor.
func (e *Executor) Execute(ctx context.Context, m msgs.Message, kctx *KernelContext) error {
	opts := e.descriptor.Options
	kctx.installOptions(opts)

	if opts.Validate && e.validator != nil {
		violations := e.validator.Validate(m, opts.ValidationGroups)
		if len(violations) > 0 {
			if opts.ValidationFailedEvent != nil {
				evt := opts.ValidationFailedEvent(m, violations)
				return kctx.Publish(ctx, evt)
			}
			return &ValidationFailedError{MessageType: e.descriptor.MessageType, Violations: violations}
		}
	}

	err := e.invoke(ctx, m, kctx)
	if err == nil {
		return nil
	}

	// A resolution failure happens before the user handler runs; it is
	// fatal for the message and never becomes a domain event.
	var resolution *ArgumentResolutionError
	if errors.As(err, &resolution) {
		return err
	}

	if opts.ThrowableEvent != nil {
		evt := opts.ThrowableEvent(m, err, kctx.TraceID())
		if publishErr := kctx.Publish(ctx, evt); publishErr != nil {
			return fmt.Errorf("servicebus: failed to publish throwable event: %w", publishErr)
		}
		return nil
	}
	return err
}

// invoke calls the user handler, converting panics into errors so one broken
// handler cannot take the pipeline down.
func (e *Executor) invoke(ctx context.Context, m msgs.Message, kctx *KernelContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("servicebus: handler for %q panicked: %v", e.descriptor.MessageType, r)
		}
	}()

	if h := e.descriptor.reflected; h != nil {
		return h.invoke(ctx, e.descriptor.MessageType, m, kctx, e.resolvers)
	}
	return e.descriptor.Handler(ctx, m, kctx)
}
