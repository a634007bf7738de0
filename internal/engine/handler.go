package engine

import (
	"context"
	"fmt"
	"reflect"

	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

// ResolverMap is the frozen dependency resolver consulted by executors when a
// handler declares extra parameters. Keys are the declared parameter types.
type ResolverMap map[reflect.Type]any

// ArgumentResolutionError reports a handler dependency that could not be
// resolved from the resolver map. Raised before invocation; fatal for the
// message but not for sibling executors.
type ArgumentResolutionError struct {
	MessageType string
	Parameter   reflect.Type
}

func (e *ArgumentResolutionError) Error() string {
	return fmt.Sprintf("servicebus: cannot resolve handler dependency %s for %q", e.Parameter, e.MessageType)
}

type reflectedHandler struct {
	fn      reflect.Value
	msgType reflect.Type
	deps    []reflect.Type
}

var (
	ctxType     = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType     = reflect.TypeOf((*error)(nil)).Elem()
	kernelType  = reflect.TypeOf((*KernelContext)(nil))
	messageType = reflect.TypeOf((*msgs.Message)(nil)).Elem()
)

// NewHandler builds a descriptor from a typed handler function of the form
//
//	func(ctx context.Context, m *SomeMessage, kctx *KernelContext, deps ...) error
//
// Extra parameters after the kernel context are injected from the executor's
// resolver map by declared type.
func NewHandler(messageTypeKey string, fn any, opts HandlerOptions) (HandlerDescriptor, error) {
	if messageTypeKey == "" {
		return HandlerDescriptor{}, fmt.Errorf("servicebus: handler message type key is required")
	}
	if fn == nil {
		return HandlerDescriptor{}, fmt.Errorf("servicebus: handler function is required for %q", messageTypeKey)
	}

	value := reflect.ValueOf(fn)
	typ := value.Type()
	if typ.Kind() != reflect.Func {
		return HandlerDescriptor{}, fmt.Errorf("servicebus: handler for %q must be a function, got %s", messageTypeKey, typ)
	}
	if typ.NumOut() != 1 || typ.Out(0) != errType {
		return HandlerDescriptor{}, fmt.Errorf("servicebus: handler for %q must return exactly one error", messageTypeKey)
	}
	if typ.NumIn() < 3 {
		return HandlerDescriptor{}, fmt.Errorf("servicebus: handler for %q must accept (context.Context, message, *KernelContext)", messageTypeKey)
	}
	if typ.In(0) != ctxType {
		return HandlerDescriptor{}, fmt.Errorf("servicebus: handler for %q must take context.Context first", messageTypeKey)
	}
	if typ.In(2) != kernelType {
		return HandlerDescriptor{}, fmt.Errorf("servicebus: handler for %q must take *KernelContext third", messageTypeKey)
	}

	msgParam := typ.In(1)
	if msgParam.Kind() != reflect.Ptr && msgParam != messageType {
		return HandlerDescriptor{}, fmt.Errorf("servicebus: handler for %q must take the message as a pointer", messageTypeKey)
	}

	deps := make([]reflect.Type, 0, typ.NumIn()-3)
	for i := 3; i < typ.NumIn(); i++ {
		deps = append(deps, typ.In(i))
	}

	return HandlerDescriptor{
		MessageType: messageTypeKey,
		Options:     opts,
		reflected: &reflectedHandler{
			fn:      value,
			msgType: msgParam,
			deps:    deps,
		},
	}, nil
}

// invoke resolves dependencies and calls the reflected handler. Resolution
// failures surface before the user function runs.
func (h *reflectedHandler) invoke(ctx context.Context, messageTypeKey string, m msgs.Message, kctx *KernelContext, resolvers ResolverMap) error {
	args := make([]reflect.Value, 0, 3+len(h.deps))
	args = append(args, reflect.ValueOf(ctx))

	msgValue := reflect.ValueOf(m)
	if !msgValue.Type().AssignableTo(h.msgType) {
		return fmt.Errorf("servicebus: handler for %q declared %s, got %T", messageTypeKey, h.msgType, m)
	}
	args = append(args, msgValue, reflect.ValueOf(kctx))

	for _, dep := range h.deps {
		resolved, ok := resolvers[dep]
		if !ok {
			return &ArgumentResolutionError{MessageType: messageTypeKey, Parameter: dep}
		}
		args = append(args, reflect.ValueOf(resolved))
	}

	out := h.fn.Call(args)
	if err, ok := out[0].Interface().(error); ok && err != nil {
		return err
	}
	return nil
}
