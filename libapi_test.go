package servicebus

import (
	"context"
	"sync"
	"testing"
)

// A miniature order workflow wired entirely through the facade: a command
// starts a saga, the saga raises an event, the event lands on an endpoint.

type placeOrder struct {
	OrderID string `json:"order_id"`
}

type orderAccepted struct {
	OrderID string `json:"order_id"`
}

type checkoutState struct {
	OrderID string `json:"order_id"`
}

type checkoutSaga struct {
	SagaBase
	State checkoutState
}

func (s *checkoutSaga) Start(ctx context.Context, trigger Message) error {
	cmd := trigger.(*placeOrder)
	s.State.OrderID = cmd.OrderID
	return s.Raise(&orderAccepted{OrderID: cmd.OrderID})
}

func (s *checkoutSaga) MarshalState() ([]byte, error) {
	return Marshal(s.State)
}

func (s *checkoutSaga) UnmarshalState(data []byte) error {
	return Unmarshal(data, &s.State)
}

type collectingEndpoint struct {
	name string

	mu   sync.Mutex
	sent []OutgoingPackage
}

func (e *collectingEndpoint) Name() string { return e.name }

func (e *collectingEndpoint) Send(ctx context.Context, out OutgoingPackage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, out)
	return nil
}

func TestFacadeOrderWorkflow(t *testing.T) {
	const (
		placeOrderKey    = "orders.place"
		orderAcceptedKey = "orders.accepted"
		checkoutClass    = "CheckoutSaga"
	)

	registry := NewMessageRegistry()
	if err := registry.RegisterCommand(placeOrderKey, func() Message { return &placeOrder{} }); err != nil {
		t.Fatalf("unexpected registration error: %v", err)
	}
	if err := registry.RegisterEvent(orderAcceptedKey, func() Message { return &orderAccepted{} }); err != nil {
		t.Fatalf("unexpected registration error: %v", err)
	}
	if err := registry.Freeze(); err != nil {
		t.Fatalf("unexpected freeze error: %v", err)
	}

	metadata := NewSagaMetadataCollection()
	if err := metadata.Add(SagaMetadata{
		Class:   checkoutClass,
		IDField: "OrderID",
		Factory: func() Saga { return &checkoutSaga{} },
	}); err != nil {
		t.Fatalf("unexpected metadata error: %v", err)
	}

	store := NewInMemorySagaStore()
	provider := NewSagaProvider(store, metadata, NopLogger(), SagaProviderConfig{})

	catalog := NewHandlerCatalog()
	if err := catalog.Add(HandlerDescriptor{
		MessageType: placeOrderKey,
		Handler: func(ctx context.Context, m Message, kctx *KernelContext) error {
			meta, err := metadata.Get(checkoutClass)
			if err != nil {
				return err
			}
			id, err := SagaIDFromMessage(meta, m)
			if err != nil {
				return err
			}
			_, err = provider.Start(ctx, id, m, kctx)
			return err
		},
	}); err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}

	router, err := NewRouter(catalog, registry, RouterDeps{})
	if err != nil {
		t.Fatalf("unexpected router error: %v", err)
	}

	jsonCodec := NewJSONCodec(registry)
	endpoints := NewEndpointRouter()
	accepted := &collectingEndpoint{name: "projections"}
	if err := endpoints.Add(orderAcceptedKey, accepted); err != nil {
		t.Fatalf("unexpected endpoint error: %v", err)
	}
	endpoints.Freeze()

	processor := NewEntryPointProcessor(jsonCodec, jsonCodec, registry, router, endpoints, NopLogger())

	payload, key, err := jsonCodec.Encode(&placeOrder{OrderID: "o1"})
	if err != nil {
		t.Fatalf("unexpected encode error: %v", err)
	}
	pkg := NewIncomingPackage("p1", "t1", payload, map[string]string{HeaderMessageType: key}, nil)

	if err := processor.Handle(context.Background(), pkg); err != nil {
		t.Fatalf("unexpected handle error: %v", err)
	}

	if !pkg.Acknowledged() {
		t.Fatal("expected the package acknowledged")
	}

	stored, err := store.Load(context.Background(), NewSagaIDWithValue("o1", checkoutClass))
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if stored == nil || stored.Status != SagaInProgress {
		t.Fatalf("expected a persisted in-progress saga, got %+v", stored)
	}

	accepted.mu.Lock()
	defer accepted.mu.Unlock()
	if len(accepted.sent) != 1 {
		t.Fatalf("expected the raised event on the endpoint, got %d packages", len(accepted.sent))
	}
	if accepted.sent[0].TraceID != "t1" {
		t.Fatalf("expected the trace id propagated from the package, got %q", accepted.sent[0].TraceID)
	}
}
