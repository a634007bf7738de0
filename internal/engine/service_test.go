package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	configpkg "github.com/AndrewSinukov/service-bus/internal/engine/config"
	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		EntryPointName: "orders",
		Environment:    configpkg.EnvironmentTest,
		Transport:      "channel",
		Concurrency:    4,
	}
}

func TestNewServiceValidatesArguments(t *testing.T) {
	ctx := context.Background()
	registry := newTestRegistry(t)

	if _, err := NewService(ctx, nil, newTestLogger(), registry, NewCatalog(), ServiceDependencies{}); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := NewService(ctx, testConfig(), nil, registry, NewCatalog(), ServiceDependencies{}); err == nil {
		t.Fatal("expected error for nil logger")
	}
	if _, err := NewService(ctx, testConfig(), newTestLogger(), nil, NewCatalog(), ServiceDependencies{}); err == nil {
		t.Fatal("expected error for nil registry")
	}

	broken := testConfig()
	broken.EntryPointName = ""
	if _, err := NewService(ctx, broken, newTestLogger(), registry, NewCatalog(), ServiceDependencies{}); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestNewServiceRejectsUnknownTransport(t *testing.T) {
	conf := testConfig()
	conf.Transport = "carrier-pigeon"

	_, err := NewService(context.Background(), conf, newTestLogger(), newTestRegistry(t), NewCatalog(), ServiceDependencies{})
	if err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestServiceDeliveryAppliesKindSemantics(t *testing.T) {
	ctx := context.Background()
	svc, err := NewService(ctx, testConfig(), newTestLogger(), newTestRegistry(t), NewCatalog(), ServiceDependencies{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	// An unrouted command must surface the routing failure instead of
	// silently no-opping.
	var notConfigured *EndpointNotConfiguredError
	if err := svc.Delivery(ctx, &reserveStock{OrderID: "o1"}); !errors.As(err, &notConfigured) {
		t.Fatalf("expected EndpointNotConfiguredError for an unrouted command, got %v", err)
	}

	// An unrouted event is not an error.
	if err := svc.Delivery(ctx, &orderPlaced{OrderID: "o1"}); err != nil {
		t.Fatalf("expected an unrouted event to succeed, got %v", err)
	}
}

func TestServiceConsumesEntryPointQueue(t *testing.T) {
	received := make(chan *reserveStock, 1)

	catalog := NewCatalog()
	if err := catalog.Add(HandlerDescriptor{
		MessageType: reserveStockKey,
		Handler: func(ctx context.Context, m msgs.Message, kctx *KernelContext) error {
			received <- m.(*reserveStock)
			return nil
		},
	}); err != nil {
		t.Fatalf("unexpected catalog error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewService(ctx, testConfig(), newTestLogger(), newTestRegistry(t), catalog, ServiceDependencies{})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	// Route the command onto the service's own entry point queue so
	// Delivery feeds the consume loop.
	if err := svc.RouteToDestination(reserveStockKey, "orders"); err != nil {
		t.Fatalf("unexpected routing error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()

	// The in-memory transport drops messages published before the
	// subscription is up.
	time.Sleep(100 * time.Millisecond)

	if err := svc.Delivery(ctx, &reserveStock{OrderID: "o1"}); err != nil {
		t.Fatalf("unexpected delivery error: %v", err)
	}

	select {
	case cmd := <-received:
		if cmd.OrderID != "o1" {
			t.Fatalf("expected order o1, got %+v", cmd)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the handler")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the service to stop")
	}
}
