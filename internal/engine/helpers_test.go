package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/AndrewSinukov/service-bus/internal/engine/envelope"
	"github.com/AndrewSinukov/service-bus/internal/engine/logging"
	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

// Test message types shared across the engine tests.
type orderEvent struct{}

type orderPlaced struct {
	OrderID string `json:"order_id"`
}

type reserveStock struct {
	OrderID string `json:"order_id"`
}

type checkStock struct {
	SKU string `json:"sku"`
}

const (
	orderEventKey   = "orders.event"
	orderPlacedKey  = "orders.order_placed"
	reserveStockKey = "stock.reserve"
	checkStockKey   = "stock.check"
)

func newTestRegistry(t *testing.T) *msgs.Registry {
	t.Helper()

	registry := msgs.NewRegistry()
	mustRegister := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected registration error: %v", err)
		}
	}

	mustRegister(registry.RegisterEvent(orderEventKey, func() msgs.Message { return &orderEvent{} }))
	mustRegister(registry.RegisterEvent(orderPlacedKey, func() msgs.Message { return &orderPlaced{} }, msgs.WithParents(orderEventKey)))
	mustRegister(registry.RegisterCommand(reserveStockKey, func() msgs.Message { return &reserveStock{} }))
	mustRegister(registry.RegisterQuery(checkStockKey, func() msgs.Message { return &checkStock{} }))

	if err := registry.Freeze(); err != nil {
		t.Fatalf("unexpected freeze error: %v", err)
	}
	return registry
}

type logRecord struct {
	level   string
	channel string
	msg     string
	err     error
	fields  logging.Fields
}

// testLogger records everything logged through it, preserving the bound
// channel so channel routing can be asserted.
type testLogger struct {
	mu      *sync.Mutex
	records *[]logRecord
	channel string
	fields  logging.Fields
}

func newTestLogger() *testLogger {
	return &testLogger{
		mu:      &sync.Mutex{},
		records: &[]logRecord{},
	}
}

func (l *testLogger) With(fields logging.Fields) logging.Logger {
	merged := logging.Fields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &testLogger{mu: l.mu, records: l.records, channel: l.channel, fields: merged}
}

func (l *testLogger) Channel(name string) logging.Logger {
	return &testLogger{mu: l.mu, records: l.records, channel: name, fields: l.fields}
}

func (l *testLogger) record(level, msg string, err error, fields logging.Fields) {
	l.mu.Lock()
	defer l.mu.Unlock()
	merged := logging.Fields{}
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	*l.records = append(*l.records, logRecord{
		level:   level,
		channel: l.channel,
		msg:     msg,
		err:     err,
		fields:  merged,
	})
}

func (l *testLogger) Debug(msg string, fields logging.Fields)   { l.record("debug", msg, nil, fields) }
func (l *testLogger) Info(msg string, fields logging.Fields)    { l.record("info", msg, nil, fields) }
func (l *testLogger) Warning(msg string, fields logging.Fields) { l.record("warning", msg, nil, fields) }

func (l *testLogger) Error(msg string, err error, fields logging.Fields) {
	l.record("error", msg, err, fields)
}

func (l *testLogger) Critical(msg string, err error, fields logging.Fields) {
	l.record("critical", msg, err, fields)
}

func (l *testLogger) all() []logRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	clone := make([]logRecord, len(*l.records))
	copy(clone, *l.records)
	return clone
}

func (l *testLogger) count(level string) int {
	n := 0
	for _, r := range l.all() {
		if r.level == level {
			n++
		}
	}
	return n
}

// testEndpoint records outgoing packages instead of touching a transport.
type testEndpoint struct {
	name string
	err  error

	mu   sync.Mutex
	sent []envelope.Outgoing
}

func (e *testEndpoint) Name() string { return e.name }

func (e *testEndpoint) Send(ctx context.Context, out envelope.Outgoing) error {
	if e.err != nil {
		return e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, out)
	return nil
}

func (e *testEndpoint) outgoing() []envelope.Outgoing {
	e.mu.Lock()
	defer e.mu.Unlock()
	clone := make([]envelope.Outgoing, len(e.sent))
	copy(clone, e.sent)
	return clone
}

// testAcker counts terminal acknowledgements reaching the transport.
type testAcker struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	requeue bool
	ackErr  error
}

func (a *testAcker) Ack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return a.ackErr
}

func (a *testAcker) Nack(requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	a.requeue = requeue
	return nil
}

func (a *testAcker) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks
}

type staticValidator struct {
	violations []Violation
}

func (v *staticValidator) Validate(_ msgs.Message, _ []string) []Violation {
	return v.violations
}
