package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/AndrewSinukov/service-bus/internal/engine"
	"github.com/AndrewSinukov/service-bus/internal/engine/codec"
	"github.com/AndrewSinukov/service-bus/internal/engine/logging"
	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

const orderSagaClass = "OrderSaga"

// Trigger and fired message types used across the saga tests.
type startOrder struct {
	OrderID      string `json:"order_id"`
	FireMessages bool   `json:"fire_messages"`
}

type reserveStock struct {
	OrderID string `json:"order_id"`
}

type orderStarted struct {
	OrderID string `json:"order_id"`
}

type orderSagaState struct {
	OrderID string `json:"order_id"`
	Step    int    `json:"step"`
}

type orderSaga struct {
	Base
	State orderSagaState
}

func (s *orderSaga) Start(ctx context.Context, trigger msgs.Message) error {
	cmd := trigger.(*startOrder)
	s.State.OrderID = cmd.OrderID
	s.State.Step = 1

	if cmd.FireMessages {
		if err := s.Fire(&reserveStock{OrderID: cmd.OrderID}); err != nil {
			return err
		}
		if err := s.Raise(&orderStarted{OrderID: cmd.OrderID}); err != nil {
			return err
		}
	}
	return nil
}

func (s *orderSaga) MarshalState() ([]byte, error) {
	return codec.Marshal(s.State)
}

func (s *orderSaga) UnmarshalState(data []byte) error {
	return codec.Unmarshal(data, &s.State)
}

func newTestMetadata(t *testing.T) *MetadataCollection {
	t.Helper()

	collection := NewMetadataCollection()
	err := collection.Add(Metadata{
		Class:   orderSagaClass,
		Expiry:  time.Hour,
		IDField: "OrderID",
		Factory: func() Saga { return &orderSaga{} },
	})
	if err != nil {
		t.Fatalf("unexpected metadata error: %v", err)
	}
	return collection
}

func newTestProvider(t *testing.T, store Store, cfg ProviderConfig) *Provider {
	t.Helper()
	return NewProvider(store, newTestMetadata(t), logging.Nop(), cfg)
}

// recordingDeliverer collects delivered messages in order. A non-nil err
// fails every call, or only the failAt-th call (1-based) when failAt is set.
type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []msgs.Message
	calls     int
	err       error
	failAt    int
}

func (d *recordingDeliverer) Delivery(ctx context.Context, m msgs.Message, opts ...engine.DeliveryOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil && (d.failAt == 0 || d.calls == d.failAt) {
		return d.err
	}
	d.delivered = append(d.delivered, m)
	return nil
}

func (d *recordingDeliverer) all() []msgs.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	clone := make([]msgs.Message, len(d.delivered))
	copy(clone, d.delivered)
	return clone
}

// flakyStore fails the first n Save/Update calls with the configured error.
type flakyStore struct {
	Store

	mu       sync.Mutex
	failures int
	err      error
	saves    int
	updates  int
}

func (f *flakyStore) Save(ctx context.Context, stored StoredSaga) error {
	f.mu.Lock()
	f.saves++
	fail := f.saves <= f.failures
	f.mu.Unlock()
	if fail {
		return f.err
	}
	return f.Store.Save(ctx, stored)
}

func (f *flakyStore) Update(ctx context.Context, stored StoredSaga) error {
	f.mu.Lock()
	f.updates++
	fail := f.updates <= f.failures
	f.mu.Unlock()
	if fail {
		return f.err
	}
	return f.Store.Update(ctx, stored)
}

func (f *flakyStore) saveAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}
