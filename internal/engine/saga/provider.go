package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AndrewSinukov/service-bus/internal/engine"
	"github.com/AndrewSinukov/service-bus/internal/engine/codec"
	"github.com/AndrewSinukov/service-bus/internal/engine/logging"
	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
	"github.com/AndrewSinukov/service-bus/internal/engine/storage"
)

// MessageDeliverer is the slice of the kernel context the provider needs to
// emit a saga's fired commands and raised events.
type MessageDeliverer interface {
	Delivery(ctx context.Context, m msgs.Message, opts ...engine.DeliveryOption) error
}

// ProviderConfig customises provider behaviour. Zero values fall back to
// library defaults.
type ProviderConfig struct {
	// RetryAttempts bounds the total number of store attempts, the first one
	// included; only transient store failures lead to another attempt.
	RetryAttempts int
	// RetryDelay is the constant backoff between attempts.
	RetryDelay time.Duration
}

func (cfg ProviderConfig) withDefaults() ProviderConfig {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2000 * time.Millisecond
	}
	return cfg
}

// Provider drives the saga lifecycle: Start creates and persists a new
// instance, Obtain loads (and expires) existing ones, Save persists
// mutations. After every successful persist the queued messages are emitted
// through the delivery context, commands first, then events — the store is
// the system of record, so nothing is emitted that is not durably backed by
// saga state.
type Provider struct {
	store    Store
	metadata *MetadataCollection
	logger   logging.Logger
	cfg      ProviderConfig
	locks    *keyedMutex
}

func NewProvider(store Store, metadata *MetadataCollection, logger logging.Logger, cfg ProviderConfig) *Provider {
	if store == nil {
		panic("servicebus: saga provider requires a store")
	}
	if metadata == nil {
		panic("servicebus: saga provider requires a metadata collection")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	metadata.Freeze()

	return &Provider{
		store:    store,
		metadata: metadata,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		locks:    newKeyedMutex(),
	}
}

// Start creates a saga for the id, invokes its entry point with the trigger
// command, and persists it. An unregistered saga class surfaces
// MetadataNotFoundError and a colliding id DuplicateIDError; every other
// failure is wrapped as StartFailedError.
func (p *Provider) Start(ctx context.Context, id ID, trigger msgs.Message, dctx MessageDeliverer) (Saga, error) {
	unlock := p.locks.lock(id.String())
	defer unlock()

	meta, err := p.metadata.Get(id.Class)
	if err != nil {
		return nil, err
	}

	expiry := meta.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}

	now := time.Now().UTC()
	s := meta.Factory()
	s.header().init(id, now, now.Add(expiry))

	if err := s.Start(ctx, trigger); err != nil {
		return nil, &StartFailedError{ID: id, Err: err}
	}

	if err := p.doStore(ctx, s, dctx, true); err != nil {
		var constraint *storage.UniqueConstraintError
		if errors.As(err, &constraint) {
			return nil, &DuplicateIDError{ID: id}
		}
		return nil, &StartFailedError{ID: id, Err: err}
	}
	return s, nil
}

// Obtain loads the saga for the id. A missing saga returns nil without
// error. For a saga past its expire date ExpiredError is raised; if it is
// still in progress it is first transitioned to expired, persisted, and its
// queued events flushed, while an already terminal saga keeps its status.
func (p *Provider) Obtain(ctx context.Context, id ID, dctx MessageDeliverer) (Saga, error) {
	unlock := p.locks.lock(id.String())
	defer unlock()

	s, err := p.doLoad(ctx, id)
	if err != nil {
		var notFound *MetadataNotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}
		return nil, &LoadFailedError{ID: id, Err: err}
	}
	if s == nil {
		return nil, nil
	}

	if s.ExpireDate().After(time.Now().UTC()) {
		return s, nil
	}

	if err := p.doCloseExpired(ctx, s, dctx); err != nil {
		return nil, &LoadFailedError{ID: id, Err: err}
	}
	return nil, &ExpiredError{ID: id}
}

// Save persists a mutated saga and emits its queued messages. Saving a saga
// that was never started fails: silent upserts would resurrect runaway
// instances.
func (p *Provider) Save(ctx context.Context, s Saga, dctx MessageDeliverer) error {
	id := s.ID()
	unlock := p.locks.lock(id.String())
	defer unlock()

	return p.save(ctx, s, dctx)
}

// save is the lock-free core of Save, shared with doCloseExpired which
// already holds the id lock.
func (p *Provider) save(ctx context.Context, s Saga, dctx MessageDeliverer) error {
	id := s.ID()

	existing, err := p.store.Load(ctx, id)
	if err != nil {
		return &SaveFailedError{ID: id, Err: err}
	}
	if existing == nil {
		return &SaveFailedError{ID: id, Reason: "saga does not exist, use Start to create it"}
	}

	if err := p.doStore(ctx, s, dctx, false); err != nil {
		return &SaveFailedError{ID: id, Err: err}
	}
	return nil
}

// doStore serializes the saga, persists it with retry on transient storage
// failures, and only then emits the queued messages in insertion order,
// commands before events. Drainage tracks emission: each message leaves the
// queue only once delivered, so a failed delivery keeps the remainder queued
// and a retried save re-emits exactly the undelivered tail.
func (p *Provider) doStore(ctx context.Context, s Saga, dctx MessageDeliverer, isNew bool) error {
	payload, err := encodePayload(s)
	if err != nil {
		return err
	}

	stored := StoredSaga{
		ID:         s.ID(),
		Status:     s.Status(),
		Payload:    payload,
		CreatedAt:  s.CreatedAt(),
		ExpireDate: s.ExpireDate(),
	}
	if closedAt, ok := s.ClosedAt(); ok {
		stored.ClosedAt = &closedAt
	}

	operation := p.store.Update
	if isNew {
		operation = p.store.Save
	}

	if err := p.withRetry(ctx, s.ID(), func() error {
		return operation(ctx, stored)
	}); err != nil {
		return err
	}

	if dctx == nil {
		return nil
	}

	hdr := s.header()
	for len(hdr.firedCommands) > 0 {
		if err := dctx.Delivery(ctx, hdr.firedCommands[0]); err != nil {
			return fmt.Errorf("failed to deliver fired command: %w", err)
		}
		hdr.firedCommands = hdr.firedCommands[1:]
	}
	hdr.firedCommands = nil
	for len(hdr.raisedEvents) > 0 {
		if err := dctx.Delivery(ctx, hdr.raisedEvents[0]); err != nil {
			return fmt.Errorf("failed to deliver raised event: %w", err)
		}
		hdr.raisedEvents = hdr.raisedEvents[1:]
	}
	hdr.raisedEvents = nil
	return nil
}

// withRetry runs the store operation up to RetryAttempts times with a
// constant backoff, but only for transient storage errors. Everything else,
// unique-constraint violations included, propagates immediately.
func (p *Provider) withRetry(ctx context.Context, id ID, operation func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = operation()
		if err == nil {
			return nil
		}
		if !storage.IsTransient(err) || attempt >= p.cfg.RetryAttempts {
			return err
		}

		p.logger.Warning("transient saga store failure, retrying", logging.Fields{
			"saga_id": id.String(),
			"attempt": attempt,
			"error":   err.Error(),
		})

		timer := time.NewTimer(p.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// doCloseExpired transitions an in-progress saga to expired and persists it.
// Already-terminal sagas are left untouched.
func (p *Provider) doCloseExpired(ctx context.Context, s Saga, dctx MessageDeliverer) error {
	if s.Status() != StatusInProgress {
		return nil
	}
	s.MakeExpired()
	return p.save(ctx, s, dctx)
}

// doLoad reads the stored row and reconstitutes the concrete saga instance
// through its registered factory.
func (p *Provider) doLoad(ctx context.Context, id ID) (Saga, error) {
	stored, err := p.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}

	meta, err := p.metadata.Get(id.Class)
	if err != nil {
		return nil, err
	}

	state, err := decodePayload(id, stored.Payload)
	if err != nil {
		return nil, err
	}

	s := meta.Factory()
	s.header().restore(id, stored.Status, stored.CreatedAt, stored.ExpireDate, stored.ClosedAt)
	if err := s.UnmarshalState(state); err != nil {
		return nil, fmt.Errorf("failed to restore saga state: %w", err)
	}
	return s, nil
}

// payloadVersion tags the persisted saga blob layout. Loading an unknown
// version fails loudly instead of silently corrupting state.
const payloadVersion = 1

type storedPayload struct {
	Version int             `json:"version"`
	Class   string          `json:"class"`
	State   json.RawMessage `json:"state"`
}

func encodePayload(s Saga) ([]byte, error) {
	state, err := s.MarshalState()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize saga state: %w", err)
	}
	return codec.Marshal(storedPayload{
		Version: payloadVersion,
		Class:   s.ID().Class,
		State:   state,
	})
}

func decodePayload(id ID, payload []byte) ([]byte, error) {
	var envelope storedPayload
	if err := codec.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode saga payload: %w", err)
	}
	if envelope.Version != payloadVersion {
		return nil, fmt.Errorf("unsupported saga payload version %d for %s", envelope.Version, id)
	}
	if envelope.Class != id.Class {
		return nil, fmt.Errorf("saga payload class %q does not match %s", envelope.Class, id)
	}
	return envelope.State, nil
}

// keyedMutex serializes provider operations per saga id: one in-flight
// operation per key. Entries are reference counted and removed when idle.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &lockEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
