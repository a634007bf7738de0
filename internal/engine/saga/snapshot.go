package saga

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AndrewSinukov/service-bus/internal/engine/codec"
	"github.com/AndrewSinukov/service-bus/internal/engine/storage"
)

// Snapshot is a point-in-time aggregate state used to short-circuit event
// replay. The payload is an opaque blob; only events with a version greater
// than the snapshot's are applied on top.
type Snapshot struct {
	AggregateID string    `json:"aggregate_id"`
	Version     uint64    `json:"version"`
	Payload     []byte    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// SnapshotStore persists aggregate snapshots keyed by aggregate id.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot Snapshot) error

	// Load returns the stored snapshot, or nil when absent.
	Load(ctx context.Context, aggregateID string) (*Snapshot, error)

	// Remove deletes the snapshot. Idempotent.
	Remove(ctx context.Context, aggregateID string) error
}

// InMemorySnapshotStore keeps snapshots in a map. Useful for tests.
type InMemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{snapshots: make(map[string]Snapshot)}
}

func (s *InMemorySnapshotStore) Save(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.AggregateID] = snapshot
	return nil
}

func (s *InMemorySnapshotStore) Load(ctx context.Context, aggregateID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[aggregateID]
	if !ok {
		return nil, nil
	}
	return &snapshot, nil
}

func (s *InMemorySnapshotStore) Remove(ctx context.Context, aggregateID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, aggregateID)
	return nil
}

// RedisSnapshotStore keeps snapshots in Redis, encoded as JSON.
type RedisSnapshotStore struct {
	client    redis.Cmdable
	keyPrefix string
	ttl       time.Duration
}

// RedisSnapshotOption customises a RedisSnapshotStore.
type RedisSnapshotOption func(*RedisSnapshotStore)

// WithSnapshotTTL expires stored snapshots after the duration. Zero keeps
// them forever.
func WithSnapshotTTL(ttl time.Duration) RedisSnapshotOption {
	return func(s *RedisSnapshotStore) { s.ttl = ttl }
}

// WithSnapshotKeyPrefix overrides the default "sb:snapshot:" key prefix.
func WithSnapshotKeyPrefix(prefix string) RedisSnapshotOption {
	return func(s *RedisSnapshotStore) { s.keyPrefix = prefix }
}

func NewRedisSnapshotStore(client redis.Cmdable, opts ...RedisSnapshotOption) *RedisSnapshotStore {
	if client == nil {
		panic("servicebus: redis snapshot store requires a client")
	}
	s := &RedisSnapshotStore{
		client:    client,
		keyPrefix: "sb:snapshot:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisSnapshotStore) key(aggregateID string) string {
	return s.keyPrefix + aggregateID
}

func (s *RedisSnapshotStore) Save(ctx context.Context, snapshot Snapshot) error {
	data, err := codec.Marshal(snapshot)
	if err != nil {
		return &storage.OperationError{Err: err}
	}
	if err := s.client.Set(ctx, s.key(snapshot.AggregateID), data, s.ttl).Err(); err != nil {
		return storage.Classify(err)
	}
	return nil
}

func (s *RedisSnapshotStore) Load(ctx context.Context, aggregateID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.key(aggregateID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, storage.Classify(err)
	}

	snapshot := &Snapshot{}
	if err := codec.Unmarshal(data, snapshot); err != nil {
		return nil, &storage.OperationError{Err: err}
	}
	return snapshot, nil
}

func (s *RedisSnapshotStore) Remove(ctx context.Context, aggregateID string) error {
	if err := s.client.Del(ctx, s.key(aggregateID)).Err(); err != nil {
		return storage.Classify(err)
	}
	return nil
}
