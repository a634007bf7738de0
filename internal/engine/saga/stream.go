package saga

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AndrewSinukov/service-bus/internal/engine/logging"
	"github.com/AndrewSinukov/service-bus/internal/engine/storage"
)

// StoredEvent is one persisted domain event on an aggregate stream. Versions
// are strictly increasing per aggregate.
type StoredEvent struct {
	AggregateID string    `json:"aggregate_id"`
	Version     uint64    `json:"version"`
	Payload     []byte    `json:"payload"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// EventStream reads and appends persisted aggregate events.
type EventStream interface {
	Append(ctx context.Context, events ...StoredEvent) error

	// Read returns events with a version strictly greater than fromVersion,
	// ordered by version.
	Read(ctx context.Context, aggregateID string, fromVersion uint64) ([]StoredEvent, error)
}

// Aggregate is reconstituted from its event stream, optionally fast-forwarded
// from a snapshot.
type Aggregate interface {
	AggregateID() string
	Version() uint64
	Apply(event StoredEvent) error
	MarshalState() ([]byte, error)
	UnmarshalState(data []byte, version uint64) error
}

// Replayer reconstitutes aggregates, using the snapshot store to skip the
// already-snapshotted prefix of the stream.
type Replayer struct {
	stream    EventStream
	snapshots SnapshotStore
	logger    logging.Logger
}

// NewReplayer builds a replayer. The snapshot store may be nil, in which case
// every replay starts from version zero.
func NewReplayer(stream EventStream, snapshots SnapshotStore, logger logging.Logger) *Replayer {
	if stream == nil {
		panic("servicebus: replayer requires an event stream")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Replayer{stream: stream, snapshots: snapshots, logger: logger}
}

// Replay fast-forwards the aggregate from its snapshot, then applies every
// newer event in version order.
func (r *Replayer) Replay(ctx context.Context, agg Aggregate) error {
	if r.snapshots != nil {
		snapshot, err := r.snapshots.Load(ctx, agg.AggregateID())
		if err != nil {
			return fmt.Errorf("servicebus: failed to load snapshot for %q: %w", agg.AggregateID(), err)
		}
		if snapshot != nil {
			if err := agg.UnmarshalState(snapshot.Payload, snapshot.Version); err != nil {
				return fmt.Errorf("servicebus: failed to restore snapshot for %q: %w", agg.AggregateID(), err)
			}
			r.logger.Debug("aggregate fast-forwarded from snapshot", logging.Fields{
				"aggregate_id": agg.AggregateID(),
				"version":      snapshot.Version,
			})
		}
	}

	events, err := r.stream.Read(ctx, agg.AggregateID(), agg.Version())
	if err != nil {
		return fmt.Errorf("servicebus: failed to read event stream for %q: %w", agg.AggregateID(), err)
	}
	for _, event := range events {
		if err := agg.Apply(event); err != nil {
			return fmt.Errorf("servicebus: failed to apply event v%d to %q: %w", event.Version, agg.AggregateID(), err)
		}
	}
	return nil
}

// SaveSnapshot captures the aggregate's current state into the snapshot
// store.
func (r *Replayer) SaveSnapshot(ctx context.Context, agg Aggregate) error {
	if r.snapshots == nil {
		return fmt.Errorf("servicebus: no snapshot store configured")
	}
	payload, err := agg.MarshalState()
	if err != nil {
		return fmt.Errorf("servicebus: failed to snapshot %q: %w", agg.AggregateID(), err)
	}
	return r.snapshots.Save(ctx, Snapshot{
		AggregateID: agg.AggregateID(),
		Version:     agg.Version(),
		Payload:     payload,
		CreatedAt:   time.Now().UTC(),
	})
}

// InMemoryEventStream keeps aggregate streams in a map. Useful for tests.
type InMemoryEventStream struct {
	mu      sync.RWMutex
	streams map[string][]StoredEvent
}

func NewInMemoryEventStream() *InMemoryEventStream {
	return &InMemoryEventStream{streams: make(map[string][]StoredEvent)}
}

func (s *InMemoryEventStream) Append(ctx context.Context, events ...StoredEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, event := range events {
		stream := s.streams[event.AggregateID]
		if n := len(stream); n > 0 && event.Version <= stream[n-1].Version {
			return &storage.UniqueConstraintError{
				Key: fmt.Sprintf("%s@%d", event.AggregateID, event.Version),
			}
		}
		s.streams[event.AggregateID] = append(stream, event)
	}
	return nil
}

func (s *InMemoryEventStream) Read(ctx context.Context, aggregateID string, fromVersion uint64) ([]StoredEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.streams[aggregateID]
	idx := sort.Search(len(stream), func(i int) bool {
		return stream[i].Version > fromVersion
	})
	out := make([]StoredEvent, len(stream)-idx)
	copy(out, stream[idx:])
	return out, nil
}
