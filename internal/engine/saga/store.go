package saga

import (
	"context"
	"sync"
	"time"

	"github.com/AndrewSinukov/service-bus/internal/engine/storage"
)

// StoredSaga is the persisted row for one saga: the lifecycle columns plus
// the opaque payload blob. (ID.Value, ID.Class) is the unique key.
type StoredSaga struct {
	ID         ID
	Status     Status
	Payload    []byte
	CreatedAt  time.Time
	ExpireDate time.Time
	ClosedAt   *time.Time
}

// Store is the durable backend for saga rows. Implementations translate
// driver failures into the storage error taxonomy.
type Store interface {
	// Save inserts a new row; an existing key surfaces
	// storage.UniqueConstraintError.
	Save(ctx context.Context, stored StoredSaga) error

	// Update rewrites an existing row; a missing key surfaces
	// storage.ErrNotFound.
	Update(ctx context.Context, stored StoredSaga) error

	// Load returns the stored row, or nil when absent.
	Load(ctx context.Context, id ID) (*StoredSaga, error)

	// Remove deletes the row. Idempotent.
	Remove(ctx context.Context, id ID) error
}

// InMemoryStore keeps saga rows in a map. Useful for tests and local
// development.
type InMemoryStore struct {
	mu   sync.RWMutex
	rows map[string]StoredSaga
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{rows: make(map[string]StoredSaga)}
}

func (s *InMemoryStore) Save(ctx context.Context, stored StoredSaga) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stored.ID.String()
	if _, ok := s.rows[key]; ok {
		return &storage.UniqueConstraintError{Key: key}
	}
	s.rows[key] = stored
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, stored StoredSaga) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := stored.ID.String()
	if _, ok := s.rows[key]; !ok {
		return storage.ErrNotFound
	}
	s.rows[key] = stored
	return nil
}

func (s *InMemoryStore) Load(ctx context.Context, id ID) (*StoredSaga, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.rows[id.String()]
	if !ok {
		return nil, nil
	}
	return &stored, nil
}

func (s *InMemoryStore) Remove(ctx context.Context, id ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id.String())
	return nil
}
