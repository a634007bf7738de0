package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AndrewSinukov/service-bus/internal/engine/storage"
)

func storedFixture(value string) StoredSaga {
	now := time.Now().UTC()
	return StoredSaga{
		ID:         NewIDWithValue(value, orderSagaClass),
		Status:     StatusInProgress,
		Payload:    []byte(`{"version":1,"class":"OrderSaga","state":{}}`),
		CreatedAt:  now,
		ExpireDate: now.Add(time.Hour),
	}
}

func TestInMemoryStoreSaveDetectsDuplicates(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, storedFixture("o1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := store.Save(ctx, storedFixture("o1"))
	var constraint *storage.UniqueConstraintError
	if !errors.As(err, &constraint) {
		t.Fatalf("expected UniqueConstraintError, got %v", err)
	}

	// Same value under a different class is a different key.
	other := storedFixture("o1")
	other.ID.Class = "PaymentSaga"
	if err := store.Save(ctx, other); err != nil {
		t.Fatalf("expected differing class to insert, got %v", err)
	}
}

func TestInMemoryStoreUpdateRequiresRow(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Update(ctx, storedFixture("o1")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Save(ctx, storedFixture("o1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated := storedFixture("o1")
	updated.Status = StatusCompleted
	if err := store.Update(ctx, updated); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	row, err := store.Load(ctx, updated.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row.Status != StatusCompleted {
		t.Fatalf("expected updated status, got %s", row.Status)
	}
}

func TestInMemoryStoreLoadMissingReturnsNil(t *testing.T) {
	store := NewInMemoryStore()

	row, err := store.Load(context.Background(), NewIDWithValue("missing", orderSagaClass))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row != nil {
		t.Fatal("expected nil row")
	}
}

func TestInMemoryStoreRemoveIsIdempotent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	stored := storedFixture("o1")

	if err := store.Save(ctx, stored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.Remove(ctx, stored.ID); err != nil {
			t.Fatalf("unexpected error on remove %d: %v", i, err)
		}
	}

	row, err := store.Load(ctx, stored.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if row != nil {
		t.Fatal("expected the row gone after remove")
	}
}
