package saga

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMetadataCollectionValidatesEntries(t *testing.T) {
	collection := NewMetadataCollection()
	factory := func() Saga { return &orderSaga{} }

	tests := []struct {
		name string
		meta Metadata
	}{
		{name: "missing class", meta: Metadata{Factory: factory}},
		{name: "missing factory", meta: Metadata{Class: "OrderSaga"}},
		{name: "negative expiry", meta: Metadata{Class: "OrderSaga", Factory: factory, Expiry: -time.Hour}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := collection.Add(tt.meta); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMetadataCollectionRejectsDuplicatesAndLateAdds(t *testing.T) {
	collection := newTestMetadata(t)

	err := collection.Add(Metadata{Class: orderSagaClass, Factory: func() Saga { return &orderSaga{} }})
	if err == nil {
		t.Fatal("expected error for duplicate class")
	}

	collection.Freeze()
	err = collection.Add(Metadata{Class: "PaymentSaga", Factory: func() Saga { return &orderSaga{} }})
	if err == nil {
		t.Fatal("expected error adding to a frozen collection")
	}
}

func TestMetadataCollectionGet(t *testing.T) {
	collection := newTestMetadata(t)

	meta, err := collection.Get(orderSagaClass)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.IDField != "OrderID" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	_, err = collection.Get("GhostSaga")
	var notFound *MetadataNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected MetadataNotFoundError, got %v", err)
	}
	if notFound.Class != "GhostSaga" {
		t.Fatalf("expected the class on the error, got %q", notFound.Class)
	}
}

type stringerID struct{ v string }

func (s stringerID) String() string { return s.v }

func TestIDFromMessage(t *testing.T) {
	meta := Metadata{Class: orderSagaClass, IDField: "OrderID", Factory: func() Saga { return &orderSaga{} }}

	id, err := IDFromMessage(meta, &startOrder{OrderID: "o1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !id.Equal(NewIDWithValue("o1", orderSagaClass)) {
		t.Fatalf("unexpected id: %s", id)
	}

	type stringered struct{ OrderID stringerID }
	id, err = IDFromMessage(meta, &stringered{OrderID: stringerID{v: "o2"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Value != "o2" {
		t.Fatalf("expected stringer value, got %q", id.Value)
	}
}

func TestIDFromMessageFailures(t *testing.T) {
	factory := func() Saga { return &orderSaga{} }

	tests := []struct {
		name string
		meta Metadata
		msg  any
	}{
		{name: "no id field declared", meta: Metadata{Class: orderSagaClass, Factory: factory}, msg: &startOrder{OrderID: "o1"}},
		{name: "missing field", meta: Metadata{Class: orderSagaClass, IDField: "Missing", Factory: factory}, msg: &startOrder{OrderID: "o1"}},
		{name: "empty value", meta: Metadata{Class: orderSagaClass, IDField: "OrderID", Factory: factory}, msg: &startOrder{}},
		{name: "non-string field", meta: Metadata{Class: orderSagaClass, IDField: "Count", Factory: factory}, msg: &struct{ Count int }{Count: 1}},
		{name: "not a struct", meta: Metadata{Class: orderSagaClass, IDField: "OrderID", Factory: factory}, msg: "just a string"},
		{name: "nil pointer", meta: Metadata{Class: orderSagaClass, IDField: "OrderID", Factory: factory}, msg: (*startOrder)(nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := IDFromMessage(tt.meta, tt.msg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestIDStringFormat(t *testing.T) {
	id := NewIDWithValue("o1", "OrderSaga")
	if got := fmt.Sprintf("%s", id); got != "OrderSaga:o1" {
		t.Fatalf("unexpected format: %q", got)
	}
}
