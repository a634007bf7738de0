package saga

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

// DefaultExpiry is applied when a saga class declares no expiry modifier.
const DefaultExpiry = time.Hour

// Metadata describes one saga class: how long an instance may live, which
// trigger-message field carries the correlation value, and how to construct
// an empty instance.
type Metadata struct {
	Class   string
	Expiry  time.Duration
	IDField string
	Factory func() Saga
}

func (m Metadata) validate() error {
	if m.Class == "" {
		return fmt.Errorf("servicebus: saga metadata requires a class name")
	}
	if m.Factory == nil {
		return fmt.Errorf("servicebus: saga metadata for %q requires a factory", m.Class)
	}
	if m.Expiry < 0 {
		return fmt.Errorf("servicebus: saga metadata for %q has a negative expiry", m.Class)
	}
	return nil
}

// MetadataCollection is the frozen set of saga classes known to a provider.
type MetadataCollection struct {
	mu      sync.RWMutex
	byClass map[string]Metadata
	frozen  bool
}

func NewMetadataCollection() *MetadataCollection {
	return &MetadataCollection{byClass: make(map[string]Metadata)}
}

func (c *MetadataCollection) Add(m Metadata) error {
	if err := m.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen {
		return fmt.Errorf("servicebus: saga metadata collection is frozen, cannot add %q", m.Class)
	}
	if _, ok := c.byClass[m.Class]; ok {
		return fmt.Errorf("servicebus: saga class %q already registered", m.Class)
	}
	c.byClass[m.Class] = m
	return nil
}

// Freeze makes the collection immutable.
func (c *MetadataCollection) Freeze() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = true
}

// Get returns the metadata for a saga class.
func (c *MetadataCollection) Get(class string) (Metadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.byClass[class]
	if !ok {
		return Metadata{}, &MetadataNotFoundError{Class: class}
	}
	return m, nil
}

// IDFromMessage extracts the saga id from a trigger message using the
// metadata's declared field name. The field must be a string or satisfy
// fmt.Stringer.
func IDFromMessage(meta Metadata, m msgs.Message) (ID, error) {
	if meta.IDField == "" {
		return ID{}, fmt.Errorf("servicebus: saga class %q declares no id field", meta.Class)
	}

	value := reflect.ValueOf(m)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return ID{}, fmt.Errorf("servicebus: cannot extract saga id from nil message")
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return ID{}, fmt.Errorf("servicebus: cannot extract saga id from %T", m)
	}

	field := value.FieldByName(meta.IDField)
	if !field.IsValid() {
		return ID{}, fmt.Errorf("servicebus: message %T has no field %q", m, meta.IDField)
	}

	switch v := field.Interface().(type) {
	case string:
		if v == "" {
			return ID{}, fmt.Errorf("servicebus: message %T carries an empty saga id in %q", m, meta.IDField)
		}
		return NewIDWithValue(v, meta.Class), nil
	case fmt.Stringer:
		return NewIDWithValue(v.String(), meta.Class), nil
	default:
		return ID{}, fmt.Errorf("servicebus: field %q of %T is not a string", meta.IDField, m)
	}
}
