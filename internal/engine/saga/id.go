package saga

import (
	"fmt"

	idspkg "github.com/AndrewSinukov/service-bus/internal/engine/ids"
)

// ID identifies one saga instance. The identifier is only meaningful together
// with its saga class: two ids are equal iff both fields match.
type ID struct {
	Value string
	Class string
}

// NewID mints a fresh id for the saga class.
func NewID(class string) ID {
	return ID{Value: idspkg.CreateULID(), Class: class}
}

// NewIDWithValue builds an id from an existing correlation value, for example
// one extracted from a trigger message.
func NewIDWithValue(value, class string) ID {
	return ID{Value: value, Class: class}
}

func (id ID) Equal(other ID) bool {
	return id.Value == other.Value && id.Class == other.Class
}

func (id ID) IsZero() bool {
	return id.Value == "" && id.Class == ""
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%s", id.Class, id.Value)
}
