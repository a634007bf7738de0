// Package codec turns transport packages into typed domain messages and back.
// The JSON codec resolves the concrete type through the message registry
// using the type-key header stamped on every outgoing package.
package codec

import (
	"fmt"
	"io"

	"github.com/bytedance/sonic"

	"github.com/AndrewSinukov/service-bus/internal/engine/envelope"
	msgs "github.com/AndrewSinukov/service-bus/internal/engine/message"
)

var defaultConfig = sonic.ConfigStd

// Marshal and friends expose the engine-wide JSON configuration so saga
// payloads and snapshots encode the same way messages do.
func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}

// DecodeFailedError reports a package whose payload could not be turned into
// a typed message. The processor logs and acks it; a malformed message must
// not poison the queue.
type DecodeFailedError struct {
	PackageID string
	TraceID   string
	Err       error
}

func (e *DecodeFailedError) Error() string {
	return fmt.Sprintf("servicebus: decode failed for package %s (trace %s): %v", e.PackageID, e.TraceID, e.Err)
}

func (e *DecodeFailedError) Unwrap() error { return e.Err }

// Decoder turns a package into a typed domain message.
type Decoder interface {
	Decode(pkg *envelope.Incoming) (msgs.Message, error)
}

// Encoder turns a typed message into payload bytes plus its type key.
type Encoder interface {
	Encode(m msgs.Message) (payload []byte, typeKey string, err error)
}

// JSONCodec is the registry-backed JSON implementation of both contracts.
type JSONCodec struct {
	registry *msgs.Registry
}

func NewJSONCodec(registry *msgs.Registry) *JSONCodec {
	if registry == nil {
		panic("servicebus: message registry cannot be nil")
	}
	return &JSONCodec{registry: registry}
}

func (c *JSONCodec) Decode(pkg *envelope.Incoming) (msgs.Message, error) {
	key := pkg.Header(envelope.HeaderMessageType)
	if key == "" {
		return nil, &DecodeFailedError{
			PackageID: pkg.ID(),
			TraceID:   pkg.TraceID(),
			Err:       fmt.Errorf("missing %s header", envelope.HeaderMessageType),
		}
	}

	m, ok := c.registry.New(key)
	if !ok {
		return nil, &DecodeFailedError{
			PackageID: pkg.ID(),
			TraceID:   pkg.TraceID(),
			Err:       fmt.Errorf("unknown message type %q", key),
		}
	}

	if err := Unmarshal(pkg.Payload(), m); err != nil {
		return nil, &DecodeFailedError{
			PackageID: pkg.ID(),
			TraceID:   pkg.TraceID(),
			Err:       err,
		}
	}
	return m, nil
}

func (c *JSONCodec) Encode(m msgs.Message) ([]byte, string, error) {
	key, ok := c.registry.KeyOf(m)
	if !ok {
		return nil, "", fmt.Errorf("servicebus: message type %T is not registered", m)
	}
	payload, err := Marshal(m)
	if err != nil {
		return nil, "", fmt.Errorf("servicebus: failed to marshal %q: %w", key, err)
	}
	return payload, key, nil
}
