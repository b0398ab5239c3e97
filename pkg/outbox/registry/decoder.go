package registry

import (
	"encoding/json"
	"fmt"

	"github.com/herfa-app/herfa-backend/pkg/enums"
)

// DecoderFunc turns an envelope's data field into a typed payload.
type DecoderFunc func(data json.RawMessage) (any, error)

type schema struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry lets a consumer accept several payload versions of the same
// event while producers roll forward. Populate it before the consumer starts;
// lookups are not synchronised with Register.
type DecoderRegistry struct {
	decoders map[schema]DecoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: map[schema]DecoderFunc{}}
}

func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, fn DecoderFunc) {
	r.decoders[schema{eventType, version}] = fn
}

// RegisterJSON registers a decoder that unmarshals data into a T value.
func RegisterJSON[T any](r *DecoderRegistry, eventType enums.OutboxEventType, version int) {
	r.Register(eventType, version, func(data json.RawMessage) (any, error) {
		var out T
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode %s v%d: %w", eventType, version, err)
		}
		return out, nil
	})
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	fn, ok := r.decoders[schema{eventType, version}]
	if !ok {
		return nil, fmt.Errorf("no decoder for %s v%d", eventType, version)
	}
	return fn(data)
}
