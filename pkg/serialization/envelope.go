package serialization

import (
	"encoding/json"
	"fmt"
)

// Envelope wraps every persisted record with its schema version so the
// on-disk format can evolve without a migration sweep.
type Envelope struct {
	Schema  int             `json:"schema"`
	Payload json.RawMessage `json:"payload"`
}

// EncodeEnvelope serializes v inside a versioned envelope.
func EncodeEnvelope(schema int, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return json.Marshal(Envelope{Schema: schema, Payload: payload})
}

// DecodeEnvelope deserializes an envelope produced by EncodeEnvelope into v.
// Records with a schema newer than maxSchema are rejected rather than
// misread.
func DecodeEnvelope(data []byte, maxSchema int, v any) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode envelope: %w", err)
	}
	if env.Schema < 1 || env.Schema > maxSchema {
		return fmt.Errorf("unsupported schema version %d (max %d)", env.Schema, maxSchema)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}
