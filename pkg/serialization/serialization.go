package serialization

const (
	// JSONType selects JSON payload serialization.
	JSONType = "json"
	// GobType selects gob payload serialization.
	GobType = "gob"
)

// Decoder decodes a serialized payload into a value.
type Decoder interface {
	Decode(v any) error
}

// Encoder serializes a value.
type Encoder interface {
	Encode(v any) error
}
