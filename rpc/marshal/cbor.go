package marshal

import "github.com/fxamacker/cbor/v2"

// Type tags of the sample array serializers
const (
	TagFloat64s = "f64s"
	TagInt16s   = "i16s"
	TagInt64s   = "i64s"
)

// cborSerializer encodes values of type T as CBOR. It is used for numeric sample
// arrays, which CBOR stores compactly and other languages can read without a schema.
type cborSerializer[T any] struct {
	tag string
}

// NewCBORSerializer creates a serializer for values of exactly type T
func NewCBORSerializer[T any](tag string) IValueSerializer {
	return cborSerializer[T]{tag: tag}
}

func (c cborSerializer[T]) TypeTag() string           { return c.tag }
func (c cborSerializer[T]) CanDecode(tag string) bool { return tag == c.tag }

func (c cborSerializer[T]) CanHandle(v any) bool {
	_, ok := v.(T)
	return ok
}

func (c cborSerializer[T]) Encode(v any) ([]byte, error) {
	return cbor.Marshal(v.(T))
}

func (c cborSerializer[T]) Decode(content []byte) (any, error) {
	var out T
	if err := cbor.Unmarshal(content, &out); err != nil {
		return nil, err
	}
	return out, nil
}
