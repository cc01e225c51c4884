package marshal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// Type tags of the built-in serializers
const (
	TagBytes    = "bytes"
	TagNilBytes = "nil_bytes"
	TagString   = "string"
	TagInt      = "int"
	TagInt32    = "int32"
	TagInt64    = "int64"
	TagFloat64  = "float64"
	TagBool     = "bool"
	TagJSON     = "json"
	TagNil      = "nil"
)

// --------------------------------------------------------------------------
// bytes
// --------------------------------------------------------------------------

type bytesSerializer struct{}

func (bytesSerializer) TypeTag() string           { return TagBytes }
func (bytesSerializer) CanDecode(tag string) bool { return tag == TagBytes }

func (bytesSerializer) CanHandle(v any) bool {
	_, ok := v.([]byte)
	return ok
}

func (bytesSerializer) Encode(v any) ([]byte, error) {
	return v.([]byte), nil
}

func (bytesSerializer) Decode(content []byte) (any, error) {
	return append([]byte{}, content...), nil
}

// nilBytesSerializer keeps a nil byte slice apart from an empty one, the wire
// does not distinguish nil and empty content
type nilBytesSerializer struct{}

func (nilBytesSerializer) TypeTag() string           { return TagNilBytes }
func (nilBytesSerializer) CanDecode(tag string) bool { return tag == TagNilBytes }

func (nilBytesSerializer) CanHandle(v any) bool {
	b, ok := v.([]byte)
	return ok && b == nil
}

func (nilBytesSerializer) Encode(any) ([]byte, error) { return nil, nil }

func (nilBytesSerializer) Decode(content []byte) (any, error) {
	if len(content) != 0 {
		return nil, fmt.Errorf("nil bytes carry no content, got %d bytes", len(content))
	}
	return []byte(nil), nil
}

// --------------------------------------------------------------------------
// string
// --------------------------------------------------------------------------

type stringSerializer struct{}

func (stringSerializer) TypeTag() string           { return TagString }
func (stringSerializer) CanDecode(tag string) bool { return tag == TagString }

func (stringSerializer) CanHandle(v any) bool {
	_, ok := v.(string)
	return ok
}

func (stringSerializer) Encode(v any) ([]byte, error) {
	return []byte(v.(string)), nil
}

func (stringSerializer) Decode(content []byte) (any, error) {
	return string(content), nil
}

// --------------------------------------------------------------------------
// integers (every integer type keeps its own tag, decoding yields the encoded type)
// --------------------------------------------------------------------------

type integer interface {
	~int | ~int32 | ~int64
}

type intSerializer[T integer] struct {
	tag string
}

func (s intSerializer[T]) TypeTag() string           { return s.tag }
func (s intSerializer[T]) CanDecode(tag string) bool { return tag == s.tag }

func (s intSerializer[T]) CanHandle(v any) bool {
	_, ok := v.(T)
	return ok
}

func (s intSerializer[T]) Encode(v any) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, uint64(int64(v.(T)))), nil
}

func (s intSerializer[T]) Decode(content []byte) (any, error) {
	if len(content) != 8 {
		return nil, fmt.Errorf("%s needs 8 bytes, got %d", s.tag, len(content))
	}
	n := int64(binary.BigEndian.Uint64(content))
	if int64(T(n)) != n {
		return nil, fmt.Errorf("%d overflows %s", n, s.tag)
	}
	return T(n), nil
}

// --------------------------------------------------------------------------
// float64
// --------------------------------------------------------------------------

type float64Serializer struct{}

func (float64Serializer) TypeTag() string           { return TagFloat64 }
func (float64Serializer) CanDecode(tag string) bool { return tag == TagFloat64 }

func (float64Serializer) CanHandle(v any) bool {
	_, ok := v.(float64)
	return ok
}

func (float64Serializer) Encode(v any) ([]byte, error) {
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(v.(float64))), nil
}

func (float64Serializer) Decode(content []byte) (any, error) {
	if len(content) != 8 {
		return nil, fmt.Errorf("float64 needs 8 bytes, got %d", len(content))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(content)), nil
}

// --------------------------------------------------------------------------
// bool
// --------------------------------------------------------------------------

type boolSerializer struct{}

func (boolSerializer) TypeTag() string           { return TagBool }
func (boolSerializer) CanDecode(tag string) bool { return tag == TagBool }

func (boolSerializer) CanHandle(v any) bool {
	_, ok := v.(bool)
	return ok
}

func (boolSerializer) Encode(v any) ([]byte, error) {
	if v.(bool) {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (boolSerializer) Decode(content []byte) (any, error) {
	if len(content) != 1 {
		return nil, fmt.Errorf("bool needs 1 byte, got %d", len(content))
	}
	return content[0] != 0, nil
}

// --------------------------------------------------------------------------
// json (structured values made of JSON types only, so decoding gives back the same tree)
// --------------------------------------------------------------------------

type jsonSerializer struct{}

func (jsonSerializer) TypeTag() string           { return TagJSON }
func (jsonSerializer) CanDecode(tag string) bool { return tag == TagJSON }

func (jsonSerializer) CanHandle(v any) bool {
	m, ok := v.(map[string]any)
	return ok && m != nil && isJSONTree(m)
}

// isJSONTree reports whether v only contains values encoding/json decodes into
// their own type: string, float64, bool, nil, []any and map[string]any
func isJSONTree(v any) bool {
	switch x := v.(type) {
	case nil, string, bool:
		return true
	case float64:
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	case []any:
		if x == nil {
			return false
		}
		for _, e := range x {
			if !isJSONTree(e) {
				return false
			}
		}
		return true
	case map[string]any:
		if x == nil {
			return false
		}
		for _, e := range x {
			if !isJSONTree(e) {
				return false
			}
		}
		return true
	}
	return false
}

func (jsonSerializer) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonSerializer) Decode(content []byte) (any, error) {
	var m map[string]any
	if err := json.Unmarshal(content, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("json content is not an object")
	}
	return m, nil
}

// --------------------------------------------------------------------------
// nil (procedures without a return value)
// --------------------------------------------------------------------------

type nilSerializer struct{}

func (nilSerializer) TypeTag() string            { return TagNil }
func (nilSerializer) CanDecode(tag string) bool  { return tag == TagNil }
func (nilSerializer) CanHandle(v any) bool       { return v == nil }
func (nilSerializer) Encode(any) ([]byte, error) { return nil, nil }
func (nilSerializer) Decode([]byte) (any, error) { return nil, nil }
