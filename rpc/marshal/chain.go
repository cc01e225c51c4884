package marshal

import (
	"encoding/binary"

	"github.com/ValentinKolb/dComm/rpc/common"
)

// IValueSerializer converts values of the types it handles to bytes and back
type IValueSerializer interface {
	// TypeTag is written next to the encoded content and selects the decoder on the other side
	TypeTag() string
	// CanHandle reports whether the serializer can encode v
	CanHandle(v any) bool
	// CanDecode reports whether the serializer can decode content with the given tag
	CanDecode(tag string) bool
	// Encode converts v to bytes. It is only called when CanHandle(v) is true.
	Encode(v any) ([]byte, error)
	// Decode converts content produced by Encode back into a value
	Decode(content []byte) (any, error)
}

// Chain is an ordered list of serializers. The first serializer accepting a value
// (or a type tag) is used. A Chain is immutable and safe for concurrent use.
type Chain struct {
	serializers []IValueSerializer
}

// NewChain creates a chain from the given serializers, in priority order
func NewChain(serializers ...IValueSerializer) *Chain {
	return &Chain{serializers: append([]IValueSerializer(nil), serializers...)}
}

// DefaultChain creates the standard chain. Byte slices larger than blobThreshold are
// handed over through store; a nil store or a threshold of 0 disables this.
func DefaultChain(store IBlobStore, blobThreshold int) *Chain {
	serializers := []IValueSerializer{nilBytesSerializer{}}
	if store != nil && blobThreshold > 0 {
		serializers = append(serializers, NewBlobSerializer(store, blobThreshold))
	}
	serializers = append(serializers,
		bytesSerializer{},
		stringSerializer{},
		intSerializer[int64]{tag: TagInt64},
		intSerializer[int]{tag: TagInt},
		intSerializer[int32]{tag: TagInt32},
		float64Serializer{},
		boolSerializer{},
		NewCBORSerializer[[]float64](TagFloat64s),
		NewCBORSerializer[[]int16](TagInt16s),
		NewCBORSerializer[[]int64](TagInt64s),
		jsonSerializer{},
		nilSerializer{},
	)
	return NewChain(serializers...)
}

// With returns a new chain with s placed in front of all existing serializers
func (c *Chain) With(s IValueSerializer) *Chain {
	return NewChain(append([]IValueSerializer{s}, c.serializers...)...)
}

// Serializers returns the serializers in priority order
func (c *Chain) Serializers() []IValueSerializer {
	return append([]IValueSerializer(nil), c.serializers...)
}

// Encode marshals v with the first serializer that can handle it
func (c *Chain) Encode(v any) (common.MarshaledObject, error) {
	for _, s := range c.serializers {
		if !s.CanHandle(v) {
			continue
		}
		content, err := s.Encode(v)
		if err != nil {
			return common.MarshaledObject{}, common.WrapError(common.KindSerializationFailure, err, "encode %s", s.TypeTag())
		}
		return common.MarshaledObject{TypeTag: s.TypeTag(), Content: content}, nil
	}
	return common.MarshaledObject{}, common.NewError(common.KindSerializationFailure, "no serializer for %T", v)
}

// Decode unmarshals obj with the first serializer accepting its type tag
func (c *Chain) Decode(obj common.MarshaledObject) (any, error) {
	for _, s := range c.serializers {
		if !s.CanDecode(obj.TypeTag) {
			continue
		}
		v, err := s.Decode(obj.Content)
		if err != nil {
			return nil, common.WrapError(common.KindSerializationFailure, err, "decode %s", obj.TypeTag)
		}
		return v, nil
	}
	return nil, common.NewError(common.KindSerializationFailure, "no serializer for type tag %q", obj.TypeTag)
}

// --------------------------------------------------------------------------
// Stream references
// --------------------------------------------------------------------------

// TagStream marks a parameter or result that refers to a stream opened by the sender.
// Stream references are produced by the transport, never by a Chain.
const TagStream = "stream"

// EncodeStreamRef creates the wire reference for the stream with the given id
func EncodeStreamRef(id uint64) common.MarshaledObject {
	return common.MarshaledObject{TypeTag: TagStream, Content: binary.BigEndian.AppendUint64(nil, id)}
}

// DecodeStreamRef extracts the stream id from a stream reference
func DecodeStreamRef(obj common.MarshaledObject) (uint64, error) {
	if obj.TypeTag != TagStream || len(obj.Content) != 8 {
		return 0, common.NewError(common.KindSerializationFailure, "invalid stream reference")
	}
	return binary.BigEndian.Uint64(obj.Content), nil
}
