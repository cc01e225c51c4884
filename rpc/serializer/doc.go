// Package serializer provides envelope serialization for the device rpc layer.
// It defines a common interface and multiple implementations for turning the
// common.Envelope exchanged between client and server into bytes and back.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format. A flag byte marks the optional
//     fields that are present, so requests carry no response fields and vice versa.
//     Parameter contents are copied verbatim, which keeps large audio buffers cheap.
//
//   - jsonSerializerImpl: JSON encoding, useful for debugging or interoperability.
//     Byte contents are base64 encoded and therefore about a third larger.
//
//   - gobSerializerImpl: Go's gob encoding. Works, but offers no advantage over the
//     binary format.
//
// Both sides of a connection must use the same serializer. The envelope serializer
// only handles the outer structure; parameter values are converted by the
// marshal package before they reach it.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	s := serializer.NewBinarySerializer()
//	data, err := s.Serialize(*common.NewRequest("echo", params))
//	// ... send data ...
//	var env common.Envelope
//	err = s.Deserialize(receivedData, &env)
package serializer
