// Package marshal converts parameter and result values to wire bytes and back.
//
// A Chain holds an ordered list of IValueSerializer implementations. Encoding picks
// the first serializer whose CanHandle accepts the value and records its type tag,
// decoding picks the first serializer accepting that tag. No match is a
// common.ErrSerializationFailure.
//
// The default chain, in order:
//
//	blob     []byte longer than the blob threshold, stored in an IBlobStore, handle on the wire
//	bytes    []byte
//	string   string
//	int64    int, int32, int64 (always decoded as int64)
//	float64  float64
//	bool     bool
//	f64s     []float64 (CBOR)
//	i16s     []int16 (CBOR)
//	i64s     []int64 (CBOR)
//	json     map[string]any
//	nil      nil
//
// Chains are values, not globals: every server and client builds its own, so
// instances in one process can use different policies. Custom serializers are
// put in front with Chain.With.
package marshal
