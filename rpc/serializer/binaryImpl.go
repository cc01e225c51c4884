package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dComm/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: kind(1) | flags(1) | [name] | [params] | [result] | [errKind] | [err]
// Strings and byte slices are written as len(4) | data, params as count(4) followed
// by key | tag | content for each param.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasName    byte = 1 << 0
	hasParams  byte = 1 << 1
	hasResult  byte = 1 << 2
	hasErrKind byte = 1 << 3
	hasErr     byte = 1 << 4
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(env common.Envelope) ([]byte, error) {
	// Calculate total size needed
	result := make([]byte, 2, b.sizeBytes(env))

	// Write envelope kind
	result[0] = byte(env.Kind)

	var flags byte = 0

	if env.Name != "" {
		flags |= hasName
		result = appendString(result, env.Name)
	}

	if len(env.Params) > 0 {
		flags |= hasParams
		result = binary.BigEndian.AppendUint32(result, uint32(len(env.Params)))
		for _, p := range env.Params {
			result = appendString(result, p.Key)
			result = appendString(result, p.TypeTag)
			result = appendBytes(result, p.Content)
		}
	}

	if env.Result.TypeTag != "" || env.Result.Content != nil {
		flags |= hasResult
		result = appendString(result, env.Result.TypeTag)
		result = appendBytes(result, env.Result.Content)
	}

	if env.ErrKind != "" {
		flags |= hasErrKind
		result = appendString(result, env.ErrKind)
	}

	if env.Err != "" {
		flags |= hasErr
		result = appendString(result, env.Err)
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags

	return result, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, env *common.Envelope) error {
	// Check minimum size (Kind + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for envelope header")
	}

	*env = common.Envelope{Kind: common.EnvelopeKind(data[0])}
	flags := data[1]
	r := reader{data: data, pos: 2}

	if flags&hasName != 0 {
		env.Name = r.string("name")
	}

	if flags&hasParams != 0 {
		count := r.uint32("param count")
		if r.err == nil && int(count) > len(data) {
			return fmt.Errorf("param count %d exceeds data length", count)
		}
		if r.err == nil {
			env.Params = make([]common.MarshaledParam, 0, count)
		}
		for i := uint32(0); i < count && r.err == nil; i++ {
			var p common.MarshaledParam
			p.Key = r.string("param key")
			p.TypeTag = r.string("param type")
			p.Content = r.bytes("param content")
			env.Params = append(env.Params, p)
		}
	}

	if flags&hasResult != 0 {
		env.Result.TypeTag = r.string("result type")
		env.Result.Content = r.bytes("result content")
	}

	if flags&hasErrKind != 0 {
		env.ErrKind = r.string("error kind")
	}

	if flags&hasErr != 0 {
		env.Err = r.string("error")
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(env common.Envelope) int {
	// 1 byte for Kind + 1 byte for flags
	size := 2

	if env.Name != "" {
		size += 4 + len(env.Name)
	}
	if len(env.Params) > 0 {
		size += 4
		for _, p := range env.Params {
			size += 12 + len(p.Key) + len(p.TypeTag) + len(p.Content)
		}
	}
	size += 8 + len(env.Result.TypeTag) + len(env.Result.Content)
	if env.ErrKind != "" {
		size += 4 + len(env.ErrKind)
	}
	if env.Err != "" {
		size += 4 + len(env.Err)
	}

	return size
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// reader reads length prefixed fields and remembers the first error
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) uint32(field string) uint32 {
	if r.err != nil {
		return 0
	}
	if r.pos+4 > len(r.data) {
		r.err = fmt.Errorf("data too short for %s length", field)
		return 0
	}
	v := binary.BigEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v
}

// bytes returns a copy of the next field. Empty fields decode as nil.
func (r *reader) bytes(field string) []byte {
	n := int(r.uint32(field))
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s data", field)
		return nil
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out
}

func (r *reader) string(field string) string {
	return string(r.bytes(field))
}
