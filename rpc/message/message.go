package message

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/stream"
)

// Parameter is a single named value of a Message
type Parameter struct {
	Key   string
	Value any
}

// Param creates a parameter. Value may be any value the serializer chain handles
// or a *stream.DeviceStream.
func Param(key string, value any) Parameter {
	return Parameter{Key: key, Value: value}
}

// Message is a call of a named procedure with ordered, uniquely keyed parameters.
// A Message is immutable once created.
type Message struct {
	name   string
	params []Parameter
	index  map[string]int
}

// NewMessage creates a message. It fails if name is empty or a key is used twice.
func NewMessage(name string, params ...Parameter) (*Message, error) {
	if name == "" {
		return nil, fmt.Errorf("procedure name must not be empty")
	}
	m := &Message{
		name:   name,
		params: make([]Parameter, 0, len(params)),
		index:  make(map[string]int, len(params)),
	}
	for _, p := range params {
		if _, dup := m.index[p.Key]; dup {
			return nil, fmt.Errorf("duplicate parameter key %q", p.Key)
		}
		m.index[p.Key] = len(m.params)
		m.params = append(m.params, p)
	}
	return m, nil
}

// MustNewMessage is like NewMessage but panics on error
func MustNewMessage(name string, params ...Parameter) *Message {
	m, err := NewMessage(name, params...)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the procedure name
func (m *Message) Name() string {
	return m.name
}

// Params returns a copy of the parameters in order
func (m *Message) Params() []Parameter {
	return append([]Parameter(nil), m.params...)
}

// Lookup returns the raw value stored under key
func (m *Message) Lookup(key string) (any, bool) {
	i, ok := m.index[key]
	if !ok {
		return nil, false
	}
	return m.params[i].Value, true
}

// Streams returns all stream parameters
func (m *Message) Streams() []*stream.DeviceStream {
	var streams []*stream.DeviceStream
	for _, p := range m.params {
		if s, ok := p.Value.(*stream.DeviceStream); ok {
			streams = append(streams, s)
		}
	}
	return streams
}

func (m *Message) String() string {
	keys := make([]string, len(m.params))
	for i, p := range m.params {
		keys[i] = p.Key
	}
	return fmt.Sprintf("%s(%s)", m.name, strings.Join(keys, ", "))
}

// --------------------------------------------------------------------------
// Typed access
// --------------------------------------------------------------------------

// Get returns the parameter stored under key as T. It fails with KeyNotFound when
// the key is absent and TypeMismatch when the value is not exactly of type T.
// Values are never converted.
func Get[T any](m *Message, key string) (T, error) {
	var zero T
	raw, ok := m.Lookup(key)
	if !ok {
		return zero, common.NewError(common.KindKeyNotFound, "%s: missing parameter %q", m.name, key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, common.NewError(common.KindTypeMismatch, "%s: parameter %q is %T, not %T", m.name, key, raw, zero)
	}
	return v, nil
}

// GetStream returns the stream parameter stored under key
func GetStream(m *Message, key string) (*stream.DeviceStream, error) {
	return Get[*stream.DeviceStream](m, key)
}
