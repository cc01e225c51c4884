package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Marshaled values
// --------------------------------------------------------------------------

// MarshaledObject is a value converted to bytes by a serializer.
// TypeTag names the serializer that produced it and must be used to decode it.
type MarshaledObject struct {
	TypeTag string `json:"type"`
	Content []byte `json:"value,omitempty"`
}

// MarshaledParam is a single named parameter of a request
type MarshaledParam struct {
	Key string `json:"key"`
	MarshaledObject
}

// --------------------------------------------------------------------------
// Envelope Structure
// --------------------------------------------------------------------------

// Envelope represents a single message used for both requests and responses.
// Which fields are used depends on the kind of the envelope.
type Envelope struct {
	// Kind of envelope
	Kind EnvelopeKind `json:"kind"`

	// Request only fields
	Name   string           `json:"name,omitempty"`   // Procedure name
	Params []MarshaledParam `json:"params,omitempty"` // Ordered parameters

	// Response only fields
	Result  MarshaledObject `json:"result,omitempty"`   // Used for: ok, stream (stream reference)
	ErrKind string          `json:"err_kind,omitempty"` // Used for: error
	Err     string          `json:"err,omitempty"`      // Used for: error
}

// --------------------------------------------------------------------------
// Envelope Factory Functions
// --------------------------------------------------------------------------

// NewRequest creates a new request envelope
func NewRequest(name string, params []MarshaledParam) *Envelope {
	return &Envelope{
		Kind:   EnvKRequest,
		Name:   name,
		Params: params,
	}
}

// NewOkResponse creates a response carrying a value
func NewOkResponse(result MarshaledObject) *Envelope {
	return &Envelope{
		Kind:   EnvKOk,
		Result: result,
	}
}

// NewStreamResponse creates a response announcing a stream opened by the sender
func NewStreamResponse(ref MarshaledObject) *Envelope {
	return &Envelope{
		Kind:   EnvKStream,
		Result: ref,
	}
}

// NewErrorResponse creates an error response. The kind of err is preserved on the wire.
func NewErrorResponse(err error) *Envelope {
	msg := err.Error()
	if e, ok := err.(*Error); ok {
		msg = e.detail()
	}
	return &Envelope{
		Kind:    EnvKError,
		ErrKind: string(KindOf(err)),
		Err:     msg,
	}
}

// AsError converts an error envelope back into an *Error
func (e *Envelope) AsError() error {
	if e.Kind != EnvKError {
		return nil
	}
	return &Error{Kind: ParseErrorKind(e.ErrKind), Msg: e.Err}
}

// --------------------------------------------------------------------------
// Envelope Kind Definition
// --------------------------------------------------------------------------

// EnvelopeKind defines the kind of envelope used in RPC communication.
type EnvelopeKind uint8

const (
	EnvKRequest EnvelopeKind = iota + 1 // Call of a procedure
	EnvKOk                              // Successful response with a value
	EnvKError                           // Failed call
	EnvKStream                          // Successful response whose result is a stream
)

// String returns the string representation of an EnvelopeKind.
func (k EnvelopeKind) String() string {
	switch k {
	case EnvKRequest:
		return "request"
	case EnvKOk:
		return "ok"
	case EnvKError:
		return "error"
	case EnvKStream:
		return "stream"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for EnvelopeKind.
// This allows EnvelopeKind to be serialized as a string in JSON.
func (k EnvelopeKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for EnvelopeKind.
func (k *EnvelopeKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "request":
		*k = EnvKRequest
	case "ok":
		*k = EnvKOk
	case "error":
		*k = EnvKError
	case "stream":
		*k = EnvKStream
	default:
		return fmt.Errorf("unknown envelope kind: %s", s)
	}
	return nil
}
