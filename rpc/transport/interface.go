package transport

import (
	"context"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/stream"
)

// --------------------------------------------------------------------------
// Session
// --------------------------------------------------------------------------

// ISession is the connection a request arrived on (server side) or is sent on
// (client side). Streams passed as parameters or results are bound to it.
type ISession interface {
	// SendStream starts forwarding the chunks written to s to the peer and returns the
	// id the peer uses to receive them. Forwarding ends when s is closed and drained.
	SendStream(s *stream.DeviceStream) (id uint64, err error)
	// ReceiveStream returns a local stream fed with the chunks the peer sends under id.
	// Each id can be received once.
	ReceiveStream(id uint64) (*stream.DeviceStream, error)
	// WaitStreams blocks until all streams bound to the session are finished
	WaitStreams(ctx context.Context) error
	// RemoteAddr describes the peer
	RemoteAddr() string
}

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received.
// ctx is cancelled when the server shuts down or the session is closed.
type ServerHandleFunc func(ctx context.Context, sess ISession, req []byte) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler is called for every request that is received
	RegisterHandler(handler ServerHandleFunc)
	// Listen binds the listening socket and starts accepting connections in the background.
	// It returns an error if the socket cannot be bound.
	Listen(config common.ServerConfig, port int) error
	// Addr returns the address the transport is bound to
	Addr() string
	// Shutdown stops accepting connections, cancels the context of all running requests,
	// waits up to timeout for them to answer and closes all connections.
	Shutdown(timeout time.Duration) error
	// GetName returns the name of the transport (e.g. "tcp", "http")
	GetName() string
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// PrepareFunc builds the request bytes for the session the request is sent on
type PrepareFunc func(sess ISession) ([]byte, error)

// IRPCClientTransport is the interface for the RPC client transport
type IRPCClientTransport interface {
	// Connect initializes the transport with the given configuration
	Connect(config common.ClientConfig) error
	// Send builds a request with prepare, sends it and waits for the response.
	// Requests are only retried on another connection if retry is set.
	Send(ctx context.Context, prepare PrepareFunc, retry bool) (resp []byte, sess ISession, err error)
	// Close closes all connections of the transport
	Close() error
	// GetName returns the name of the transport (e.g. "tcp", "http")
	GetName() string
}

// --------------------------------------------------------------------------
// Sessions without stream support
// --------------------------------------------------------------------------

// UnarySession is the session of transports that only support request/response
// (http, grpc). Streams are rejected with SerializationFailure.
type UnarySession struct {
	Remote    string
	Transport string
}

func (s UnarySession) SendStream(*stream.DeviceStream) (uint64, error) {
	return 0, common.NewError(common.KindSerializationFailure, "the %s transport does not support streams", s.Transport)
}

func (s UnarySession) ReceiveStream(uint64) (*stream.DeviceStream, error) {
	return nil, common.NewError(common.KindSerializationFailure, "the %s transport does not support streams", s.Transport)
}

func (s UnarySession) WaitStreams(context.Context) error { return nil }
func (s UnarySession) RemoteAddr() string                { return s.Remote }
