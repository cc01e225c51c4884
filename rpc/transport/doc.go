// Package transport defines the interfaces and abstractions for moving request and
// response bytes between a client and a device server. It provides a common
// contract that all transport implementations must fulfill, so the server and the
// client work with any of them.
//
// Key Components:
//
//   - IRPCServerTransport: Server side. Binds a socket, accepts connections and
//     calls a ServerHandleFunc for every request on a worker goroutine.
//
//   - IRPCClientTransport: Client side. Manages connections, sends requests and
//     correlates responses.
//
//   - ISession: The connection a request travels on. Device streams are bound to a
//     session, so stream parameters and stream results flow over the same
//     connection as the call that announced them.
//
// Implementations:
//
//   - tcp, unix: framed protocol of the base package with correlated concurrent
//     calls and streams with credit based flow control.
//   - http: JSON-RPC 2.0 over HTTP, request/response only.
//   - grpc: a single unary gRPC method carrying raw envelopes, request/response only.
package transport
