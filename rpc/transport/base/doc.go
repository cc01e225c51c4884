// Package base provides the framed transport shared by the tcp and unix transports
// of the device rpc layer. It implements client and server independent of the
// network protocol, protocol specifics are injected through connectors.
//
// Frame format (all integers big endian):
//
//	kind (1 byte) | id (8 bytes) | length (4 bytes) | body (length bytes)
//
// Request and response frames carry serialized envelopes under a request id. The
// remaining kinds move stream chunks under a stream id chosen by the sender:
// stream-data carries one chunk, stream-end closes the stream (a non-empty body is
// the error text), stream-credit grants the sender more chunks and stream-abort
// tells the sender the receiver is no longer interested.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - session: One per connection. Serializes writes and binds streams to the
//     connection. A receiver never buffers more chunks than it granted, so the read
//     loop of a connection never blocks on a slow stream consumer.
//
//   - clientTransport: Manages multiple connections with round-robin selection and
//     lazy reconnects. Requests are correlated with responses through request ids.
//
//   - serverTransport: Accepts connections and runs requests in a bounded worker
//     pool per connection. Shutdown cancels running requests, waits for their
//     answers up to a timeout and closes all connections.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes to a connection are serialized by a
//	mutex, the per-connection maps are lock free (xsync).
package base
