// Package http implements the HTTP transport of the device rpc layer on top of
// JSON-RPC 2.0 (gorilla/rpc).
//
// Each call is a single JSON-RPC request to the method Device.Call on the path
// /rpc. Its only parameter carries the serialized request envelope, the result the
// serialized response envelope. Failures of the remote procedure are part of the
// response envelope, JSON-RPC errors only signal transport problems.
//
// Key Components:
//
//   - httpServerTransport: Implements IRPCServerTransport. It binds the listener
//     synchronously, serves in the background and cancels running calls on Shutdown.
//
//   - httpClientTransport: Implements IRPCClientTransport with round-robin selection
//     across the configured endpoints and retries on connection failures.
//
// The transport is strictly request/response. Stream parameters and stream results
// are rejected with a serialization failure, use the tcp or unix transport for them.
package http
