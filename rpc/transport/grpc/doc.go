// Package grpc implements the gRPC transport of the device rpc layer.
//
// The server registers a hand written service "dcomm.DeviceRpc" with a single unary
// method Call. A codec forced on both sides moves the serialized envelopes as raw
// bytes, so no generated protobuf code is involved. Status codes map to error kinds:
// DeadlineExceeded becomes a timeout, Canceled a cancellation and everything else a
// connection failure.
//
// Like the http transport it is request/response only and rejects streams.
package grpc
