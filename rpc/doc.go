// Package rpc is the communication layer between a host and a device. A client
// calls named procedures on a server, parameters and results are typed values or
// streams of byte chunks.
//
// The package is organized into several subpackages:
//
//   - common: Errors, the wire envelope, configuration structures and logging.
//
//   - serializer: Envelope serialization with multiple format options (Binary, JSON, GOB).
//
//   - marshal: The serializer chain that turns parameter values into tagged bytes,
//     including blob hand-over through files.
//
//   - stream: DeviceStream, a bounded chunk queue with backpressure.
//
//   - message: Messages, results and promises as seen by procedures.
//
//   - registry: Procedure lookup, reserved procedures and middleware.
//
//   - transport: Network communication abstractions with pluggable implementations
//     (TCP, Unix sockets, HTTP, gRPC).
//
//   - server: The server lifecycle (Start, Stop) and request handling.
//
//   - client: A connected client and a one-shot Stub.
//
//   - discovery: Server registration and lookup in etcd.
//
//   - executor: Example procedures (echo, audio).
package rpc
