// Package server implements the device rpc server: it owns the lifecycle of a
// transport and turns incoming request envelopes into procedure calls.
//
// Lifecycle:
//
//	Stopped -> Starting -> Listening -> Stopping -> Stopped
//
// Start binds the port (0 selects a free one) and serves in the background, it
// reports failure through its boolean result. Stop cancels every running call, which
// is then answered with a Cancelled error, waits up to ShutdownTimeoutMillisecond for
// the answers and closes all connections. A stopped server can be started again.
//
// Request processing:
//
//   - The envelope serializer decodes the request, stream references are attached to
//     the session of the request and all other parameters are decoded by the
//     serializer chain.
//   - The registry dispatches the message to the handler of the active executor.
//     Pending results are awaited, stream results are bound to the session.
//   - The result value is encoded by the serializer chain. Every failure is reported
//     as an error envelope carrying the error kind, the connection stays usable.
//
// Each server keeps its own metrics set (calls per procedure, errors per kind, call
// duration and calls in flight), see WriteMetrics. With DiscoveryEndpoints configured
// the server registers itself in etcd while it is listening.
package server
