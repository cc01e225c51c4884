// Package client implements the caller side of the device rpc layer.
//
// Key Components:
//
//   - Stub: performs single calls. Every call opens its own connection to the
//     target, sends the request, waits for the response and closes the connection.
//     When the call involves streams the connection stays open until they finish.
//
//   - Client: a long lived client over one or more endpoints with round-robin
//     selection, several connections per endpoint and retries on connection
//     failures. Calls may run concurrently.
//
//   - DiscoverEndpoints: finds the servers of a service in the discovery registry.
//
// Parameters are encoded with the serializer chain, stream parameters are bound to
// the connection of the call. A call with stream parameters is never retried. Remote
// failures come back as *common.Error with their original kind, an unreachable
// server yields ConnectionFailure and a missing answer Timeout.
//
// Usage Example:
//
//	stub := client.NewStub(
//		common.DefaultClientConfig(),
//		tcp.NewTCPClientTransport,
//		serializer.NewBinarySerializer(),
//	)
//
//	msg := message.MustNewMessage("echo", message.Param("text", "hello"))
//	res, err := stub.Call(ctx, "localhost", 9000, msg)
//	if err != nil {
//		return err
//	}
//	text, err := message.As[string](res)
package client
