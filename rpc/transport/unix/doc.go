// Package unix implements the Unix domain socket transport of the device rpc layer.
// It reuses the framed transport of the base package. The server binds the socket
// path in ServerConfig.Endpoint (an existing file is removed first), clients use the
// socket path as endpoint.
package unix
