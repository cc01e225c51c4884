// Package tcp implements the TCP transport of the device rpc layer. It provides the
// TCP specific connectors for the framed transport in the base package, see there
// for framing, stream flow control and connection handling.
//
// The server listens on ServerConfig.Host and the port passed to Start, port 0
// selects a free port. Clients connect to "host:port" endpoints.
package tcp
