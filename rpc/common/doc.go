// Package common provides core data structures and utilities shared across
// the device communication layer. It defines the wire envelope, the error
// kinds reported to callers, configuration structures and logging.
//
// Key Components:
//
//   - Envelope: The single message type exchanged between client and server.
//     Requests carry a procedure name and ordered marshaled parameters,
//     responses carry a marshaled result, a stream reference or an error.
//
//   - Error: Structured error with an ErrorKind (ProcedureNotFound, Busy,
//     Timeout, ...). Kinds survive the trip over the wire, so callers can
//     use errors.Is with the Err* sentinels on both sides.
//
//   - ServerConfig / ClientConfig: Configuration for servers and clients,
//     with pretty printers used by the CLI.
//
//   - Logger: Custom logging implementation plugged into Dragonboat's
//     logger facade, giving all packages a consistent log format.
package common
