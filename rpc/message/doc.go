// Package message defines the call and result model of the rpc layer.
//
// A Message names a procedure and carries ordered, uniquely keyed parameters.
// Handlers read parameters with the generic Get, which never converts values:
// asking for an int64 parameter that holds a string is a TypeMismatch, asking for
// a missing key is a KeyNotFound.
//
// Handlers answer with a Result, which is one of
//
//   - Value(v): an immediate value
//   - Pending(p): a Promise settled later, e.g. by another goroutine
//   - Stream(s): an open stream.DeviceStream the caller reads from
package message
