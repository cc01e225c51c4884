// Package registry maps procedure names to handlers and dispatches messages.
//
// Devices provide their procedures through an IExecutor. RegisterExecutor swaps
// the whole handler set atomically, the last registration wins and nothing is
// merged. Every dispatch works on the handler set that was active when it
// started.
//
// Besides the executor procedures the registry always answers the built-in
// procedures prefixed with "_rpc_": get_version, echo, echo_push, echo_pop,
// device_time_usec and stop.
//
// Dispatch never lets a handler failure escape: errors without a kind become
// HandlerFailure, panics are recovered. Middlewares (logging, rate limiting,
// timeouts) wrap every dispatch in onion order.
package registry
