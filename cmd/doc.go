// Package cmd implements the command-line interface of dComm. It provides
// commands for running a device server and calling it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Start and configure the dComm server
//   - call: Call procedures and benchmark a running server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See dcomm -help for a list of all commands.
package cmd
