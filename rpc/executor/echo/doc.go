// Package echo provides a small executor used to check that a server is reachable
// and that values, promises and streams make it across the wire.
package echo
