// Package discovery lets device rpc servers announce themselves in etcd and lets
// clients find them by service name. Registrations are bound to a lease, so entries
// of crashed servers expire on their own.
package discovery
