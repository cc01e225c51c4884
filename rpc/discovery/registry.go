package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var Logger = logger.GetLogger("discovery")

const (
	keyPrefix          = "/dcomm/"
	defaultDialTimeout = 3 * time.Second
)

// Instance describes a running device rpc server
type Instance struct {
	Addr       string   `json:"addr"`
	Transport  string   `json:"transport"`
	Version    string   `json:"version,omitempty"`
	Procedures []string `json:"procedures,omitempty"`
}

// IRegistry announces and finds servers of a service
type IRegistry interface {
	// Register announces instance under service. The entry expires ttl seconds after
	// the process stopped renewing it.
	Register(ctx context.Context, service string, instance Instance, ttl int64) error
	// Deregister removes the entry of addr
	Deregister(ctx context.Context, service string, addr string) error
	// Discover returns all instances currently registered for service
	Discover(ctx context.Context, service string) ([]Instance, error)
	// Watch emits the instance list of service whenever it changes, until ctx ends
	Watch(ctx context.Context, service string) <-chan []Instance
	// Close releases the connection to the registry
	Close() error
}

// EtcdRegistry implements IRegistry on etcd v3. Entries are stored as
// /dcomm/{service}/{addr} with a json encoded Instance and bound to a lease that is
// renewed in the background.
type EtcdRegistry struct {
	client *clientv3.Client
	leases *xsync.MapOf[string, registration] // by key
}

type registration struct {
	lease clientv3.LeaseID
	stop  context.CancelFunc
}

// NewEtcdRegistry creates a registry connected to the given etcd endpoints
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints provided")
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: defaultDialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdRegistry{client: c, leases: xsync.NewMapOf[string, registration]()}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docu see discovery.IRegistry)
// --------------------------------------------------------------------------

func (r *EtcdRegistry) Register(ctx context.Context, service string, instance Instance, ttl int64) error {
	// Create a TTL-based lease, the entry disappears when renewal stops
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	val, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	key := instanceKey(service, instance.Addr)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register %s: %w", key, err)
	}

	// The keep alive outlives the register call
	keepCtx, stop := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(keepCtx, lease.ID)
	if err != nil {
		stop()
		return fmt.Errorf("failed to keep lease alive: %w", err)
	}
	if old, loaded := r.leases.LoadAndStore(key, registration{lease: lease.ID, stop: stop}); loaded {
		old.stop()
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		Logger.Debugf("Lease renewal of %s ended", key)
	}()

	Logger.Infof("Registered %s (ttl %ds)", key, ttl)
	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, service string, addr string) error {
	key := instanceKey(service, addr)
	if reg, ok := r.leases.LoadAndDelete(key); ok {
		reg.stop()
		// Revoking the lease deletes the key as well
		if _, err := r.client.Revoke(ctx, reg.lease); err == nil {
			return nil
		}
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to deregister %s: %w", key, err)
	}
	return nil
}

func (r *EtcdRegistry) Discover(ctx context.Context, service string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, servicePrefix(service), clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", service, err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var instance Instance
		if err := json.Unmarshal(kv.Value, &instance); err != nil {
			Logger.Warningf("Skipping malformed entry %s: %v", kv.Key, err)
			continue
		}
		instances = append(instances, instance)
	}
	return instances, nil
}

func (r *EtcdRegistry) Watch(ctx context.Context, service string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, servicePrefix(service), clientv3.WithPrefix())
		for range watchChan {
			// re-fetch the full list instead of applying single events
			instances, err := r.Discover(ctx, service)
			if err != nil {
				Logger.Warningf("Failed to refresh %s: %v", service, err)
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

func (r *EtcdRegistry) Close() error {
	r.leases.Range(func(key string, reg registration) bool {
		reg.stop()
		r.leases.Delete(key)
		return true
	})
	return r.client.Close()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func servicePrefix(service string) string {
	return keyPrefix + strings.Trim(service, "/") + "/"
}

func instanceKey(service, addr string) string {
	return servicePrefix(service) + addr
}
