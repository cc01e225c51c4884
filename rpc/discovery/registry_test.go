package discovery

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

func TestKeys(t *testing.T) {
	if got := instanceKey("/audio/", "127.0.0.1:9000"); got != "/dcomm/audio/127.0.0.1:9000" {
		t.Fatalf("Unexpected key %q", got)
	}
	if got := servicePrefix("audio"); got != "/dcomm/audio/" {
		t.Fatalf("Unexpected prefix %q", got)
	}
}

func TestNewEtcdRegistryWithoutEndpoints(t *testing.T) {
	if _, err := NewEtcdRegistry(nil); err == nil {
		t.Fatal("Expected an error without endpoints")
	}
}

// TestRegisterAndDiscover needs a running etcd, set DCOMM_TEST_ETCD to its endpoints
func TestRegisterAndDiscover(t *testing.T) {
	endpoints := os.Getenv("DCOMM_TEST_ETCD")
	if endpoints == "" {
		t.Skip("DCOMM_TEST_ETCD not set")
	}

	reg, err := NewEtcdRegistry(strings.Split(endpoints, ","))
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	service := "test-" + time.Now().Format("150405.000")
	inst1 := Instance{Addr: "127.0.0.1:8001", Transport: "tcp", Version: "1.0"}
	inst2 := Instance{Addr: "127.0.0.1:8002", Transport: "tcp", Version: "1.0"}

	for _, inst := range []Instance{inst1, inst2} {
		if err := reg.Register(ctx, service, inst, 10); err != nil {
			t.Fatal(err)
		}
	}

	instances, err := reg.Discover(ctx, service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("Expected 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister(ctx, service, inst1.Addr); err != nil {
		t.Fatal(err)
	}

	instances, err = reg.Discover(ctx, service)
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 || instances[0].Addr != inst2.Addr {
		t.Fatalf("Expected only %s after deregister, got %v", inst2.Addr, instances)
	}

	_ = reg.Deregister(ctx, service, inst2.Addr)
}
