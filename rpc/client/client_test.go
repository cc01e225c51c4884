package client

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/discovery"
	"github.com/ValentinKolb/dComm/rpc/executor/echo"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/registry"
	"github.com/ValentinKolb/dComm/rpc/serializer"
	"github.com/ValentinKolb/dComm/rpc/server"
	"github.com/ValentinKolb/dComm/rpc/transport/tcp"
)

// startServer runs the echo procedures plus sleep{ms}
func startServer(t *testing.T) string {
	t.Helper()

	config := common.DefaultServerConfig()
	config.Host = "127.0.0.1"
	config.ShutdownTimeoutMillisecond = 200

	handlers := echo.NewExecutor().Handlers()
	handlers["sleep"] = func(ctx context.Context, msg *message.Message) (*message.Result, error) {
		ms, err := message.Get[int64](msg, "ms")
		if err != nil {
			return nil, err
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return message.Value("OK"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
	if err := s.RegisterExecutor(registry.NewExecutor(echo.Version, handlers)); err != nil {
		t.Fatalf("RegisterExecutor failed: %v", err)
	}
	if !s.Start(0) {
		t.Fatal("Start failed")
	}
	t.Cleanup(s.Stop)
	return s.Addr()
}

// freeAddr returns an address nothing listens on
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestNewClientTransport(t *testing.T) {
	for _, name := range TransportNames {
		tr, err := NewClientTransport(name)
		if err != nil {
			t.Errorf("NewClientTransport(%q) failed: %v", name, err)
			continue
		}
		if tr.GetName() != name {
			t.Errorf("Expected transport %q, got %q", name, tr.GetName())
		}
	}
	if _, err := NewClientTransport("carrier-pigeon"); err == nil {
		t.Error("Expected an error for an unknown transport")
	}
}

func TestStubUnreachable(t *testing.T) {
	stub := NewStub(common.DefaultClientConfig(), tcp.NewTCPClientTransport, serializer.NewBinarySerializer())
	host, port, _ := net.SplitHostPort(freeAddr(t))
	p, _ := strconv.Atoi(port)

	_, err := stub.Call(context.Background(), host, p, message.MustNewMessage("echo", message.Param("text", "hi")))
	if !errors.Is(err, common.ErrConnectionFailure) {
		t.Errorf("Expected ConnectionFailure, got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	_, err := NewRPCClient(common.DefaultClientConfig(freeAddr(t)), tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	if !errors.Is(err, common.ErrConnectionFailure) {
		t.Errorf("Expected ConnectionFailure, got %v", err)
	}

	_, err = NewRPCClient(common.DefaultClientConfig(), tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	if !errors.Is(err, common.ErrConnectionFailure) {
		t.Errorf("Expected ConnectionFailure without endpoints, got %v", err)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	addr := startServer(t)

	config := common.DefaultClientConfig(addr)
	config.ConnectionsPerEndpoint = 2
	c, err := NewRPCClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("NewRPCClient failed: %v", err)
	}
	defer c.Close()

	const calls = 50
	errCh := make(chan error, calls)
	for i := 0; i < calls; i++ {
		go func() {
			res, err := c.CallProcedure(context.Background(), "echo", message.Param("text", "hi"))
			if err == nil {
				var got string
				got, err = message.As[string](res)
				if err == nil && got != "Called echo: hi" {
					err = errors.New("unexpected answer " + got)
				}
			}
			errCh <- err
		}()
	}
	for i := 0; i < calls; i++ {
		if err := <-errCh; err != nil {
			t.Errorf("call failed: %v", err)
		}
	}
}

func TestClientTimeout(t *testing.T) {
	addr := startServer(t)

	config := common.DefaultClientConfig(addr)
	config.TimeoutMillisecond = 100
	c, err := NewRPCClient(config, tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("NewRPCClient failed: %v", err)
	}
	defer c.Close()

	_, err = c.CallProcedure(context.Background(), "sleep", message.Param("ms", int64(1000)))
	if !errors.Is(err, common.ErrTimeout) {
		t.Errorf("Expected Timeout, got %v", err)
	}

	// the connection is still usable
	if _, err := c.CallProcedure(context.Background(), "sleep", message.Param("ms", int64(1))); err != nil {
		t.Errorf("call after timeout failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.CallProcedure(ctx, "sleep", message.Param("ms", int64(1000)))
	if !errors.Is(err, common.ErrCancelled) {
		t.Errorf("Expected Cancelled, got %v", err)
	}
}

func TestCallProcedureDuplicateKey(t *testing.T) {
	addr := startServer(t)
	c, err := NewRPCClient(common.DefaultClientConfig(addr), tcp.NewTCPClientTransport(), serializer.NewBinarySerializer())
	if err != nil {
		t.Fatalf("NewRPCClient failed: %v", err)
	}
	defer c.Close()

	if _, err := c.CallProcedure(context.Background(), "echo", message.Param("text", "a"), message.Param("text", "b")); err == nil {
		t.Error("Expected an error for duplicate keys")
	}
}

// --------------------------------------------------------------------------
// Discovery
// --------------------------------------------------------------------------

type staticRegistry struct {
	instances []discovery.Instance
	err       error
}

func (r staticRegistry) Register(context.Context, string, discovery.Instance, int64) error { return nil }
func (r staticRegistry) Deregister(context.Context, string, string) error                 { return nil }
func (r staticRegistry) Discover(context.Context, string) ([]discovery.Instance, error) {
	return r.instances, r.err
}
func (r staticRegistry) Watch(context.Context, string) <-chan []discovery.Instance { return nil }
func (r staticRegistry) Close() error                                             { return nil }

func TestDiscoverEndpoints(t *testing.T) {
	reg := staticRegistry{instances: []discovery.Instance{
		{Addr: "10.0.0.1:9000", Transport: "tcp"},
		{Addr: "10.0.0.2:9000", Transport: "grpc"},
		{Addr: "10.0.0.3:9000", Transport: "tcp"},
	}}
	ctx := context.Background()

	endpoints, err := DiscoverEndpoints(ctx, reg, "dcomm", "tcp")
	if err != nil {
		t.Fatalf("DiscoverEndpoints failed: %v", err)
	}
	if len(endpoints) != 2 || endpoints[0] != "10.0.0.1:9000" || endpoints[1] != "10.0.0.3:9000" {
		t.Errorf("Unexpected endpoints %v", endpoints)
	}

	if all, _ := DiscoverEndpoints(ctx, reg, "dcomm", ""); len(all) != 3 {
		t.Errorf("Expected 3 endpoints without transport filter, got %v", all)
	}
	if _, err := DiscoverEndpoints(ctx, reg, "dcomm", "unix"); !errors.Is(err, common.ErrConnectionFailure) {
		t.Errorf("Expected ConnectionFailure without matches, got %v", err)
	}
	if _, err := DiscoverEndpoints(ctx, staticRegistry{err: errors.New("etcd down")}, "dcomm", "tcp"); !errors.Is(err, common.ErrConnectionFailure) {
		t.Errorf("Expected ConnectionFailure on registry error, got %v", err)
	}
}
