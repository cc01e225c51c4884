package server

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/discovery"
	"github.com/ValentinKolb/dComm/rpc/marshal"
	"github.com/ValentinKolb/dComm/rpc/registry"
	"github.com/ValentinKolb/dComm/rpc/serializer"
	"github.com/ValentinKolb/dComm/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("rpc")

// --------------------------------------------------------------------------
// Lifecycle states
// --------------------------------------------------------------------------

// State is the lifecycle state of a server
type State int32

const (
	Stopped State = iota
	Starting
	Listening
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// discoveryTTL is the lease of a discovery registration in seconds
const discoveryTTL = 10

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server hosts the procedures of one executor on a transport.
//
// Usage:
//
//	s := server.NewRPCServer(
//		common.DefaultServerConfig(),
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//	if err := s.RegisterExecutor(echo.NewExecutor()); err != nil {
//		panic(err)
//	}
//	if !s.Start(9000) {
//		panic("failed to start")
//	}
//	defer s.Stop()
type Server struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	chain      *marshal.Chain
	registry   *registry.Registry
	metrics    *serverMetrics

	state     atomic.Int32
	lifecycle sync.Mutex    // serializes Start and Stop
	done      chan struct{} // closed by Stop, replaced by Start

	discovery discovery.IRegistry
}

// NewRPCServer creates a stopped server. Byte values above config.BlobThreshold are
// handed over through files in config.BlobDir.
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	var store marshal.IBlobStore
	if config.BlobThreshold > 0 {
		fsStore, err := marshal.NewOsBlobStore(config.BlobDir)
		if err != nil {
			Logger.Warningf("Blob hand-over disabled: %v", err)
		} else {
			store = fsStore
		}
	}

	s := &Server{
		config:     config,
		transport:  transport,
		serializer: serializer,
		chain:      marshal.DefaultChain(store, config.BlobThreshold),
		registry:   registry.New(registry.FromConfig(config)...),
		metrics:    newServerMetrics(),
	}
	s.registry.SetStopFunc(s.Stop)
	s.transport.RegisterHandler(s.handle)

	Logger.Infof("Created RPC Server using %s transport", transport.GetName())
	Logger.Debugf(config.String())
	return s
}

// WithChain replaces the serializer chain. It must be called before Start.
func (s *Server) WithChain(chain *marshal.Chain) *Server {
	s.chain = chain
	return s
}

// RegisterExecutor makes the procedures of exec available, replacing those of the
// previously registered executor. Calls already running are not affected.
func (s *Server) RegisterExecutor(exec registry.IExecutor) error {
	return s.registry.RegisterExecutor(exec)
}

// State returns the current lifecycle state
func (s *Server) State() State {
	return State(s.state.Load())
}

// Addr returns the address the server listens on, empty unless listening
func (s *Server) Addr() string {
	if s.State() != Listening {
		return ""
	}
	return s.transport.Addr()
}

// Start binds the port and starts serving in the background. Port 0 selects a free
// port. It returns false if the port is out of range, cannot be bound or the server
// is not stopped.
func (s *Server) Start(port int) bool {
	if port < 0 || port > 65535 {
		Logger.Errorf("Cannot start server: %v", common.NewError(common.KindBindFailure, "port %d out of range", port))
		return false
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.state.CompareAndSwap(int32(Stopped), int32(Starting)) {
		Logger.Warningf("Cannot start server in state %s", s.State())
		return false
	}

	if err := s.transport.Listen(s.config, port); err != nil {
		Logger.Errorf("Cannot start server: %v", common.WrapError(common.KindBindFailure, err, "port %d", port))
		s.state.Store(int32(Stopped))
		return false
	}
	s.done = make(chan struct{})
	s.state.Store(int32(Listening))
	Logger.Infof("Server listening on %s", s.transport.Addr())

	s.register()
	return true
}

// Stop stops accepting connections, answers running calls with Cancelled and closes
// all connections. Calling Stop on a server that is not listening does nothing.
func (s *Server) Stop() {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.state.CompareAndSwap(int32(Listening), int32(Stopping)) {
		return
	}

	s.deregister()

	timeout := time.Duration(s.config.ShutdownTimeoutMillisecond) * time.Millisecond
	if err := s.transport.Shutdown(timeout); err != nil {
		Logger.Warningf("Transport shutdown: %v", err)
	}

	s.state.Store(int32(Stopped))
	close(s.done)
	Logger.Infof("Server stopped")
}

// Done returns a channel that is closed when the current run of the server ends,
// either through Stop or a remote _rpc_stop call. It is closed if the server is
// not listening.
func (s *Server) Done() <-chan struct{} {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.done == nil || s.State() != Listening {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return s.done
}

// WriteMetrics writes the metrics of the server in Prometheus text format
func (s *Server) WriteMetrics(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}

// --------------------------------------------------------------------------
// Discovery
// --------------------------------------------------------------------------

// register announces the server in etcd if discovery endpoints are configured.
// Failures are logged, the server keeps running.
func (s *Server) register() {
	if len(s.config.DiscoveryEndpoints) == 0 {
		return
	}

	if s.discovery == nil {
		reg, err := discovery.NewEtcdRegistry(s.config.DiscoveryEndpoints)
		if err != nil {
			Logger.Warningf("Discovery disabled: %v", err)
			return
		}
		s.discovery = reg
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	instance := discovery.Instance{
		Addr:       s.transport.Addr(),
		Transport:  s.transport.GetName(),
		Version:    s.registry.Version(),
		Procedures: s.registry.Procedures(),
	}
	if err := s.discovery.Register(ctx, s.config.ServiceName, instance, discoveryTTL); err != nil {
		Logger.Warningf("Failed to register in discovery: %v", err)
	}
}

func (s *Server) deregister() {
	if s.discovery == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.discovery.Deregister(ctx, s.config.ServiceName, s.transport.Addr()); err != nil {
		Logger.Warningf("Failed to deregister from discovery: %v", err)
	}
}
