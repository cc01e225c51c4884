package grpc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/peer"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	serviceName = "dcomm.DeviceRpc"
	callMethod  = "/" + serviceName + "/Call"
)

// deviceRpcServer is the handler type of the DeviceRpc service
type deviceRpcServer interface {
	Call(ctx context.Context, req []byte) ([]byte, error)
}

// serviceDesc describes the DeviceRpc service. Its single unary method carries
// serialized envelopes in both directions.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*deviceRpcServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: callHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dcomm.proto",
}

func callHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new([]byte)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(deviceRpcServer).Call(ctx, *in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(deviceRpcServer).Call(ctx, *req.(*[]byte))
	}
	return interceptor(ctx, in, info, handler)
}

func NewGrpcServerTransport() transport.IRPCServerTransport {
	return &grpcServerTransport{}
}

type grpcServerTransport struct {
	handler  transport.ServerHandleFunc
	listener net.Listener
	server   *grpc.Server
	ctx      context.Context
	cancel   context.CancelFunc
	closing  atomic.Bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *grpcServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *grpcServerTransport) GetName() string {
	return "grpc"
}

func (t *grpcServerTransport) Listen(config common.ServerConfig, port int) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	opts := []grpc.ServerOption{grpc.ForceServerCodec(rawCodec{})}
	if config.MaxFrameBytes > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(config.MaxFrameBytes), grpc.MaxSendMsgSize(config.MaxFrameBytes))
	}
	if common.IsDebug(config.LogLevel, "transport/rpc") {
		opts = append(opts, grpc.UnaryInterceptor(loggingInterceptor))
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	t.listener = listener

	t.server = grpc.NewServer(opts...)
	t.server.RegisterService(&serviceDesc, t)
	t.closing.Store(false)

	Logger.Infof("Starting gRPC server on %s", listener.Addr())

	go func() {
		if err := t.server.Serve(listener); err != nil {
			Logger.Errorf("gRPC server failed: %v", err)
		}
	}()
	return nil
}

func (t *grpcServerTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *grpcServerTransport) Shutdown(timeout time.Duration) error {
	if t.server == nil || !t.closing.CompareAndSwap(false, true) {
		return nil
	}

	// Running calls see the cancelled context and answer with an error
	t.cancel()

	done := make(chan struct{})
	go func() {
		t.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		Logger.Warningf("Shutdown timeout of %s reached with requests still running", timeout)
		t.server.Stop()
	}

	Logger.Infof("Stopped gRPC server on %s", t.listener.Addr())
	return nil
}

// Call implements deviceRpcServer
func (t *grpcServerTransport) Call(ctx context.Context, req []byte) ([]byte, error) {
	// The call ends with the rpc or with the server
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.ctx, cancel)
	defer stop()

	remote := "unknown"
	if p, ok := peer.FromContext(ctx); ok {
		remote = p.Addr.String()
	}
	sess := transport.UnarySession{Remote: remote, Transport: "grpc"}
	return t.handler(ctx, sess, req), nil
}

// loggingInterceptor logs every call with its duration
func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	Logger.Debugf("%s took %s (err=%v)", info.FullMethod, time.Since(start), err)
	return resp, err
}
