package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/transport"
	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	// Path is the url path the json-rpc endpoint is served on
	Path = "/rpc"
	// Method is the json-rpc method carrying an envelope
	Method = "Device.Call"
)

// CallArgs is the json-rpc parameter of Device.Call. Envelope holds a serialized request.
type CallArgs struct {
	Envelope []byte `json:"envelope"`
}

// CallReply is the json-rpc result of Device.Call. Envelope holds a serialized response.
type CallReply struct {
	Envelope []byte `json:"envelope"`
}

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{}
}

type httpServerTransport struct {
	handler  transport.ServerHandleFunc
	config   common.ServerConfig
	listener net.Listener
	server   *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
	closing  atomic.Bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) GetName() string {
	return "http"
}

func (t *httpServerTransport) Listen(config common.ServerConfig, port int) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config
	t.ctx, t.cancel = context.WithCancel(context.Background())

	// Create the json-rpc server
	rpcServer := rpc.NewServer()
	rpcServer.RegisterCodec(json2.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(&DeviceService{transport: t}, "Device"); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	mux := http.NewServeMux()
	if common.IsDebug(config.LogLevel, "transport/rpc") {
		mux.Handle(Path, loggerMiddleware(rpcServer))
	} else {
		mux.Handle(Path, rpcServer)
	}

	addr := net.JoinHostPort(config.Host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	t.listener = listener
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	t.closing.Store(false)

	Logger.Infof("Starting HTTP server on %s", listener.Addr())

	go func() {
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("HTTP server failed: %v", err)
		}
	}()
	return nil
}

func (t *httpServerTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *httpServerTransport) Shutdown(timeout time.Duration) error {
	if t.server == nil || !t.closing.CompareAndSwap(false, true) {
		return nil
	}

	// Running calls see the cancelled context and answer with an error
	t.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := t.server.Shutdown(ctx); err != nil {
		Logger.Warningf("Shutdown timeout of %s reached with requests still running", timeout)
		return t.server.Close()
	}

	Logger.Infof("Stopped HTTP server on %s", t.listener.Addr())
	return nil
}

// --------------------------------------------------------------------------
// JSON-RPC Service
// --------------------------------------------------------------------------

// DeviceService is the json-rpc service registered as "Device"
type DeviceService struct {
	transport *httpServerTransport
}

// Call passes the request envelope to the server handler
func (s *DeviceService) Call(r *http.Request, args *CallArgs, reply *CallReply) error {
	// The call ends with the request or with the server
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.transport.ctx, cancel)
	defer stop()

	sess := transport.UnarySession{Remote: r.RemoteAddr, Transport: "http"}
	reply.Envelope = s.transport.handler(ctx, sess, args.Envelope)
	return nil
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code before writing it
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Create custom response writer to capture status code
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		// Process request
		next.ServeHTTP(rw, r)

		// Log the request
		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
