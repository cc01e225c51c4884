package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IServerConnector defines the interface for transport-specific server operations
type IServerConnector interface {
	// Listen creates a listener and returns it
	Listen(config common.ServerConfig, port int) (net.Listener, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// serverTransport implements the core server transport functionality
type serverTransport struct {
	connector IServerConnector
	handler   transport.ServerHandleFunc
	config    common.ServerConfig
	listener  net.Listener

	// ctx is the parent of every session and request context, cancelled on shutdown
	ctx    context.Context
	cancel context.CancelFunc

	sessions *xsync.MapOf[*session, struct{}]
	workers  sync.WaitGroup // running request handlers of all connections
	conns    sync.WaitGroup // connection read loops
	closing  atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseServerTransport creates a new base server transport with per-connection worker pool
func NewBaseServerTransport(connector IServerConnector) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		sessions:  xsync.NewMapOf[*session, struct{}](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) GetName() string {
	return t.connector.GetName()
}

func (t *serverTransport) Listen(config common.ServerConfig, port int) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	if config.MaxWorkersPerConn < 1 {
		config.MaxWorkersPerConn = 1
	}
	t.config = config

	// Create listener using the connector
	listener, err := t.connector.Listen(config, port)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}
	t.listener = listener
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.closing.Store(false)

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), config.MaxWorkersPerConn)

	t.conns.Add(1)
	go t.acceptLoop()
	return nil
}

func (t *serverTransport) Addr() string {
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *serverTransport) Shutdown(timeout time.Duration) error {
	if t.listener == nil || !t.closing.CompareAndSwap(false, true) {
		return nil
	}

	// Stop accepting and cancel all running requests, the handlers answer them with an error
	err := t.listener.Close()
	t.cancel()

	if !waitTimeout(&t.workers, timeout) {
		Logger.Warningf("Shutdown timeout of %s reached with requests still running", timeout)
	}

	t.sessions.Range(func(s *session, _ struct{}) bool {
		s.close(common.NewError(common.KindCancelled, "server stopped"))
		return true
	})

	if !waitTimeout(&t.conns, timeout) {
		Logger.Warningf("Connections did not terminate within %s", timeout)
	}

	Logger.Infof("Stopped %s server on %s", t.connector.GetName(), t.listener.Addr())
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// acceptLoop accepts connections until the listener is closed
func (t *serverTransport) acceptLoop() {
	defer t.conns.Done()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if t.closing.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			Logger.Errorf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, t.config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		sess := newSession(t.ctx, conn, t.config.MaxFrameBytes, t.config.StreamCapacity, 0)
		t.sessions.Store(sess, struct{}{})

		// Handle the connection in a goroutine
		t.conns.Add(1)
		go t.handleConnection(sess)
	}
}

// handleConnection handles incoming frames for one connection
func (t *serverTransport) handleConnection(sess *session) {
	defer t.conns.Done()
	defer t.sessions.Delete(sess)

	Logger.Debugf("Accepted connection from %s", sess.RemoteAddr())

	// workers holds a slot per running request. Requests arriving while it is full
	// wait in queued, so the read loop keeps serving stream and credit frames the
	// running requests may depend on. A request finding both full is rejected.
	workers := make(chan struct{}, t.config.MaxWorkersPerConn)
	queued := make(chan struct{}, t.config.MaxWorkersPerConn)

	// Handler function that processes requests in worker goroutines
	handleRequest := func(ctx context.Context, requestID uint64, data []byte) {
		start := time.Now()
		resp := t.handler(ctx, sess, data)
		Logger.Debugf("Processed request %d from %s in %s", requestID, sess.RemoteAddr(), time.Since(start))

		if err := sess.write(frameResponse, requestID, resp); err != nil {
			Logger.Errorf("Failed to write response: %v", err)
			sess.close(common.WrapError(common.KindConnectionFailure, err, "write failed"))
		}
	}

	runWorker := func(requestID uint64, data []byte) {
		defer func() {
			<-workers
			t.workers.Done()
		}()
		handleRequest(sess.ctx, requestID, data)
	}

	var loopErr error
	for loopErr == nil {
		kind, id, data, err := sess.readFrame()
		if err != nil {
			loopErr = err
			break
		}

		if kind != frameRequest {
			loopErr = sess.handleStreamFrame(kind, id, data)
			continue
		}

		t.workers.Add(1)
		select {
		case workers <- struct{}{}:
			go runWorker(id, data)
			continue
		default:
		}

		select {
		case queued <- struct{}{}:
			go func(id uint64, data []byte) {
				select {
				case workers <- struct{}{}:
					<-queued
					runWorker(id, data)
				case <-sess.done():
					// answered with Cancelled while the connection is still open
					<-queued
					defer t.workers.Done()
					handleRequest(sess.ctx, id, data)
				}
			}(id, data)
		default:
			// the handler answers a request whose context already ended with the cause
			ctx, cancel := context.WithCancelCause(sess.ctx)
			cancel(common.NewError(common.KindBusy, "%d requests running and %d queued on this connection",
				cap(workers), cap(queued)))
			go func(id uint64, data []byte) {
				defer t.workers.Done()
				handleRequest(ctx, id, data)
			}(id, data)
		}
	}

	switch {
	case loopErr == io.EOF:
		Logger.Debugf("Connection closed by %s", sess.RemoteAddr())
	case sess.ctx.Err() != nil:
		// closed by us
	default:
		Logger.Warningf("Closing connection to %s: %v", sess.RemoteAddr(), loopErr)
	}

	sess.close(common.NewError(common.KindConnectionFailure, "connection closed"))
}

// waitTimeout waits for wg, at most timeout. It reports whether wg finished.
func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
