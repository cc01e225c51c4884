package base

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// pendingCall is a request waiting for its response
type pendingCall struct {
	sess *session
	ch   chan []byte
}

// clientConnection represents a single connection to an endpoint. The session is
// replaced lazily when it broke.
type clientConnection struct {
	endpoint string
	parent   *clientTransport
	mu       sync.Mutex // protects sess
	sess     *session
	pending  *xsync.MapOf[uint64, pendingCall]
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex atomic.Uint64 // Round Robin counter
	nextRequestID atomic.Uint64 // unique request IDs
	stopping      atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) GetName() string {
	return t.connector.GetName()
}

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return common.NewError(common.KindConnectionFailure, "no endpoints provided")
	}

	// Close all existing connections
	t.closeConnections()

	t.config = config
	t.stopping.Store(false)

	// Set default value for ConnectionsPerEndpoint
	connectionsPerEP := 1
	if config.ConnectionsPerEndpoint > 0 {
		connectionsPerEP = config.ConnectionsPerEndpoint
	}

	connections := make([]*clientConnection, 0, len(config.Endpoints)*connectionsPerEP)
	connected := 0
	var lastErr error

	for _, endpoint := range config.Endpoints {
		// Create multiple connections per endpoint
		for i := 0; i < connectionsPerEP; i++ {
			clientConn := &clientConnection{
				endpoint: endpoint,
				parent:   t,
				pending:  xsync.NewMapOf[uint64, pendingCall](),
			}
			connections = append(connections, clientConn)

			// Establish the initial connection, broken ones are retried on use
			if _, err := clientConn.session(); err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, connectionsPerEP, err)
				lastErr = err
				continue
			}
			connected++
			Logger.Debugf("Connected to %s (connection %d/%d)", endpoint, i+1, connectionsPerEP)
		}
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()

	// Check if we have at least one connection
	if connected == 0 {
		t.closeConnections()
		return common.WrapError(common.KindConnectionFailure, lastErr, "failed to connect to any endpoint")
	}

	Logger.Debugf("Connected to %d out of %d connections to %d endpoints using %s transport",
		connected, len(connections), len(config.Endpoints), t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(ctx context.Context, prepare transport.PrepareFunc, retry bool) ([]byte, transport.ISession, error) {
	// We always try once, retries go to the next connection
	attempts := 1
	if retry && t.config.RetryCount > 0 {
		attempts += t.config.RetryCount
	}

	// Initial backoff duration in milliseconds
	backoffMs := 50
	var lastErr error

	for i := 0; i < attempts; i++ {
		if i > 0 {
			// Exponential backoff with a small random jitter (+-10%)
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			select {
			case <-time.After(time.Duration(jitter) * time.Millisecond):
			case <-ctx.Done():
				return nil, nil, common.FromContext(ctx.Err())
			}
			backoffMs *= 2
		}

		conn := t.getNextConnection()
		if conn == nil {
			return nil, nil, common.NewError(common.KindConnectionFailure, "no active connections available")
		}

		sess, err := conn.session()
		if err != nil {
			lastErr = err
			Logger.Debugf("Request attempt %d/%d failed: %v", i+1, attempts, err)
			continue
		}

		req, err := prepare(sess)
		if err != nil {
			return nil, nil, err
		}

		resp, err := conn.roundTrip(ctx, sess, t.nextRequestID.Add(1), req)
		if err == nil {
			return resp, sess, nil
		}
		if common.KindOf(err) != common.KindConnectionFailure {
			return nil, nil, err
		}
		lastErr = err
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, attempts, err)
	}

	// All attempts failed
	if attempts == 1 {
		return nil, nil, lastErr
	}
	return nil, nil, common.WrapError(common.KindConnectionFailure, lastErr, "failed to send request after %d attempts", attempts)
}

func (t *clientTransport) Close() error {
	t.stopping.Store(true)
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}

	// optimize for single connection
	if len(t.connections) == 1 {
		return t.connections[0]
	}
	return t.connections[t.nextConnIndex.Add(1)%uint64(len(t.connections))]
}

// closeConnections closes all active connections
func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	defer t.connectionsMu.Unlock()

	for _, conn := range t.connections {
		conn.mu.Lock()
		if conn.sess != nil {
			conn.sess.close(common.NewError(common.KindConnectionFailure, "client closed"))
			conn.sess = nil
		}
		conn.mu.Unlock()
	}

	// Empty the list
	t.connections = nil
}

// session returns the live session of the connection, reconnecting if necessary
func (c *clientConnection) session() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil && c.sess.ctx.Err() == nil {
		return c.sess, nil
	}
	if c.parent.stopping.Load() {
		return nil, common.NewError(common.KindConnectionFailure, "client closed")
	}

	// Connect to the endpoint
	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return nil, common.WrapError(common.KindConnectionFailure, err, "failed to connect to %s", c.endpoint)
	}

	// Upgrade the connection with protocol-specific settings
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		_ = conn.Close()
		return nil, common.WrapError(common.KindConnectionFailure, err, "failed to upgrade connection to %s", c.endpoint)
	}

	cfg := c.parent.config
	writeTimeout := time.Duration(cfg.TimeoutMillisecond) * time.Millisecond
	c.sess = newSession(context.Background(), conn, cfg.MaxFrameBytes, cfg.StreamCapacity, writeTimeout)

	// Start the response reader
	go c.readFrames(c.sess)
	return c.sess, nil
}

// roundTrip writes a request frame and waits for the matching response
func (c *clientConnection) roundTrip(ctx context.Context, sess *session, requestID uint64, req []byte) ([]byte, error) {
	respCh := make(chan []byte, 1)

	// Register the request and ensure we clean up when done
	c.pending.Store(requestID, pendingCall{sess: sess, ch: respCh})
	defer c.pending.Delete(requestID)

	if err := sess.write(frameRequest, requestID, req); err != nil {
		err = common.WrapError(common.KindConnectionFailure, err, "failed to write request to %s", c.endpoint)
		sess.close(err)
		return nil, err
	}

	// Wait for response or timeout
	var timeoutCh <-chan time.Time
	if timeout := c.parent.config.TimeoutMillisecond; timeout > 0 {
		timer := time.NewTimer(time.Duration(timeout) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timeoutCh:
		return nil, common.NewError(common.KindTimeout, "no response from %s within %d ms", c.endpoint, c.parent.config.TimeoutMillisecond)
	case <-ctx.Done():
		return nil, common.FromContext(ctx.Err())
	case <-sess.done():
		// the response may have arrived right before the connection broke
		select {
		case resp := <-respCh:
			return resp, nil
		default:
		}
		// readFrames already names the endpoint in the failure
		err := sess.failure()
		if common.KindOf(err) == common.KindConnectionFailure {
			return nil, err
		}
		return nil, common.WrapError(common.KindConnectionFailure, err, "connection to %s lost", c.endpoint)
	}
}

// readFrames reads frames of sess in a loop and distributes responses to waiting requests
func (c *clientConnection) readFrames(sess *session) {
	for {
		kind, requestID, data, err := sess.readFrame()
		if err != nil {
			if sess.ctx.Err() == nil {
				Logger.Debugf("Connection to %s lost: %v", c.endpoint, err)
			}
			sess.close(common.WrapError(common.KindConnectionFailure, err, "connection to %s lost", c.endpoint))
			return
		}

		switch kind {
		case frameResponse:
			call, found := c.pending.Load(requestID)
			if !found || call.sess != sess {
				// the request timed out or was cancelled
				Logger.Debugf("Received response for unknown request ID %d", requestID)
				continue
			}
			call.ch <- data

		case frameRequest:
			sess.close(common.NewError(common.KindConnectionFailure, "unexpected request frame from %s", c.endpoint))
			return

		default:
			if err := sess.handleStreamFrame(kind, requestID, data); err != nil {
				Logger.Warningf("Closing connection to %s: %v", c.endpoint, err)
				sess.close(common.WrapError(common.KindConnectionFailure, err, "protocol error"))
				return
			}
		}
	}
}
