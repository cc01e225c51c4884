package base

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/stream"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Session (one per connection, shared by client and server side)
// --------------------------------------------------------------------------

// session wraps a single connection. It serializes writes and moves the chunks of
// streams bound to the connection in both directions.
//
// Stream flow control: the receiving side grants the sender one credit per free
// slot of its local stream. The sender sends one data frame per credit and the
// receiver grants a new credit each time its consumer reads a chunk. The read loop
// of the connection therefore never blocks on a full stream.
type session struct {
	conn         net.Conn
	reader       *bufio.Reader
	writeMu      sync.Mutex
	writeTimeout time.Duration
	maxFrame     int
	streamCap    int

	ctx    context.Context
	cancel context.CancelFunc

	nextStreamID atomic.Uint64
	outbound     *xsync.MapOf[uint64, *outStream]           // streams we send, by our id
	inbound      *xsync.MapOf[uint64, *stream.DeviceStream] // streams we receive, by the peer's id
	streams      sync.WaitGroup

	closeOnce sync.Once
	errMu     sync.Mutex
	closeErr  error
}

// newSession creates a session for conn. The context of the session is derived from parent.
func newSession(parent context.Context, conn net.Conn, maxFrame, streamCap int, writeTimeout time.Duration) *session {
	if streamCap < 1 {
		streamCap = common.DefaultStreamCapacity
	}
	ctx, cancel := context.WithCancel(parent)
	return &session{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writeTimeout: writeTimeout,
		maxFrame:     maxFrame,
		streamCap:    streamCap,
		ctx:          ctx,
		cancel:       cancel,
		outbound:     xsync.NewMapOf[uint64, *outStream](),
		inbound:      xsync.NewMapOf[uint64, *stream.DeviceStream](),
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.ISession)
// --------------------------------------------------------------------------

func (s *session) SendStream(src *stream.DeviceStream) (uint64, error) {
	if s.ctx.Err() != nil {
		return 0, common.NewError(common.KindConnectionFailure, "session closed")
	}
	o := &outStream{
		id:     s.nextStreamID.Add(1),
		src:    src,
		notify: make(chan struct{}, 1),
	}
	s.outbound.Store(o.id, o)
	s.streams.Add(1)
	go s.pump(o)
	return o.id, nil
}

func (s *session) ReceiveStream(id uint64) (*stream.DeviceStream, error) {
	if s.ctx.Err() != nil {
		return nil, common.NewError(common.KindConnectionFailure, "session closed")
	}
	dst := stream.New(s.streamCap)
	if _, loaded := s.inbound.LoadOrStore(id, dst); loaded {
		return nil, common.NewError(common.KindSerializationFailure, "stream %d is already received", id)
	}
	s.streams.Add(1)

	dst.OnConsume(func() {
		if _, ok := s.inbound.Load(id); ok {
			s.sendControl(frameStreamCredit, id, encodeCredit(1))
		}
	})
	dst.OnClose(func(error) {
		defer s.streams.Done()
		// still registered: the consumer closed early, tell the sender to stop
		if _, ok := s.inbound.LoadAndDelete(id); ok {
			s.sendControl(frameStreamAbort, id, nil)
		}
	})

	// the session may have been closed while the stream was set up
	if s.ctx.Err() != nil {
		s.inbound.Delete(id)
		_ = dst.CloseWithError(s.failure())
		return dst, nil
	}

	s.sendControl(frameStreamCredit, id, encodeCredit(uint32(dst.Cap())))
	return dst, nil
}

func (s *session) WaitStreams(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return common.FromContext(ctx.Err())
	}
}

func (s *session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// --------------------------------------------------------------------------
// Frame handling
// --------------------------------------------------------------------------

// readFrame reads the next frame of the connection
func (s *session) readFrame() (frameKind, uint64, []byte, error) {
	return readFrame(s.reader, s.maxFrame)
}

// write writes a single frame, protected by the write mutex
func (s *session) write(kind frameKind, id uint64, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return writeFrame(s.conn, kind, id, data)
}

// sendControl writes a flow control frame. Failures close the session.
func (s *session) sendControl(kind frameKind, id uint64, data []byte) {
	if s.ctx.Err() != nil {
		return
	}
	if err := s.write(kind, id, data); err != nil {
		Logger.Debugf("failed to send %s for stream %d: %v", kind, id, err)
		s.close(common.WrapError(common.KindConnectionFailure, err, "write failed"))
	}
}

// handleStreamFrame processes a stream frame received from the peer.
// It returns an error if the frame violates the protocol.
func (s *session) handleStreamFrame(kind frameKind, id uint64, data []byte) error {
	switch kind {
	case frameStreamData:
		dst, ok := s.inbound.Load(id)
		if !ok {
			return nil // closed locally, late chunk
		}
		written, err := dst.TryWrite(data)
		if err != nil {
			return nil
		}
		if !written {
			// the sender ignored its credit
			if _, ok := s.inbound.LoadAndDelete(id); ok {
				_ = dst.CloseWithError(common.NewError(common.KindStreamClosed, "stream %d overflowed", id))
				s.sendControl(frameStreamAbort, id, nil)
			}
		}

	case frameStreamEnd:
		dst, ok := s.inbound.LoadAndDelete(id)
		if !ok {
			return nil
		}
		if len(data) > 0 {
			_ = dst.CloseWithError(common.NewError(common.KindStreamClosed, "%s", data))
		} else {
			_ = dst.Close()
		}

	case frameStreamCredit:
		n, err := decodeCredit(data)
		if err != nil {
			return err
		}
		if o, ok := s.outbound.Load(id); ok {
			o.grant(int(n))
		}

	case frameStreamAbort:
		if o, ok := s.outbound.Load(id); ok {
			o.abort()
		}

	default:
		return errors.New("unexpected " + kind.String() + " frame")
	}
	return nil
}

// pump forwards the chunks of an outbound stream, one data frame per credit
func (s *session) pump(o *outStream) {
	defer s.streams.Done()
	defer s.outbound.Delete(o.id)

	for {
		if !o.acquire(s.ctx.Done()) {
			if !o.aborted.Load() {
				_ = o.src.CloseWithError(s.failure())
			}
			return
		}

		chunk, err := o.src.Read(s.ctx)
		if o.aborted.Load() {
			return
		}
		switch {
		case err == io.EOF:
			s.sendControl(frameStreamEnd, o.id, nil)
			return
		case err != nil && s.ctx.Err() != nil:
			_ = o.src.CloseWithError(s.failure())
			return
		case err != nil:
			s.sendControl(frameStreamEnd, o.id, []byte(err.Error()))
			return
		}

		if err := s.write(frameStreamData, o.id, chunk); err != nil {
			s.close(common.WrapError(common.KindConnectionFailure, err, "write failed"))
			_ = o.src.CloseWithError(s.failure())
			return
		}
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// close closes the connection. All streams still bound to it end with err.
func (s *session) close(err error) {
	s.closeOnce.Do(func() {
		if err == nil {
			err = common.NewError(common.KindConnectionFailure, "connection closed")
		}
		s.errMu.Lock()
		s.closeErr = err
		s.errMu.Unlock()

		s.cancel()
		_ = s.conn.Close()

		s.inbound.Range(func(id uint64, dst *stream.DeviceStream) bool {
			if _, ok := s.inbound.LoadAndDelete(id); ok {
				_ = dst.CloseWithError(err)
			}
			return true
		})
	})
}

// failure returns the error the session was closed with
func (s *session) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.closeErr == nil {
		return common.NewError(common.KindConnectionFailure, "connection closed")
	}
	return s.closeErr
}

// done is closed when the session is closed
func (s *session) done() <-chan struct{} {
	return s.ctx.Done()
}

// --------------------------------------------------------------------------
// Outbound stream state
// --------------------------------------------------------------------------

type outStream struct {
	id      uint64
	src     *stream.DeviceStream
	mu      sync.Mutex
	credit  int
	notify  chan struct{}
	aborted atomic.Bool
}

func (o *outStream) grant(n int) {
	o.mu.Lock()
	o.credit += n
	o.mu.Unlock()
	o.wake()
}

func (o *outStream) abort() {
	o.aborted.Store(true)
	_ = o.src.Close()
	o.wake()
}

func (o *outStream) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// acquire takes one credit, waiting for it if necessary. It returns false if the
// stream was aborted or closing is closed.
func (o *outStream) acquire(closing <-chan struct{}) bool {
	for {
		if o.aborted.Load() {
			return false
		}
		o.mu.Lock()
		if o.credit > 0 {
			o.credit--
			o.mu.Unlock()
			return true
		}
		o.mu.Unlock()

		select {
		case <-o.notify:
		case <-closing:
			return false
		}
	}
}
