package stream

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/ValentinKolb/dComm/rpc/common"
)

// DeviceStream is a bounded queue of byte chunks with backpressure.
// One producer writes, one consumer reads. Once closed it stays closed.
type DeviceStream struct {
	mu       sync.Mutex
	queue    [][]byte
	capacity int
	maxBytes int
	buffered int

	closed   bool
	closeErr error

	// changed is closed and replaced whenever the queue or the closed flag changes
	changed chan struct{}
	done    chan struct{}

	onConsume func()
	onClose   []func(error)
}

// New creates a stream holding at most capacity chunks. Capacities below 1 are raised to 1.
func New(capacity int) *DeviceStream {
	return NewWithLimits(capacity, 0)
}

// NewWithLimits creates a stream that additionally holds at most maxBytes buffered bytes.
// A single chunk larger than maxBytes is still accepted when the stream is empty.
// maxBytes <= 0 disables the byte limit.
func NewWithLimits(capacity, maxBytes int) *DeviceStream {
	if capacity < 1 {
		capacity = 1
	}
	return &DeviceStream{
		queue:    make([][]byte, 0, capacity),
		capacity: capacity,
		maxBytes: maxBytes,
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// --------------------------------------------------------------------------
// Producer side
// --------------------------------------------------------------------------

// Write appends a chunk, blocking while the stream is full.
// The stream takes ownership of chunk. Returns StreamClosed once the stream
// is closed, or the context error as Timeout or Cancelled.
func (s *DeviceStream) Write(ctx context.Context, chunk []byte) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return common.ErrStreamClosed
		}
		if !s.fullLocked(len(chunk)) {
			s.pushLocked(chunk)
			s.mu.Unlock()
			return nil
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return common.FromContext(ctx.Err())
		case <-changed:
		}
	}
}

// TryWrite appends a chunk without blocking. It returns false if the stream is full.
func (s *DeviceStream) TryWrite(chunk []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, common.ErrStreamClosed
	}
	if s.fullLocked(len(chunk)) {
		return false, nil
	}
	s.pushLocked(chunk)
	return true, nil
}

// --------------------------------------------------------------------------
// Consumer side
// --------------------------------------------------------------------------

// Read returns the next chunk, blocking while the stream is empty and open.
// After close the remaining chunks are returned first, then io.EOF or the error
// passed to CloseWithError.
func (s *DeviceStream) Read(ctx context.Context) ([]byte, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			chunk := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			s.buffered -= len(chunk)
			s.signalLocked()
			hook := s.onConsume
			s.mu.Unlock()

			if hook != nil {
				hook()
			}
			return chunk, nil
		}
		if s.closed {
			err := s.closeErr
			s.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return nil, err
		}
		changed := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, common.FromContext(ctx.Err())
		case <-changed:
		}
	}
}

// ReadAll reads until the stream is closed and returns the concatenated chunks
func (s *DeviceStream) ReadAll(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	for {
		chunk, err := s.Read(ctx)
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
		buf.Write(chunk)
	}
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// Close closes the stream. Writers fail with StreamClosed from now on while the
// reader drains the buffered chunks. Closing twice returns StreamClosed.
func (s *DeviceStream) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError closes the stream; the reader receives err instead of io.EOF
// after draining.
func (s *DeviceStream) CloseWithError(err error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return common.NewError(common.KindStreamClosed, "stream already closed")
	}
	s.closed = true
	s.closeErr = err
	s.signalLocked()
	close(s.done)
	hooks := s.onClose
	s.onClose = nil
	s.mu.Unlock()

	for _, hook := range hooks {
		hook(err)
	}
	return nil
}

// Done is closed once the stream is closed
func (s *DeviceStream) Done() <-chan struct{} {
	return s.done
}

// Closed reports whether the stream has been closed
func (s *DeviceStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Err returns the error the stream was closed with
func (s *DeviceStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

// Len returns the number of buffered chunks
func (s *DeviceStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Cap returns the chunk capacity
func (s *DeviceStream) Cap() int {
	return s.capacity
}

// --------------------------------------------------------------------------
// Hooks
// --------------------------------------------------------------------------

// OnConsume registers fn to be called after every successful Read.
// Transports use it to grant flow control credit to the remote producer.
func (s *DeviceStream) OnConsume(fn func()) {
	s.mu.Lock()
	s.onConsume = fn
	s.mu.Unlock()
}

// OnClose registers fn to be called once the stream is closed. If the stream is
// already closed fn runs immediately.
func (s *DeviceStream) OnClose(fn func(err error)) {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		fn(err)
		return
	}
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func (s *DeviceStream) fullLocked(size int) bool {
	if len(s.queue) >= s.capacity {
		return true
	}
	return s.maxBytes > 0 && s.buffered > 0 && s.buffered+size > s.maxBytes
}

func (s *DeviceStream) pushLocked(chunk []byte) {
	s.queue = append(s.queue, chunk)
	s.buffered += len(chunk)
	s.signalLocked()
}

func (s *DeviceStream) signalLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}
