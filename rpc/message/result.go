package message

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/stream"
)

// ResultKind tells which field of a Result is set
type ResultKind uint8

const (
	ResultValue   ResultKind = iota // immediate value
	ResultPending                   // promise resolved later
	ResultStream                    // open device stream
)

func (k ResultKind) String() string {
	switch k {
	case ResultValue:
		return "value"
	case ResultPending:
		return "pending"
	case ResultStream:
		return "stream"
	default:
		return "unknown"
	}
}

// Result is the outcome of a procedure: a value, a pending promise or a stream
type Result struct {
	kind    ResultKind
	value   any
	promise *Promise
	stream  *stream.DeviceStream
}

// Value creates a result holding v. A *stream.DeviceStream becomes a stream result.
func Value(v any) *Result {
	if s, ok := v.(*stream.DeviceStream); ok {
		return Stream(s)
	}
	return &Result{kind: ResultValue, value: v}
}

// Pending creates a result that completes when p is settled
func Pending(p *Promise) *Result {
	return &Result{kind: ResultPending, promise: p}
}

// Stream creates a result handing the caller an open stream
func Stream(s *stream.DeviceStream) *Result {
	return &Result{kind: ResultStream, stream: s}
}

func (r *Result) Kind() ResultKind             { return r.kind }
func (r *Result) Value() any                   { return r.value }
func (r *Result) Promise() *Promise            { return r.promise }
func (r *Result) Stream() *stream.DeviceStream { return r.stream }

// Resolve waits for a pending result and returns the settled result.
// Value and stream results are returned as they are.
func (r *Result) Resolve(ctx context.Context) (*Result, error) {
	if r.kind != ResultPending {
		return r, nil
	}
	v, err := r.promise.Await(ctx)
	if err != nil {
		return nil, err
	}
	return Value(v), nil
}

// As returns the value of r as T, failing with TypeMismatch otherwise
func As[T any](r *Result) (T, error) {
	var zero T
	if r.kind == ResultStream {
		if s, ok := any(r.stream).(T); ok {
			return s, nil
		}
		return zero, common.NewError(common.KindTypeMismatch, "result is a stream, not %T", zero)
	}
	v, ok := r.value.(T)
	if !ok {
		return zero, common.NewError(common.KindTypeMismatch, "result is %T, not %T", r.value, zero)
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Promise
// --------------------------------------------------------------------------

// Promise is a value that is produced later. It is settled exactly once.
type Promise struct {
	mu      sync.Mutex
	settled bool
	value   any
	err     error
	done    chan struct{}
}

// NewPromise creates an unsettled promise
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Resolve settles the promise with v. It fails if the promise is already settled.
func (p *Promise) Resolve(v any) error {
	return p.settle(v, nil)
}

// Reject settles the promise with err. It fails if the promise is already settled.
func (p *Promise) Reject(err error) error {
	if err == nil {
		err = common.NewError(common.KindHandlerFailure, "promise rejected")
	}
	return p.settle(nil, err)
}

func (p *Promise) settle(v any, err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return common.NewError(common.KindHandlerFailure, "promise already settled")
	}
	p.settled = true
	p.value = v
	p.err = err
	close(p.done)
	return nil
}

// Done is closed once the promise is settled
func (p *Promise) Done() <-chan struct{} {
	return p.done
}

// Await blocks until the promise is settled or ctx is done
func (p *Promise) Await(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, common.FromContext(ctx.Err())
	}
}
