package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/stream"
)

func constHandler(v any) HandlerFunc {
	return func(context.Context, *message.Message) (*message.Result, error) {
		return message.Value(v), nil
	}
}

func call(t *testing.T, r *Registry, name string, params ...message.Parameter) (any, error) {
	t.Helper()
	res, err := r.Dispatch(context.Background(), message.MustNewMessage(name, params...))
	if err != nil {
		return nil, err
	}
	return res.Value(), nil
}

// TestLastRegistrationWins registers executor A then B and checks only B's handlers remain
func TestLastRegistrationWins(t *testing.T) {
	r := New()

	_ = r.RegisterExecutor(NewExecutor("A", HandlerSet{"a_only": constHandler("A"), "shared": constHandler("A")}))
	_ = r.RegisterExecutor(NewExecutor("B", HandlerSet{"shared": constHandler("B")}))

	if v, err := call(t, r, "shared"); err != nil || v != "B" {
		t.Errorf("Expected B, got %v (%v)", v, err)
	}
	if _, err := call(t, r, "a_only"); !errors.Is(err, common.ErrProcedureNotFound) {
		t.Errorf("Expected ProcedureNotFound for A's procedure, got %v", err)
	}
	if v, _ := call(t, r, ProcGetVersion); v != "B" {
		t.Errorf("Expected version B, got %v", v)
	}
}

// TestInFlightKeepsSnapshot checks that a running call finishes against the set it started with
func TestInFlightKeepsSnapshot(t *testing.T) {
	r := New()
	started := make(chan struct{})
	release := make(chan struct{})

	_ = r.RegisterExecutor(NewExecutor("A", HandlerSet{
		"slow": func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			close(started)
			<-release
			return message.Value("A"), nil
		},
	}))

	done := make(chan any, 1)
	go func() {
		v, _ := call(t, r, "slow")
		done <- v
	}()

	<-started
	_ = r.RegisterExecutor(NewExecutor("B", HandlerSet{"slow": constHandler("B")}))
	close(release)

	if v := <-done; v != "A" {
		t.Errorf("Expected in-flight call to finish with A, got %v", v)
	}
	if v, _ := call(t, r, "slow"); v != "B" {
		t.Errorf("Expected new call to use B, got %v", v)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := New()
	if err := r.RegisterExecutor(NewExecutor("x", HandlerSet{"_rpc_echo": constHandler(1)})); err == nil {
		t.Error("Expected reserved name to be rejected")
	}
	if err := r.RegisterExecutor(NewExecutor("x", HandlerSet{"": constHandler(1)})); err == nil {
		t.Error("Expected empty name to be rejected")
	}
	if err := r.RegisterExecutor(nil); err == nil {
		t.Error("Expected nil executor to be rejected")
	}
}

func TestHandlerFailures(t *testing.T) {
	r := New()
	_ = r.RegisterExecutor(NewExecutor("v1", HandlerSet{
		"panics": func(context.Context, *message.Message) (*message.Result, error) {
			panic("microphone exploded")
		},
		"fails": func(context.Context, *message.Message) (*message.Result, error) {
			return nil, errors.New("plain error")
		},
		"busy": func(context.Context, *message.Message) (*message.Result, error) {
			return nil, common.NewError(common.KindBusy, "recording")
		},
		"void": func(context.Context, *message.Message) (*message.Result, error) {
			return nil, nil
		},
	}))

	if _, err := call(t, r, "panics"); !errors.Is(err, common.ErrHandlerFailure) {
		t.Errorf("Expected HandlerFailure from panic, got %v", err)
	}
	if _, err := call(t, r, "fails"); !errors.Is(err, common.ErrHandlerFailure) {
		t.Errorf("Expected HandlerFailure from plain error, got %v", err)
	}
	if _, err := call(t, r, "busy"); !errors.Is(err, common.ErrBusy) {
		t.Errorf("Expected kind to be preserved, got %v", err)
	}
	if v, err := call(t, r, "void"); err != nil || v != nil {
		t.Errorf("Expected nil value, got %v (%v)", v, err)
	}
}

func TestReservedProcedures(t *testing.T) {
	r := New()

	if v, _ := call(t, r, ProcEcho, message.Param("value", "ping")); v != "ping" {
		t.Errorf("Expected echo of ping, got %v", v)
	}
	if _, err := call(t, r, ProcEcho); !errors.Is(err, common.ErrKeyNotFound) {
		t.Errorf("Expected KeyNotFound, got %v", err)
	}

	// the echo stack is last in first out and pops "" when empty
	_, _ = call(t, r, ProcEchoPush, message.Param("value", "first"))
	_, _ = call(t, r, ProcEchoPush, message.Param("value", int64(2)))
	for _, want := range []any{int64(2), "first", ""} {
		if v, _ := call(t, r, ProcEchoPop); v != want {
			t.Errorf("Expected %v, got %v", want, v)
		}
	}

	before := time.Now().UnixMicro()
	v, _ := call(t, r, ProcDeviceTimeUs)
	if ts, ok := v.(int64); !ok || ts < before {
		t.Errorf("Expected device time >= %d, got %v", before, v)
	}

	if _, err := call(t, r, ProcStop); !errors.Is(err, common.ErrHandlerFailure) {
		t.Errorf("Expected stop without stop func to fail, got %v", err)
	}

	stopped := make(chan struct{})
	r.SetStopFunc(func() { close(stopped) })
	if v, err := call(t, r, ProcStop); err != nil || v != "OK" {
		t.Errorf("Expected OK from stop, got %v (%v)", v, err)
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("Stop func was not called")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	r := New(RateLimitMiddleware(1, 2))
	_ = r.RegisterExecutor(NewExecutor("v1", HandlerSet{"ping": constHandler("pong")}))

	for i := 0; i < 2; i++ {
		if _, err := call(t, r, "ping"); err != nil {
			t.Fatalf("Request %d should pass, got %v", i, err)
		}
	}
	if _, err := call(t, r, "ping"); !errors.Is(err, common.ErrBusy) {
		t.Errorf("Expected Busy from rate limiter, got %v", err)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	var cancelled atomic.Bool
	r := New(TimeoutMiddleware(30 * time.Millisecond))
	_ = r.RegisterExecutor(NewExecutor("v1", HandlerSet{
		"slow": func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			<-ctx.Done()
			cancelled.Store(true)
			return nil, ctx.Err()
		},
		"fast": constHandler("ok"),
	}))

	if _, err := call(t, r, "slow"); !errors.Is(err, common.ErrTimeout) {
		t.Errorf("Expected Timeout, got %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if !cancelled.Load() {
		t.Error("Expected handler context to be cancelled after timeout")
	}
	if v, err := call(t, r, "fast"); err != nil || v != "ok" {
		t.Errorf("Expected ok, got %v (%v)", v, err)
	}
}

// TestTimeoutKeepsStreamAlive checks that a returned stream is not cut off when the handler returns
func TestTimeoutKeepsStreamAlive(t *testing.T) {
	r := New(TimeoutMiddleware(time.Second))
	_ = r.RegisterExecutor(NewExecutor("v1", HandlerSet{
		"count": func(ctx context.Context, msg *message.Message) (*message.Result, error) {
			out := stream.New(1)
			go func() {
				defer out.Close()
				for i := 0; i < 3; i++ {
					if err := out.Write(ctx, []byte{byte(i)}); err != nil {
						return
					}
				}
			}()
			return message.Stream(out), nil
		},
	}))

	res, err := r.Dispatch(context.Background(), message.MustNewMessage("count"))
	if err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	data, err := res.Stream().ReadAll(context.Background())
	if err != nil || len(data) != 3 {
		t.Errorf("Expected 3 chunks, got %v (%v)", data, err)
	}
}

// TestReleaseUnsettledPromise checks that the handler context of a promise that
// is never settled is released when the call context ends
func TestReleaseUnsettledPromise(t *testing.T) {
	ctx, cancelCall := context.WithCancel(context.Background())
	released := make(chan struct{})

	releaseWith(ctx, message.Pending(message.NewPromise()), nil, func() { close(released) })

	select {
	case <-released:
		t.Fatal("released before the call ended")
	case <-time.After(20 * time.Millisecond):
	}

	cancelCall()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("handler context not released after the call ended")
	}
}
