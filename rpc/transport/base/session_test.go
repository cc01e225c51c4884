package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/stream"
)

// sessionPair connects two sessions through an in-memory pipe and runs their read loops
func sessionPair(t *testing.T, streamCap int) (*session, *session) {
	t.Helper()
	c1, c2 := net.Pipe()
	a := newSession(context.Background(), c1, 0, streamCap, 0)
	b := newSession(context.Background(), c2, 0, streamCap, 0)
	go readLoop(a)
	go readLoop(b)
	t.Cleanup(func() {
		a.close(nil)
		b.close(nil)
	})
	return a, b
}

func readLoop(s *session) {
	for {
		kind, id, data, err := s.readFrame()
		if err != nil {
			s.close(common.WrapError(common.KindConnectionFailure, err, "read failed"))
			return
		}
		if err := s.handleStreamFrame(kind, id, data); err != nil {
			s.close(common.WrapError(common.KindConnectionFailure, err, "protocol error"))
			return
		}
	}
}

func TestStreamTransfersChunksInOrder(t *testing.T) {
	a, b := sessionPair(t, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := stream.New(2)
	id, err := a.SendStream(src)
	if err != nil {
		t.Fatalf("SendStream failed: %v", err)
	}
	dst, err := b.ReceiveStream(id)
	if err != nil {
		t.Fatalf("ReceiveStream failed: %v", err)
	}

	const chunks = 50
	go func() {
		for i := 0; i < chunks; i++ {
			if err := src.Write(ctx, []byte(fmt.Sprintf("chunk-%02d", i))); err != nil {
				t.Errorf("Write %d failed: %v", i, err)
				return
			}
		}
		_ = src.Close()
	}()

	for i := 0; i < chunks; i++ {
		chunk, err := dst.Read(ctx)
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		if want := fmt.Sprintf("chunk-%02d", i); string(chunk) != want {
			t.Fatalf("Expected %q, got %q", want, chunk)
		}
		// never more chunks buffered than granted
		if dst.Len() > dst.Cap() {
			t.Fatalf("Receiver buffered %d chunks with capacity %d", dst.Len(), dst.Cap())
		}
	}
	if _, err := dst.Read(ctx); err != io.EOF {
		t.Fatalf("Expected io.EOF after the last chunk, got %v", err)
	}

	if err := a.WaitStreams(ctx); err != nil {
		t.Fatalf("WaitStreams on sender failed: %v", err)
	}
	if err := b.WaitStreams(ctx); err != nil {
		t.Fatalf("WaitStreams on receiver failed: %v", err)
	}
}

func TestStreamErrorIsForwarded(t *testing.T) {
	a, b := sessionPair(t, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := stream.New(4)
	id, _ := a.SendStream(src)
	dst, err := b.ReceiveStream(id)
	if err != nil {
		t.Fatalf("ReceiveStream failed: %v", err)
	}

	_ = src.Write(ctx, []byte("partial"))
	_ = src.CloseWithError(errors.New("device unplugged"))

	data, err := dst.ReadAll(ctx)
	if string(data) != "partial" {
		t.Errorf("Expected the buffered chunk, got %q", data)
	}
	if !errors.Is(err, common.ErrStreamClosed) {
		t.Fatalf("Expected a stream closed error, got %v", err)
	}
}

func TestReceiverCloseAbortsSender(t *testing.T) {
	a, b := sessionPair(t, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := stream.New(1)
	id, _ := a.SendStream(src)
	dst, err := b.ReceiveStream(id)
	if err != nil {
		t.Fatalf("ReceiveStream failed: %v", err)
	}

	// a producer that never stops
	go func() {
		for src.Write(ctx, []byte("x")) == nil {
		}
	}()

	if _, err := dst.Read(ctx); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	_ = dst.Close()

	select {
	case <-src.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Source stream was not closed after the receiver aborted")
	}
	if err := a.WaitStreams(ctx); err != nil {
		t.Fatalf("WaitStreams failed: %v", err)
	}
}

func TestSessionCloseFailsStreams(t *testing.T) {
	a, b := sessionPair(t, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	src := stream.New(4)
	id, _ := a.SendStream(src)
	dst, err := b.ReceiveStream(id)
	if err != nil {
		t.Fatalf("ReceiveStream failed: %v", err)
	}

	a.close(common.NewError(common.KindConnectionFailure, "gone"))

	if _, err := dst.Read(ctx); !errors.Is(err, common.ErrConnectionFailure) {
		t.Fatalf("Expected a connection failure on the receiver, got %v", err)
	}
	select {
	case <-src.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Source stream was not closed with the session")
	}
	if _, err := a.SendStream(stream.New(1)); !errors.Is(err, common.ErrConnectionFailure) {
		t.Fatalf("Expected SendStream on a closed session to fail, got %v", err)
	}
}

func TestReceiveStreamTwiceFails(t *testing.T) {
	_, b := sessionPair(t, 4)
	if _, err := b.ReceiveStream(9); err != nil {
		t.Fatalf("ReceiveStream failed: %v", err)
	}
	if _, err := b.ReceiveStream(9); err == nil {
		t.Fatal("Expected the second ReceiveStream of an id to fail")
	}
}
