package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/registry"
	"github.com/ValentinKolb/dComm/rpc/stream"
)

func newRegistry(t *testing.T, dev IDevice) (*registry.Registry, *Executor) {
	t.Helper()
	exec := NewExecutor(dev, 0)
	reg := registry.New()
	if err := reg.RegisterExecutor(exec); err != nil {
		t.Fatalf("RegisterExecutor failed: %v", err)
	}
	return reg, exec
}

func call(ctx context.Context, reg *registry.Registry, msg *message.Message) (*message.Result, error) {
	res, err := reg.Dispatch(ctx, msg)
	if err != nil {
		return nil, err
	}
	return res.Resolve(ctx)
}

func TestSimulatedDevice(t *testing.T) {
	dev := NewSimulatedDevice(false)
	ctx := context.Background()

	pcm, err := dev.Capture(ctx, 160)
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if len(pcm) != 160*dev.FrameSize() {
		t.Errorf("Expected %d bytes, got %d", 160*dev.FrameSize(), len(pcm))
	}

	silent := true
	for i := 0; i < len(pcm); i += 2 {
		if binary.LittleEndian.Uint16(pcm[i:]) != 0 {
			silent = false
			break
		}
	}
	if silent {
		t.Error("Expected a tone, got silence")
	}

	if err := dev.Playback(ctx, pcm); err != nil {
		t.Fatalf("Playback failed: %v", err)
	}
	if dev.Played() != int64(len(pcm)) {
		t.Errorf("Expected %d played bytes, got %d", len(pcm), dev.Played())
	}
	if err := dev.Playback(ctx, []byte{1, 2, 3}); err == nil {
		t.Error("Expected an error for a partial frame")
	}
}

func TestSimulatedDevicePacing(t *testing.T) {
	dev := NewSimulatedDevice(true)
	dev.SampleRate = 1000

	start := time.Now()
	if _, err := dev.Capture(context.Background(), 50); err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("Capture of 50 ms returned after %s", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := dev.Capture(ctx, 1000); !errors.Is(err, common.ErrCancelled) {
		t.Errorf("Expected Cancelled, got %v", err)
	}
}

func TestScaleVolume(t *testing.T) {
	pcm := make([]byte, 6)
	for i, v := range []int16{1000, -1000, 30000} {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	out := scaleVolume(pcm, 200)
	want := []int16{2000, -2000, 32767}
	for i, w := range want {
		if got := int16(binary.LittleEndian.Uint16(out[i*2:])); got != w {
			t.Errorf("sample %d: expected %d, got %d", i, w, got)
		}
	}
	if int16(binary.LittleEndian.Uint16(pcm[0:])) != 1000 {
		t.Error("scaleVolume modified its input")
	}
}

func TestRecordAndPlay(t *testing.T) {
	dev := NewSimulatedDevice(false)
	reg, exec := newRegistry(t, dev)
	ctx := context.Background()

	res, err := call(ctx, reg, message.MustNewMessage("record", message.Param("num_frames", int64(100))))
	if err != nil {
		t.Fatalf("record failed: %v", err)
	}
	recording, err := message.As[[]byte](res)
	if err != nil || len(recording) != 100*dev.FrameSize() {
		t.Fatalf("Expected %d bytes, got %d (%v)", 100*dev.FrameSize(), len(recording), err)
	}

	res, err = call(ctx, reg, message.MustNewMessage("play", message.Param("song", recording)))
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if got, _ := message.As[string](res); got != "OK" {
		t.Errorf("Expected OK, got %q", got)
	}

	res, err = call(ctx, reg, message.MustNewMessage("record_and_play",
		message.Param("song", recording),
		message.Param("times", int64(3)),
		message.Param("volume", int64(50)),
	))
	if err != nil {
		t.Fatalf("record_and_play failed: %v", err)
	}
	if got, _ := message.As[[]byte](res); len(got) != len(recording) {
		t.Errorf("Expected a recording of %d bytes, got %d", len(recording), len(got))
	}
	if want := int64(len(recording) * 4); dev.Played() != want {
		t.Errorf("Expected %d played bytes, got %d", want, dev.Played())
	}
	if exec.State() != Idle {
		t.Errorf("Expected idle device, got %s", exec.State())
	}
}

func TestParameterErrors(t *testing.T) {
	reg, _ := newRegistry(t, NewSimulatedDevice(false))
	ctx := context.Background()

	tests := []struct {
		name string
		msg  *message.Message
		want error
	}{
		{"missing frames", message.MustNewMessage("record"), common.ErrKeyNotFound},
		{"wrong frames type", message.MustNewMessage("record", message.Param("num_frames", "10")), common.ErrTypeMismatch},
		{"negative frames", message.MustNewMessage("record", message.Param("num_frames", int64(-1))), common.ErrHandlerFailure},
		{"huge frames", message.MustNewMessage("record", message.Param("num_frames", int64(1)<<62)), common.ErrHandlerFailure},
		{"wrong song type", message.MustNewMessage("play", message.Param("song", "la la la")), common.ErrTypeMismatch},
		{"song not a stream", message.MustNewMessage("record_and_play_streaming", message.Param("song", []byte{0, 0})), common.ErrTypeMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := call(ctx, reg, tt.msg); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRecordingLimit(t *testing.T) {
	dev := NewSimulatedDevice(false)
	exec := NewExecutor(dev, 100*dev.FrameSize())
	reg := registry.New()
	if err := reg.RegisterExecutor(exec); err != nil {
		t.Fatalf("RegisterExecutor failed: %v", err)
	}
	ctx := context.Background()

	if exec.MaxFrames() != 100 {
		t.Fatalf("Expected a limit of 100 frames, got %d", exec.MaxFrames())
	}
	if _, err := call(ctx, reg, message.MustNewMessage("record", message.Param("num_frames", int64(100)))); err != nil {
		t.Errorf("record at the limit failed: %v", err)
	}
	if _, err := call(ctx, reg, message.MustNewMessage("record", message.Param("num_frames", int64(101)))); !errors.Is(err, common.ErrHandlerFailure) {
		t.Errorf("Expected HandlerFailure above the limit, got %v", err)
	}

	song := make([]byte, 101*dev.FrameSize())
	if _, err := call(ctx, reg, message.MustNewMessage("record_and_play", message.Param("song", song))); !errors.Is(err, common.ErrHandlerFailure) {
		t.Errorf("Expected HandlerFailure for a song above the limit, got %v", err)
	}
	if dev.Played() != 0 {
		t.Errorf("Expected nothing played, got %d bytes", dev.Played())
	}
	if exec.State() != Idle {
		t.Errorf("Expected idle device, got %s", exec.State())
	}
}

func TestBusy(t *testing.T) {
	dev := NewSimulatedDevice(true)
	dev.SampleRate = 1000
	reg, exec := newRegistry(t, dev)
	ctx := context.Background()

	// 300 frames at 1 kHz keep the device busy for 300 ms
	var wg sync.WaitGroup
	wg.Add(1)
	var recordErr error
	go func() {
		defer wg.Done()
		_, recordErr = call(ctx, reg, message.MustNewMessage("record", message.Param("num_frames", int64(300))))
	}()

	deadline := time.Now().Add(time.Second)
	for exec.State() != Recording && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if exec.State() != Recording {
		t.Fatalf("Expected the device to be recording, got %s", exec.State())
	}

	song := make([]byte, 20)
	_, err := call(ctx, reg, message.MustNewMessage("play", message.Param("song", song)))
	if !errors.Is(err, common.ErrBusy) {
		t.Errorf("Expected Busy while recording, got %v", err)
	}

	wg.Wait()
	if recordErr != nil {
		t.Fatalf("record failed: %v", recordErr)
	}

	if _, err := call(ctx, reg, message.MustNewMessage("play", message.Param("song", song))); err != nil {
		t.Errorf("play after record failed: %v", err)
	}
}

func TestRecordAndPlayStreaming(t *testing.T) {
	dev := NewSimulatedDevice(false)
	reg, exec := newRegistry(t, dev)
	ctx := context.Background()

	song := stream.New(4)
	res, err := reg.Dispatch(ctx, message.MustNewMessage("record_and_play_streaming", message.Param("song", song)))
	if err != nil {
		t.Fatalf("record_and_play_streaming failed: %v", err)
	}
	if res.Kind() != message.ResultStream {
		t.Fatalf("Expected a stream result, got %s", res.Kind())
	}

	// the device is held while the song is streamed
	if _, err := call(ctx, reg, message.MustNewMessage("record", message.Param("num_frames", int64(1)))); !errors.Is(err, common.ErrBusy) {
		t.Errorf("Expected Busy during streaming, got %v", err)
	}

	chunks := [][]byte{make([]byte, 64), make([]byte, 32), make([]byte, 128)}
	go func() {
		for _, c := range chunks {
			_ = song.Write(ctx, c)
		}
		_ = song.Close()
	}()

	recording := res.Stream()
	for i, c := range chunks {
		got, err := recording.Read(ctx)
		if err != nil {
			t.Fatalf("Read of chunk %d failed: %v", i, err)
		}
		if len(got) != len(c) {
			t.Errorf("chunk %d: expected %d bytes, got %d", i, len(c), len(got))
		}
	}
	if _, err := recording.Read(ctx); err == nil {
		t.Error("Expected the recording to end with the song")
	}

	deadline := time.Now().Add(time.Second)
	for exec.State() != Idle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if exec.State() != Idle {
		t.Errorf("Expected idle device after streaming, got %s", exec.State())
	}
}

func TestRecordAndPlayStreamingReaderStops(t *testing.T) {
	reg, exec := newRegistry(t, NewSimulatedDevice(false))
	ctx := context.Background()

	song := stream.New(1)
	res, err := reg.Dispatch(ctx, message.MustNewMessage("record_and_play_streaming", message.Param("song", song)))
	if err != nil {
		t.Fatalf("record_and_play_streaming failed: %v", err)
	}
	_ = res.Stream().Close()

	// writes on the song fail once the loop noticed the closed recording
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if err := song.Write(ctx, make([]byte, 2)); err != nil {
			break
		}
	}
	if !song.Closed() {
		t.Fatal("Expected the song stream to be closed")
	}
	for exec.State() != Idle && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if exec.State() != Idle {
		t.Errorf("Expected idle device, got %s", exec.State())
	}
}
