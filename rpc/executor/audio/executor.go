package audio

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/registry"
	"github.com/ValentinKolb/dComm/rpc/stream"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("audio")

const (
	Version = "audio/1.0"

	// DefaultVolume is the volume of record_and_play in percent
	DefaultVolume = 100
	// DefaultMaxRecordBytes bounds a single recording when no limit is given
	DefaultMaxRecordBytes = common.DefaultMaxFrameBytes

	recordingCapacity = 16
)

// State is the state of the audio device
type State int32

const (
	Idle State = iota
	Recording
	Playing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// Executor exposes a device through the procedures record, play, record_and_play
// and record_and_play_streaming. Only one of them can use the device at a time,
// a second call fails with Busy.
type Executor struct {
	device    IDevice
	maxFrames int64
	state     atomic.Int32
}

// NewExecutor creates an executor driving device. A single recording holds at most
// maxRecordBytes bytes (DefaultMaxRecordBytes if maxRecordBytes <= 0), so its
// result still fits into one response frame.
func NewExecutor(device IDevice, maxRecordBytes int) *Executor {
	if maxRecordBytes <= 0 {
		maxRecordBytes = DefaultMaxRecordBytes
	}
	return &Executor{device: device, maxFrames: int64(maxRecordBytes / device.FrameSize())}
}

// MaxFrames returns the largest number of frames a single recording may hold
func (e *Executor) MaxFrames() int64 {
	return e.maxFrames
}

// State returns what the device is currently doing
func (e *Executor) State() State {
	return State(e.state.Load())
}

func (e *Executor) Version() string { return Version }

func (e *Executor) Handlers() registry.HandlerSet {
	return registry.HandlerSet{
		"record":                    e.record,
		"play":                      e.play,
		"record_and_play":           e.recordAndPlay,
		"record_and_play_streaming": e.recordAndPlayStreaming,
	}
}

// --------------------------------------------------------------------------
// Device state
// --------------------------------------------------------------------------

// acquire moves the device from Idle to s
func (e *Executor) acquire(s State) error {
	if e.state.CompareAndSwap(int32(Idle), int32(s)) {
		return nil
	}
	return common.NewError(common.KindBusy, "audio device is %s", e.State())
}

func (e *Executor) release() {
	e.state.Store(int32(Idle))
}

// --------------------------------------------------------------------------
// Handlers
// --------------------------------------------------------------------------

func (e *Executor) record(ctx context.Context, msg *message.Message) (*message.Result, error) {
	frames, err := message.Get[int64](msg, "num_frames")
	if err != nil {
		return nil, err
	}
	if frames < 0 {
		return nil, common.NewError(common.KindHandlerFailure, "num_frames must not be negative")
	}
	if frames > e.maxFrames {
		return nil, common.NewError(common.KindHandlerFailure, "num_frames %d exceeds the limit of %d", frames, e.maxFrames)
	}

	if err := e.acquire(Recording); err != nil {
		return nil, err
	}
	defer e.release()

	pcm, err := e.device.Capture(ctx, int(frames))
	if err != nil {
		return nil, err
	}
	Logger.Debugf("recorded %d frames", frames)
	return message.Value(pcm), nil
}

func (e *Executor) play(ctx context.Context, msg *message.Message) (*message.Result, error) {
	song, err := message.Get[[]byte](msg, "song")
	if err != nil {
		return nil, err
	}

	if err := e.acquire(Playing); err != nil {
		return nil, err
	}
	defer e.release()

	if err := e.device.Playback(ctx, song); err != nil {
		return nil, err
	}
	Logger.Debugf("played %d bytes", len(song))
	return message.Value("OK"), nil
}

func (e *Executor) recordAndPlay(ctx context.Context, msg *message.Message) (*message.Result, error) {
	song, err := message.Get[[]byte](msg, "song")
	if err != nil {
		return nil, err
	}
	times, err := optionalInt(msg, "times", 1)
	if err != nil {
		return nil, err
	}
	volume, err := optionalInt(msg, "volume", DefaultVolume)
	if err != nil {
		return nil, err
	}
	if times < 0 || volume < 0 {
		return nil, common.NewError(common.KindHandlerFailure, "times and volume must not be negative")
	}
	frames := int64(len(song) / e.device.FrameSize())
	if frames > e.maxFrames {
		return nil, common.NewError(common.KindHandlerFailure, "song of %d frames exceeds the recording limit of %d", frames, e.maxFrames)
	}

	if err := e.acquire(Recording); err != nil {
		return nil, err
	}
	defer e.release()

	recording, err := e.device.Capture(ctx, int(frames))
	if err != nil {
		return nil, err
	}

	// the device stays taken between both phases
	e.state.Store(int32(Playing))
	scaled := scaleVolume(song, volume)
	for i := int64(0); i < times; i++ {
		if err := e.device.Playback(ctx, scaled); err != nil {
			return nil, err
		}
	}
	Logger.Debugf("recorded %d bytes, played %d bytes %d times at %d%%", len(recording), len(song), times, volume)
	return message.Value(recording), nil
}

// recordAndPlayStreaming plays every chunk of song and records a chunk of the same
// length right after it. The recording is streamed back while the song arrives.
func (e *Executor) recordAndPlayStreaming(ctx context.Context, msg *message.Message) (*message.Result, error) {
	song, err := message.GetStream(msg, "song")
	if err != nil {
		return nil, err
	}
	if err := e.acquire(Playing); err != nil {
		return nil, err
	}

	recording := stream.New(recordingCapacity)
	go func() {
		defer e.release()
		err := e.loop(ctx, song, recording)
		switch {
		case err == nil:
			_ = recording.Close()
		case errors.Is(err, common.ErrStreamClosed) && recording.Closed():
			// the caller stopped reading the recording
			_ = song.CloseWithError(err)
		default:
			Logger.Warningf("record_and_play_streaming failed: %v", err)
			_ = recording.CloseWithError(err)
			_ = song.CloseWithError(err)
		}
	}()
	return message.Stream(recording), nil
}

func (e *Executor) loop(ctx context.Context, song, recording *stream.DeviceStream) error {
	frameSize := e.device.FrameSize()
	for {
		chunk, err := song.Read(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := e.device.Playback(ctx, chunk); err != nil {
			return err
		}
		pcm, err := e.device.Capture(ctx, len(chunk)/frameSize)
		if err != nil {
			return err
		}
		if err := recording.Write(ctx, pcm); err != nil {
			return err
		}
	}
}

// optionalInt returns the int64 parameter key or def when it is absent
func optionalInt(msg *message.Message, key string, def int64) (int64, error) {
	if _, ok := msg.Lookup(key); !ok {
		return def, nil
	}
	return message.Get[int64](msg, key)
}
