package audio

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
)

// IDevice is the audio hardware seen by the executor. Samples are signed 16 bit
// little endian PCM, a frame holds one sample per channel.
type IDevice interface {
	// FrameSize returns the size of one frame in bytes
	FrameSize() int

	// Capture records the given number of frames
	Capture(ctx context.Context, frames int) ([]byte, error)

	// Playback plays pcm and returns once it was played
	Playback(ctx context.Context, pcm []byte) error
}

// SimulatedDevice captures a sine wave and discards everything it plays.
// With Pace set both directions take as long as the real device would.
type SimulatedDevice struct {
	SampleRate  int
	Channels    int
	FrequencyHz float64
	Amplitude   float64 // 0..1
	Pace        bool

	mu     sync.Mutex
	phase  float64
	played atomic.Int64
}

// NewSimulatedDevice returns a mono 16 kHz device producing a 440 Hz tone
func NewSimulatedDevice(pace bool) *SimulatedDevice {
	return &SimulatedDevice{
		SampleRate:  16_000,
		Channels:    1,
		FrequencyHz: 440,
		Amplitude:   0.5,
		Pace:        pace,
	}
}

func (d *SimulatedDevice) FrameSize() int {
	return 2 * max(d.Channels, 1)
}

func (d *SimulatedDevice) Capture(ctx context.Context, frames int) ([]byte, error) {
	if frames < 0 {
		return nil, common.NewError(common.KindHandlerFailure, "negative frame count %d", frames)
	}
	channels := max(d.Channels, 1)
	pcm := make([]byte, frames*d.FrameSize())

	d.mu.Lock()
	step := 2 * math.Pi * d.FrequencyHz / float64(d.SampleRate)
	for i := 0; i < frames; i++ {
		sample := int16(d.Amplitude * math.MaxInt16 * math.Sin(d.phase))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(pcm[(i*channels+c)*2:], uint16(sample))
		}
		d.phase = math.Mod(d.phase+step, 2*math.Pi)
	}
	d.mu.Unlock()

	if err := d.wait(ctx, frames); err != nil {
		return nil, err
	}
	return pcm, nil
}

func (d *SimulatedDevice) Playback(ctx context.Context, pcm []byte) error {
	if len(pcm)%d.FrameSize() != 0 {
		return common.NewError(common.KindHandlerFailure, "pcm length %d is not a multiple of the frame size %d", len(pcm), d.FrameSize())
	}
	if err := d.wait(ctx, len(pcm)/d.FrameSize()); err != nil {
		return err
	}
	d.played.Add(int64(len(pcm)))
	return nil
}

// Played returns the number of bytes played so far
func (d *SimulatedDevice) Played() int64 {
	return d.played.Load()
}

// wait blocks for the real time duration of frames when pacing is enabled
func (d *SimulatedDevice) wait(ctx context.Context, frames int) error {
	if !d.Pace || frames == 0 || d.SampleRate <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(frames) * time.Second / time.Duration(d.SampleRate))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return common.FromContext(ctx.Err())
	}
}

// scaleVolume returns a copy of pcm with every sample scaled by percent/100, clipped
// to the 16 bit range
func scaleVolume(pcm []byte, percent int64) []byte {
	out := make([]byte, len(pcm))
	if percent == 100 {
		copy(out, pcm)
		return out
	}
	factor := float64(percent) / 100
	for i := 0; i+1 < len(pcm); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * factor
		v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(v)))
	}
	return out
}
