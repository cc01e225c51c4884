/*
Package audio exposes an audio device over rpc.

The device is hidden behind IDevice. SimulatedDevice stands in for real hardware:
it records a sine wave and swallows everything it plays.

Procedures:

	record{num_frames int64}                         -> []byte
	play{song []byte}                                -> "OK"
	record_and_play{song []byte, times, volume int64} -> []byte
	record_and_play_streaming{song stream}           -> stream

The device has a single owner. While one call records or plays every other call
fails with a Busy error instead of waiting. The streaming variant keeps the device
until the song stream ends.
*/
package audio
