// Package stream provides DeviceStream, the bounded chunk channel used for long
// running transfers such as audio capture and playback.
//
// A DeviceStream connects exactly one producer and one consumer. Write blocks
// while the stream holds Cap() chunks (or the optional byte limit is reached),
// which propagates backpressure from a slow consumer to the producer. Read blocks
// while the stream is empty. Closing is one way: after Close writers fail with
// common.ErrStreamClosed while the reader drains what is buffered and then sees
// io.EOF.
//
// Streams can be passed as message parameters and returned as call results. The
// transport then connects a local stream on each side and moves chunks with credit
// based flow control, using the OnConsume and OnClose hooks.
package stream
