package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// frameKind identifies the purpose of a frame
type frameKind uint8

const (
	frameRequest      frameKind = iota + 1 // id = request id, body = envelope
	frameResponse                          // id = request id, body = envelope
	frameStreamData                        // id = stream id, body = chunk
	frameStreamEnd                         // id = stream id, body = optional error text
	frameStreamCredit                      // id = stream id, body = uint32 credit
	frameStreamAbort                       // id = stream id, receiver closed the stream
)

func (k frameKind) String() string {
	switch k {
	case frameRequest:
		return "request"
	case frameResponse:
		return "response"
	case frameStreamData:
		return "stream-data"
	case frameStreamEnd:
		return "stream-end"
	case frameStreamCredit:
		return "stream-credit"
	case frameStreamAbort:
		return "stream-abort"
	default:
		return fmt.Sprintf("frame(%d)", uint8(k))
	}
}

const headerSize = 13

// writeFrame writes a frame to the connection with the format:
// - 1 byte: frame kind
// - 8 bytes: request or stream id (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(w io.Writer, kind frameKind, id uint64, data []byte) error {
	header := make([]byte, headerSize)
	header[0] = byte(kind)
	binary.BigEndian.PutUint64(header[1:9], id)
	binary.BigEndian.PutUint32(header[9:13], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(w)
	return err
}

// readFrame reads a frame. Frames with a body larger than maxSize are rejected
// (maxSize <= 0 disables the check).
func readFrame(r io.Reader, maxSize int) (frameKind, uint64, []byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, 0, nil, err
	}

	kind := frameKind(header[0])
	id := binary.BigEndian.Uint64(header[1:9])
	contentLength := binary.BigEndian.Uint32(header[9:13])

	if kind < frameRequest || kind > frameStreamAbort {
		return 0, 0, nil, fmt.Errorf("unknown frame kind %d", header[0])
	}
	if maxSize > 0 && int64(contentLength) > int64(maxSize) {
		return 0, 0, nil, fmt.Errorf("%s frame of %d bytes exceeds limit of %d bytes", kind, contentLength, maxSize)
	}

	// If no data, return empty slice
	if contentLength == 0 {
		return kind, id, []byte{}, nil
	}

	data := make([]byte, contentLength)
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, 0, nil, err
	}
	return kind, id, data, nil
}

func encodeCredit(n uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, n)
}

func decodeCredit(data []byte) (uint32, error) {
	if len(data) != 4 {
		return 0, fmt.Errorf("credit frame needs 4 bytes, got %d", len(data))
	}
	return binary.BigEndian.Uint32(data), nil
}
