package call

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/stream"
)

// streamChunkSize is the chunk size used when a file is sent as a stream
const streamChunkSize = 4096

// pendingStream is a stream parameter whose content is written after the call started
type pendingStream struct {
	stream *stream.DeviceStream
	data   []byte
}

// parseParams converts arguments of the form key=type:value into message parameters.
// Without a type the value is sent as a string.
//
// Types: string, int, float, bool, hex (bytes), file (bytes read from a file) and
// stream (a file sent as a stream).
func parseParams(args []string, capacity int) ([]message.Parameter, []pendingStream, error) {
	params := make([]message.Parameter, 0, len(args))
	var streams []pendingStream

	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, nil, fmt.Errorf("invalid parameter %q (expected key=type:value)", arg)
		}

		typ, value, typed := strings.Cut(raw, ":")
		if !typed {
			typ, value = "string", raw
		}

		var v any
		var err error
		switch typ {
		case "string":
			v = value
		case "int":
			v, err = strconv.ParseInt(value, 10, 64)
		case "float":
			v, err = strconv.ParseFloat(value, 64)
		case "bool":
			v, err = strconv.ParseBool(value)
		case "hex":
			v, err = hex.DecodeString(value)
		case "file":
			v, err = os.ReadFile(value)
		case "stream":
			var data []byte
			if data, err = os.ReadFile(value); err == nil {
				s := stream.New(capacity)
				streams = append(streams, pendingStream{stream: s, data: data})
				v = s
			}
		default:
			// a value containing ':' without a type prefix
			v = raw
		}
		if err != nil {
			return nil, nil, fmt.Errorf("invalid %s value for %q: %w", typ, key, err)
		}
		params = append(params, message.Param(key, v))
	}
	return params, streams, nil
}

// chunks splits data into pieces of at most size bytes
func chunks(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > size {
		out = append(out, data[:size])
		data = data[size:]
	}
	if len(data) > 0 {
		out = append(out, data)
	}
	return out
}
