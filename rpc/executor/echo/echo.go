package echo

import (
	"context"
	"errors"
	"io"
	"unicode"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/registry"
	"github.com/ValentinKolb/dComm/rpc/stream"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("echo")

const (
	Version = "echo/1.0"

	// Prefix is put in front of every echoed text
	Prefix = "Called echo: "
	// MaxRunes is the cut position of the echoed text. A word crossing
	// the cut is kept whole together with the space that follows it.
	MaxRunes = 20

	streamCapacity = 16
)

// NewExecutor returns the echo procedures:
//
//   - echo{text string} returns Prefix followed by text cut after MaxRunes runes
//   - echo_async{text string} does the same through a promise
//   - echo_stream{input stream} returns a stream repeating every chunk of input
func NewExecutor() registry.IExecutor {
	return registry.NewExecutor(Version, registry.HandlerSet{
		"echo":        handleEcho,
		"echo_async":  handleEchoAsync,
		"echo_stream": handleEchoStream,
	})
}

// Echo returns the answer of the echo procedure for text
func Echo(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxRunes {
		return Prefix + text
	}
	for i := MaxRunes; i < len(runes); i++ {
		if unicode.IsSpace(runes[i]) {
			return Prefix + string(runes[:i+1])
		}
	}
	return Prefix + text
}

func handleEcho(_ context.Context, msg *message.Message) (*message.Result, error) {
	text, err := message.Get[string](msg, "text")
	if err != nil {
		return nil, err
	}
	return message.Value(Echo(text)), nil
}

func handleEchoAsync(ctx context.Context, msg *message.Message) (*message.Result, error) {
	text, err := message.Get[string](msg, "text")
	if err != nil {
		return nil, err
	}

	p := message.NewPromise()
	go func() {
		select {
		case <-ctx.Done():
			_ = p.Reject(common.FromContext(ctx.Err()))
		default:
			_ = p.Resolve(Echo(text))
		}
	}()
	return message.Pending(p), nil
}

func handleEchoStream(ctx context.Context, msg *message.Message) (*message.Result, error) {
	input, err := message.GetStream(msg, "input")
	if err != nil {
		return nil, err
	}

	output := stream.New(streamCapacity)
	go func() {
		for {
			chunk, err := input.Read(ctx)
			if errors.Is(err, io.EOF) {
				_ = output.Close()
				return
			}
			if err != nil {
				_ = output.CloseWithError(err)
				return
			}
			if err := output.Write(ctx, chunk); err != nil {
				// the caller stopped reading
				Logger.Debugf("echo_stream ended early: %v", err)
				_ = input.CloseWithError(err)
				return
			}
		}
	}()
	return message.Stream(output), nil
}
