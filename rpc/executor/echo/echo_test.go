package echo

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/registry"
	"github.com/ValentinKolb/dComm/rpc/stream"
)

func TestEcho(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"long", "hello world this is a long message", "Called echo: hello world this is a "},
		{"short", "hi", "Called echo: hi"},
		{"empty", "", "Called echo: "},
		{"cut at word end", "hello world this is! a long message", "Called echo: hello world this is! "},
		{"exactly max", "01234567890123456789", "Called echo: 01234567890123456789"},
		{"single long word", "äöüäöüäöüäöüäöüäöüäöüäöü", "Called echo: äöüäöüäöüäöüäöüäöüäöüäöü"},
		{"runes", "äöü äöü äöü äöü äöü äöü äöü", "Called echo: äöü äöü äöü äöü äöü äöü "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Echo(tt.text); got != tt.want {
				t.Errorf("Echo(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestEchoProcedures(t *testing.T) {
	reg := registry.New()
	if err := reg.RegisterExecutor(NewExecutor()); err != nil {
		t.Fatalf("RegisterExecutor failed: %v", err)
	}
	ctx := context.Background()

	for _, name := range []string{"echo", "echo_async"} {
		res, err := reg.Dispatch(ctx, message.MustNewMessage(name, message.Param("text", "hello")))
		if err != nil {
			t.Fatalf("%s failed: %v", name, err)
		}
		res, err = res.Resolve(ctx)
		if err != nil {
			t.Fatalf("%s did not resolve: %v", name, err)
		}
		if got, _ := message.As[string](res); got != "Called echo: hello" {
			t.Errorf("%s returned %q", name, got)
		}
	}

	_, err := reg.Dispatch(ctx, message.MustNewMessage("echo", message.Param("text", 42)))
	if !errors.Is(err, common.ErrTypeMismatch) {
		t.Errorf("Expected a type mismatch, got %v", err)
	}
}

func TestEchoStream(t *testing.T) {
	reg := registry.New()
	_ = reg.RegisterExecutor(NewExecutor())
	ctx := context.Background()

	input := stream.New(4)
	res, err := reg.Dispatch(ctx, message.MustNewMessage("echo_stream", message.Param("input", input)))
	if err != nil {
		t.Fatalf("echo_stream failed: %v", err)
	}
	if res.Kind() != message.ResultStream {
		t.Fatalf("Expected a stream result, got %s", res.Kind())
	}

	go func() {
		for _, chunk := range []string{"a", "b", "c"} {
			_ = input.Write(ctx, []byte(chunk))
		}
		_ = input.Close()
	}()

	data, err := res.Stream().ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "abc" {
		t.Errorf("Expected %q, got %q", "abc", data)
	}
}
