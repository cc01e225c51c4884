package call

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/stream"
)

func TestParseParams(t *testing.T) {
	file := filepath.Join(t.TempDir(), "song.pcm")
	if err := os.WriteFile(file, []byte{1, 2, 3, 4}, 0o644); err != nil {
		t.Fatal(err)
	}

	params, pending, err := parseParams([]string{
		"text=hello",
		"n=int:42",
		"f=float:1.5",
		"b=bool:true",
		"raw=hex:cafe",
		"song=file:" + file,
		"live=stream:" + file,
		"url=http://example.org",
	}, 4)
	if err != nil {
		t.Fatalf("parseParams failed: %v", err)
	}

	msg, err := message.NewMessage("test", params...)
	if err != nil {
		t.Fatalf("NewMessage failed: %v", err)
	}

	if v, _ := message.Get[string](msg, "text"); v != "hello" {
		t.Errorf("text: got %q", v)
	}
	if v, _ := message.Get[int64](msg, "n"); v != 42 {
		t.Errorf("n: got %d", v)
	}
	if v, _ := message.Get[float64](msg, "f"); v != 1.5 {
		t.Errorf("f: got %f", v)
	}
	if v, _ := message.Get[bool](msg, "b"); !v {
		t.Error("b: got false")
	}
	if v, _ := message.Get[[]byte](msg, "raw"); !bytes.Equal(v, []byte{0xca, 0xfe}) {
		t.Errorf("raw: got %x", v)
	}
	if v, _ := message.Get[[]byte](msg, "song"); !bytes.Equal(v, []byte{1, 2, 3, 4}) {
		t.Errorf("song: got %v", v)
	}
	if v, _ := message.Get[string](msg, "url"); v != "http://example.org" {
		t.Errorf("url: got %q", v)
	}

	s, err := message.Get[*stream.DeviceStream](msg, "live")
	if err != nil {
		t.Fatalf("live: %v", err)
	}
	if len(pending) != 1 || pending[0].stream != s || !bytes.Equal(pending[0].data, []byte{1, 2, 3, 4}) {
		t.Errorf("Unexpected pending streams %+v", pending)
	}
}

func TestParseParamsInvalid(t *testing.T) {
	for _, arg := range []string{"novalue", "=x", "n=int:abc", "b=bool:maybe", "raw=hex:zz", "song=file:/does/not/exist"} {
		if _, _, err := parseParams([]string{arg}, 4); err == nil {
			t.Errorf("Expected an error for %q", arg)
		}
	}
}

func TestChunks(t *testing.T) {
	data := make([]byte, 10)
	got := chunks(data, 4)
	if len(got) != 3 || len(got[0]) != 4 || len(got[2]) != 2 {
		t.Errorf("Unexpected chunks %v", got)
	}
	if len(chunks(nil, 4)) != 0 {
		t.Error("Expected no chunks for empty data")
	}
}
