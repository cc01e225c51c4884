package marshal

import (
	"errors"
	"reflect"
	"testing"

	"github.com/ValentinKolb/dComm/rpc/common"
)

// TestRoundTrip checks decode(encode(v)) == v for every built-in type
func TestRoundTrip(t *testing.T) {
	chain := DefaultChain(NewMemBlobStore(), 64)

	testCases := []struct {
		name  string
		value any
		tag   string
	}{
		{"bytes", []byte("short audio"), TagBytes},
		{"empty bytes", []byte{}, TagBytes},
		{"nil bytes", []byte(nil), TagNilBytes},
		{"blob", make([]byte, 1024), TagBlob},
		{"string", "hello world", TagString},
		{"empty string", "", TagString},
		{"int64", int64(-42), TagInt64},
		{"int", 7, TagInt},
		{"int32", int32(-7), TagInt32},
		{"float64", 3.25, TagFloat64},
		{"bool", true, TagBool},
		{"f64s", []float64{0.5, -1, 2.75}, TagFloat64s},
		{"i16s", []int16{-32768, 0, 32767}, TagInt16s},
		{"i64s", []int64{1, 2, 3}, TagInt64s},
		{"json", map[string]any{"device": "mic", "rate": 44100.0}, TagJSON},
		{"nested json", map[string]any{
			"channels": []any{"left", "right", nil},
			"gain":     map[string]any{"db": -3.5, "muted": false},
		}, TagJSON},
		{"nil", nil, TagNil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			obj, err := chain.Encode(tc.value)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if obj.TypeTag != tc.tag {
				t.Errorf("Expected tag %s, got %s", tc.tag, obj.TypeTag)
			}

			decoded, err := chain.Decode(obj)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if !reflect.DeepEqual(tc.value, decoded) {
				t.Errorf("Round trip mismatch:\nOriginal: %#v\nResult: %#v", tc.value, decoded)
			}
		})
	}
}

func TestIntegersKeepTheirType(t *testing.T) {
	chain := DefaultChain(nil, 0)

	for _, v := range []any{7, int32(7), int64(7)} {
		obj, err := chain.Encode(v)
		if err != nil {
			t.Fatalf("Encode(%T) failed: %v", v, err)
		}
		decoded, err := chain.Decode(obj)
		if err != nil {
			t.Fatalf("Decode(%T) failed: %v", v, err)
		}
		if decoded != v {
			t.Errorf("Expected %T(7), got %#v", v, decoded)
		}
	}

	// an int64 on the wire that does not fit the int32 tag is rejected
	big := common.MarshaledObject{TypeTag: TagInt32, Content: []byte{0, 0, 0, 1, 0, 0, 0, 0}}
	if _, err := chain.Decode(big); !errors.Is(err, common.ErrSerializationFailure) {
		t.Errorf("Expected SerializationFailure for int32 overflow, got %v", err)
	}
}

// TestJSONOnlyTakesJSONTypes checks that maps whose values would change type
// through encoding/json are refused instead of silently converted
func TestJSONOnlyTakesJSONTypes(t *testing.T) {
	chain := DefaultChain(nil, 0)

	testCases := []struct {
		name  string
		value map[string]any
	}{
		{"int value", map[string]any{"rate": 44100}},
		{"int64 value", map[string]any{"rate": int64(44100)}},
		{"nested int", map[string]any{"gain": map[string]any{"db": 3}}},
		{"int in list", map[string]any{"frames": []any{1.0, 2}}},
		{"bytes value", map[string]any{"pcm": []byte{1, 2}}},
		{"typed list", map[string]any{"names": []string{"a"}}},
		{"nil map", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := chain.Encode(tc.value); !errors.Is(err, common.ErrSerializationFailure) {
				t.Errorf("Expected SerializationFailure, got %v", err)
			}
		})
	}
}

func TestNoMatchingSerializer(t *testing.T) {
	chain := DefaultChain(nil, 0)

	if _, err := chain.Encode(struct{ X int }{1}); !errors.Is(err, common.ErrSerializationFailure) {
		t.Errorf("Expected SerializationFailure on encode, got %v", err)
	}
	if _, err := chain.Decode(common.MarshaledObject{TypeTag: "wav"}); !errors.Is(err, common.ErrSerializationFailure) {
		t.Errorf("Expected SerializationFailure on decode, got %v", err)
	}
	if _, err := chain.Decode(common.MarshaledObject{TypeTag: TagInt64, Content: []byte{1}}); !errors.Is(err, common.ErrSerializationFailure) {
		t.Errorf("Expected SerializationFailure on truncated int64, got %v", err)
	}
}

func TestBlobDisabledWithoutThreshold(t *testing.T) {
	chain := DefaultChain(NewMemBlobStore(), 0)

	obj, err := chain.Encode(make([]byte, 1<<16))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if obj.TypeTag != TagBytes {
		t.Errorf("Expected inline bytes, got %s", obj.TypeTag)
	}
}

// TestBlobIsConsumedOnDecode checks that a blob handle can be read exactly once
func TestBlobIsConsumedOnDecode(t *testing.T) {
	store := NewMemBlobStore()
	chain := DefaultChain(store, 8)

	obj, err := chain.Encode([]byte("a long recording"))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(obj.Content) != 36 {
		t.Errorf("Expected a uuid handle on the wire, got %q", obj.Content)
	}

	if _, err := chain.Decode(obj); err != nil {
		t.Fatalf("First decode failed: %v", err)
	}
	if _, err := chain.Decode(obj); !errors.Is(err, common.ErrSerializationFailure) {
		t.Errorf("Expected second decode to fail, got %v", err)
	}
}

func TestBlobStoreRejectsForeignHandles(t *testing.T) {
	store := NewMemBlobStore()
	if _, err := store.Get("../../etc/passwd"); err == nil {
		t.Error("Expected invalid handle to be rejected")
	}
}

// upperSerializer is a custom serializer used to test chain ordering
type upperSerializer struct{}

func (upperSerializer) TypeTag() string           { return "upper" }
func (upperSerializer) CanDecode(tag string) bool { return tag == "upper" }
func (upperSerializer) CanHandle(v any) bool {
	_, ok := v.(string)
	return ok
}
func (upperSerializer) Encode(v any) ([]byte, error)       { return []byte(v.(string)), nil }
func (upperSerializer) Decode(content []byte) (any, error) { return "UP:" + string(content), nil }

func TestFirstMatchWins(t *testing.T) {
	base := DefaultChain(nil, 0)
	custom := base.With(upperSerializer{})

	obj, _ := custom.Encode("x")
	if obj.TypeTag != "upper" {
		t.Errorf("Expected custom serializer to win, got %s", obj.TypeTag)
	}

	// the original chain is unchanged
	obj, _ = base.Encode("x")
	if obj.TypeTag != TagString {
		t.Errorf("Expected base chain to keep string serializer, got %s", obj.TypeTag)
	}
}

func TestStreamRef(t *testing.T) {
	ref := EncodeStreamRef(42)
	id, err := DecodeStreamRef(ref)
	if err != nil || id != 42 {
		t.Errorf("Expected 42, got %d (%v)", id, err)
	}
	if _, err := DecodeStreamRef(common.MarshaledObject{TypeTag: TagBytes}); err == nil {
		t.Error("Expected error for non stream reference")
	}
}
