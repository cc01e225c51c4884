package serializer

import (
	"testing"

	"github.com/ValentinKolb/dComm/rpc/common"
)

func param(key, tag string, content []byte) common.MarshaledParam {
	return common.MarshaledParam{Key: key, MarshaledObject: common.MarshaledObject{TypeTag: tag, Content: content}}
}

// benchmarkEnvelopes returns a set of envelopes for targeted benchmarking
func benchmarkEnvelopes() map[string]common.Envelope {
	return map[string]common.Envelope{
		"EmptyRequest": *common.NewRequest("_rpc_get_version", nil),
		"SmallRequest": *common.NewRequest("echo", []common.MarshaledParam{
			param("text", "string", []byte("hello world")),
		}),
		"AudioChunk": *common.NewRequest("play", []common.MarshaledParam{
			param("song", "bytes", make([]byte, 4096)),
		}),
		"LargeAudio": *common.NewRequest("record_and_play", []common.MarshaledParam{
			param("song", "bytes", make([]byte, 64*1024)),
			param("times", "int64", make([]byte, 8)),
			param("volume", "int64", make([]byte, 8)),
		}),
		"OkResponse":     *common.NewOkResponse(common.MarshaledObject{TypeTag: "string", Content: []byte("OK")}),
		"StreamResponse": *common.NewStreamResponse(common.MarshaledObject{TypeTag: "stream", Content: make([]byte, 8)}),
		"ErrorResponse": *common.NewErrorResponse(common.NewError(common.KindHandlerFailure,
			"Lorem ipsum dolor sit amet, consectetur adipiscing elit. Sed do eiusmod tempor incididunt ut labore et dolore magna aliqua.")),
	}
}

// BenchmarkSerialize benchmarks serialization for all implementations with various envelopes
func BenchmarkSerialize(b *testing.B) {
	envelopes := benchmarkEnvelopes()

	for name, factory := range testSerializers {
		for envName, env := range envelopes {
			b.Run(name+"_"+envName, func(b *testing.B) {
				serializer := factory()
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					_, err := serializer.Serialize(env)
					if err != nil {
						b.Fatalf("Failed to serialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkDeserialize benchmarks deserialization for all implementations with various envelopes
func BenchmarkDeserialize(b *testing.B) {
	envelopes := benchmarkEnvelopes()
	serializedData := make(map[string]map[string][]byte)

	// Pre-serialize all envelopes with all serializers
	for name, factory := range testSerializers {
		serializer := factory()
		serializedData[name] = make(map[string][]byte)

		for envName, env := range envelopes {
			data, err := serializer.Serialize(env)
			if err != nil {
				b.Fatalf("Failed to serialize %s with %s: %v", envName, name, err)
			}
			serializedData[name][envName] = data
		}
	}

	for name, factory := range testSerializers {
		for envName := range envelopes {
			b.Run(name+"_"+envName, func(b *testing.B) {
				serializer := factory()
				data := serializedData[name][envName]
				b.ResetTimer()

				for i := 0; i < b.N; i++ {
					var env common.Envelope
					if err := serializer.Deserialize(data, &env); err != nil {
						b.Fatalf("Failed to deserialize: %v", err)
					}
				}
			})
		}
	}
}

// BenchmarkSize measures and reports the serialized size for each envelope
func BenchmarkSize(b *testing.B) {
	envelopes := benchmarkEnvelopes()

	for name, factory := range testSerializers {
		serializer := factory()

		for envName, env := range envelopes {
			b.Run(name+"_"+envName, func(b *testing.B) {
				data, err := serializer.Serialize(env)
				if err != nil {
					b.Fatalf("Failed to serialize: %v", err)
				}

				b.ReportMetric(float64(len(data)), "bytes")

				for i := 0; i < b.N; i++ {
					_ = data
				}
			})
		}
	}
}
