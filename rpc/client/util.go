package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/marshal"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/serializer"
	"github.com/ValentinKolb/dComm/rpc/stream"
	"github.com/ValentinKolb/dComm/rpc/transport"
	"github.com/ValentinKolb/dComm/rpc/transport/grpc"
	"github.com/ValentinKolb/dComm/rpc/transport/http"
	"github.com/ValentinKolb/dComm/rpc/transport/tcp"
	"github.com/ValentinKolb/dComm/rpc/transport/unix"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

// TransportNames lists the names accepted by NewClientTransport
var TransportNames = []string{"tcp", "unix", "http", "grpc"}

// NewClientTransport creates the client transport with the given name
func NewClientTransport(name string) (transport.IRPCClientTransport, error) {
	switch name {
	case "tcp", "":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	case "http":
		return http.NewHttpClientTransport(), nil
	case "grpc":
		return grpc.NewGrpcClientTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q (valid: %v)", name, TransportNames)
	}
}

// newChain creates the serializer chain described by config
func newChain(config common.ClientConfig) *marshal.Chain {
	var store marshal.IBlobStore
	if config.BlobThreshold > 0 {
		fsStore, err := marshal.NewOsBlobStore(config.BlobDir)
		if err != nil {
			Logger.Warningf("Blob hand-over disabled: %v", err)
		} else {
			store = fsStore
		}
	}
	return marshal.DefaultChain(store, config.BlobThreshold)
}

// invokeRPCRequest sends msg and decodes the response into a result.
// Requests with stream parameters are never retried, the streams are consumed by
// the first attempt. The returned session is nil if nothing was sent.
func invokeRPCRequest(
	ctx context.Context,
	msg *message.Message,
	t transport.IRPCClientTransport,
	s serializer.IRPCSerializer,
	chain *marshal.Chain,
) (*message.Result, transport.ISession, error) {
	// Encode plain values up front, streams are bound to the session of the attempt
	msgParams := msg.Params()
	params := make([]common.MarshaledParam, len(msgParams))
	var streamIdx []int
	for i, p := range msgParams {
		params[i].Key = p.Key
		if _, ok := p.Value.(*stream.DeviceStream); ok {
			streamIdx = append(streamIdx, i)
			continue
		}
		obj, err := chain.Encode(p.Value)
		if err != nil {
			return nil, nil, common.WrapError(common.KindSerializationFailure, err, "parameter %q", p.Key)
		}
		params[i].MarshaledObject = obj
	}

	prepare := func(sess transport.ISession) ([]byte, error) {
		for _, i := range streamIdx {
			id, err := sess.SendStream(msgParams[i].Value.(*stream.DeviceStream))
			if err != nil {
				return nil, err
			}
			params[i].MarshaledObject = marshal.EncodeStreamRef(id)
		}
		return s.Serialize(*common.NewRequest(msg.Name(), params))
	}

	respBytes, sess, err := t.Send(ctx, prepare, len(streamIdx) == 0)
	if err != nil {
		for _, ds := range msg.Streams() {
			_ = ds.CloseWithError(err)
		}
		return nil, sess, err
	}

	// Deserialize the response
	var resp common.Envelope
	if err := s.Deserialize(respBytes, &resp); err != nil {
		return nil, sess, common.WrapError(common.KindSerializationFailure, err, "failed to deserialize response")
	}

	switch resp.Kind {
	case common.EnvKError:
		return nil, sess, resp.AsError()
	case common.EnvKOk:
		v, err := chain.Decode(resp.Result)
		if err != nil {
			return nil, sess, err
		}
		return message.Value(v), sess, nil
	case common.EnvKStream:
		id, err := marshal.DecodeStreamRef(resp.Result)
		if err != nil {
			return nil, sess, err
		}
		ds, err := sess.ReceiveStream(id)
		if err != nil {
			return nil, sess, err
		}
		return message.Stream(ds), sess, nil
	default:
		return nil, sess, common.NewError(common.KindSerializationFailure, "unexpected response kind %s", resp.Kind)
	}
}
