package server

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/marshal"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/stream"
	"github.com/ValentinKolb/dComm/rpc/transport"
)

// handle is the transport handler: it decodes the request envelope, runs the
// procedure and encodes the outcome. It always returns a response envelope.
func (s *Server) handle(ctx context.Context, sess transport.ISession, req []byte) []byte {
	start := time.Now()
	s.metrics.inFlight.Add(1)
	defer s.metrics.inFlight.Add(-1)

	resp, name, err := s.process(ctx, sess, req)
	s.metrics.observe(s.procedureLabel(name), err, start)

	if err != nil {
		Logger.Debugf("Call %q from %s failed: %v", name, sess.RemoteAddr(), err)
		resp = common.NewErrorResponse(err)
	}
	return s.encodeEnvelope(resp)
}

// procedureLabel returns name if it may be used as a metrics label. Names sent by
// clients that no procedure carries are reported as "unknown".
func (s *Server) procedureLabel(name string) string {
	if name == "" || !s.registry.Has(name) {
		return unknownProcedure
	}
	return name
}

// process runs a single request. The returned name is empty if the request could
// not be decoded.
func (s *Server) process(ctx context.Context, sess transport.ISession, req []byte) (*common.Envelope, string, error) {
	var env common.Envelope
	if err := s.serializer.Deserialize(req, &env); err != nil {
		return nil, "", common.WrapError(common.KindSerializationFailure, err, "failed to deserialize request")
	}
	if env.Kind != common.EnvKRequest {
		return nil, "", common.NewError(common.KindSerializationFailure, "expected a request envelope, got %s", env.Kind)
	}

	msg, streams, err := s.decodeMessage(sess, &env)
	if err != nil {
		closeStreams(streams, err)
		return nil, env.Name, err
	}

	res, err := s.call(ctx, msg)
	if err != nil {
		// the procedure did not take over its input streams
		closeStreams(streams, err)
		return nil, env.Name, err
	}

	resp, err := s.encodeResult(sess, res)
	return resp, env.Name, err
}

// decodeMessage rebuilds the message of a request envelope. Stream references are
// attached first so the sender is answered even if a later parameter is invalid.
func (s *Server) decodeMessage(sess transport.ISession, env *common.Envelope) (*message.Message, []*stream.DeviceStream, error) {
	values := make([]any, len(env.Params))
	var streams []*stream.DeviceStream

	for i, p := range env.Params {
		if p.TypeTag != marshal.TagStream {
			continue
		}
		id, err := marshal.DecodeStreamRef(p.MarshaledObject)
		if err != nil {
			return nil, streams, err
		}
		ds, err := sess.ReceiveStream(id)
		if err != nil {
			return nil, streams, err
		}
		values[i] = ds
		streams = append(streams, ds)
	}

	params := make([]message.Parameter, 0, len(env.Params))
	for i, p := range env.Params {
		if p.TypeTag != marshal.TagStream {
			v, err := s.chain.Decode(p.MarshaledObject)
			if err != nil {
				return nil, streams, common.WrapError(common.KindSerializationFailure, err, "parameter %q", p.Key)
			}
			values[i] = v
		}
		params = append(params, message.Param(p.Key, values[i]))
	}

	msg, err := message.NewMessage(env.Name, params...)
	if err != nil {
		return nil, streams, common.WrapError(common.KindSerializationFailure, err, "invalid request")
	}
	return msg, streams, nil
}

// call dispatches msg and waits for its outcome. Pending results are awaited.
// When ctx ends first (server stop, lost connection) the call fails with the
// matching kind while the handler is left to observe ctx on its own.
func (s *Server) call(ctx context.Context, msg *message.Message) (*message.Result, error) {
	// the transport rejected the request before it was handed over
	if ctx.Err() != nil {
		return nil, contextError(ctx)
	}

	type outcome struct {
		res *message.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := s.registry.Dispatch(ctx, msg)
		done <- outcome{res, err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		return nil, contextError(ctx)
	}
	if o.err != nil {
		return nil, o.err
	}

	res, err := o.res.Resolve(ctx)
	if err != nil {
		if !common.HasKind(err) {
			err = common.WrapError(common.KindHandlerFailure, err, "%s", msg.Name())
		}
		return nil, err
	}
	return res, nil
}

// encodeResult converts a result into a response envelope. Stream results are bound
// to the session of the request.
func (s *Server) encodeResult(sess transport.ISession, res *message.Result) (*common.Envelope, error) {
	if res.Kind() == message.ResultStream {
		id, err := sess.SendStream(res.Stream())
		if err != nil {
			_ = res.Stream().CloseWithError(err)
			return nil, err
		}
		return common.NewStreamResponse(marshal.EncodeStreamRef(id)), nil
	}

	obj, err := s.chain.Encode(res.Value())
	if err != nil {
		return nil, err
	}
	return common.NewOkResponse(obj), nil
}

// encodeEnvelope serializes a response. A response that cannot be serialized or
// does not fit into MaxFrameBytes is replaced by a SerializationFailure.
func (s *Server) encodeEnvelope(env *common.Envelope) []byte {
	data, err := s.serializer.Serialize(*env)
	if err == nil && s.config.MaxFrameBytes > 0 && len(data) > s.config.MaxFrameBytes {
		err = fmt.Errorf("response of %d bytes exceeds the frame limit of %d bytes", len(data), s.config.MaxFrameBytes)
	}
	if err == nil {
		return data
	}
	Logger.Errorf("Failed to serialize response: %v", err)

	data, err = s.serializer.Serialize(*common.NewErrorResponse(
		common.WrapError(common.KindSerializationFailure, err, "failed to serialize response"),
	))
	if err != nil {
		Logger.Errorf("Failed to serialize error response: %v", err)
		return nil
	}
	return data
}

// contextError converts the end of ctx into an error. A cause carrying a kind is
// returned as is.
func contextError(ctx context.Context) error {
	if cause := context.Cause(ctx); common.HasKind(cause) {
		return cause
	}
	return common.FromContext(ctx.Err())
}

func closeStreams(streams []*stream.DeviceStream, err error) {
	for _, ds := range streams {
		_ = ds.CloseWithError(err)
	}
}
