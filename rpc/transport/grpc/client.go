package grpc

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/transport"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

func NewGrpcClientTransport() transport.IRPCClientTransport {
	return &grpcClientTransport{}
}

type grpcClientTransport struct {
	conns      []*grpc.ClientConn
	counter    atomic.Uint32
	retryCount int
	timeout    time.Duration
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *grpcClientTransport) GetName() string {
	return "grpc"
}

func (t *grpcClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return common.NewError(common.KindConnectionFailure, "no endpoints provided")
	}
	_ = t.Close()

	callOpts := []grpc.CallOption{grpc.ForceCodec(rawCodec{})}
	if config.MaxFrameBytes > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(config.MaxFrameBytes), grpc.MaxCallSendMsgSize(config.MaxFrameBytes))
	}

	// Connections are established lazily by grpc
	conns := make([]*grpc.ClientConn, 0, len(config.Endpoints))
	for _, endpoint := range config.Endpoints {
		conn, err := grpc.NewClient(endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(callOpts...),
		)
		if err != nil {
			for _, c := range conns {
				_ = c.Close()
			}
			return common.WrapError(common.KindConnectionFailure, err, "invalid endpoint %q", endpoint)
		}
		conns = append(conns, conn)
	}

	t.conns = conns
	t.retryCount = config.RetryCount
	t.timeout = time.Duration(config.TimeoutMillisecond) * time.Millisecond
	return nil
}

func (t *grpcClientTransport) Send(ctx context.Context, prepare transport.PrepareFunc, retry bool) ([]byte, transport.ISession, error) {
	if len(t.conns) == 0 {
		return nil, nil, common.NewError(common.KindConnectionFailure, "grpc transport not connected")
	}

	attempts := 1
	if retry && t.retryCount > 0 {
		attempts += t.retryCount
	}

	backoffMs := 50
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			jitter := float64(backoffMs) * (0.9 + 0.2*rand.Float64())
			select {
			case <-time.After(time.Duration(jitter) * time.Millisecond):
			case <-ctx.Done():
				return nil, nil, common.FromContext(ctx.Err())
			}
			backoffMs *= 2
		}

		// Select the next server via round-robin
		conn := t.conns[t.counter.Add(1)%uint32(len(t.conns))]
		sess := transport.UnarySession{Remote: conn.Target(), Transport: "grpc"}

		req, err := prepare(sess)
		if err != nil {
			return nil, nil, err
		}

		resp, err := t.invoke(ctx, conn, req)
		if err == nil {
			return resp, sess, nil
		}
		if common.KindOf(err) != common.KindConnectionFailure {
			return nil, nil, err
		}
		lastErr = err
		Logger.Debugf("Request attempt %d/%d to %s failed: %v", i+1, attempts, conn.Target(), err)
	}
	return nil, nil, lastErr
}

func (t *grpcClientTransport) Close() error {
	for _, conn := range t.conns {
		if err := conn.Close(); err != nil {
			Logger.Warningf("Failed to close connection to %s: %v", conn.Target(), err)
		}
	}
	t.conns = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *grpcClientTransport) invoke(ctx context.Context, conn *grpc.ClientConn, req []byte) ([]byte, error) {
	callCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	var resp []byte
	err := conn.Invoke(callCtx, callMethod, &req, &resp)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return nil, common.FromContext(ctx.Err())
	}

	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return nil, common.WrapError(common.KindTimeout, err, "no response from %s within %s", conn.Target(), t.timeout)
	case codes.Canceled:
		return nil, common.WrapError(common.KindCancelled, err, "call cancelled")
	case codes.ResourceExhausted:
		return nil, common.WrapError(common.KindSerializationFailure, err, "message too large")
	default:
		return nil, common.WrapError(common.KindConnectionFailure, err, "call to %s failed", conn.Target())
	}
}
