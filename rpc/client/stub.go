package client

import (
	"context"
	"net"
	"strconv"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/marshal"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/serializer"
	"github.com/ValentinKolb/dComm/rpc/transport"
)

// Stub performs single calls, each on its own connection
type Stub struct {
	config       common.ClientConfig
	newTransport func() transport.IRPCClientTransport
	serializer   serializer.IRPCSerializer
	chain        *marshal.Chain
}

// NewStub creates a stub. newTransport is called once per call. The endpoints of
// config are ignored, every call names its target.
func NewStub(
	config common.ClientConfig,
	newTransport func() transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) *Stub {
	return &Stub{
		config:       config,
		newTransport: newTransport,
		serializer:   serializer,
		chain:        newChain(config),
	}
}

// WithChain replaces the serializer chain used for parameters and results
func (s *Stub) WithChain(chain *marshal.Chain) *Stub {
	s.chain = chain
	return s
}

// Call connects to host:port, invokes msg and closes the connection. For the unix
// transport host is the socket path and port is ignored.
//
// If streams are involved (stream parameters or a stream result) the connection is
// closed in the background once all of them are finished.
func (s *Stub) Call(ctx context.Context, host string, port int, msg *message.Message) (*message.Result, error) {
	t := s.newTransport()

	cfg := s.config
	if t.GetName() == "unix" {
		cfg.Endpoints = []string{host}
	} else {
		cfg.Endpoints = []string{net.JoinHostPort(host, strconv.Itoa(port))}
	}

	if err := t.Connect(cfg); err != nil {
		for _, ds := range msg.Streams() {
			_ = ds.CloseWithError(err)
		}
		if common.KindOf(err) != common.KindConnectionFailure {
			err = common.WrapError(common.KindConnectionFailure, err, "failed to connect to %s", cfg.Endpoints[0])
		}
		return nil, err
	}

	res, sess, err := invokeRPCRequest(ctx, msg, t, s.serializer, s.chain)
	if err != nil || sess == nil || !hasStreams(msg, res) {
		_ = t.Close()
		return res, err
	}

	go func() {
		_ = sess.WaitStreams(context.Background())
		_ = t.Close()
	}()
	return res, nil
}
