package client

import (
	"context"
	"sync"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/marshal"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/serializer"
	"github.com/ValentinKolb/dComm/rpc/transport"
)

// Client is a long lived connection to one or more servers. Calls are spread over
// the endpoints round robin and may run concurrently.
type Client struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
	chain      *marshal.Chain

	streams sync.WaitGroup // calls whose streams are still running
}

// NewRPCClient connects transport to the endpoints of config
//
// Usage:
//
//	c, err := client.NewRPCClient(
//		common.DefaultClientConfig("localhost:9000"),
//		tcp.NewTCPClientTransport(),
//		serializer.NewBinarySerializer(),
//	)
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	res, err := c.Call(ctx, message.MustNewMessage("echo", message.Param("text", "hi")))
func NewRPCClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Client, error) {
	// Connect the transport
	if err := transport.Connect(config); err != nil {
		return nil, err
	}

	return &Client{
		config:     config,
		transport:  transport,
		serializer: serializer,
		chain:      newChain(config),
	}, nil
}

// WithChain replaces the serializer chain used for parameters and results
func (c *Client) WithChain(chain *marshal.Chain) *Client {
	c.chain = chain
	return c
}

// Call invokes the procedure described by msg and returns its result
func (c *Client) Call(ctx context.Context, msg *message.Message) (*message.Result, error) {
	res, sess, err := invokeRPCRequest(ctx, msg, c.transport, c.serializer, c.chain)
	if sess != nil && hasStreams(msg, res) {
		c.streams.Add(1)
		go func() {
			defer c.streams.Done()
			_ = sess.WaitStreams(context.Background())
		}()
	}
	return res, err
}

// CallProcedure builds a message from name and params and calls it
func (c *Client) CallProcedure(ctx context.Context, name string, params ...message.Parameter) (*message.Result, error) {
	msg, err := message.NewMessage(name, params...)
	if err != nil {
		return nil, err
	}
	return c.Call(ctx, msg)
}

// Close waits until the streams of finished calls are done and closes all connections
func (c *Client) Close() error {
	c.streams.Wait()
	return c.transport.Close()
}

// hasStreams reports whether a call bound streams to its session
func hasStreams(msg *message.Message, res *message.Result) bool {
	if len(msg.Streams()) > 0 {
		return true
	}
	return res != nil && res.Kind() == message.ResultStream
}
