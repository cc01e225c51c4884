package http

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/transport"
	"github.com/gorilla/rpc/v2/json2"
)

func NewHttpClientTransport() transport.IRPCClientTransport {
	return &httpClientTransport{}
}

type httpClientTransport struct {
	serverURLs []*url.URL
	client     *http.Client
	counter    atomic.Uint32
	retryCount int
	timeout    time.Duration
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *httpClientTransport) GetName() string {
	return "http"
}

func (t *httpClientTransport) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return common.NewError(common.KindConnectionFailure, "no endpoints provided")
	}

	// Parse each server URL, plain host:port endpoints are served over http
	parsedURLs := make([]*url.URL, len(config.Endpoints))
	for i, server := range config.Endpoints {
		if !strings.Contains(server, "://") {
			server = "http://" + server
		}
		parsedURL, err := url.Parse(server)
		if err != nil {
			return common.WrapError(common.KindConnectionFailure, err, "invalid endpoint %q", config.Endpoints[i])
		}
		if parsedURL.Path == "" || parsedURL.Path == "/" {
			parsedURL.Path = Path
		}
		parsedURLs[i] = parsedURL
	}

	t.timeout = time.Duration(config.TimeoutMillisecond) * time.Millisecond
	t.client = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	t.serverURLs = parsedURLs
	t.retryCount = config.RetryCount
	return nil
}

func (t *httpClientTransport) Send(ctx context.Context, prepare transport.PrepareFunc, retry bool) ([]byte, transport.ISession, error) {
	// Check if the transport is initialized
	if t.client == nil {
		return nil, nil, common.NewError(common.KindConnectionFailure, "http transport not connected")
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
		serverURL := t.serverURLs[t.counter.Add(1)%uint32(len(t.serverURLs))]
		sess := transport.UnarySession{Remote: serverURL.Host, Transport: "http"}

		req, err := prepare(sess)
		if err != nil {
			return nil, nil, err
		}

		resp, err := t.post(ctx, serverURL, req)
		if err == nil {
			return resp, sess, nil
		}
		if common.KindOf(err) != common.KindConnectionFailure {
			return nil, nil, err
		}
		lastErr = err
		Logger.Debugf("Request attempt %d/%d to %s failed: %v", i+1, attempts, serverURL, err)
	}
	return nil, nil, lastErr
}

func (t *httpClientTransport) Close() error {
	// Close the client
	if t.client != nil {
		t.client.CloseIdleConnections()
	}

	// Reset the client and server URLs
	t.client = nil
	t.serverURLs = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// post sends one json-rpc request and returns the response envelope
func (t *httpClientTransport) post(ctx context.Context, serverURL *url.URL, envelope []byte) ([]byte, error) {
	body, err := json2.EncodeClientRequest(Method, &CallArgs{Envelope: envelope})
	if err != nil {
		return nil, common.WrapError(common.KindSerializationFailure, err, "failed to encode request")
	}

	reqCtx := ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	httpRequest, err := http.NewRequestWithContext(reqCtx, http.MethodPost, serverURL.String(), bytes.NewReader(body))
	if err != nil {
		return nil, common.WrapError(common.KindConnectionFailure, err, "failed to create request")
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	httpResponse, err := t.client.Do(httpRequest)
	if err != nil {
		return nil, classify(ctx, reqCtx, err)
	}
	defer func() {
		// Drain the body to allow connection reuse
		_, _ = io.Copy(io.Discard, httpResponse.Body)
		if err := httpResponse.Body.Close(); err != nil {
			Logger.Errorf("Failed to close response body: %v", err)
		}
	}()

	// Check if the response status code is OK
	if httpResponse.StatusCode != http.StatusOK {
		return nil, common.NewError(common.KindConnectionFailure, "http error: %s", httpResponse.Status)
	}

	var reply CallReply
	if err := json2.DecodeClientResponse(httpResponse.Body, &reply); err != nil {
		if reqCtx.Err() != nil {
			return nil, classify(ctx, reqCtx, err)
		}
		return nil, common.WrapError(common.KindSerializationFailure, err, "failed to decode response")
	}
	return reply.Envelope, nil
}

// classify maps a failed http round trip to an error kind
func classify(ctx, reqCtx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return common.FromContext(ctx.Err())
	case errors.Is(reqCtx.Err(), context.DeadlineExceeded):
		return common.WrapError(common.KindTimeout, err, "no response within timeout")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return common.WrapError(common.KindTimeout, err, "no response within timeout")
	}
	return common.WrapError(common.KindConnectionFailure, err, "request failed")
}
