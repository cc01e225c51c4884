package common

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Defaults
// --------------------------------------------------------------------------

const (
	DefaultTimeoutMillisecond         = 5_000
	DefaultShutdownTimeoutMillisecond = 2_000
	DefaultMaxWorkersPerConn          = 64
	DefaultMaxFrameBytes              = 16 << 20
	DefaultStreamCapacity             = 16
	DefaultRetryCount                 = 2
	DefaultServiceName                = "dcomm"
)

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of a device rpc server.
type ServerConfig struct {
	// Network settings. Endpoint is only used by the unix transport (socket path),
	// all other transports listen on Host and the port passed to Start.
	Host     string
	Endpoint string

	// Shutdown settings
	ShutdownTimeoutMillisecond int

	// Per connection limits
	MaxWorkersPerConn int
	MaxFrameBytes     int
	StreamCapacity    int

	// Value marshaling. Byte values larger than BlobThreshold are handed over through
	// files in BlobDir, which only works when client and server share that directory.
	// 0 disables blob hand-over.
	BlobThreshold int
	BlobDir       string

	// Dispatch limits (0 disables)
	RateLimit              float64
	RateBurst              int
	CallTimeoutMillisecond int

	// Service discovery (empty disables)
	DiscoveryEndpoints []string
	ServiceName        string

	// Observability
	MetricsEndpoint string
	LogLevel        string
}

// DefaultServerConfig returns a server configuration listening on all interfaces
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:                       "0.0.0.0",
		ShutdownTimeoutMillisecond: DefaultShutdownTimeoutMillisecond,
		MaxWorkersPerConn:          DefaultMaxWorkersPerConn,
		MaxFrameBytes:              DefaultMaxFrameBytes,
		StreamCapacity:             DefaultStreamCapacity,
		ServiceName:                DefaultServiceName,
		LogLevel:                   "info",
	}
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Host", c.Host)
	if c.Endpoint != "" {
		addField("Endpoint", c.Endpoint)
	}
	addField("Shutdown Timeout", fmt.Sprintf("%d ms", c.ShutdownTimeoutMillisecond))
	addField("Workers Per Conn", strconv.Itoa(c.MaxWorkersPerConn))
	addField("Max Frame Size", fmt.Sprintf("%d bytes", c.MaxFrameBytes))
	addField("Stream Capacity", fmt.Sprintf("%d chunks", c.StreamCapacity))

	// Marshaling
	addSection("Marshaling")
	if c.BlobThreshold > 0 {
		addField("Blob Threshold", fmt.Sprintf("%d bytes", c.BlobThreshold))
		addField("Blob Directory", c.BlobDir)
	} else {
		addField("Blob Threshold", "disabled")
	}

	// Dispatch
	addSection("Dispatch")
	if c.RateLimit > 0 {
		addField("Rate Limit", fmt.Sprintf("%.1f/s (burst %d)", c.RateLimit, c.RateBurst))
	} else {
		addField("Rate Limit", "disabled")
	}
	if c.CallTimeoutMillisecond > 0 {
		addField("Call Timeout", fmt.Sprintf("%d ms", c.CallTimeoutMillisecond))
	} else {
		addField("Call Timeout", "disabled")
	}

	// Discovery
	if len(c.DiscoveryEndpoints) > 0 {
		addSection("Discovery")
		addField("Service Name", c.ServiceName)
		for i, endpoint := range c.DiscoveryEndpoints {
			addField(strconv.Itoa(i), endpoint)
		}
	}

	// Logging and metrics
	addSection("Observability")
	addField("Log Level", c.LogLevel)
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	}

	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutMillisecond     int
	RetryCount             int
	ConnectionsPerEndpoint int
	MaxFrameBytes          int
	StreamCapacity         int
	BlobThreshold          int
	BlobDir                string
}

// DefaultClientConfig returns a client configuration for the given endpoints
func DefaultClientConfig(endpoints ...string) ClientConfig {
	return ClientConfig{
		Endpoints:              endpoints,
		TimeoutMillisecond:     DefaultTimeoutMillisecond,
		RetryCount:             DefaultRetryCount,
		ConnectionsPerEndpoint: 1,
		MaxFrameBytes:          DefaultMaxFrameBytes,
		StreamCapacity:         DefaultStreamCapacity,
	}
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d ms", c.TimeoutMillisecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))
	addField("Stream Capacity", fmt.Sprintf("%d chunks", c.StreamCapacity))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
