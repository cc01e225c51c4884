package util

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dComm/rpc/client"
	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/serializer"
	"github.com/ValentinKolb/dComm/rpc/transport"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (DCOMM_<FLAG>)
	EnvPrefix = "dcomm"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// SplitList splits a comma separated flag value, dropping empty entries
func SplitList(value string) []string {
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

// SetupRPCClientFlags adds the connection flags of the client commands to cmd
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, common.DefaultTimeoutMillisecond, WrapString("The timeout of a single call in milliseconds"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "localhost:9000", WrapString("The address of the dComm server (host:port, or the socket path for unix). Multiple endpoints can be specified as a comma-separated list, calls are spread over them round robin"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint (tcp and unix)"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, common.DefaultRetryCount, WrapString("How many times to retry a call that could not be delivered. Calls with stream parameters are never retried"))

	key = "max-frame-bytes"
	cmd.PersistentFlags().Int(key, common.DefaultMaxFrameBytes, WrapString("The largest frame accepted from the server"))

	key = "stream-capacity"
	cmd.PersistentFlags().Int(key, common.DefaultStreamCapacity, WrapString("How many chunks of a received stream are buffered"))

	key = "blob-threshold"
	cmd.PersistentFlags().Int(key, 0, WrapString("Byte values larger than this are handed over as files in blob-dir (0 disables). Requires a directory shared with the server"))

	key = "blob-dir"
	cmd.PersistentFlags().String(key, "", WrapString("The directory for blob hand-over (default: system temp dir)"))

	key = "discovery-endpoints"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated etcd endpoints. If set, the server endpoints are looked up in etcd instead of using transport-endpoints"))

	key = "service-name"
	cmd.PersistentFlags().String(key, common.DefaultServiceName, WrapString("The service name servers are registered under in etcd"))
}

// InitConfig loads the env files and makes viper read DCOMM_ environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		Endpoints:              SplitList(viper.GetString("transport-endpoints")),
		TimeoutMillisecond:     viper.GetInt("timeout"),
		RetryCount:             viper.GetInt("transport-retries"),
		ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
		MaxFrameBytes:          viper.GetInt("max-frame-bytes"),
		StreamCapacity:         viper.GetInt("stream-capacity"),
		BlobThreshold:          viper.GetInt("blob-threshold"),
		BlobDir:                viper.GetString("blob-dir"),
	}
}

// GetSerializer creates the envelope serializer selected by the serializer flag
func GetSerializer() (serializer.IRPCSerializer, error) {
	switch viper.GetString("serializer") {
	case "json":
		return serializer.NewJSONSerializer(), nil
	case "gob":
		return serializer.NewGOBSerializer(), nil
	case "binary":
		return serializer.NewBinarySerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", viper.GetString("serializer"))
	}
}

// GetClientTransport creates the client transport selected by the transport flag
func GetClientTransport() (transport.IRPCClientTransport, error) {
	return client.NewClientTransport(viper.GetString("transport"))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
