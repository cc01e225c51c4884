package serve

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/dComm/cmd/util"
	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/executor/audio"
	"github.com/ValentinKolb/dComm/rpc/executor/echo"
	"github.com/ValentinKolb/dComm/rpc/registry"
	"github.com/ValentinKolb/dComm/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the dComm server",
		Long:    `Start the dComm server with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCOMM_<flag> (e.g. DCOMM_SHUTDOWN_TIMEOUT=5000)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "host"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0", cmdUtil.WrapString("The interface the server listens on"))

	key = "port"
	ServeCmd.PersistentFlags().Int(key, 9000, cmdUtil.WrapString("The port the server listens on (0 picks a free port)"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "/tmp/dcomm.sock", cmdUtil.WrapString("The socket path (unix transport only)"))

	key = "executors"
	ServeCmd.PersistentFlags().String(key, "echo,audio", cmdUtil.WrapString("Comma-separated list of executors whose procedures are served (echo, audio)"))

	key = "audio-pace"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Let the simulated audio device take as long as real hardware"))

	key = "shutdown-timeout"
	ServeCmd.PersistentFlags().Int(key, common.DefaultShutdownTimeoutMillisecond, cmdUtil.WrapString("How long running calls may take to finish on shutdown, in milliseconds"))

	key = "workers-per-conn"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxWorkersPerConn, cmdUtil.WrapString("The maximum number of calls running at the same time per connection"))

	key = "max-frame-bytes"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxFrameBytes, cmdUtil.WrapString("The largest frame accepted from a client"))

	key = "stream-capacity"
	ServeCmd.PersistentFlags().Int(key, common.DefaultStreamCapacity, cmdUtil.WrapString("How many chunks of a received stream are buffered"))

	key = "blob-threshold"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Byte values larger than this are handed over as files in blob-dir (0 disables)"))

	key = "blob-dir"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("The directory for blob hand-over (default: system temp dir)"))

	key = "rate-limit"
	ServeCmd.PersistentFlags().Float64(key, 0, cmdUtil.WrapString("Maximum calls per second over all connections (0 disables)"))

	key = "rate-burst"
	ServeCmd.PersistentFlags().Int(key, 1, cmdUtil.WrapString("Burst size of the rate limit"))

	key = "call-timeout"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("Deadline of a single call in milliseconds (0 disables)"))

	key = "discovery-endpoints"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Comma-separated etcd endpoints to register the server at (empty disables)"))

	key = "service-name"
	ServeCmd.PersistentFlags().String(key, common.DefaultServiceName, cmdUtil.WrapString("The service name the server is registered under"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address to serve Prometheus metrics on, e.g. :9100 (empty disables)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error), optionally followed by per logger levels, e.g. info,transport/rpc=debug"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdConfig.Host = viper.GetString("host")
	serveCmdConfig.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.ShutdownTimeoutMillisecond = viper.GetInt("shutdown-timeout")
	serveCmdConfig.MaxWorkersPerConn = viper.GetInt("workers-per-conn")
	serveCmdConfig.MaxFrameBytes = viper.GetInt("max-frame-bytes")
	serveCmdConfig.StreamCapacity = viper.GetInt("stream-capacity")
	serveCmdConfig.BlobThreshold = viper.GetInt("blob-threshold")
	serveCmdConfig.BlobDir = viper.GetString("blob-dir")
	serveCmdConfig.RateLimit = viper.GetFloat64("rate-limit")
	serveCmdConfig.RateBurst = viper.GetInt("rate-burst")
	serveCmdConfig.CallTimeoutMillisecond = viper.GetInt("call-timeout")
	serveCmdConfig.DiscoveryEndpoints = cmdUtil.SplitList(viper.GetString("discovery-endpoints"))
	serveCmdConfig.ServiceName = viper.GetString("service-name")
	serveCmdConfig.MetricsEndpoint = viper.GetString("metrics-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if port := viper.GetInt("port"); port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %d", port)
	}
	if len(cmdUtil.SplitList(viper.GetString("executors"))) == 0 {
		return fmt.Errorf("at least one executor is required")
	}
	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the server and blocks until it is stopped by a signal or a remote _rpc_stop call
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := server.NewServerTransport(viper.GetString("transport"))
	if err != nil {
		return err
	}

	exec, err := buildExecutor(cmdUtil.SplitList(viper.GetString("executors")), viper.GetBool("audio-pace"), serveCmdConfig.MaxFrameBytes)
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(serveCmdConfig, t, s)
	if err := serv.RegisterExecutor(exec); err != nil {
		return err
	}

	if !serv.Start(viper.GetInt("port")) {
		return fmt.Errorf("failed to start %s server (see log)", t.GetName())
	}
	defer serv.Stop()

	if serveCmdConfig.MetricsEndpoint != "" {
		metricsServer := serveMetrics(serveCmdConfig.MetricsEndpoint, serv)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(ctx)
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-sig:
		server.Logger.Infof("Received signal, shutting down")
	case <-serv.Done():
	}
	return nil
}

// buildExecutor merges the procedures of the named executors into one executor.
// A later executor overrides procedures of the same name. Audio recordings are
// bounded by maxFrameBytes.
func buildExecutor(names []string, pace bool, maxFrameBytes int) (registry.IExecutor, error) {
	handlers := registry.HandlerSet{}
	versions := make([]string, 0, len(names))

	for _, name := range names {
		var exec registry.IExecutor
		switch name {
		case "echo":
			exec = echo.NewExecutor()
		case "audio":
			exec = audio.NewExecutor(audio.NewSimulatedDevice(pace), maxFrameBytes)
		default:
			return nil, fmt.Errorf("invalid executor %s (expected one of: echo, audio)", name)
		}
		for proc, handler := range exec.Handlers() {
			handlers[proc] = handler
		}
		versions = append(versions, exec.Version())
	}

	return registry.NewExecutor(joinVersions(versions), handlers), nil
}

func joinVersions(versions []string) string {
	if len(versions) == 1 {
		return versions[0]
	}
	out := "dcomm"
	for _, v := range versions {
		out += "+" + v
	}
	return out
}

// serveMetrics exposes the metrics of serv on addr under /metrics
func serveMetrics(addr string, serv *server.Server) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		serv.WriteMetrics(w)
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Logger.Errorf("Metrics endpoint failed: %v", err)
		}
	}()
	server.Logger.Infof("Serving metrics on %s/metrics", addr)
	return srv
}
