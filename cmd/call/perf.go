package call

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/dComm/cmd/util"
	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/ValentinKolb/dComm/rpc/registry"
	"github.com/ValentinKolb/dComm/rpc/stream"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dComm servers",
		Long:    "Measures throughput and latency of a running server. The server needs the echo executor.",
		Args:    cobra.NoArgs,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads   = 10
	perfPayloadBytes = 1024
	perfStreamChunks = 64
	perfSkip         = make([]string, 0)

	// percentiles reported for every test
	perfPercentiles = []float64{0.5, 0.9, 0.99}
)

// perfTest is a single benchmark, op performs one call
type perfTest struct {
	name string
	op   func(ctx context.Context) error
}

// perfResult holds the outcome of one benchmark
type perfResult struct {
	bench  testing.BenchmarkResult
	timer  metrics.Timer
	errors metrics.Counter
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. echo,stream)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "payload-size"
	perfTestCmd.Flags().Int(key, 1024, util.WrapString("Size of the byte payload of the reserved-echo test (in bytes)"))
	key = "stream-chunks"
	perfTestCmd.Flags().Int(key, 64, util.WrapString("Number of chunks sent per call in the stream test"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfNumThreads = viper.GetInt("threads")
	perfPayloadBytes = viper.GetInt("payload-size")
	perfStreamChunks = viper.GetInt("stream-chunks")
	perfSkip = util.SplitList(viper.GetString("skip"))

	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dComm servers")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	registryMetrics := metrics.NewRegistry()
	results := make(map[string]perfResult)
	var order []string

	for _, test := range perfTests() {
		if slices.Contains(perfSkip, test.name) {
			printPerfResult(test.name, perfResult{})
			continue
		}
		result := benchmark(test, registryMetrics)
		results[test.name] = result
		order = append(order, test.name)
		printPerfResult(test.name, result)
	}

	// Write results to csv if specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, order, results, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}
	return nil
}

// perfTests returns all benchmarks in the order they run
func perfTests() []perfTest {
	payload := make([]byte, perfPayloadBytes)

	return []perfTest{
		{"echo", func(ctx context.Context) error {
			_, err := rpcClient.CallProcedure(ctx, "echo", message.Param("text", "hello world"))
			return err
		}},
		{"echo-async", func(ctx context.Context) error {
			_, err := rpcClient.CallProcedure(ctx, "echo_async", message.Param("text", "hello world"))
			return err
		}},
		{"reserved-echo", func(ctx context.Context) error {
			_, err := rpcClient.CallProcedure(ctx, registry.ProcEcho, message.Param(registry.EchoValueParamKey, payload))
			return err
		}},
		{"device-time", func(ctx context.Context) error {
			_, err := rpcClient.CallProcedure(ctx, registry.ProcDeviceTimeUs)
			return err
		}},
		{"stream", func(ctx context.Context) error {
			input := stream.New(common.DefaultStreamCapacity)
			go func() {
				for i := 0; i < perfStreamChunks; i++ {
					if input.Write(ctx, payload) != nil {
						return
					}
				}
				_ = input.Close()
			}()
			res, err := rpcClient.CallProcedure(ctx, "echo_stream", message.Param("input", input))
			if err != nil {
				return err
			}
			_, err = res.Stream().ReadAll(ctx)
			return err
		}},
	}
}

// benchmark runs test in parallel and records the latency of every call
func benchmark(test perfTest, r metrics.Registry) perfResult {
	result := perfResult{
		timer:  metrics.GetOrRegisterTimer(test.name+".latency", r),
		errors: metrics.GetOrRegisterCounter(test.name+".errors", r),
	}
	ctx := context.Background()

	result.bench = testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				start := time.Now()
				err := test.op(ctx)
				result.timer.UpdateSince(start)
				if err != nil {
					result.errors.Inc(1)
					log.Printf("(%s) - error: %v\n", test.name, err)
				}
			}
		})
	})
	return result
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// printPerfResult prints the result of a benchmark test in a formatted way
func printPerfResult(test string, result perfResult) {
	if result.timer == nil || result.bench.NsPerOp() == 0 {
		fmt.Printf("%-16sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	snap := result.timer.Snapshot()
	ps := snap.Percentiles(perfPercentiles)
	fmt.Printf("%-16s%.0f ops/sec\tp50 %s\tp90 %s\tp99 %s\terrors %d\n",
		test, opsPerSec,
		time.Duration(ps[0]), time.Duration(ps[1]), time.Duration(ps[2]),
		result.errors.Snapshot().Count())
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, order []string, results map[string]perfResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "OpsPerSec", "Calls", "Errors", "P50Ns", "P90Ns", "P99Ns", "MaxNs",
		"Endpoints", "TimeoutMs", "RetryCount", "ConnectionsPerEndpoint",
		"Serializer", "Transport", "Threads", "PayloadBytes", "StreamChunks",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, test := range order {
		result := results[test]
		nsPerOp := math.Max(float64(result.bench.NsPerOp()), 1)
		snap := result.timer.Snapshot()
		ps := snap.Percentiles(perfPercentiles)

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			strconv.FormatInt(snap.Count(), 10),
			strconv.FormatInt(result.errors.Snapshot().Count(), 10),
			fmt.Sprintf("%.0f", ps[0]),
			fmt.Sprintf("%.0f", ps[1]),
			fmt.Sprintf("%.0f", ps[2]),
			strconv.FormatInt(snap.Max(), 10),
			strings.Join(config.Endpoints, ";"),
			strconv.Itoa(config.TimeoutMillisecond),
			strconv.Itoa(config.RetryCount),
			strconv.Itoa(config.ConnectionsPerEndpoint),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfPayloadBytes),
			strconv.Itoa(perfStreamChunks),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
