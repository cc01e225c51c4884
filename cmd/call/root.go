package call

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/ValentinKolb/dComm/cmd/util"
	"github.com/ValentinKolb/dComm/rpc/client"
	"github.com/ValentinKolb/dComm/rpc/common"
	"github.com/ValentinKolb/dComm/rpc/discovery"
	"github.com/ValentinKolb/dComm/rpc/message"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	rpcClient *client.Client

	// CallCommands represents the call command group
	CallCommands = &cobra.Command{
		Use:   "call [procedure] [key=type:value]...",
		Short: "Call a procedure of a dComm server",
		Long: `Call a procedure of a dComm server and print its result.

Parameters are given as key=type:value with type one of string (default), int,
float, bool, hex, file (the content of a file) or stream (a file sent as stream).

Examples:
  dcomm call echo text=hello
  dcomm call record num_frames=int:16000 --output rec.pcm
  dcomm call record_and_play_streaming song=stream:song.pcm --output rec.pcm`,
		Args:              cobra.MinimumNArgs(1),
		PersistentPreRunE: setupClient,
		PersistentPostRun: closeClient,
		RunE:              runCall,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the call command
	util.SetupRPCClientFlags(CallCommands)

	CallCommands.Flags().String("output", "", util.WrapString("Write byte and stream results to this file instead of printing a summary"))

	// Add subcommands
	CallCommands.AddCommand(perfTestCmd)
}

// setupClient connects the rpc client, looking up the endpoints in etcd if requested
func setupClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := util.GetClientConfig()

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}
	t, err := util.GetClientTransport()
	if err != nil {
		return err
	}

	if etcd := util.SplitList(viper.GetString("discovery-endpoints")); len(etcd) > 0 {
		reg, err := discovery.NewEtcdRegistry(etcd)
		if err != nil {
			return err
		}
		defer reg.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if config.Endpoints, err = client.DiscoverEndpoints(ctx, reg, viper.GetString("service-name"), t.GetName()); err != nil {
			return err
		}
	}

	rpcClient, err = client.NewRPCClient(*config, t, s)
	return err
}

func closeClient(_ *cobra.Command, _ []string) {
	if rpcClient != nil {
		_ = rpcClient.Close()
	}
}

func runCall(cmd *cobra.Command, args []string) error {
	params, pending, err := parseParams(args[1:], viper.GetInt("stream-capacity"))
	if err != nil {
		return err
	}
	msg, err := message.NewMessage(args[0], params...)
	if err != nil {
		return err
	}

	ctx := context.Background()
	for _, p := range pending {
		go func(p pendingStream) {
			for _, chunk := range chunks(p.data, streamChunkSize) {
				if err := p.stream.Write(ctx, chunk); err != nil {
					return
				}
			}
			_ = p.stream.Close()
		}(p)
	}

	start := time.Now()
	res, err := rpcClient.Call(ctx, msg)
	if err != nil {
		return fmt.Errorf("%s failed (%s): %w", args[0], common.KindOf(err), err)
	}

	output, _ := cmd.Flags().GetString("output")
	return printResult(res, output, time.Since(start))
}

// printResult prints a result. Byte and stream results go to output if it is set.
func printResult(res *message.Result, output string, elapsed time.Duration) error {
	var data []byte
	switch res.Kind() {
	case message.ResultStream:
		var err error
		data, err = res.Stream().ReadAll(context.Background())
		if err != nil {
			return fmt.Errorf("stream ended with error after %d bytes: %w", len(data), err)
		}
	default:
		b, ok := res.Value().([]byte)
		if !ok {
			fmt.Printf("%v\n", res.Value())
			fmt.Fprintf(os.Stderr, "(%s)\n", elapsed)
			return nil
		}
		data = b
	}

	if output != "" {
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("wrote %d bytes to %s\n", len(data), output)
		return nil
	}

	preview := data
	if len(preview) > 32 {
		preview = preview[:32]
	}
	fmt.Printf("%d bytes: %s", len(data), hex.EncodeToString(preview))
	if len(preview) < len(data) {
		fmt.Print("...")
	}
	fmt.Println()
	fmt.Fprintf(os.Stderr, "(%s)\n", elapsed)
	return nil
}
