package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/dComm/cmd/call"
	"github.com/ValentinKolb/dComm/cmd/serve"
	"github.com/ValentinKolb/dComm/cmd/util"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dcomm",
		Short: "remote procedure calls for devices",
		Long: fmt.Sprintf(`dComm (v%s)

Remote procedure calls between a host and a device, with typed parameters
and backpressured streams for long transfers such as audio.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dComm",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dComm v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(call.CallCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (binary, json, gob)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix, http, grpc)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
