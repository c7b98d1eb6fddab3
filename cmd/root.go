package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "perfclient [run]",
	Short: "A worker-per-processor load generator for QUIC and TCP servers.",
	Long: `perfclient drives connections and streams across worker threads
pinned to processors, measuring throughput, handshake rate, and
request latency against a QUIC or TCP server.`,
}

// Execute adds all child commands to the root command and runs it.
// It only needs to happen once, from main.main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
