package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
	version = "dev" // set by build flags
)

var rootCmd = &cobra.Command{
	Use:   "servicecast",
	Short: "Discrete-event simulator for the service-anycast routing protocol",
	Long: `servicecast runs a discrete-event simulation of a service-anycast
routing protocol: routers exchange ServerLoad announcements and
withdrawals, maintain a per-service forwarding table damped against
flapping, and forward client requests to the replica that minimizes a
load/delay utility.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose (debug-level) logging")

	// Commands are defined in separate files:
	// - runCmd in run.go
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
