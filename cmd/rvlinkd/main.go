// Rvlinkd - RV-C bridge daemon
//
// Bridges an RV's CAN buses to IP: frames are decoded against the RV-C
// catalog, folded into per-entity state, and exposed over REST, WebSocket,
// and Prometheus. Commands flow the other way, encoded back onto the bus.
//
//	rvlinkd serve                 # run the daemon
//	rvlinkd check                 # validate config, catalog, and mapping
//	rvlinkd version               # print version information
//
// Configuration comes from an optional JSON file plus RVLINK_-prefixed
// environment variables (RVLINK_SERVER__PORT=8080, RVLINK_CAN__INTERFACES=...).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rvlink-network/rvlink/pkg/version"
)

var (
	configPath string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "rvlinkd",
	Short:             "RV-C to IP bridge daemon",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Rvlinkd bridges an RV's CAN buses to IP.

Received frames are decoded against the RV-C catalog, folded into
per-entity state, and exposed over REST, WebSocket, and Prometheus.
Commands flow the other way: validated, encoded, and transmitted.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Println("rvlinkd dev build")
		} else {
			fmt.Printf("rvlinkd %s (%s)\n", version.Version, version.GitCommit)
		}
	},
}
