// Command ddsctl is the operator CLI for a running ddsd: it reads and
// writes the YAML-backed startup configuration and reports basic
// health about the local daemon lock.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtpsmesh/ddscore/internal/config"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "ddsctl",
	Short: "ddsctl - control plane for the ddscore daemon",
	Long:  `Inspect and configure a ddscore domain participant daemon (ddsd).`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		_, err := config.Load("")
		return err
	},
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")
	rootCmd.AddCommand(configCmd, doctorCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
