package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rtpsmesh/ddscore/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Get or set startup configuration",
	Long: `Manage the YAML-backed startup configuration read by ddsd at
launch (domain ID, participant name, transport interface, discovery
address, metrics exporter, log level, and the whc./reliable./discovery.
tuning namespaces).

Examples:
  ddsctl config set domain_id 7
  ddsctl config set whc.batch 64
  ddsctl config get domain_id`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		key := args[0]
		value := config.GetYamlConfig(key)
		if jsonOutput {
			fmt.Printf("{%q:%q}\n", key, value)
		} else {
			fmt.Println(value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if !config.IsYamlOnlyKey(key) {
			fmt.Fprintf(os.Stderr, "warning: %s is not a recognized startup key; writing it anyway\n", key)
		}

		if err := config.SetYamlConfig(key, value); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}

		if jsonOutput {
			fmt.Printf("{%q:%q,\"location\":\"config.yaml\"}\n", key, value)
		} else {
			fmt.Printf("Set %s = %s (in .ddscore/config.yaml)\n", key, value)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd)
}
