package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/jmylchreest/streamrelay/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing streamrelay configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format.

Values are the defaults merged with the config file and environment.
You can redirect this output to a file to create a configuration template:

  streamrelay config dump > .streamrelay.yaml

Environment variables use the STREAMRELAY_ prefix and underscores for nesting.
Example: server.port -> STREAMRELAY_SERVER_PORT`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromViper(viper.GetViper())
		if err != nil {
			return err
		}
		return dumpConfig(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

// dumpConfig writes cfg as YAML with a short header. Durations render in
// Go duration syntax (e.g. 30s, 1h0m0s).
func dumpConfig(w io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := "# streamrelay configuration\n" +
		"#\n" +
		"# Duration format: 500ms, 30s, 5m, 1h\n" +
		"# Environment overrides: STREAMRELAY_SERVER_PORT, STREAMRELAY_STORAGE_HLS_BASE_DIR, ...\n" +
		"\n"
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
