package cli

import (
	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/thin-edge/tedge-core/internal/config"
)

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or initialize the agent configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default tedge.toml if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := config.ConfigDir()
		return config.Save(dir, config.Default())
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.ConfigDir())
		if err != nil {
			return err
		}
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
	},
}
