package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/thin-edge/tedge-core/internal/config"
	"github.com/thin-edge/tedge-core/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&configDirFlag, "config-dir", "", "Configuration/data directory (overrides TEDGE_CONFIG_DIR)")
	serveCmd.Flags().IntVar(&apiPortFlag, "api-port", 0, "REST API port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

var (
	configDirFlag string
	apiPortFlag   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent daemon",
	Long:  "Start the MQTT client, entity store, workflow engine and REST/file-transfer HTTP servers, and block until terminated.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	dir := configDirFlag
	if dir == "" {
		dir = config.ConfigDir()
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return err
	}
	if apiPortFlag > 0 {
		cfg.HTTP.APIPort = apiPortFlag
	}

	d, err := daemon.New(cfg, dir)
	if err != nil {
		return err
	}
	return d.Serve(context.Background())
}
