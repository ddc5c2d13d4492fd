package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/JonasDEMA/agentify-os-sub002/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relayd",
		Short: "Agent message relay",
		Long:  "relayd routes messages between cloud and edge agents and queues them while targets are unreachable.",
		// Running without a subcommand starts the server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(cleanupCommand())
	rootCmd.AddCommand(statsCommand())

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("relayd failed")
		os.Exit(1)
	}
}

// loadConfig loads the configuration and applies its logging settings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	config.ConfigureLogging(cfg)
	return cfg, nil
}
