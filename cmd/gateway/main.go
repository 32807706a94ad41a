package main

import (
	"fmt"
	"os"

	"connectsphere/pkg/config"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"

	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "connectsphere",
	Short: "ConnectSphere realtime gateway",
	Long: `ConnectSphere gateway keeps websocket connections for online users, tracks
presence, relays social events and brokers one-to-one call signaling.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && cmd.Flags().Changed("env-file") {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gateway version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "connectsphere %s (%s)\n", version, commit)
	},
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Load and validate the configuration, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "configuration ok: %s\n", configPath)
		fmt.Fprintf(out, "  listen:   %s%s\n", cfg.Server.Address, cfg.Signal.Path)
		fmt.Fprintf(out, "  redis:    %v\n", cfg.Redis.Enabled)
		fmt.Fprintf(out, "  mongo:    %v\n", cfg.Mongo.Enabled)
		fmt.Fprintf(out, "  kafka:    %v\n", cfg.Kafka.Enabled)
		fmt.Fprintf(out, "  nats:     %v\n", cfg.NATS.Enabled)
		fmt.Fprintf(out, "  calls:    ring %s, duplicates %s\n", cfg.Calls.RingTimeout, cfg.Calls.DuplicatePolicy)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the configuration")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
