package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/falak/mailrelay/internal/app"
	"github.com/falak/mailrelay/internal/config"
)

var (
	cfgFile   string
	envFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mailrelay",
	Short: "Falak Mail Relay",
	Long: `Falak Mail Relay accepts authenticated send requests over HTTP and
delivers them through a primary email provider with automatic fallback
to a secondary provider.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	Long:  `Start the relay HTTP API, the metrics server and the background workers.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mailrelay version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment variables from this file before reading the config")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

// loadConfig reads the optional env file and then the config file
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	if envFile != "" {
		// Variables already set in the process environment win
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}

	return config.Load(cfgFile)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Name: %s\n", cfg.Server.Name)
	fmt.Printf("  API: %s (tls: %v)\n", cfg.API.ListenAddr, cfg.HasTLS())
	fmt.Printf("  Providers: %s -> %s (backoff %s)\n", cfg.Providers.Primary, cfg.Providers.Secondary, cfg.Providers.Backoff)
	fmt.Printf("  Storage: %s (%s)\n", cfg.Storage.Path, cfg.Storage.Driver)
	fmt.Printf("  Site key: %v\n", cfg.HasSiteKey())
	fmt.Printf("  Rate limit: %v\n", cfg.RateLimit.Enabled)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}

	return nil
}
