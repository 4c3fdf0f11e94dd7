// Package cmd provides the CLI commands for packet-sniffer using Cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MatteoGuarna/packet-sniffer/internal/config"
	"github.com/MatteoGuarna/packet-sniffer/internal/logger"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// global flags
var (
	configPath string
	envFile    string
	logLevel   string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:   "packet-sniffer",
	Short: "Connection-level packet sniffer with a pausable countdown",
	Long: `packet-sniffer captures traffic for a fixed number of seconds and
aggregates it into a table of TCP and UDP connections.

While a capture runs, type "p" and Enter to pause it (the table is printed
and the countdown stops), and "r" and Enter to resume. When the countdown
expires or the process is interrupted the final table is printed.

Examples:
  sudo packet-sniffer capture eth0 -t 30          # 30 second capture on eth0
  sudo packet-sniffer capture -n 1 -f "tcp"       # second interface, TCP only
  packet-sniffer replay trace.pcap --format json  # aggregate a capture file
  packet-sniffer history show --db snapshots.db   # print a stored table
  packet-sniffer list interfaces                  # list capture interfaces`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env",
		"dotenv file with SNIFFER_* variables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"Also write logs to this file (rotated)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "input", Title: "Capture Commands:"},
		&cobra.Group{ID: "info", Title: "Information Commands:"},
	)

	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(listCmd)
}

// loadConfig resolves the configuration: defaults, then the YAML file,
// then the environment (including the dotenv file), then global flags.
// Command flags are applied by the caller.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFile != "" {
		cfg.Logging.File = logFile
	}
	return cfg, nil
}

// newLogger builds the logger described by cfg.Logging.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	return logger.New(logger.Config{
		Level:      level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
}
