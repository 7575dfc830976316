package main

import (
	"flag"
	"os"
)

// CLIConfig holds command-line configuration.
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	ShowVersion bool
	Validate    bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("CHATSERVER_CONFIG", "configs/chatserver.yaml"),
		"Path to configuration file (env: CHATSERVER_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("CHATSERVER_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: CHATSERVER_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("CHATSERVER_LOG_FORMAT", "json"),
		"Log format: json, text (env: CHATSERVER_LOG_FORMAT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Print version and exit")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Parse()
	return cfg
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
