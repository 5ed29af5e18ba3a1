package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"onnxd/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	root := &cobra.Command{
		Use:           "onnxd",
		Short:         "In-process inference engine with an OpenAI-compatible HTTP API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&rf.configPath, "config", os.Getenv("ONNXD_CONFIG"), "Config file (.yaml, .json or .toml)")
	root.PersistentFlags().StringVar(&rf.logLevel, "log-level", "", "Log level: trace|debug|info|warn|error|off")
	root.PersistentFlags().StringVar(&rf.logFormat, "log-format", "", "Log format: console|json")

	root.AddCommand(
		newServeCmd(rf),
		newPromptCmd(rf),
		newChatCmd(),
		newModelsCmd(rf),
		newVersionCmd(),
	)
	return root
}

// loadConfig layers defaults, the optional config file and flag overrides.
func loadConfig(rf *rootFlags, flags config.Config) (config.Config, error) {
	cfg := config.Default()
	if rf.configPath != "" {
		fileCfg, err := config.Load(rf.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", rf.configPath, err)
		}
		cfg = cfg.Merge(fileCfg)
	}
	flags.LogLevel = rf.logLevel
	flags.LogFormat = rf.logFormat
	cfg = cfg.Merge(flags)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newLogger builds the process logger from config.
func newLogger(cfg config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(cfg.LogLevel) {
	case "off":
		level = zerolog.Disabled
	case "":
	default:
		if l, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil {
			level = l
		}
	}
	var l zerolog.Logger
	if cfg.LogFormat == "json" {
		l = zerolog.New(os.Stderr)
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}
	return l.Level(level).With().Timestamp().Logger()
}

// splitCSV splits a comma separated flag value, dropping empty items.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
