package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/n42/matrix-rocketchat/internal/bridge"
	"github.com/n42/matrix-rocketchat/internal/config"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("matrix-rocketchat %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	log.Info().Str("version", version).Str("commit", commit).Str("build_date", buildDate).
		Msg("matrix-rocketchat starting")

	b, err := bridge.New(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to create bridge")
		os.Exit(1)
	}

	if err := b.Run(); err != nil {
		log.Error().Err(err).Msg("bridge error")
		os.Exit(1)
	}
}

// newLogger builds the bridge's root logger from its configured level and
// sinks. A stdout console writer for interactive use, a plain JSON file
// writer for log aggregation, or both at once.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(normalizeLevel(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if cfg.LogToConsole {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	if cfg.LogToFile {
		f, err := os.OpenFile(cfg.LogFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file %s: %v\n", cfg.LogFilePath, err)
		} else {
			writers = append(writers, f)
		}
	}

	var out io.Writer = os.Stdout
	if len(writers) > 0 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	return zerolog.New(out).With().Timestamp().Logger()
}

// normalizeLevel maps the bridge's own "warning" spelling (spec.md §6's
// config vocabulary) onto zerolog's "warn".
func normalizeLevel(level string) string {
	if level == "warning" {
		return "warn"
	}
	return level
}
