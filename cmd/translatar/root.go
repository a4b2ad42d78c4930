package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/TransatAR-Dev-Team/TranslatAR-sub000/internal/config"
)

// app carries state shared by every subcommand
type app struct {
	configPath string
	envFiles   []string

	wsURL      string
	sourceLang string
	targetLang string
	logLevel   string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          "translatar",
		Short:        "TranslatAR capture client",
		SilenceUsage: true,
		Version:      serviceVersion,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to YAML configuration file")
	flags.StringSliceVar(&a.envFiles, "env-file", nil, "Dotenv files to load (default .env when present)")
	flags.StringVar(&a.wsURL, "url", "", "Translation service WebSocket URL")
	flags.StringVar(&a.sourceLang, "source-lang", "", "Spoken language code")
	flags.StringVar(&a.targetLang, "target-lang", "", "Translation language code")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	devicesCmd := newDevicesCommand()

	rootCmd.AddCommand(
		newRunCommand(a),
		newStreamFileCommand(a),
		newBackendCommand(a),
		devicesCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		// Listing devices needs neither configuration nor logging.
		if cmd.Name() == devicesCmd.Name() {
			return nil
		}
		return a.initialize(cmd)
	}

	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if a.logCloser != nil {
			a.logCloser.Close()
		}
	}

	return rootCmd
}

// initialize loads configuration, applies command-line overrides and builds the logger
func (a *app) initialize(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath, a.envFiles...)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Client.WebSocketURL = a.wsURL
	}
	if flags.Changed("source-lang") {
		cfg.Client.SourceLang = a.sourceLang
	}
	if flags.Changed("target-lang") {
		cfg.Client.TargetLang = a.targetLang
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid command-line override: %w", err)
	}
	a.cfg = cfg

	logger, closer := initLogger(cfg.Logging)
	a.logger = logger
	a.logCloser = closer

	logger.Info("Configuration loaded",
		slog.String("command", cmd.Name()),
		slog.String("config_path", a.configPath),
		slog.String("websocket_url", cfg.Client.WebSocketURL),
		slog.String("source_lang", cfg.Client.SourceLang),
		slog.String("target_lang", cfg.Client.TargetLang),
		slog.Bool("authenticated", cfg.Client.JWTToken != ""),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("chunk_duration", cfg.Audio.ChunkDuration),
		slog.Float64("overlap", cfg.Audio.Overlap),
		slog.String("log_level", cfg.Logging.Level),
	)

	return nil
}

// initLogger creates and configures the structured logger based on configuration.
// The returned closer is non-nil when logs go to a file.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Transcripts go to stdout, so logs default to stderr.
	var output io.Writer
	var closer io.Closer
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
			closer = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler), closer
}
