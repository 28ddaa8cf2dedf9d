package main

import (
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/uiwire/internal/config"
	"github.com/vango-dev/uiwire/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags.
var (
	configPath  string
	logLevel    string
	noColor     bool
	errorFormat string

	errorStyle = errors.StyleText
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errors.Fprint(os.Stderr, asUIWireError(err), errorStyle)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uiwire",
		Short: "Serve and inspect uiwire UI-state streams",
		Long: `uiwire speaks the compact binary UI-state protocol over WebSocket.

It runs a uiwire endpoint with metrics and optional stream capture,
and decodes recorded captures frame by frame:

  • serve     accept connections on the configured endpoint
  • inspect   decode a recorded capture
  • captures  list and expire recorded captures
  • dict      print the tag dictionary`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if noColor {
				errors.DisableColors()
			}
			style, err := errors.ParseStyle(errorFormat)
			if err != nil {
				return err
			}
			errorStyle = style
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to uiwire.json (default: nearest in the working directory or its parents)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&errorFormat, "errors", "text", "Error output: text, compact or json")

	rootCmd.AddCommand(
		serveCmd(),
		inspectCmd(),
		capturesCmd(),
		dictCmd(),
		initCmd(),
		versionCmd(),
	)
	return rootCmd
}

// loadConfig loads the config named by --config, or the nearest uiwire.json.
// Without either it falls back to defaults when optional is set.
func loadConfig(optional bool) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	cfg, err := config.LoadFromWorkingDir()
	if err != nil && optional {
		var ue *errors.UIWireError
		if stderrors.As(err, &ue) && ue.Code == "U001" {
			return config.New(), nil
		}
	}
	return cfg, err
}

// newLogger builds the process logger from the config and --log-level.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.Log.Format == "json" {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h).With("service", "uiwire"), nil
}

// asUIWireError gives every error returned to main a code.
func asUIWireError(err error) *errors.UIWireError {
	var ue *errors.UIWireError
	if stderrors.As(err, &ue) {
		return ue
	}
	return errors.FromError(err, "U080")
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
