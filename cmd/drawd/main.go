package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"drawd/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// App carries the process streams so commands can be run from tests.
type App struct {
	Out io.Writer
	Err io.Writer
}

func DefaultApp() *App {
	return &App{Out: os.Stdout, Err: os.Stderr}
}

// rootOptions is filled by the persistent flags and PersistentPreRunE.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg config.Config
	log zerolog.Logger
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return newRootCmd(DefaultApp()).Execute()
}

func newRootCmd(app *App) *cobra.Command {
	ro := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "drawd",
		Short: "Image drawing dispatcher with reusable prompt templates",
		Long: `drawd queues image drawing requests across a pool of rendering engines,
applies per-caller and per-slot cooldowns, and keeps a repository of prompt
templates that can be drafted interactively with an AI collaborator.

Configuration is read from --config (yaml, json or toml), then .env files,
then DRAWD_* environment variables, then command-line flags.

Examples:
  drawd serve --config drawd.yaml
  drawd templates list
  drawd templates add watercolor "Repaint the photo as a loose watercolor"`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(ro.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = ro.logLevel
			}
			log, err := newLogger(app.Err, cfg.AppEnv, cfg.LogLevel)
			if err != nil {
				return err
			}
			ro.cfg, ro.log = cfg, log
			return nil
		},
	}
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	cmd.PersistentFlags().StringVarP(&ro.configPath, "config", "c", "", "path to a yaml, json or toml config file")
	cmd.PersistentFlags().StringVar(&ro.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(ro))
	cmd.AddCommand(newTemplatesCmd(ro))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the drawd version",
		Args:  cobra.NoArgs,
		// skip config loading
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "drawd %s (commit: %s)\n", version, commit)
		},
	}
}
