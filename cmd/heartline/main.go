package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xonecas/heartline/internal/config"
	"github.com/xonecas/heartline/internal/core"
	"github.com/xonecas/heartline/internal/provider"
	"github.com/xonecas/heartline/internal/store"
	"github.com/xonecas/heartline/internal/tui"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "heartline",
	Short:         "Chat with your companions from the terminal",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initLogging(debug); err != nil {
			return fmt.Errorf("initialize logging: %w", err)
		}
		config.LoadEnvFiles()
		return nil
	},
	RunE: runTUI,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.toml", "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles everything a command needs.
type app struct {
	cfg    *config.Config
	store  *store.Store
	bus    *core.EventBus
	engine *core.Engine
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log.Debug().Interface("config", cfg).Msg("Configuration loaded")

	creds, err := config.LoadCredentials()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load credentials")
		creds = &config.Credentials{}
	}

	bus := core.NewEventBus(1000)

	s, err := store.New(ctx, cfg.Store, core.StorageErrorHandler(bus))
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	if keys := s.Imported(); len(keys) > 0 {
		log.Info().Strs("keys", keys).Msg("Legacy containers imported")
	}

	engine := core.NewEngine(s, provider.NewOpenAIFactory("openai", cfg.Gateway), bus, cfg)
	engine.SetAPIKey(creds.APIKey)

	return &app{cfg: cfg, store: s, bus: bus, engine: engine}, nil
}

func (a *app) Close() {
	a.engine.Wait()
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
	a.bus.Close()
}

func runTUI(cmd *cobra.Command, args []string) error {
	log.Info().Str("version", Version).Msg("Starting Heartline")

	ctx, cancel := context.WithCancel(cmd.Context())

	a, err := openApp(ctx)
	if err != nil {
		cancel()
		return err
	}
	// the scheduler stops before Close waits on it
	defer func() {
		cancel()
		a.Close()
	}()

	a.engine.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	eventCh := a.bus.Subscribe()
	program := tea.NewProgram(tui.New(ctx, a.engine, eventCh), tea.WithAltScreen())

	go func() {
		select {
		case <-sigCh:
			log.Info().Msg("Received shutdown signal")
			program.Quit()
		case <-ctx.Done():
		}
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}

	log.Info().Msg("Heartline shutdown complete")
	return nil
}

func initLogging(debug bool) error {
	dataDir, err := config.EnsureDataDir()
	if err != nil {
		return fmt.Errorf("ensure data dir: %w", err)
	}

	// truncate on startup
	logPath := filepath.Join(dataDir, "heartline.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	// Log to file only (TUI owns stdout/stderr)
	log.Logger = zerolog.New(logFile).With().Timestamp().Logger()

	return nil
}
