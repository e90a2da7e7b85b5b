package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/hzfeng/StratPilot/config"
	"github.com/hzfeng/StratPilot/internal/api"
	"github.com/hzfeng/StratPilot/internal/chat"
	"github.com/hzfeng/StratPilot/internal/storage/sqlite"
	"github.com/hzfeng/StratPilot/internal/task"
	"github.com/hzfeng/StratPilot/internal/transport"
	"github.com/hzfeng/StratPilot/internal/ws"
)

// App bundles the wired components a command needs. Commands build it once
// in their RunE and close it on exit.
type App struct {
	Config       *config.Config
	Logger       zerolog.Logger
	API          *api.Client
	Registry     *ws.Registry
	Transport    *transport.Adapter
	Orchestrator *chat.Orchestrator
	Monitor      *task.Monitor
	Archive      *sqlite.Store
}

// newApp wires every component from configuration. The realtime transport is
// only dialed when enabled; everything else is always available. An empty
// mode falls back to strategy chat.
func newApp(cfg *config.Config, mode string) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("create directories: %w", err)
	}

	logger := newLogger(cfg)
	client := api.NewClient(cfg, logger)

	archive, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		API:     client,
		Archive: archive,
		Monitor: task.NewMonitor(client, archive, cfg.PollInterval(), cfg.MonitorTimeout(), logger),
	}

	if cfg.RealtimeEnabled {
		app.Registry = ws.NewRegistry(ws.Options{
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			ReconnectBase:        cfg.ReconnectBase(),
			HeartbeatInterval:    cfg.HeartbeatInterval(),
		}, logger)
		app.Transport = transport.NewAdapter(app.Registry, cfg.RealtimeURL, cfg.AuthToken, logger)
		if err := app.Transport.Connect(); err != nil {
			// Realtime is an optimization; chat still works over HTTP.
			logger.Warn().Err(err).Msg("realtime transport unavailable, using http only")
			app.Transport = nil
		}
	}

	app.Orchestrator = chat.NewOrchestrator(chat.NewStore(), app.transportSeam(), client, chat.Options{
		Mode:            mode,
		RealtimeEnabled: cfg.RealtimeEnabled && app.Transport != nil,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay(),
		HTTPTimeout:     cfg.HTTPTimeout(),
		UsageWindowDays: cfg.UsageWindowDays,
	}, logger)

	return app, nil
}

// transportSeam returns the adapter or a disconnected stand-in so the
// orchestrator never has to nil-check its transport.
func (a *App) transportSeam() chat.RealtimeTransport {
	if a.Transport != nil {
		return a.Transport
	}
	return chat.NoTransport{}
}

func (a *App) Close() {
	if a.Transport != nil {
		a.Transport.Close()
	}
	if a.Registry != nil {
		a.Registry.Shutdown()
	}
	a.Monitor.StopMonitoring()
	if err := a.Archive.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("close archive")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level := zerolog.WarnLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}
