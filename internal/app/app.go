package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/nmtkit/internal/config"
	"github.com/vk/nmtkit/internal/ctxlog"
	"github.com/vk/nmtkit/internal/registry"
	"github.com/vk/nmtkit/internal/session"
)

// AppConfig holds all the necessary configuration for an App instance to run.
type AppConfig struct {
	ConfigPath      string
	HealthcheckPort int
	LogFormat       string
	LogLevel        string
	Resume          bool
}

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	run      *config.Run
	session  *session.Session
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
func NewApp(outW io.Writer, appConfig *AppConfig, loader config.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	run, err := loader.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		// A failure to load config is a fatal startup error.
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("Configuration loaded and translated into unified model.")

	reg := registry.New()
	registerBuiltins(reg)
	logger.Debug("All built-in factories registered.")

	sess := session.New()
	logger.Debug("Session created.", "id", sess.ID())

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		run:      run,
		session:  sess,
	}
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Session returns the application's session.
func (a *App) Session() *session.Session {
	return a.session
}
