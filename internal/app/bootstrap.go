package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"aolcore/internal/config"
	"aolcore/pkg/logging"
)

// Application bootstraps and runs the control plane. It follows a two-phase
// pattern: NewApplication performs all construction, Run starts the loops
// and blocks until the context is cancelled.
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration, initializes logging, and constructs
// all components.
func NewApplication(cfg *Config) (*Application, error) {
	level := logging.LevelInfo
	if cfg.Debug {
		level = logging.LevelDebug
	}
	var output io.Writer = os.Stdout
	if cfg.Silent {
		output = io.Discard
	}
	logging.Init(level, output)

	coreCfg := config.GetDefaultConfig()
	if cfg.ConfigPath != "" {
		loaded, err := config.Load(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load configuration from %s", cfg.ConfigPath)
			return nil, fmt.Errorf("loading configuration from %s: %w", cfg.ConfigPath, err)
		}
		coreCfg = loaded
	}
	if err := coreCfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	services, err := NewServices(coreCfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("initializing services: %w", err)
	}

	return &Application{config: cfg, services: services}, nil
}

// Services exposes the wired components, mainly for embedding callers and
// tests.
func (a *Application) Services() *Services {
	return a.services
}

// Run starts the control plane and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	a.services.Start(ctx)
	logging.Info("Bootstrap", "aolcore control plane running")

	<-ctx.Done()

	logging.Info("Bootstrap", "Shutting down")
	a.services.Stop()
	return nil
}
