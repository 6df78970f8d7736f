package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/ctrlloop/internal/config"
	"github.com/giantswarm/ctrlloop/pkg/logging"
)

// Application bootstraps and runs the controller manager.
//
// The Application follows a two-phase initialization pattern:
//  1. Bootstrap phase: load and validate configuration, initialize logging,
//     wire the event source, cache, controller and manager
//  2. Execution phase: run the manager, under leader election when enabled,
//     next to the metrics server
//
// Example usage:
//
//	cfg := app.NewConfig(false, false, "")
//	application, err := app.NewApplication(cfg)
//	if err != nil {
//	    return fmt.Errorf("failed to create application: %w", err)
//	}
//	return application.Run(ctx)
type Application struct {
	config   *Config
	services *Services
}

// NewApplication loads configuration (unless cfg.CtrlConfig is preset),
// validates it, initializes logging and wires all services.
//
// Configuration errors are returned before anything starts; they are the
// only fatal errors of the application.
func NewApplication(cfg *Config) (*Application, error) {
	output := logOutput(cfg)

	if cfg.CtrlConfig == nil {
		loaded, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			logging.InitForCLI(logging.LevelInfo, output)
			logging.Error("Bootstrap", err, "Failed to load ctrlloop configuration")
			return nil, fmt.Errorf("failed to load ctrlloop configuration: %w", err)
		}
		cfg.CtrlConfig = &loaded
	}
	if err := cfg.CtrlConfig.Validate(); err != nil {
		logging.InitForCLI(logging.LevelInfo, output)
		logging.Error("Bootstrap", err, "Invalid ctrlloop configuration")
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	initLogging(cfg, output)

	services, err := InitializeServices(*cfg.CtrlConfig)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return NewApplicationWithServices(cfg, services), nil
}

// NewApplicationWithServices returns an application around already wired
// services.
func NewApplicationWithServices(cfg *Config, services *Services) *Application {
	return &Application{config: cfg, services: services}
}

// Services returns the wired services.
func (a *Application) Services() *Services {
	return a.services
}

// Run executes the application until ctx is cancelled.
//
// Controllers stop before informers; the metrics server stops last. Run
// returns the first error of any component.
func (a *Application) Run(ctx context.Context) error {
	RegisterMetrics()

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.services.Config.Metrics.BindAddress; addr != "" {
		server := NewMetricsServer(addr, a.services.Healthz, a.services.Readyz)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}

	g.Go(func() error {
		if a.services.LeaderElecting != nil {
			return a.services.LeaderElecting.Run(gctx)
		}
		return a.services.Manager.Run(gctx)
	})

	err := g.Wait()
	logging.Info("Bootstrap", "Application stopped")
	return err
}

func logOutput(cfg *Config) io.Writer {
	if cfg.Silent {
		return io.Discard
	}
	if cfg.LogOutput != nil {
		return cfg.LogOutput
	}
	return os.Stderr
}

func initLogging(cfg *Config, output io.Writer) {
	level, _ := logging.ParseLevel(cfg.CtrlConfig.Logging.Level)
	if cfg.Debug {
		level = logging.LevelDebug
	}
	logging.Init(level, logging.Format(cfg.CtrlConfig.Logging.Format), output)
}
