// Command arx runs the AR camera pipeline headless, with a web dashboard for
// the permission prompt, visibility and camera settings.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-arx/internal/config"
	"github.com/teslashibe/go-arx/internal/log"
	"github.com/teslashibe/go-arx/pkg/camera"
	"github.com/teslashibe/go-arx/pkg/capture"
	"github.com/teslashibe/go-arx/pkg/capture/cvdevice"
	"github.com/teslashibe/go-arx/pkg/display"
	"github.com/teslashibe/go-arx/pkg/permission"
	"github.com/teslashibe/go-arx/pkg/pipeline"
	"github.com/teslashibe/go-arx/pkg/tracking"
	"github.com/teslashibe/go-arx/pkg/tracking/detection"
	"github.com/teslashibe/go-arx/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	driverName := flag.String("driver", "", "Capture driver: mock or opencv (overrides config)")
	engineName := flag.String("engine", "", "Tracking engine: mock or detection (overrides config)")
	port := flag.Int("port", -1, "Dashboard port, 0 disables (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	if *driverName != "" {
		cfg.Driver = *driverName
	}
	if *engineName != "" {
		cfg.Engine.Backend = *engineName
	}
	if *port >= 0 {
		cfg.Web.Port = *port
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	logger := log.Init(log.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("arx stopped", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	device, err := cfg.Camera.Device()
	if err != nil {
		return err
	}
	format, err := cfg.Camera.Format()
	if err != nil {
		return err
	}

	driver := newDriver(cfg)
	engine := newEngine(cfg)
	scene := newMarkerScene(engine, cfg.Engine.Trackables, log.Component("scene"))

	// The dashboard, the prompter and the renderer reference each other
	// through srv; it is assigned before anything starts.
	var srv *web.Server
	dashboard := cfg.WebAddr() != ""

	probe := permission.Probe(nil)
	logger.Info("camera permission", "status", probe.Status, "message", probe.Message)

	var prompter permission.Prompter = permission.StaticPrompter{Granted: probe.Status != permission.StatusDenied}
	if dashboard && probe.Status == permission.StatusPromptRequired {
		prompter = permission.PrompterFunc(func(respond func(bool)) { srv.Prompt(respond) })
	}
	gate := permission.NewGate(prompter,
		permission.WithProbe(probe),
		permission.WithLogger(log.Component("permission")),
	)

	renderer := display.RendererFunc(func(ctx context.Context) error {
		if srv == nil {
			return nil
		}
		return srv.Draw(ctx)
	})
	surface := display.NewSurface(renderer,
		display.WithRefreshInterval(time.Duration(cfg.Display.RefreshMS)*time.Millisecond),
		display.WithLogger(log.Component("display")),
	)

	orch := pipeline.New(pipeline.Config{
		ResourceDir:  cfg.Engine.ResourceDir,
		CameraParams: cfg.Camera.CameraParams,
		Device:       device,
		Format:       format,
	}, pipeline.Deps{
		Driver:   driver,
		Engine:   engine,
		Gate:     gate,
		Scene:    scene,
		Redrawer: surface,
	},
		pipeline.WithLogger(logger),
		pipeline.WithErrorHandler(func(err error) {
			logger.Error("pipeline error", "error", err)
			if srv != nil {
				srv.ReportError(err)
			}
		}),
		pipeline.WithStatusHandler(func(st pipeline.Status) {
			logger.Debug("pipeline status", "phase", st.Phase, "session", st.Session.State)
			if srv != nil {
				srv.PublishStatus(st)
			}
		}),
	)

	manager := camera.NewManager(cfg.Camera)
	manager.OnConfigChange = func(c camera.Config) error {
		id, err := c.Device()
		if err != nil {
			return err
		}
		f, err := c.Format()
		if err != nil {
			return err
		}
		return orch.Reconfigure(id, f)
	}

	if dashboard {
		srv = web.NewServer(cfg.WebAddr(), orch, manager,
			web.WithLogger(logger),
			web.WithSceneSource(scene.Snapshot),
			web.WithStaticDir(cfg.Web.StaticDir),
		)
		srv.StartAsync()
		defer func() {
			if err := srv.Shutdown(); err != nil {
				logger.Warn("dashboard shutdown", "error", err)
			}
		}()
	}

	logger.Info("starting pipeline",
		"driver", driver.Name(),
		"engine", engine.Name(),
		"device", device.String(),
		"format", format.String(),
	)

	if err := orch.Start(ctx); err != nil {
		return err
	}
	go surface.Run(ctx)

	// Headless: the surface is visible from the start.
	if err := orch.Resume(); err != nil {
		logger.Warn("initial resume failed", "error", err)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-orch.Done():
	}

	return orch.Stop()
}

func newDriver(cfg config.Config) capture.Driver {
	switch cfg.Driver {
	case config.DriverOpenCV:
		return cvdevice.New(
			cvdevice.WithLogger(log.Component("cvdevice")),
			cvdevice.WithFramerate(cfg.Camera.Framerate),
		)
	default:
		interval := time.Second / time.Duration(max(cfg.Camera.Framerate, 1))
		return capture.NewMockDriver(
			capture.WithDriverLogger(log.Component("mock-camera")),
			capture.WithFrameInterval(interval),
		)
	}
}

func newEngine(cfg config.Config) tracking.Engine {
	switch cfg.Engine.Backend {
	case config.EngineDetection:
		return detection.NewEngine(detection.Factory(cfg.Engine.Detection), log.Component("detection"))
	default:
		return tracking.NewMockEngine(tracking.WithEngineLogger(log.Component("mock-engine")))
	}
}
