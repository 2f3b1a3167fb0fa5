package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/open-teleop/console/domain/video"
	"github.com/open-teleop/console/pkg/api"
	"github.com/open-teleop/console/pkg/channel"
	"github.com/open-teleop/console/pkg/config"
	customlog "github.com/open-teleop/console/pkg/log"
	"github.com/open-teleop/console/pkg/metrics"
	"github.com/open-teleop/console/pkg/processing"
	"github.com/open-teleop/console/pkg/render"
	"github.com/open-teleop/console/pkg/zeromq"
	"github.com/open-teleop/console/services"
)

func main() {
	// Get config dir from environment variable or use default
	configDir := os.Getenv("CONSOLE_CONFIG_DIR")
	if configDir == "" {
		configDir = "./config"
	}

	cfg, err := config.LoadBootstrapConfig(configDir)
	if err != nil {
		log.Fatalf("Failed to load bootstrap config: %v\n", err)
	}

	logger, err := customlog.NewLogrusLogger(cfg.Logging.Level, cfg.Logging.LogPath)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v\n", err)
	}
	logger.Infof("Loaded bootstrap config from %s (robot %s:%d)", configDir, cfg.Robot.Host, cfg.Robot.Port)

	// Everything runs on one event loop
	loop := processing.NewEventLoop("console", cfg.Processing.QueueSize, logger)
	loop.Start()

	endpoints, err := channel.EndpointsFromConfig(cfg)
	if err != nil {
		logger.Fatalf("Invalid robot endpoints: %v", err)
	}
	registry, err := channel.NewRegistry(endpoints, channel.NewWebsocketDialer(cfg.DialTimeout()), loop, logger)
	if err != nil {
		logger.Fatalf("Failed to create channel registry: %v", err)
	}

	console := services.NewConsole(registry, loop, video.NewPionFactory(cfg.Video.ICEServers, logger), services.Options{
		ControlPeriod:   cfg.ControlPeriod(),
		RadarCapacity:   cfg.Radar.Capacity,
		MaxDistanceCm:   cfg.Radar.MaxDistanceCm,
		ConfigCachePath: cfg.AIConfig.CacheFile,
	}, logger)

	// Metrics
	collector, err := metrics.NewCollector(nil)
	if err != nil {
		logger.Fatalf("Failed to register metrics: %v", err)
	}
	registry.AddObserver(collector)
	if err := collector.ObserveLoop(loop); err != nil {
		logger.Warnf("Event loop metrics unavailable: %v", err)
	}
	if err := collector.ObserveConsole(console); err != nil {
		logger.Warnf("Console metrics unavailable: %v", err)
	}

	// Radar presentation
	raster := render.NewRasterSurface(cfg.Render.Width, cfg.Render.Height, cfg.Render.ScalePxPerCm, cfg.Radar.MaxDistanceCm)
	frames := render.NewFrameHub()
	renderer := render.NewLoop(console.Radar(), console.Motion(), loop, cfg.FramePeriod(), logger)
	renderer.AddSurface(raster)
	renderer.AddSurface(frames)

	// Optional ZeroMQ telemetry fan-out
	telemetry, err := zeromq.NewTelemetryService(cfg.Telemetry, logger)
	switch {
	case errors.Is(err, zeromq.ErrNotConfigured):
		logger.Debugf("ZeroMQ telemetry disabled")
	case err != nil:
		logger.Warnf("Failed to start ZeroMQ telemetry: %v", err)
	default:
		zeromq.RegisterConsoleHandlers(telemetry, console, logger)
		telemetry.Start()
		logger.Infof("ZeroMQ telemetry on pub=%q query=%q", telemetry.PublishEndpoint(), telemetry.QueryEndpoint())
	}

	app := api.NewApp(api.Deps{
		Console:   console,
		Raster:    raster,
		Frames:    frames,
		Metrics:   collector,
		Logger:    logger,
		AccessLog: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go console.Run(ctx)
	go renderer.Run(ctx)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
		logger.Infof("Operator API listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Errorf("Operator API stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down console...")

	// Create context with timeout for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	console.Close()
	if telemetry != nil {
		telemetry.Stop()
	}
	loop.Stop()

	logger.Infof("Console exited properly")
}
