package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/akosev/camnode/cmd"
	"github.com/akosev/camnode/internal/api"
	"github.com/akosev/camnode/internal/config"
	"github.com/akosev/camnode/internal/events"
	"github.com/akosev/camnode/internal/logging"
	"github.com/akosev/camnode/internal/metrics"
	"github.com/akosev/camnode/internal/status"
	"github.com/akosev/camnode/internal/supervisor"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"camnode.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Camera definitions
	CamerasFile string `help:"Camera definitions file" short:"f" default:"cameras.yaml" toml:"cameras.file" env:"CAMERAS_FILE"`

	// Restream server settings
	RestreamBase   string `help:"Restream server publish base URL" default:"rtsp://localhost:8554" toml:"restream.base_url" env:"RESTREAM_BASE"`
	RestreamAPI    string `help:"Restream server control API URL (empty disables polling)" default:"http://localhost:9997" toml:"restream.api_url" env:"RESTREAM_API"`
	RestreamPollMs int    `help:"Restream API poll interval in milliseconds" default:"10000" toml:"restream.poll_interval_ms" env:"RESTREAM_POLL_MS"`

	// Supervision settings
	GracefulTimeoutSec int `help:"Seconds to wait after the stop signal before killing a worker" default:"10" toml:"supervision.graceful_timeout_sec" env:"GRACEFUL_TIMEOUT_SEC"`
	BackoffBaseMs      int `help:"Initial restart delay in milliseconds" default:"1000" toml:"supervision.backoff_base_ms" env:"BACKOFF_BASE_MS"`
	BackoffMaxMs       int `help:"Maximum restart delay in milliseconds" default:"60000" toml:"supervision.backoff_max_ms" env:"BACKOFF_MAX_MS"`
	StabilitySec       int `help:"Seconds of continuous running that reset the backoff schedule" default:"30" toml:"supervision.stability_sec" env:"STABILITY_SEC"`

	// Auth settings
	AuthUsername string `help:"Basic auth username (empty disables auth)" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingConfig     string `help:"Config module logging level" default:"info" toml:"logging.config" env:"LOGGING_CONFIG"`
	LoggingSupervisor string `help:"Supervisor logging level" default:"info" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingProcess    string `help:"Process module logging level" default:"info" toml:"logging.process" env:"LOGGING_PROCESS"`
	LoggingFfmpeg     string `help:"Engine output logging level" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingEvents     string `help:"Lifecycle event logging level" default:"info" toml:"logging.events" env:"LOGGING_EVENTS"`
	LoggingStatus     string `help:"Status module logging level" default:"info" toml:"logging.status" env:"LOGGING_STATUS"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadOptions(opts, nil); loadErr != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"config":     opts.LoggingConfig,
				"supervisor": opts.LoggingSupervisor,
				"process":    opts.LoggingProcess,
				"ffmpeg":     opts.LoggingFfmpeg,
				"events":     opts.LoggingEvents,
				"status":     opts.LoggingStatus,
				"api":        opts.LoggingAPI,
			},
		})

		logger := logging.GetLogger("main")

		// Event bus ties the supervisor to the recorder, metrics and
		// status consumers.
		eventBus := events.New()
		recorder := events.NewRecorder(eventBus, logging.GetLogger("events"))
		collector := metrics.NewCollector(eventBus)
		statusStore := status.NewStore(eventBus)

		// The camera file must parse at startup; a manager with no
		// valid desired state has nothing to supervise.
		snapshot, err := config.Load(opts.CamerasFile)
		if err != nil {
			logger.Error("Invalid camera definitions", "file", opts.CamerasFile, "error", err)
			os.Exit(1)
		}

		sup := supervisor.New(supervisor.Options{
			RestreamBase:       opts.RestreamBase,
			GracefulTimeout:    time.Duration(opts.GracefulTimeoutSec) * time.Second,
			BackoffBase:        time.Duration(opts.BackoffBaseMs) * time.Millisecond,
			BackoffMax:         time.Duration(opts.BackoffMaxMs) * time.Millisecond,
			StabilityThreshold: time.Duration(opts.StabilitySec) * time.Second,
			Bus:                eventBus,
		})

		// Hot reload: a bad file is rejected and reported while the
		// last-good snapshot keeps running.
		watcher := config.NewWatcher(
			opts.CamerasFile,
			config.Load,
			logging.GetLogger("config"),
			config.WithErrorHandler[config.Snapshot](func(err error) {
				eventBus.Publish(events.ConfigErrorEvent{
					Error:     err.Error(),
					Timestamp: events.Now(),
				})
			}),
		)
		watcher.OnReload(func(snap config.Snapshot) {
			diff := sup.Reconcile(snap)
			if diff.Empty() {
				logger.Info("Config reloaded, no camera changes")
			}
		})

		// Source resolution is probed lazily as workers come up.
		prober := status.NewProber(eventBus, statusStore, func(camera string) (string, bool) {
			spec, ok := sup.Snapshot().Camera(camera)
			if !ok {
				return "", false
			}
			return spec.InputURL(), true
		}, logging.GetLogger("status"))

		var poller *status.Poller
		if opts.RestreamAPI != "" {
			poller = status.NewPoller(
				opts.RestreamAPI,
				time.Duration(opts.RestreamPollMs)*time.Millisecond,
				statusStore,
				logging.GetLogger("status"),
			)
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Supervisor:        sup,
			Status:            statusStore,
			PrometheusHandler: collector.Handler(),
		})

		hooks.OnStart(func() {
			logger.Info("Starting stream supervisor",
				"cameras", len(snapshot.Cameras),
				"restream", opts.RestreamBase,
			)
			sup.Reconcile(snapshot)

			if watchErr := watcher.Start(); watchErr != nil {
				logger.Warn("Config watcher unavailable, hot reload disabled", "error", watchErr)
			}
			if poller != nil {
				poller.Start()
			}

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Warn("Error stopping config watcher", "error", stopErr)
			}
			if poller != nil {
				poller.Stop()
			}
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Workers stop last so the API reports live state until the
			// very end.
			sup.Shutdown()

			prober.Close()
			statusStore.Close()
			collector.Close()
			recorder.Close()
		})
	})

	cli.Root().AddCommand(cmd.CreateValidateCmd())
	cli.Root().AddCommand(cmd.CreatePlanCmd())

	cli.Run()
}
