package events

import (
	"log/slog"
	"strings"
)

// Recorder writes one structured log record per lifecycle transition.
// It runs as a synchronous bus sink, so records come out in the exact
// order the transitions were published: an exit is always logged before
// the restart it scheduled. Records are field-based so downstream
// aggregation can filter without text parsing.
type Recorder struct {
	logger *slog.Logger
	detach func()
}

// NewRecorder attaches a recorder to the bus.
func NewRecorder(bus *Bus, logger *slog.Logger) *Recorder {
	r := &Recorder{logger: logger}
	r.detach = bus.Attach(r.record)
	return r
}

// Close detaches the recorder from the bus.
func (r *Recorder) Close() {
	if r.detach != nil {
		r.detach()
		r.detach = nil
	}
}

func (r *Recorder) record(ev Event) {
	switch e := ev.(type) {
	case WorkerSpawnedEvent:
		r.logger.Info("worker spawned",
			"event", "spawn",
			"camera", e.Camera,
			"output", e.Output,
			"pid", e.PID,
		)
	case WorkerExitedEvent:
		args := []any{
			"event", "exit",
			"camera", e.Camera,
			"output", e.Output,
			"exit_code", e.ExitCode,
		}
		if e.SpawnFailed {
			args = append(args, "spawn_failed", true)
		}
		if e.Error != "" {
			args = append(args, "error", e.Error)
		}
		if len(e.StderrTail) > 0 {
			args = append(args, "stderr_tail", strings.Join(e.StderrTail, "\n"))
		}
		r.logger.Error("worker exited", args...)
	case RestartScheduledEvent:
		r.logger.Warn("restart scheduled",
			"event", "restart-scheduled",
			"camera", e.Camera,
			"output", e.Output,
			"delay", e.Delay,
			"failures", e.Failures,
		)
	case WorkerStoppedEvent:
		if e.Forced {
			// Forced stop after a graceful timeout is logged loudly but
			// is not an application error.
			r.logger.Warn("worker force-stopped",
				"event", "stop",
				"camera", e.Camera,
				"output", e.Output,
				"forced", true,
			)
			return
		}
		r.logger.Info("worker stopped",
			"event", "stop",
			"camera", e.Camera,
			"output", e.Output,
			"forced", false,
		)
	case ConfigReloadedEvent:
		r.logger.Info("config reloaded",
			"event", "config-reload",
			"cameras", e.Cameras,
			"added", strings.Join(e.Added, ","),
			"removed", strings.Join(e.Removed, ","),
			"modified", strings.Join(e.Modified, ","),
		)
	case ConfigErrorEvent:
		r.logger.Error("config rejected",
			"event", "config-error",
			"error", e.Error,
		)
	}
}
