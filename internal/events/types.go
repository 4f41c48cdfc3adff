package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeWorkerSpawned uint32 = iota + 1
	TypeWorkerExited
	TypeRestartScheduled
	TypeWorkerStopped
	TypeConfigReloaded
	TypeConfigError
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// WorkerSpawnedEvent is published when an engine process starts for an output.
type WorkerSpawnedEvent struct {
	Camera    string `json:"camera"`
	Output    string `json:"output"`
	PID       int    `json:"pid"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for WorkerSpawnedEvent.
func (e WorkerSpawnedEvent) Type() uint32 { return TypeWorkerSpawned }

// WorkerExitedEvent is published when an output's engine process terminates
// while the camera is still desired-active, or when the spawn itself failed.
type WorkerExitedEvent struct {
	Camera      string   `json:"camera"`
	Output      string   `json:"output"`
	ExitCode    int      `json:"exit_code"`
	SpawnFailed bool     `json:"spawn_failed,omitempty"`
	Error       string   `json:"error,omitempty"`
	StderrTail  []string `json:"stderr_tail,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// Type returns the event type identifier for WorkerExitedEvent.
func (e WorkerExitedEvent) Type() uint32 { return TypeWorkerExited }

// RestartScheduledEvent is published when the supervisor schedules a
// backoff restart for a failed output.
type RestartScheduledEvent struct {
	Camera    string        `json:"camera"`
	Output    string        `json:"output"`
	Delay     time.Duration `json:"delay"`
	Failures  int           `json:"failures"`
	Timestamp string        `json:"timestamp"`
}

// Type returns the event type identifier for RestartScheduledEvent.
func (e RestartScheduledEvent) Type() uint32 { return TypeRestartScheduled }

// WorkerStoppedEvent is published when an output's process is deliberately
// stopped (camera removed, modified, or shutdown). PID is zero when the
// stop interrupted a backoff wait and no process was running.
type WorkerStoppedEvent struct {
	Camera    string `json:"camera"`
	Output    string `json:"output"`
	PID       int    `json:"pid,omitempty"`
	Forced    bool   `json:"forced"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for WorkerStoppedEvent.
func (e WorkerStoppedEvent) Type() uint32 { return TypeWorkerStopped }

// ConfigReloadedEvent is published after a snapshot reload was accepted.
type ConfigReloadedEvent struct {
	Added     []string `json:"added,omitempty"`
	Removed   []string `json:"removed,omitempty"`
	Modified  []string `json:"modified,omitempty"`
	Cameras   int      `json:"cameras"`
	Timestamp string   `json:"timestamp"`
}

// Type returns the event type identifier for ConfigReloadedEvent.
func (e ConfigReloadedEvent) Type() uint32 { return TypeConfigReloaded }

// ConfigErrorEvent is published when a reload was rejected; the last-good
// snapshot stays active.
type ConfigErrorEvent struct {
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for ConfigErrorEvent.
func (e ConfigErrorEvent) Type() uint32 { return TypeConfigError }

// Now formats the current time the way all lifecycle events carry it.
func Now() string {
	return time.Now().Format(time.RFC3339)
}
