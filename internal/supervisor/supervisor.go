package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/akosev/camnode/internal/config"
	"github.com/akosev/camnode/internal/events"
	"github.com/akosev/camnode/internal/ffmpeg"
	"github.com/akosev/camnode/internal/logging"
	"github.com/akosev/camnode/internal/process"
)

// Status is the supervisor-visible state of one output's worker.
type Status string

// Worker states under supervisor control. A crash never removes an
// output; only config removal or shutdown reaches stopped terminally.
const (
	StatusStarting    Status = "starting"
	StatusRunning     Status = "running"
	StatusExitedOK    Status = "exited-ok"
	StatusExitedError Status = "exited-error"
	StatusBackoff     Status = "backoff-wait"
	StatusStopping    Status = "stopping"
	StatusStopped     Status = "stopped"
)

// WorkerHandle is the process handle contract the supervisor monitors.
// Satisfied by *process.Worker; tests substitute fakes.
type WorkerHandle interface {
	Start() error
	ObserveExit() process.Exit
	Stop(graceful time.Duration) bool
	PID() int
}

// WorkerFactory creates a fresh handle for one restart attempt of an
// output plan. Each handle is single-use.
type WorkerFactory func(id string, plan ffmpeg.OutputPlan) WorkerHandle

// Options configures a Supervisor.
type Options struct {
	// RestreamBase is the publish address prefix, e.g. "rtsp://mediamtx:8554".
	RestreamBase string

	// GracefulTimeout bounds SIGINT-to-SIGKILL on stop.
	GracefulTimeout time.Duration

	// Backoff schedule for restarts of a failing output.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// StabilityThreshold is how long a process must run continuously
	// before the backoff schedule resets to base.
	StabilityThreshold time.Duration

	// HWRetryInterval is how long an output runs on software after a
	// GPU failure before the hardware path is tried again.
	HWRetryInterval time.Duration

	// Bus receives every lifecycle transition.
	Bus *events.Bus

	Logger *slog.Logger

	// NewWorker overrides worker creation (tests). Nil uses real
	// ffmpeg processes.
	NewWorker WorkerFactory
}

// OutputStatus is a point-in-time view of one supervised output.
type OutputStatus struct {
	Camera        string    `json:"camera"`
	Output        string    `json:"output"`
	Destination   string    `json:"destination"`
	Status        Status    `json:"status"`
	PID           int       `json:"pid,omitempty"`
	RestartCount  int       `json:"restart_count"`
	LastExitCode  int       `json:"last_exit_code"`
	LastStartedAt time.Time `json:"last_started_at"`
}

// outputState is the supervisor's record for one (camera, output) pair.
// The process handle itself is owned exclusively by the monitor
// goroutine; this record only mirrors observable state.
type outputState struct {
	id   string
	plan ffmpeg.OutputPlan

	cancel context.CancelFunc
	done   chan struct{}

	status        Status
	pid           int
	restartCount  int
	lastExitCode  int
	lastStartedAt time.Time
}

type cameraState struct {
	spec    config.CameraSpec
	outputs map[string]*outputState
}

// Supervisor owns the camera -> workers mapping and keeps it consistent
// with the desired configuration snapshot. One explicitly constructed
// instance per manager process: explicit init via Reconcile, explicit
// teardown via Shutdown.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	// reconcileMu serializes diff-and-apply passes (reload, operator
	// restart, shutdown) so partial reconciliations never interleave.
	reconcileMu sync.Mutex

	// mu guards cameras and snapshot; monitors take it only for short
	// state mirror updates, never across a suspension point.
	mu       sync.RWMutex
	cameras  map[string]*cameraState
	snapshot config.Snapshot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	newWorker WorkerFactory
}

// New creates a supervisor with no cameras. Call Reconcile with the
// initial snapshot to start workers.
func New(opts Options) *Supervisor {
	if opts.GracefulTimeout <= 0 {
		opts.GracefulTimeout = 10 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = time.Minute
	}
	if opts.StabilityThreshold <= 0 {
		opts.StabilityThreshold = 30 * time.Second
	}
	if opts.HWRetryInterval <= 0 {
		opts.HWRetryInterval = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("supervisor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		opts:    opts,
		logger:  logger,
		cameras: make(map[string]*cameraState),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.newWorker = opts.NewWorker
	if s.newWorker == nil {
		s.newWorker = func(id string, plan ffmpeg.OutputPlan) WorkerHandle {
			w := process.NewWorker(id, ffmpeg.BuildCommand(plan), logger)
			w.SetLogParser(logging.GetLogger("ffmpeg"), ffmpeg.ParseLogLevel)
			return w
		}
	}

	return s
}

// Reconcile computes the added/removed/modified camera sets against the
// current snapshot and applies them: removed cameras are stopped and
// dropped, added cameras started, modified cameras stopped then started
// from the new spec (no partial reuse). Independent cameras reconcile
// concurrently; stop-then-start for one camera is strictly ordered.
// Reconciles are serialized: a pass completes before the next is accepted.
func (s *Supervisor) Reconcile(snap config.Snapshot) config.DiffResult {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	s.mu.RLock()
	diff := config.Diff(s.snapshot, snap)
	s.mu.RUnlock()

	var wg sync.WaitGroup

	for _, name := range diff.Removed {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			s.removeCamera(name)
		}(name)
	}

	for _, name := range diff.Modified {
		spec, _ := snap.Camera(name)
		wg.Add(1)
		go func(name string, spec config.CameraSpec) {
			defer wg.Done()
			s.removeCamera(name)
			s.addCamera(spec)
		}(name, spec)
	}

	for _, name := range diff.Added {
		spec, _ := snap.Camera(name)
		wg.Add(1)
		go func(spec config.CameraSpec) {
			defer wg.Done()
			s.addCamera(spec)
		}(spec)
	}

	wg.Wait()

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()

	if s.opts.Bus != nil {
		s.opts.Bus.Publish(events.ConfigReloadedEvent{
			Added:     diff.Added,
			Removed:   diff.Removed,
			Modified:  diff.Modified,
			Cameras:   len(snap.Cameras),
			Timestamp: events.Now(),
		})
	}

	return diff
}

// RestartCamera stops and restarts all workers of one camera from its
// current spec. Operator entry point (HTTP API).
func (s *Supervisor) RestartCamera(name string) error {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	s.mu.RLock()
	spec, exists := s.snapshot.Camera(name)
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("camera %q not found", name)
	}

	s.logger.Info("Restarting camera", "camera", name)
	s.removeCamera(name)
	s.addCamera(spec)
	return nil
}

// Shutdown stops all workers gracefully in parallel and returns once
// every monitor has reached stopped.
func (s *Supervisor) Shutdown() {
	s.reconcileMu.Lock()
	defer s.reconcileMu.Unlock()

	s.logger.Info("Shutting down supervisor")
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.cameras = make(map[string]*cameraState)
	s.snapshot = config.Snapshot{}
	s.mu.Unlock()

	s.logger.Info("All workers stopped")
}

// Status returns a snapshot of all supervised outputs, sorted by camera
// then output name. Safe to call concurrently with reconciliation.
func (s *Supervisor) Status() []OutputStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var statuses []OutputStatus
	for camName, cam := range s.cameras {
		for _, out := range cam.outputs {
			statuses = append(statuses, OutputStatus{
				Camera:        camName,
				Output:        out.plan.Output,
				Destination:   out.plan.Destination,
				Status:        out.status,
				PID:           out.pid,
				RestartCount:  out.restartCount,
				LastExitCode:  out.lastExitCode,
				LastStartedAt: out.lastStartedAt,
			})
		}
	}

	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Camera != statuses[j].Camera {
			return statuses[i].Camera < statuses[j].Camera
		}
		return statuses[i].Output < statuses[j].Output
	})
	return statuses
}

// Snapshot returns the currently applied configuration snapshot.
func (s *Supervisor) Snapshot() config.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// addCamera builds plans and starts one monitor per output.
func (s *Supervisor) addCamera(spec config.CameraSpec) {
	plans := ffmpeg.BuildPlans(spec, s.opts.RestreamBase)

	cam := &cameraState{
		spec:    spec,
		outputs: make(map[string]*outputState, len(plans)),
	}

	s.mu.Lock()
	s.cameras[spec.Name] = cam
	for _, plan := range plans {
		ctx, cancel := context.WithCancel(s.ctx)
		out := &outputState{
			id:     spec.Name + "/" + plan.Output,
			plan:   plan,
			cancel: cancel,
			done:   make(chan struct{}),
			status: StatusStarting,
		}
		cam.outputs[plan.Output] = out

		s.wg.Add(1)
		go func(ctx context.Context, out *outputState) {
			defer s.wg.Done()
			s.monitor(ctx, out)
		}(ctx, out)
	}
	s.mu.Unlock()

	s.logger.Info("Camera added", "camera", spec.Name, "outputs", len(plans))
}

// removeCamera cancels all of a camera's monitors and waits until every
// worker has reached stopped. No-op for unknown cameras.
func (s *Supervisor) removeCamera(name string) {
	s.mu.Lock()
	cam, exists := s.cameras[name]
	if !exists {
		s.mu.Unlock()
		return
	}
	delete(s.cameras, name)
	s.mu.Unlock()

	for _, out := range cam.outputs {
		out.cancel()
	}
	for _, out := range cam.outputs {
		<-out.done
	}

	s.logger.Info("Camera removed", "camera", name)
}

// monitor drives one output through its lifecycle:
// starting -> running -> exited -> backoff-wait -> starting, with
// stopping -> stopped on cancellation from any state. A GPU failure
// switches the output to software processing immediately; the hardware
// path is tried again after HWRetryInterval.
func (s *Supervisor) monitor(ctx context.Context, out *outputState) {
	defer close(out.done)

	policy := newBackoff(s.opts.BackoffBase, s.opts.BackoffMax)
	s.logger.Info("Supervising output",
		"camera", out.plan.Camera,
		"output", out.plan.Output,
		"command", ffmpeg.Sanitize(ffmpeg.BuildCommand(out.plan)),
	)

	// hwRetryAt is set while GPU use is suspended after a cuda failure.
	var hwRetryAt time.Time

	for {
		plan := out.plan
		if plan.UsesHardware() && !hwRetryAt.IsZero() {
			if time.Now().Before(hwRetryAt) {
				plan = plan.SoftwareFallback()
			} else {
				hwRetryAt = time.Time{}
				s.logger.Info("Retrying hardware acceleration",
					"camera", plan.Camera, "output", plan.Output)
			}
		}

		startedAt := time.Now()
		s.updateOutput(out, func(o *outputState) {
			o.status = StatusStarting
			o.lastStartedAt = startedAt
			o.pid = 0
		})

		worker := s.newWorker(out.id, plan)

		if err := worker.Start(); err != nil {
			// Spawn failures retry under the same backoff policy as a
			// crash: transient environment problems are expected to
			// self-resolve.
			s.updateOutput(out, func(o *outputState) {
				o.status = StatusExitedError
				o.lastExitCode = -1
			})
			s.publish(events.WorkerExitedEvent{
				Camera:      out.plan.Camera,
				Output:      out.plan.Output,
				ExitCode:    -1,
				SpawnFailed: true,
				Error:       err.Error(),
				Timestamp:   events.Now(),
			})
		} else {
			s.updateOutput(out, func(o *outputState) {
				o.status = StatusRunning
				o.pid = worker.PID()
			})
			s.publish(events.WorkerSpawnedEvent{
				Camera:    out.plan.Camera,
				Output:    out.plan.Output,
				PID:       worker.PID(),
				Timestamp: events.Now(),
			})

			exitCh := make(chan process.Exit, 1)
			go func() {
				exitCh <- worker.ObserveExit()
			}()

			select {
			case <-ctx.Done():
				pid := worker.PID()
				s.updateOutput(out, func(o *outputState) { o.status = StatusStopping })
				forced := worker.Stop(s.opts.GracefulTimeout)
				exit := <-exitCh
				s.updateOutput(out, func(o *outputState) {
					o.status = StatusStopped
					o.lastExitCode = exit.Code
					o.pid = 0
				})
				s.publish(events.WorkerStoppedEvent{
					Camera:    out.plan.Camera,
					Output:    out.plan.Output,
					PID:       pid,
					Forced:    forced,
					Timestamp: events.Now(),
				})
				return

			case exit := <-exitCh:
				// Any exit while the camera is desired-active is a
				// failure, zero exit code included: the engine never
				// signals intentional completion.
				if time.Since(startedAt) >= s.opts.StabilityThreshold {
					policy.Reset()
				}
				status := StatusExitedError
				if exit.Code == 0 {
					status = StatusExitedOK
				}
				s.updateOutput(out, func(o *outputState) {
					o.status = status
					o.lastExitCode = exit.Code
					o.pid = 0
				})
				s.publish(events.WorkerExitedEvent{
					Camera:     out.plan.Camera,
					Output:     out.plan.Output,
					ExitCode:   exit.Code,
					StderrTail: exit.StderrTail,
					Timestamp:  events.Now(),
				})

				if plan.UsesHardware() && ffmpeg.IsCUDAError(exit.StderrTail) {
					// The GPU path failed, not the stream; respawn on
					// software right away instead of waiting out a backoff.
					hwRetryAt = time.Now().Add(s.opts.HWRetryInterval)
					s.logger.Warn("GPU failure detected, falling back to software",
						"camera", out.plan.Camera,
						"output", out.plan.Output,
						"retry_after", s.opts.HWRetryInterval,
					)
					s.updateOutput(out, func(o *outputState) { o.restartCount++ })
					s.publish(events.RestartScheduledEvent{
						Camera:    out.plan.Camera,
						Output:    out.plan.Output,
						Delay:     0,
						Failures:  policy.failures,
						Timestamp: events.Now(),
					})
					continue
				}
			}
		}

		delay, failures := policy.Next()
		s.updateOutput(out, func(o *outputState) {
			o.status = StatusBackoff
			o.restartCount++
		})
		s.publish(events.RestartScheduledEvent{
			Camera:    out.plan.Camera,
			Output:    out.plan.Output,
			Delay:     delay,
			Failures:  failures,
			Timestamp: events.Now(),
		})

		select {
		case <-ctx.Done():
			s.updateOutput(out, func(o *outputState) { o.status = StatusStopped })
			s.publish(events.WorkerStoppedEvent{
				Camera:    out.plan.Camera,
				Output:    out.plan.Output,
				Timestamp: events.Now(),
			})
			return
		case <-time.After(delay):
		}
	}
}

// updateOutput mutates the state mirror under the supervisor lock.
func (s *Supervisor) updateOutput(out *outputState, fn func(*outputState)) {
	s.mu.Lock()
	fn(out)
	s.mu.Unlock()
}

func (s *Supervisor) publish(ev events.Event) {
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(ev)
	}
}
