package status

import (
	"sync"

	"github.com/akosev/camnode/internal/events"
)

// Camera states exposed through the status API.
const (
	StateConnecting = "connecting"
	StateOnline     = "online"
	StateError      = "error"
	StateRestarting = "restarting"
	StateOffline    = "offline"
)

// OutputInfo is the observable state of one published output.
type OutputInfo struct {
	State string `json:"state"`

	// Publish-side details from the restream server poller.
	Ready       bool `json:"ready"`
	BitrateKbps int  `json:"bitrate_kbps,omitempty"`
}

// CameraInfo aggregates one camera's outputs.
type CameraInfo struct {
	State    string                `json:"state"`
	Restarts int                   `json:"restarts"`
	Outputs  map[string]OutputInfo `json:"outputs"`

	// Resolution is the probed source resolution ("1920x1080"), empty
	// until a probe succeeds.
	Resolution string `json:"resolution,omitempty"`
}

// Store is a thread-safe status map for all cameras, kept current by
// subscribing to the lifecycle event bus. It is read by the HTTP API
// and enriched by the restream poller.
type Store struct {
	mu      sync.RWMutex
	cameras map[string]*CameraInfo
	byOut   map[string]string // output name -> camera name
	unsubs  []func()
}

// NewStore creates a store subscribed to the bus.
func NewStore(bus *events.Bus) *Store {
	s := &Store{
		cameras: make(map[string]*CameraInfo),
		byOut:   make(map[string]string),
	}

	s.unsubs = append(s.unsubs,
		bus.Subscribe(func(e events.WorkerSpawnedEvent) {
			s.setOutputState(e.Camera, e.Output, StateOnline)
		}),
		bus.Subscribe(func(e events.WorkerExitedEvent) {
			s.setOutputState(e.Camera, e.Output, StateError)
		}),
		bus.Subscribe(func(e events.RestartScheduledEvent) {
			s.noteRestart(e.Camera, e.Output)
		}),
		bus.Subscribe(func(e events.WorkerStoppedEvent) {
			s.setOutputState(e.Camera, e.Output, StateOffline)
		}),
		bus.Subscribe(func(e events.ConfigReloadedEvent) {
			for _, name := range e.Removed {
				s.Delete(name)
			}
		}),
	)

	return s
}

// Close unsubscribes the store from the bus.
func (s *Store) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
}

// Get returns a copy of one camera's status.
func (s *Store) Get(camera string) (CameraInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, exists := s.cameras[camera]
	if !exists {
		return CameraInfo{}, false
	}
	return copyInfo(info), true
}

// All returns a copy of every camera's status.
func (s *Store) All() map[string]CameraInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make(map[string]CameraInfo, len(s.cameras))
	for name, info := range s.cameras {
		all[name] = copyInfo(info)
	}
	return all
}

// Delete drops a camera from status tracking.
func (s *Store) Delete(camera string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info, exists := s.cameras[camera]; exists {
		for out := range info.Outputs {
			delete(s.byOut, out)
		}
		delete(s.cameras, camera)
	}
}

// SetPublishInfo records restream-side details for one output path.
// Unknown paths are ignored: the restream server may carry paths this
// manager does not own.
func (s *Store) SetPublishInfo(output string, ready bool, bitrateKbps int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	camera, exists := s.byOut[output]
	if !exists {
		return
	}
	info := s.cameras[camera]
	out := info.Outputs[output]
	out.Ready = ready
	out.BitrateKbps = bitrateKbps
	info.Outputs[output] = out
}

// SetResolution records the probed source resolution of a camera. The
// entry is created if the lifecycle events have not reached the store
// yet; a later ConfigReloaded removal still drops it.
func (s *Store) SetResolution(camera, resolution string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensure(camera).Resolution = resolution
}

func (s *Store) setOutputState(camera, output, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.ensure(camera)
	out := info.Outputs[output]
	out.State = state
	if state != StateOnline {
		out.Ready = false
		out.BitrateKbps = 0
	}
	info.Outputs[output] = out
	s.byOut[output] = camera
	info.State = aggregate(info.Outputs)
}

func (s *Store) noteRestart(camera, output string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := s.ensure(camera)
	info.Restarts++
	out := info.Outputs[output]
	out.State = StateRestarting
	out.Ready = false
	out.BitrateKbps = 0
	info.Outputs[output] = out
	s.byOut[output] = camera
	info.State = aggregate(info.Outputs)
}

func (s *Store) ensure(camera string) *CameraInfo {
	info, exists := s.cameras[camera]
	if !exists {
		info = &CameraInfo{
			State:   StateConnecting,
			Outputs: make(map[string]OutputInfo),
		}
		s.cameras[camera] = info
	}
	return info
}

// aggregate derives the camera state from its outputs: online only when
// every output runs, error when any output failed, offline when all are
// deliberately stopped.
func aggregate(outputs map[string]OutputInfo) string {
	if len(outputs) == 0 {
		return StateConnecting
	}
	online, offline := 0, 0
	for _, out := range outputs {
		switch out.State {
		case StateError:
			return StateError
		case StateRestarting:
			return StateRestarting
		case StateOnline:
			online++
		case StateOffline:
			offline++
		}
	}
	switch {
	case online == len(outputs):
		return StateOnline
	case offline == len(outputs):
		return StateOffline
	default:
		return StateConnecting
	}
}

func copyInfo(info *CameraInfo) CameraInfo {
	out := CameraInfo{
		State:      info.State,
		Restarts:   info.Restarts,
		Outputs:    make(map[string]OutputInfo, len(info.Outputs)),
		Resolution: info.Resolution,
	}
	for name, o := range info.Outputs {
		out.Outputs[name] = o
	}
	return out
}
