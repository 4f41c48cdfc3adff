package status

import (
	"testing"
	"time"

	"github.com/akosev/camnode/internal/events"
)

func waitForState(t *testing.T, store *Store, camera, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := store.Get(camera); ok && info.State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	info, _ := store.Get(camera)
	t.Fatalf("camera %s state = %q, want %q", camera, info.State, want)
}

func TestStore_SpawnMakesCameraOnline(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 1, Timestamp: events.Now()})
	waitForState(t, store, "gate", StateOnline)

	info, _ := store.Get("gate")
	if out := info.Outputs["gate"]; out.State != StateOnline {
		t.Errorf("output state = %q", out.State)
	}
}

func TestStore_SplitCameraAggregation(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	// Only one of two outputs running: camera is still connecting.
	bus.Publish(events.WorkerSpawnedEvent{Camera: "yard", Output: "yard_part1", PID: 1, Timestamp: events.Now()})
	bus.Publish(events.WorkerStoppedEvent{Camera: "yard", Output: "yard_part2", Timestamp: events.Now()})
	waitForState(t, store, "yard", StateConnecting)

	// Second output comes up: online.
	bus.Publish(events.WorkerSpawnedEvent{Camera: "yard", Output: "yard_part2", PID: 2, Timestamp: events.Now()})
	waitForState(t, store, "yard", StateOnline)

	// Any crashed output flips the camera to error.
	bus.Publish(events.WorkerExitedEvent{Camera: "yard", Output: "yard_part1", ExitCode: 1, Timestamp: events.Now()})
	waitForState(t, store, "yard", StateError)
}

func TestStore_RestartTracking(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 1, Timestamp: events.Now()})
	waitForState(t, store, "gate", StateOnline)

	bus.Publish(events.RestartScheduledEvent{Camera: "gate", Output: "gate", Delay: time.Second, Failures: 1, Timestamp: events.Now()})
	waitForState(t, store, "gate", StateRestarting)

	info, _ := store.Get("gate")
	if info.Restarts != 1 {
		t.Errorf("restarts = %d, want 1", info.Restarts)
	}
}

func TestStore_RemovedCameraDropped(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 1, Timestamp: events.Now()})
	waitForState(t, store, "gate", StateOnline)

	bus.Publish(events.ConfigReloadedEvent{Removed: []string{"gate"}, Timestamp: events.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := store.Get("gate"); !ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("removed camera still tracked")
}

func TestStore_PublishInfo(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 1, Timestamp: events.Now()})
	waitForState(t, store, "gate", StateOnline)

	store.SetPublishInfo("gate", true, 2048)
	info, _ := store.Get("gate")
	out := info.Outputs["gate"]
	if !out.Ready || out.BitrateKbps != 2048 {
		t.Errorf("publish info = %+v", out)
	}

	// Paths this manager does not own are ignored.
	store.SetPublishInfo("someone_elses_path", true, 1)
	if _, ok := store.Get("someone_elses_path"); ok {
		t.Error("foreign path created a camera entry")
	}
}

func TestStore_StopClearsPublishInfo(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 1, Timestamp: events.Now()})
	waitForState(t, store, "gate", StateOnline)
	store.SetPublishInfo("gate", true, 2048)

	bus.Publish(events.WorkerStoppedEvent{Camera: "gate", Output: "gate", PID: 1, Timestamp: events.Now()})
	waitForState(t, store, "gate", StateOffline)

	info, _ := store.Get("gate")
	out := info.Outputs["gate"]
	if out.Ready || out.BitrateKbps != 0 {
		t.Errorf("stale publish info after stop: %+v", out)
	}
}

func TestStore_AllReturnsCopies(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 1, Timestamp: events.Now()})
	waitForState(t, store, "gate", StateOnline)

	all := store.All()
	all["gate"].Outputs["gate"] = OutputInfo{State: "tampered"}

	info, _ := store.Get("gate")
	if info.Outputs["gate"].State != StateOnline {
		t.Error("mutation of All() result leaked into the store")
	}
}
