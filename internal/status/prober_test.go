package status

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/akosev/camnode/internal/events"
)

func gateLookup(camera string) (string, bool) {
	if camera == "gate" {
		return "rtsp://user:pw@10.0.0.5:554/stream1", true
	}
	return "", false
}

func waitForResolution(t *testing.T, store *Store, camera, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := store.Get(camera); ok && info.Resolution == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	info, _ := store.Get(camera)
	t.Fatalf("camera %s resolution = %q, want %q", camera, info.Resolution, want)
}

func TestProber_DetectsResolution(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	var probed atomic.Int32
	prober := NewProber(bus, store, gateLookup, testLogger())
	defer prober.Close()
	prober.probe = func(ctx context.Context, input string) (string, error) {
		probed.Add(1)
		if input != "rtsp://user:pw@10.0.0.5:554/stream1" {
			t.Errorf("probed wrong input %q", input)
		}
		return "1920x1080", nil
	}

	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 1, Timestamp: events.Now()})
	waitForResolution(t, store, "gate", "1920x1080")

	// A known resolution is not probed again on later spawns.
	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 2, Timestamp: events.Now()})
	time.Sleep(50 * time.Millisecond)
	if got := probed.Load(); got != 1 {
		t.Errorf("probe ran %d times, want 1", got)
	}
}

func TestProber_FailureRetriedOnNextSpawn(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	var probed atomic.Int32
	prober := NewProber(bus, store, gateLookup, testLogger())
	defer prober.Close()
	prober.probe = func(ctx context.Context, input string) (string, error) {
		if probed.Add(1) == 1 {
			return "", errors.New("connection refused")
		}
		return "1280x720", nil
	}

	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 1, Timestamp: events.Now()})
	waitForState(t, store, "gate", StateOnline)

	// Wait for the failed probe to finish so the retry is not deduped.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		prober.mu.Lock()
		busy := prober.inflight["gate"]
		prober.mu.Unlock()
		if probed.Load() >= 1 && !busy {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if info, _ := store.Get("gate"); info.Resolution != "" {
		t.Errorf("failed probe set resolution %q", info.Resolution)
	}

	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 2, Timestamp: events.Now()})
	waitForResolution(t, store, "gate", "1280x720")
}

func TestProber_UnknownCameraSkipped(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	var probed atomic.Int32
	prober := NewProber(bus, store, gateLookup, testLogger())
	defer prober.Close()
	prober.probe = func(ctx context.Context, input string) (string, error) {
		probed.Add(1)
		return "1920x1080", nil
	}

	bus.Publish(events.WorkerSpawnedEvent{Camera: "drive", Output: "drive", PID: 1, Timestamp: events.Now()})
	waitForState(t, store, "drive", StateOnline)
	if got := probed.Load(); got != 0 {
		t.Errorf("probe ran %d times for an unknown camera", got)
	}
}
