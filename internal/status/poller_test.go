package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/akosev/camnode/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pathsHandler(items []pathInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v3/paths/list" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(pathList{Items: items})
	}
}

func onlineStore(t *testing.T, bus *events.Bus, camera, output string) *Store {
	t.Helper()
	store := NewStore(bus)
	bus.Publish(events.WorkerSpawnedEvent{Camera: camera, Output: output, PID: 1, Timestamp: events.Now()})
	waitForState(t, store, camera, StateOnline)
	return store
}

func TestPoller_FeedsReadiness(t *testing.T) {
	bus := events.New()
	store := onlineStore(t, bus, "gate", "gate")
	defer store.Close()

	srv := httptest.NewServer(pathsHandler([]pathInfo{
		{Name: "gate", Ready: true, BytesReceived: 1000},
		{Name: "unrelated", Ready: true, BytesReceived: 5},
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, time.Minute, store, testLogger())
	if err := p.poll(context.Background()); err != nil {
		t.Fatal(err)
	}

	info, _ := store.Get("gate")
	if !info.Outputs["gate"].Ready {
		t.Error("readiness not recorded")
	}
	if _, ok := store.Get("unrelated"); ok {
		t.Error("foreign path created a camera entry")
	}
}

func TestPoller_BitrateFromByteDeltas(t *testing.T) {
	bus := events.New()
	store := onlineStore(t, bus, "gate", "gate")
	defer store.Close()

	bytes := int64(0)
	srv := httptest.NewServer(func() http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(pathList{Items: []pathInfo{
				{Name: "gate", Ready: true, BytesReceived: bytes},
			}})
		}
	}())
	defer srv.Close()

	p := NewPoller(srv.URL, time.Minute, store, testLogger())

	// First poll has no previous sample, bitrate stays zero.
	if err := p.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	info, _ := store.Get("gate")
	if got := info.Outputs["gate"].BitrateKbps; got != 0 {
		t.Errorf("bitrate after first poll = %d, want 0", got)
	}

	bytes = 250000 // 2 Mbit
	time.Sleep(50 * time.Millisecond)
	if err := p.poll(context.Background()); err != nil {
		t.Fatal(err)
	}
	info, _ = store.Get("gate")
	if got := info.Outputs["gate"].BitrateKbps; got <= 0 {
		t.Errorf("bitrate after second poll = %d, want positive", got)
	}
}

func TestPoller_ServerErrors(t *testing.T) {
	bus := events.New()
	store := NewStore(bus)
	defer store.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPoller(srv.URL, time.Minute, store, testLogger())
	if err := p.poll(context.Background()); err == nil {
		t.Error("poll succeeded against failing server")
	}

	srv.Close()
	if err := p.poll(context.Background()); err == nil {
		t.Error("poll succeeded against dead server")
	}
}

func TestPoller_StartStop(t *testing.T) {
	bus := events.New()
	store := onlineStore(t, bus, "gate", "gate")
	defer store.Close()

	srv := httptest.NewServer(pathsHandler([]pathInfo{{Name: "gate", Ready: true}}))
	defer srv.Close()

	p := NewPoller(srv.URL, 20*time.Millisecond, store, testLogger())
	p.Start()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, _ := store.Get("gate"); info.Outputs["gate"].Ready {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	p.Stop()

	info, _ := store.Get("gate")
	if !info.Outputs["gate"].Ready {
		t.Error("poll loop never updated the store")
	}
}
