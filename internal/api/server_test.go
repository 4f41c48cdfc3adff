package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akosev/camnode/internal/events"
	"github.com/akosev/camnode/internal/status"
	"github.com/akosev/camnode/internal/supervisor"
)

type fakeSupervisor struct {
	mu        sync.Mutex
	restarted []string
	statuses  []supervisor.OutputStatus
}

func (f *fakeSupervisor) RestartCamera(name string) error {
	if name != "gate" {
		return fmt.Errorf("camera %q not found", name)
	}
	f.mu.Lock()
	f.restarted = append(f.restarted, name)
	f.mu.Unlock()
	return nil
}

func (f *fakeSupervisor) Status() []supervisor.OutputStatus {
	return f.statuses
}

func newTestStore(t *testing.T) *status.Store {
	t.Helper()
	bus := events.New()
	store := status.NewStore(bus)
	t.Cleanup(store.Close)

	bus.Publish(events.WorkerSpawnedEvent{Camera: "gate", Output: "gate", PID: 9, Timestamp: events.Now()})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, ok := store.Get("gate"); ok && info.State == status.StateOnline {
			return store
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("status store never saw the spawn event")
	return nil
}

func newTestServer(t *testing.T, opts *Options) *httptest.Server {
	t.Helper()
	if opts.Supervisor == nil {
		opts.Supervisor = &fakeSupervisor{}
	}
	if opts.Status == nil {
		opts.Status = newTestStore(t)
	}
	srv := httptest.NewServer(NewServer(opts).GetMux())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &Options{})

	resp := get(t, srv.URL+"/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestHealthzProbe(t *testing.T) {
	srv := newTestServer(t, &Options{AuthUsername: "op", AuthPassword: "secret"})

	resp := get(t, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200 without credentials", resp.StatusCode)
	}
}

func TestVersionEndpoint(t *testing.T) {
	srv := newTestServer(t, &Options{})

	resp := get(t, srv.URL+"/api/version")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("version status = %d", resp.StatusCode)
	}

	var body struct {
		Version   string `json:"version"`
		GoVersion string `json:"go_version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Version == "" || body.GoVersion == "" {
		t.Errorf("incomplete version payload: %+v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	sup := &fakeSupervisor{statuses: []supervisor.OutputStatus{
		{
			Camera:      "gate",
			Output:      "gate",
			Destination: "rtsp://mediamtx:8554/gate",
			Status:      supervisor.StatusRunning,
			PID:         9,
		},
	}}
	srv := newTestServer(t, &Options{Supervisor: sup})

	resp := get(t, srv.URL+"/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var body StatusData
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Cameras["gate"].State != status.StateOnline {
		t.Errorf("camera state = %q, want online", body.Cameras["gate"].State)
	}
	if len(body.Workers) != 1 || body.Workers[0].Status != supervisor.StatusRunning {
		t.Errorf("workers = %+v", body.Workers)
	}
}

func TestCameraStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, &Options{})

	resp := get(t, srv.URL+"/api/status/gate")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	resp = get(t, srv.URL+"/api/status/unknown")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown camera status = %d, want 404", resp.StatusCode)
	}
}

func TestRestartEndpoint(t *testing.T) {
	sup := &fakeSupervisor{}
	srv := newTestServer(t, &Options{Supervisor: sup})

	resp, err := http.Post(srv.URL+"/api/restart/gate", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restart status = %d", resp.StatusCode)
	}
	if len(sup.restarted) != 1 || sup.restarted[0] != "gate" {
		t.Errorf("restarted = %v", sup.restarted)
	}

	resp, err = http.Post(srv.URL+"/api/restart/unknown", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown camera restart = %d, want 404", resp.StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	srv := newTestServer(t, &Options{AuthUsername: "op", AuthPassword: "secret"})

	// Health stays open.
	if resp := get(t, srv.URL+"/api/health"); resp.StatusCode != http.StatusOK {
		t.Errorf("health with auth enabled = %d", resp.StatusCode)
	}

	// Status requires credentials.
	if resp := get(t, srv.URL+"/api/status"); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("op:wrong")))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad credentials = %d, want 401", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/status", nil)
	req.SetBasicAuth("op", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}
}

func TestPrometheusMounted(t *testing.T) {
	srv := newTestServer(t, &Options{
		PrometheusHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "# HELP camnode_workers_running Number of worker processes currently running.")
		}),
	})

	resp := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	buf := make([]byte, 256)
	n, _ := resp.Body.Read(buf)
	if !strings.Contains(string(buf[:n]), "camnode_workers_running") {
		t.Error("metrics handler not mounted")
	}
}
