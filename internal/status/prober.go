package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/akosev/camnode/internal/events"
)

// SourceLookup resolves a camera name to its input address.
type SourceLookup func(camera string) (string, bool)

// Prober fills in the source resolution for cameras as their workers
// come up, using ffprobe against the camera feed. Probing is best
// effort: a failed probe is logged and retried on the camera's next
// spawn, and the resolution stays empty in the meantime.
type Prober struct {
	store  *Store
	logger *slog.Logger
	lookup SourceLookup

	probe   func(ctx context.Context, input string) (string, error)
	timeout time.Duration

	mu       sync.Mutex
	inflight map[string]bool

	unsub func()
	wg    sync.WaitGroup
}

// NewProber creates a prober driven by worker spawn events.
func NewProber(bus *events.Bus, store *Store, lookup SourceLookup, logger *slog.Logger) *Prober {
	p := &Prober{
		store:    store,
		logger:   logger,
		lookup:   lookup,
		probe:    ffprobeResolution,
		timeout:  time.Minute,
		inflight: make(map[string]bool),
	}
	p.unsub = bus.Subscribe(func(e events.WorkerSpawnedEvent) {
		p.onSpawn(e.Camera)
	})
	return p
}

// Close unsubscribes from the bus and waits for in-flight probes.
func (p *Prober) Close() {
	p.unsub()
	p.wg.Wait()
}

func (p *Prober) onSpawn(camera string) {
	if info, ok := p.store.Get(camera); ok && info.Resolution != "" {
		return
	}
	input, ok := p.lookup(camera)
	if !ok {
		return
	}

	// One probe per camera at a time; split cameras spawn several
	// workers for the same source.
	p.mu.Lock()
	if p.inflight[camera] {
		p.mu.Unlock()
		return
	}
	p.inflight[camera] = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			delete(p.inflight, camera)
			p.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		resolution, err := p.probe(ctx, input)
		if err != nil {
			p.logger.Warn("Stream resolution probe failed", "camera", camera, "error", err)
			return
		}
		p.store.SetResolution(camera, resolution)
		p.logger.Info("Detected stream resolution", "camera", camera, "resolution", resolution)
	}()
}

// ffprobeResolution asks ffprobe for the stream layout and returns the
// "WxH" of the first video stream.
func ffprobeResolution(ctx context.Context, input string) (string, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-rtsp_transport", "tcp",
		"-v", "quiet",
		"-print_format", "json",
		"-show_streams",
		input,
	)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("ffprobe: %w", err)
	}

	var doc struct {
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &doc); err != nil {
		return "", fmt.Errorf("decode ffprobe output: %w", err)
	}

	for _, stream := range doc.Streams {
		if stream.CodecType == "video" && stream.Width > 0 && stream.Height > 0 {
			return fmt.Sprintf("%dx%d", stream.Width, stream.Height), nil
		}
	}
	return "", fmt.Errorf("no video stream reported")
}
