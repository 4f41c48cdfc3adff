package status

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// pathInfo is the subset of the restream server's path description we
// care about (MediaMTX v3 API).
type pathInfo struct {
	Name          string `json:"name"`
	Ready         bool   `json:"ready"`
	BytesReceived int64  `json:"bytesReceived"`
}

type pathList struct {
	Items []pathInfo `json:"items"`
}

// Poller periodically queries the restream server's control API and
// feeds publish-side details (readiness, ingest bitrate) into the
// status store. Poll failures are logged and retried on the next tick;
// the supervisor does not depend on the poller.
type Poller struct {
	apiURL     string
	interval   time.Duration
	httpClient *http.Client
	store      *Store
	logger     *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// bytesReceived per path from the previous poll, for bitrate deltas.
	lastBytes map[string]int64
	lastPoll  time.Time
}

// NewPoller creates a poller against the control API base URL,
// e.g. "http://localhost:9997".
func NewPoller(apiURL string, interval time.Duration, store *Store, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		apiURL:     apiURL,
		interval:   interval,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		store:      store,
		logger:     logger,
		lastBytes:  make(map[string]int64),
	}
}

// Start launches the poll loop.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := p.poll(ctx); err != nil {
					p.logger.Warn("restream API poll failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the poll loop and waits for it to finish.
func (p *Poller) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Poller) poll(ctx context.Context) error {
	list, err := p.listPaths(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	elapsed := now.Sub(p.lastPoll)
	seen := make(map[string]int64, len(list.Items))

	for _, item := range list.Items {
		seen[item.Name] = item.BytesReceived

		kbps := 0
		if prev, ok := p.lastBytes[item.Name]; ok && elapsed > 0 && item.BytesReceived >= prev {
			kbps = int(float64(item.BytesReceived-prev) * 8 / 1000 / elapsed.Seconds())
		}
		p.store.SetPublishInfo(item.Name, item.Ready, kbps)
	}

	p.lastBytes = seen
	p.lastPoll = now
	return nil
}

func (p *Poller) listPaths(ctx context.Context) (*pathList, error) {
	url := p.apiURL + "/v3/paths/list"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("restream API returned status %d", resp.StatusCode)
	}

	var list pathList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode path list: %w", err)
	}
	return &list, nil
}
