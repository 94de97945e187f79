package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/progress"
)

// ErrTaskNotFound is returned when the relay does not know the task.
var ErrTaskNotFound = errors.New("task not found")

// SnapshotClient reads task snapshots from the relay HTTP API.
type SnapshotClient struct {
	baseURL string
	client  *http.Client
}

// NewSnapshotClient creates a new snapshot client
func NewSnapshotClient(baseURL string) *SnapshotClient {
	return &SnapshotClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 2 * time.Second,
		},
	}
}

// Snapshot fetches GET /v1/tasks/{taskID}.
func (c *SnapshotClient) Snapshot(ctx context.Context, taskID string) (progress.Snapshot, error) {
	u, err := url.Parse(c.baseURL + "/v1/tasks/" + url.PathEscape(taskID))
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("invalid base URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return progress.Snapshot{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	default:
		return progress.Snapshot{}, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var snap progress.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return progress.Snapshot{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return snap, nil
}

// PollSource turns snapshot polling into an update stream, for relays
// reachable over HTTP only. A task unknown to the relay is retried until it
// appears.
type PollSource struct {
	client   *SnapshotClient
	taskID   string
	interval time.Duration

	last      progress.Snapshot
	seen      bool
	lastFetch time.Time
}

// NewPollSource polls client every interval.
func NewPollSource(client *SnapshotClient, taskID string, interval time.Duration) *PollSource {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollSource{client: client, taskID: taskID, interval: interval}
}

// Next blocks until the snapshot changes and returns it as an update.
func (p *PollSource) Next(ctx context.Context) (progress.Update, error) {
	for {
		if wait := p.interval - time.Since(p.lastFetch); !p.lastFetch.IsZero() && wait > 0 {
			select {
			case <-ctx.Done():
				return progress.Update{}, ctx.Err()
			case <-time.After(wait):
			}
		}
		p.lastFetch = time.Now()

		snap, err := p.client.Snapshot(ctx, p.taskID)
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return progress.Update{}, err
		}
		if p.seen && !changed(p.last, snap) {
			continue
		}
		p.last, p.seen = snap, true

		return progress.Update{
			TaskID:     snap.TaskID,
			Percentage: snap.Percentage,
			Message:    snap.Message,
			Payload:    snap.Payload,
			IsFinal:    snap.Final,
			Timestamp:  snap.LastPublishedAt,
		}, nil
	}
}

func changed(a, b progress.Snapshot) bool {
	return a.Percentage != b.Percentage || a.Message != b.Message || a.Final != b.Final || a.Published != b.Published
}
