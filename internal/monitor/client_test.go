package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	taskprogress "github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSnapshotClient(t *testing.T) {
	client := NewSnapshotClient("http://localhost:9191")
	assert.Equal(t, "http://localhost:9191", client.baseURL)
	assert.NotNil(t, client.client)
}

func TestSnapshotClient_Snapshot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/tasks/task-1":
			_ = json.NewEncoder(w).Encode(taskprogress.Snapshot{TaskID: "task-1", Percentage: 0.3, Message: "working"})
		case "/v1/tasks/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewSnapshotClient(server.URL)
	ctx := context.Background()

	snap, err := client.Snapshot(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, 0.3, snap.Percentage)
	assert.Equal(t, "working", snap.Message)

	_, err = client.Snapshot(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)

	_, err = client.Snapshot(ctx, "broken")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestPollSource_EmitsChanges(t *testing.T) {
	var calls atomic.Int32
	snaps := []taskprogress.Snapshot{
		{TaskID: "t", Percentage: 0.05, Message: "a", Published: 1},
		{TaskID: "t", Percentage: 0.05, Message: "a", Published: 1},
		{TaskID: "t", Percentage: 1, Message: taskprogress.FinalMessage, Final: true, Published: 2},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n == 0 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if n > len(snaps) {
			n = len(snaps)
		}
		_ = json.NewEncoder(w).Encode(snaps[n-1])
	}))
	defer server.Close()

	src := NewPollSource(NewSnapshotClient(server.URL), "t", 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.05, u.Percentage)
	assert.False(t, u.IsFinal)

	u, err = src.Next(ctx)
	require.NoError(t, err)
	assert.True(t, u.IsFinal, "unchanged snapshot is skipped")
	assert.Equal(t, int32(4), calls.Load())
}

func TestPollSource_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	src := NewPollSource(NewSnapshotClient(server.URL), "t", 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
