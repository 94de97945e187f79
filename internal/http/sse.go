package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/progress"
	"github.com/fyrsmithlabs/taskrelay/internal/publish"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// handleEvents streams a task's updates via Server-Sent Events.
//
// The handler subscribes to the task's NATS subjects and forwards every
// update until the final one, or until the client disconnects. A task that
// is already final answers with a single final event built from its snapshot,
// which carries the final payload until the task is garbage collected.
//
// SSE Event Types:
//   - progress: Substantive progress update
//   - heartbeat: Liveness republish of the last status
//   - final: Terminal update; the stream closes after it
//
// Example:
//
//	GET /v1/tasks/{task_id}/events
//
//	event: progress
//	data: {"task_id":"t-1","percentage":0.05,"message":"writer drafted a plan",...}
//
//	event: final
//	data: {"task_id":"t-1","percentage":1,"message":"finished","is_final":true,...}
func (s *Server) handleEvents(c echo.Context) error {
	taskID := c.Param("task_id")
	if s.deps.NATS == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream requires NATS")
	}

	sub, err := publish.Subscribe(s.deps.NATS, s.deps.SubjectPrefix, taskID)
	if errors.Is(err, publish.ErrInvalidTaskID) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Close()
	}()

	// Subscribe before checking the snapshot so a final published in
	// between is not missed.
	if err := s.deps.NATS.Flush(); err != nil {
		s.logger.Warn("nats flush failed", zap.Error(err))
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	if s.deps.Snapshots != nil {
		if snap, ok := s.deps.Snapshots.Snapshot(taskID); ok && snap.Final {
			return writeEvent(w, progress.KindFinal, progress.Update{
				TaskID:     snap.TaskID,
				Percentage: snap.Percentage,
				Message:    snap.Message,
				Payload:    snap.Payload,
				IsFinal:    true,
				Timestamp:  snap.LastPublishedAt,
			})
		}
	}
	w.Flush()

	// Keepalive ticker to prevent proxy timeouts
	ticker := time.NewTicker(s.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-sub.Messages():
			u, err := publish.DecodeUpdate(msg.Data)
			if err != nil {
				s.logger.Warn("dropping undecodable update", zap.String("subject", msg.Subject), zap.Error(err))
				continue
			}
			if err := writeEvent(w, u.Kind(), u); err != nil {
				return nil
			}
			if u.IsFinal {
				return nil
			}

		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			w.Flush()

		case <-c.Request().Context().Done():
			// Client disconnected
			return nil
		}
	}
}

func writeEvent(w *echo.Response, event string, u progress.Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}
