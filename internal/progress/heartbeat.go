package progress

import (
	"context"
	"time"
)

// heartbeat is the handle of one running heartbeat goroutine.
type heartbeat struct {
	cancel   context.CancelFunc
	done     chan struct{}
	interval time.Duration
}

// stop cancels the goroutine and waits for it to exit.
func (h *heartbeat) stop() {
	h.cancel()
	<-h.done
}

// StartHeartbeat arms a repeating republish of the task's last status.
// initialMessage is used until a report has been published. Starting an
// already running heartbeat, or one for a finalized task, is a no-op.
// It re-enables auto-start after a StopHeartbeat.
func (a *Aggregator) StartHeartbeat(taskID, initialMessage string) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}
	if a.closed.Load() {
		return ErrClosed
	}

	st, ok := a.acquire(taskID)
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.final || st.hb != nil {
		return nil
	}
	st.hbStopped = false
	if st.lastMessage == "" {
		st.lastMessage = initialMessage
	}
	a.armHeartbeat(st)
	return nil
}

// StopHeartbeat cancels the task's heartbeat and blocks until it has exited.
// No heartbeat for the task is published after StopHeartbeat returns, and
// later reports do not auto-start a new one.
func (a *Aggregator) StopHeartbeat(taskID string) {
	v, ok := a.tasks.Load(taskID)
	if !ok {
		return
	}
	st := v.(*taskState)

	st.mu.Lock()
	hb := st.hb
	st.hb = nil
	st.hbStopped = true
	st.mu.Unlock()

	if hb != nil {
		hb.stop()
		a.metrics.RecordHeartbeatStopped(a.baseCtx)
		a.logger.HeartbeatStopped(a.baseCtx, taskID, "stopped")
	}
}

// armHeartbeat starts the heartbeat goroutine. Callers hold st.mu.
func (a *Aggregator) armHeartbeat(st *taskState) {
	if a.closed.Load() || a.heartbeat.Interval() <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(a.baseCtx)
	hb := &heartbeat{cancel: cancel, done: make(chan struct{}), interval: a.heartbeat.Interval()}
	st.hb = hb

	a.metrics.RecordHeartbeatStarted(ctx)
	a.logger.HeartbeatStarted(ctx, st.id, hb.interval)
	go a.runHeartbeat(ctx, st, hb)
}

func (a *Aggregator) runHeartbeat(ctx context.Context, st *taskState, hb *heartbeat) {
	defer close(hb.done)

	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.beat(ctx, st, hb) {
				return
			}
		}
	}
}

// beat republishes the current status. It returns false once the heartbeat
// has been detached from the task, which is how a tick racing with
// finalization learns it must not publish.
func (a *Aggregator) beat(ctx context.Context, st *taskState, hb *heartbeat) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.final || st.hb != hb || ctx.Err() != nil {
		return false
	}
	a.publish(ctx, st, Update{
		TaskID:     st.id,
		Percentage: st.maxSeen,
		Message:    st.lastMessage,
		Heartbeat:  true,
		Timestamp:  a.now(),
	})
	return true
}
