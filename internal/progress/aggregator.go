package progress

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"go.uber.org/zap"
)

// FinalMessage is the message carried by every final update.
const FinalMessage = "finished"

// Aggregator owns the progress state of every task it has seen.
type Aggregator struct {
	pub       Publisher
	cfg       config.ProgressConfig
	heartbeat config.HeartbeatConfig
	logger    *Logger
	metrics   *Metrics
	now       func() time.Time

	tasks      sync.Map // task id -> *taskState
	tombstones sync.Map // task id -> time.Time expiry

	timersMu sync.Mutex
	timers   map[string]*time.Timer

	// Heartbeats run under baseCtx so Close can stop them all.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	closed     atomic.Bool
}

// taskState is the whole per-task state, guarded by mu.
type taskState struct {
	mu sync.Mutex

	id              string
	maxSeen         float64
	lastMessage     string
	lastKey         string
	lastPublishedAt time.Time
	recent          map[string]time.Time
	published       int
	final           bool
	finalPayload    any
	hb              *heartbeat
	hbStopped       bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Aggregator) {
		a.logger = NewLogger(l)
	}
}

// WithMetrics sets custom metrics.
func WithMetrics(m *Metrics) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// WithClock replaces time.Now for rate limiting and update timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// New creates an aggregator publishing through pub. A nil cfg uses defaults.
func New(pub Publisher, cfg *config.Config, opts ...Option) *Aggregator {
	if cfg == nil {
		cfg = config.Default()
	}
	metrics, _ := NewMetrics(nil)

	a := &Aggregator{
		pub:       pub,
		cfg:       cfg.Progress,
		heartbeat: cfg.Heartbeat,
		logger:    NewLogger(nil),
		metrics:   metrics,
		now:       time.Now,
		timers:    make(map[string]*time.Timer),
	}
	a.baseCtx, a.baseCancel = context.WithCancel(context.Background())

	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Report records a progress report and publishes it unless it is rate limited.
//
// Invalid literal percentages are rejected with ErrInvalidPercentage and leave
// the state untouched. Reports for finalized tasks are ignored.
func (a *Aggregator) Report(ctx context.Context, taskID string, pct Percentage, message string, payload any) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}
	if !pct.valid() {
		a.logger.InvalidPercentage(ctx, taskID, pct.value)
		a.metrics.RecordSuppressed(ctx, "invalid")
		return fmt.Errorf("%w: got %v", ErrInvalidPercentage, pct.value)
	}
	if a.closed.Load() {
		return ErrClosed
	}

	st, ok := a.acquire(taskID)
	if !ok {
		a.logger.AfterFinal(ctx, taskID)
		a.metrics.RecordSuppressed(ctx, "final")
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.final {
		a.logger.AfterFinal(ctx, taskID)
		a.metrics.RecordSuppressed(ctx, "final")
		return nil
	}

	value := a.next(st, pct)
	st.maxSeen = value

	now := a.now()
	key := dedupKey(value, message)
	if reason, suppressed := a.suppressed(st, key, now); suppressed {
		a.logger.Suppressed(ctx, taskID, value, reason)
		a.metrics.RecordSuppressed(ctx, reason)
		return nil
	}

	a.publish(ctx, st, Update{
		TaskID:     taskID,
		Percentage: value,
		Message:    message,
		Payload:    payload,
		Timestamp:  now,
	})

	st.lastKey = key
	st.lastMessage = message
	st.lastPublishedAt = now
	st.recent[key] = now
	a.pruneRecent(st, now)

	// An explicit StopHeartbeat is not undone by auto-start.
	if st.hb == nil && !st.hbStopped && a.heartbeat.AutoStartEnabled() {
		a.armHeartbeat(st)
	}
	return nil
}

// ReportFinal publishes the terminal update for a task and stops its heartbeat.
// Calls after the first are no-ops. The publish is not bound to ctx's
// cancellation so the final update goes out even when the caller is shutting down.
func (a *Aggregator) ReportFinal(ctx context.Context, taskID string, payload any) error {
	if taskID == "" {
		return ErrEmptyTaskID
	}

	st, ok := a.acquire(taskID)
	if !ok {
		a.logger.DuplicateFinal(ctx, taskID)
		return nil
	}

	st.mu.Lock()
	if st.final {
		st.mu.Unlock()
		a.logger.DuplicateFinal(ctx, taskID)
		return nil
	}

	st.final = true
	st.maxSeen = 1
	now := a.now()
	a.publish(context.WithoutCancel(ctx), st, Update{
		TaskID:     taskID,
		Percentage: 1,
		Message:    FinalMessage,
		Payload:    payload,
		IsFinal:    true,
		Timestamp:  now,
	})
	st.lastMessage = FinalMessage
	st.finalPayload = payload
	st.lastPublishedAt = now
	st.recent = nil

	hb := st.hb
	st.hb = nil
	st.mu.Unlock()

	// Stopped outside the lock: a tick blocked on st.mu must be able to
	// observe final and return before we wait for the goroutine.
	if hb != nil {
		hb.stop()
		a.metrics.RecordHeartbeatStopped(ctx)
		a.logger.HeartbeatStopped(ctx, taskID, "final")
	}

	a.scheduleCleanup(taskID)
	return nil
}

// Snapshot returns a copy of the task's state. Tasks that were finalized and
// garbage collected are reported as final while their tombstone lives; their
// final payload is gone by then.
func (a *Aggregator) Snapshot(taskID string) (Snapshot, bool) {
	v, ok := a.tasks.Load(taskID)
	if !ok {
		if a.tombstoned(taskID) {
			return Snapshot{TaskID: taskID, Percentage: 1, Message: FinalMessage, Final: true}, true
		}
		return Snapshot{}, false
	}

	st := v.(*taskState)
	st.mu.Lock()
	defer st.mu.Unlock()
	return Snapshot{
		TaskID:          st.id,
		Percentage:      st.maxSeen,
		Message:         st.lastMessage,
		Final:           st.final,
		Payload:         st.finalPayload,
		HeartbeatActive: st.hb != nil,
		Published:       st.published,
		LastPublishedAt: st.lastPublishedAt,
	}, true
}

// Close stops every heartbeat and pending cleanup timer. ReportFinal keeps
// working after Close; Report and StartHeartbeat return ErrClosed.
func (a *Aggregator) Close(ctx context.Context) error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}

	var stopping []*heartbeat
	a.tasks.Range(func(_, v any) bool {
		st := v.(*taskState)
		st.mu.Lock()
		if st.hb != nil {
			stopping = append(stopping, st.hb)
			st.hb = nil
		}
		st.mu.Unlock()
		return true
	})
	a.baseCancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, hb := range stopping {
			hb.stop()
			a.metrics.RecordHeartbeatStopped(ctx)
		}
	}()

	a.timersMu.Lock()
	for id, t := range a.timers {
		t.Stop()
		delete(a.timers, id)
	}
	a.timersMu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// next computes the value to publish. Callers hold st.mu.
func (a *Aggregator) next(st *taskState, pct Percentage) float64 {
	if v, ok := pct.Value(); ok {
		return round6(math.Max(v, st.maxSeen))
	}
	if st.maxSeen < a.cfg.Floor {
		return round6(a.cfg.Floor)
	}
	next := math.Min(st.maxSeen+a.cfg.Step, a.cfg.SoftCap)
	return round6(math.Max(next, st.maxSeen))
}

// suppressed applies dedup and the per-pair rate limit. Callers hold st.mu.
func (a *Aggregator) suppressed(st *taskState, key string, now time.Time) (string, bool) {
	if key == st.lastKey {
		return "duplicate", true
	}
	if at, ok := st.recent[key]; ok && now.Sub(at) < a.cfg.RateLimit() {
		return "rate_limited", true
	}
	return "", false
}

func (a *Aggregator) pruneRecent(st *taskState, now time.Time) {
	window := a.cfg.RateLimit()
	for k, at := range st.recent {
		if now.Sub(at) >= window {
			delete(st.recent, k)
		}
	}
}

// publish sends u and records the outcome. Callers hold st.mu.
func (a *Aggregator) publish(ctx context.Context, st *taskState, u Update) {
	st.published++
	if a.pub == nil {
		a.metrics.RecordPublished(ctx, u.Kind())
		return
	}
	if err := a.pub.Publish(ctx, u); err != nil {
		a.logger.PublishFailed(ctx, u, err)
		a.metrics.RecordPublishFailure(ctx, u.Kind())
		return
	}
	a.metrics.RecordPublished(ctx, u.Kind())
	a.logger.Published(ctx, u)
}

// acquire returns the live state for taskID, creating it if needed. It
// returns false when the task was finalized and garbage collected.
func (a *Aggregator) acquire(taskID string) (*taskState, bool) {
	if a.tombstoned(taskID) {
		return nil, false
	}
	v, ok := a.tasks.Load(taskID)
	if !ok {
		v, _ = a.tasks.LoadOrStore(taskID, &taskState{id: taskID, recent: make(map[string]time.Time)})
	}
	st := v.(*taskState)

	// Cleanup stores the tombstone before deleting the state, so a state
	// created concurrently with cleanup is caught here.
	if a.tombstoned(taskID) {
		a.tasks.CompareAndDelete(taskID, st)
		return nil, false
	}
	return st, true
}

func (a *Aggregator) tombstoned(taskID string) bool {
	v, ok := a.tombstones.Load(taskID)
	if !ok {
		return false
	}
	if a.now().After(v.(time.Time)) {
		a.tombstones.CompareAndDelete(taskID, v)
		return false
	}
	return true
}

// scheduleCleanup drops the final state after the grace period and leaves a
// tombstone behind.
func (a *Aggregator) scheduleCleanup(taskID string) {
	if a.closed.Load() {
		return
	}

	a.timersMu.Lock()
	defer a.timersMu.Unlock()
	if _, exists := a.timers[taskID]; exists {
		return
	}
	a.timers[taskID] = time.AfterFunc(a.cfg.FinalGrace(), func() {
		a.timersMu.Lock()
		delete(a.timers, taskID)
		a.timersMu.Unlock()
		a.collect(taskID)
	})
}

func (a *Aggregator) collect(taskID string) {
	now := a.now()
	a.tombstones.Store(taskID, now.Add(a.cfg.TombstoneTTL()))
	a.tasks.Delete(taskID)

	a.tombstones.Range(func(k, v any) bool {
		if now.After(v.(time.Time)) {
			a.tombstones.CompareAndDelete(k, v)
		}
		return true
	})
}

// dedupKey hashes the percentage rounded to two decimals together with the message.
func dedupKey(pct float64, message string) string {
	sum := sha256.Sum256([]byte(strconv.FormatFloat(math.Round(pct*100)/100, 'f', 2, 64) + "\x00" + message))
	return hex.EncodeToString(sum[:8])
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
