package progress

import (
	"context"
	"errors"
	"sync"
)

// Recorder is an in-memory Publisher for tests.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
	failN   int
	err     error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailNext makes the next n publishes return err (or a generic error).
func (r *Recorder) FailNext(n int, err error) {
	if err == nil {
		err = errors.New("publish failed")
	}
	r.mu.Lock()
	r.failN, r.err = n, err
	r.mu.Unlock()
}

// Publish records u.
func (r *Recorder) Publish(_ context.Context, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failN > 0 {
		r.failN--
		return r.err
	}
	r.updates = append(r.updates, u)
	return nil
}

// Updates returns a copy of all recorded updates.
func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}

// ForTask returns the recorded updates of one task.
func (r *Recorder) ForTask(taskID string) []Update {
	var out []Update
	for _, u := range r.Updates() {
		if u.TaskID == taskID {
			out = append(out, u)
		}
	}
	return out
}

// Percentages returns the published percentages of one task in order.
func (r *Recorder) Percentages(taskID string) []float64 {
	var out []float64
	for _, u := range r.ForTask(taskID) {
		out = append(out, u.Percentage)
	}
	return out
}

// Finals returns the final updates of one task.
func (r *Recorder) Finals(taskID string) []Update {
	var out []Update
	for _, u := range r.ForTask(taskID) {
		if u.IsFinal {
			out = append(out, u)
		}
	}
	return out
}

// Heartbeats returns the heartbeat updates of one task.
func (r *Recorder) Heartbeats(taskID string) []Update {
	var out []Update
	for _, u := range r.ForTask(taskID) {
		if u.Heartbeat {
			out = append(out, u)
		}
	}
	return out
}
