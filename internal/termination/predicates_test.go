package termination

import (
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/taskrelay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func msg(source, content string) Message {
	return Message{Source: source, Content: content}
}

func TestScorePredicate_Boundary(t *testing.T) {
	p := NewScorePredicate(90, "reviewer")

	assert.False(t, p.ShouldStop([]Message{msg("reviewer", `{"score": 90}`)}), "score equal to threshold must not fire")
	assert.True(t, p.ShouldStop([]Message{msg("reviewer", `{"score": 91}`)}))
	assert.Equal(t, ReasonScore, p.Reason())
}

func TestScorePredicate_OnlyLastMessage(t *testing.T) {
	p := NewScorePredicate(90, "reviewer")
	history := []Message{
		msg("reviewer", `{"score": 99}`),
		msg("coder", "revised the patch"),
	}
	assert.False(t, p.ShouldStop(history))
}

func TestScorePredicate_SourceFilter(t *testing.T) {
	p := NewScorePredicate(90, "Reviewer")

	assert.True(t, p.ShouldStop([]Message{msg("reviewer", "score: 95")}), "source match is case-insensitive")
	assert.False(t, p.ShouldStop([]Message{msg("coder", "score: 95")}))

	anySource := NewScorePredicate(90, "")
	assert.True(t, anySource.ShouldStop([]Message{msg("coder", "score: 95")}))
}

func TestScorePredicate_EmptyAndUnparsable(t *testing.T) {
	p := NewScorePredicate(90, "reviewer")
	assert.False(t, p.ShouldStop(nil))
	assert.False(t, p.ShouldStop([]Message{msg("reviewer", `{"score": }`)}))
}

func TestTimeoutPredicate(t *testing.T) {
	clock := newFakeClock()
	p := NewTimeoutPredicate(5*time.Second, WithClock(clock.Now))

	assert.False(t, p.ShouldStop(nil))
	clock.Advance(5 * time.Second)
	assert.False(t, p.ShouldStop(nil), "fires only once elapsed exceeds the limit")
	clock.Advance(time.Millisecond)
	assert.True(t, p.ShouldStop(nil))
	assert.Equal(t, ReasonTimeout, p.Reason())
}

func TestMaxMessagesPredicate(t *testing.T) {
	p := NewMaxMessagesPredicate(3)
	assert.False(t, p.ShouldStop(make([]Message, 2)))
	assert.True(t, p.ShouldStop(make([]Message, 3)))
	assert.Equal(t, ReasonMaxMessages, p.Reason())
}

func TestCompose_RecordsFirstFiring(t *testing.T) {
	clock := newFakeClock()
	c := ComposeWithClock(clock.Now,
		NewScorePredicate(90, "reviewer"),
		NewTimeoutPredicate(5*time.Second, WithClock(clock.Now)),
		NewMaxMessagesPredicate(1000),
	)

	assert.Equal(t, NotFired(), c.Outcome())
	assert.Equal(t, ReasonNone, c.Reason())

	history := []Message{msg("coder", "draft"), msg("reviewer", `{"score": 40}`)}
	assert.False(t, c.ShouldStop(history))

	clock.Advance(2 * time.Second)
	history = append(history, msg("reviewer", `{"score": 97}`))
	require.True(t, c.ShouldStop(history))

	out := c.Outcome()
	assert.True(t, out.Fired)
	assert.Equal(t, ReasonScore, out.Reason)
	assert.Equal(t, 2, out.TriggeringMessageIndex)
	assert.Equal(t, 2*time.Second, out.Elapsed)
}

func TestCompose_OutcomeImmutable(t *testing.T) {
	clock := newFakeClock()
	c := ComposeWithClock(clock.Now,
		NewScorePredicate(90, ""),
		NewMaxMessagesPredicate(2),
	)

	require.True(t, c.ShouldStop([]Message{msg("a", "score: 95")}))
	first := c.Outcome()

	clock.Advance(time.Minute)
	assert.True(t, c.ShouldStop([]Message{msg("a", "x"), msg("b", "y")}))
	assert.Equal(t, first, c.Outcome())
	assert.Equal(t, ReasonScore, c.Reason())
}

func TestCompose_ShortCircuitOrder(t *testing.T) {
	c := Compose(NewMaxMessagesPredicate(1), NewScorePredicate(10, ""))
	require.True(t, c.ShouldStop([]Message{msg("a", "score: 50")}))
	assert.Equal(t, ReasonMaxMessages, c.Outcome().Reason, "first predicate in argument order wins")
}

func TestCompose_SkipsNil(t *testing.T) {
	c := Compose(nil, NewMaxMessagesPredicate(1))
	assert.True(t, c.ShouldStop([]Message{msg("a", "b")}))
}

// A loop whose reviewer never emits a parsable score stops on the timeout
// backstop well before the message ceiling.
func TestCompose_TimeoutWinsWithoutScore(t *testing.T) {
	cfg := config.Default().Termination
	cfg.LoopTimeoutSeconds = 5

	clock := newFakeClock()
	c := FromConfig(cfg, WithClock(clock.Now))

	var history []Message
	for i := 0; i < 50; i++ {
		clock.Advance(200 * time.Millisecond)
		history = append(history, msg("reviewer", "needs more work, no verdict yet"))
		if c.ShouldStop(history) {
			break
		}
	}

	out := c.Outcome()
	require.True(t, out.Fired)
	assert.Equal(t, ReasonTimeout, out.Reason)
	assert.Less(t, len(history), cfg.MaxMessages)
	assert.InDelta(t, 5.2, out.Elapsed.Seconds(), 0.001)
}

func TestCompose_ConcurrentReads(t *testing.T) {
	c := Compose(NewMaxMessagesPredicate(5))
	history := make([]Message, 0, 10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.Outcome()
			}
		}()
	}
	for i := 0; i < 10; i++ {
		history = append(history, msg("a", "b"))
		c.ShouldStop(history)
	}
	wg.Wait()

	assert.Equal(t, 4, c.Outcome().TriggeringMessageIndex)
}
