// MTTR tracking via a hysteresis state machine over the stability signal
package recovery

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Episode is one recovery window: from the stability signal crossing below
// the low threshold until it crosses back above the high threshold.
type Episode struct {
	ID       string        `json:"id"`
	Cause    string        `json:"cause"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// Tracker converts a stability signal into recovery episodes using asymmetric
// enter/exit thresholds to avoid chatter. Transitions are monotonic: the state
// only changes when the relevant threshold is crossed.
type Tracker struct {
	mu sync.Mutex

	lowThreshold  float64
	highThreshold float64
	windowSize    int

	recovering bool
	enteredAt  time.Time
	cause      string

	durations []time.Duration
	episodes  []Episode

	now func() time.Time
}

// NewTracker builds a tracker entering RECOVERING below low and exiting above
// high, keeping the last windowSize completed episode durations.
func NewTracker(low, high float64, windowSize int) *Tracker {
	if high <= low {
		high = low + 0.3
	}
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Tracker{
		lowThreshold:  low,
		highThreshold: high,
		windowSize:    windowSize,
		now:           time.Now,
	}
}

// Observe feeds one stability sample. It returns the completed episode when
// this sample closes one, or nil.
func (t *Tracker) Observe(stability float64) *Episode {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.recovering {
		if stability < t.lowThreshold {
			t.enterLocked(now, "stability")
		}
		return nil
	}
	if stability > t.highThreshold {
		ep := t.exitLocked(now)
		return &ep
	}
	return nil
}

// ForceRecovering forces a transition to RECOVERING, used for external
// disturbance or attack-start events. A no-op while already recovering.
func (t *Tracker) ForceRecovering(cause string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recovering {
		return
	}
	t.enterLocked(t.now(), cause)
}

func (t *Tracker) enterLocked(now time.Time, cause string) {
	t.recovering = true
	t.enteredAt = now
	t.cause = cause
}

func (t *Tracker) exitLocked(now time.Time) Episode {
	ep := Episode{
		ID:       uuid.New().String(),
		Cause:    t.cause,
		Start:    t.enteredAt,
		End:      now,
		Duration: now.Sub(t.enteredAt),
	}
	if ep.Duration < 0 {
		ep.Duration = 0
	}
	t.recovering = false
	t.cause = ""

	t.durations = append(t.durations, ep.Duration)
	if len(t.durations) > t.windowSize {
		t.durations = t.durations[len(t.durations)-t.windowSize:]
	}
	t.episodes = append(t.episodes, ep)
	if len(t.episodes) > t.windowSize {
		t.episodes = t.episodes[len(t.episodes)-t.windowSize:]
	}
	return ep
}

// Recovering reports whether a recovery episode is open.
func (t *Tracker) Recovering() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recovering
}

// MTTR returns the mean of the episode durations in the window, or 0 when no
// episode has completed.
func (t *Tracker) MTTR() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.durations) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range t.durations {
		sum += d
	}
	return sum / time.Duration(len(t.durations))
}

// Episodes returns a copy of the completed episodes in the window.
func (t *Tracker) Episodes() []Episode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Episode, len(t.episodes))
	copy(out, t.episodes)
	return out
}

// Count returns the number of completed episodes in the window.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.durations)
}

// Reset discards all recorded episodes and closes any open one without
// recording it.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recovering = false
	t.cause = ""
	t.durations = nil
	t.episodes = nil
}
