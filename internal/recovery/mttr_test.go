package recovery

import (
	"testing"
	"time"
)

// fakeClock steps a tracker's notion of now manually.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration)   { c.t = c.t.Add(d) }
func newFakeClock() *fakeClock                 { return &fakeClock{t: time.Unix(1700000000, 0)} }
func withClock(tr *Tracker, c *fakeClock) *Tracker {
	tr.now = c.now
	return tr
}

func TestMTTREmptyIsZero(t *testing.T) {
	tr := NewTracker(0.5, 0.8, 100)
	if got := tr.MTTR(); got != 0 {
		t.Errorf("MTTR = %v, want 0 with no episodes", got)
	}
	if tr.Count() != 0 {
		t.Errorf("Count = %d, want 0", tr.Count())
	}
}

func TestMTTRIsWindowMean(t *testing.T) {
	clock := newFakeClock()
	tr := withClock(NewTracker(0.5, 0.8, 100), clock)

	for _, d := range []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second} {
		tr.Observe(0.2)
		clock.advance(d)
		if ep := tr.Observe(0.9); ep == nil {
			t.Fatal("expected completed episode")
		}
	}

	if got, want := tr.MTTR(), 4*time.Second; got != want {
		t.Errorf("MTTR = %v, want %v", got, want)
	}
	if tr.Count() != 3 {
		t.Errorf("Count = %d, want 3", tr.Count())
	}
}

func TestHysteresisSingleEpisode(t *testing.T) {
	clock := newFakeClock()
	tr := withClock(NewTracker(0.5, 0.8, 100), clock)

	// 0.9 → 0.2 → 0.9 must produce exactly one episode.
	if ep := tr.Observe(0.9); ep != nil {
		t.Fatal("stable sample opened an episode")
	}
	if ep := tr.Observe(0.2); ep != nil {
		t.Fatal("entry transition returned a completed episode")
	}
	if !tr.Recovering() {
		t.Fatal("not recovering after crossing low threshold")
	}

	// Mid-band samples cause no transitions in either direction.
	clock.advance(time.Second)
	if ep := tr.Observe(0.6); ep != nil || !tr.Recovering() {
		t.Fatal("mid-band sample closed the episode")
	}

	clock.advance(time.Second)
	ep := tr.Observe(0.9)
	if ep == nil {
		t.Fatal("exit transition returned nil")
	}
	if ep.Duration < 0 {
		t.Errorf("episode duration %v negative", ep.Duration)
	}
	if tr.Recovering() {
		t.Error("still recovering after exit")
	}
	if tr.Count() != 1 {
		t.Errorf("Count = %d, want exactly 1", tr.Count())
	}
}

func TestMidBandNeverEnters(t *testing.T) {
	tr := NewTracker(0.5, 0.8, 100)
	tr.Observe(0.6)
	tr.Observe(0.7)
	if tr.Recovering() {
		t.Error("mid-band samples opened an episode")
	}
}

func TestLinearRecoveryScenario(t *testing.T) {
	clock := newFakeClock()
	tr := withClock(NewTracker(0.5, 0.8, 100), clock)

	// Stability forced to 0.2 at t=0, rising linearly to 0.85 at t=12s,
	// sampled at 10Hz.
	const tick = 100 * time.Millisecond
	var ep *Episode
	for i := 0; i <= 120; i++ {
		ts := float64(i) * 0.1
		stability := 0.2 + (0.85-0.2)*ts/12
		if got := tr.Observe(stability); got != nil {
			ep = got
		}
		clock.advance(tick)
	}
	if ep == nil {
		t.Fatal("no recovery completed")
	}
	if tr.Count() != 1 {
		t.Fatalf("Count = %d, want 1", tr.Count())
	}
	// Crosses 0.8 at t ≈ 11.08s; allow one tick of slack.
	if ep.Duration < 11*time.Second || ep.Duration > 11300*time.Millisecond {
		t.Errorf("episode duration %v, want ≈11.1s", ep.Duration)
	}
}

func TestForceRecovering(t *testing.T) {
	clock := newFakeClock()
	tr := withClock(NewTracker(0.5, 0.8, 100), clock)

	tr.ForceRecovering("attack:dos")
	if !tr.Recovering() {
		t.Fatal("ForceRecovering did not open an episode")
	}
	// Idempotent while open: the original cause and start survive.
	clock.advance(3 * time.Second)
	tr.ForceRecovering("attack:jitter")

	clock.advance(2 * time.Second)
	ep := tr.Observe(0.95)
	if ep == nil {
		t.Fatal("episode did not close")
	}
	if ep.Cause != "attack:dos" {
		t.Errorf("cause = %q, want the original", ep.Cause)
	}
	if ep.Duration != 5*time.Second {
		t.Errorf("duration = %v, want 5s", ep.Duration)
	}
}

func TestWindowBoundsEpisodes(t *testing.T) {
	clock := newFakeClock()
	tr := withClock(NewTracker(0.5, 0.8, 3), clock)

	for i := 0; i < 5; i++ {
		tr.Observe(0.1)
		clock.advance(time.Duration(i+1) * time.Second)
		tr.Observe(0.9)
	}
	if tr.Count() != 3 {
		t.Errorf("Count = %d, want window size 3", tr.Count())
	}
	// Mean over the last three durations: (3+4+5)/3 = 4s.
	if got, want := tr.MTTR(), 4*time.Second; got != want {
		t.Errorf("MTTR = %v, want %v", got, want)
	}
}

func TestResetDiscardsEverything(t *testing.T) {
	clock := newFakeClock()
	tr := withClock(NewTracker(0.5, 0.8, 100), clock)
	tr.Observe(0.2)
	clock.advance(time.Second)
	tr.Observe(0.9)
	tr.Observe(0.2)

	tr.Reset()
	if tr.Recovering() || tr.Count() != 0 || tr.MTTR() != 0 {
		t.Error("Reset left state behind")
	}
}
