package policy

import (
	"testing"
	"time"

	"ncs-sim/internal/telemetry"
)

// reflexClock drives the reflex policy's cooldown clock.
type reflexClock struct {
	t time.Time
}

func (c *reflexClock) now() time.Time          { return c.t }
func (c *reflexClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReflex() (*Reflex, *reflexClock) {
	r := NewReflex(DefaultReflexConfig())
	clock := &reflexClock{t: time.Unix(1700000000, 0)}
	r.now = clock.now
	return r, clock
}

func healthyState() telemetry.SystemState {
	var s telemetry.SystemState
	s[telemetry.IdxStability] = 0.95
	return s
}

func TestNoRuleFiresOnHealthyState(t *testing.T) {
	r, _ := newTestReflex()
	if action, rule := r.SelectAction(healthyState()); action != nil {
		t.Errorf("rule %q fired on healthy state: %v", rule, action)
	}
}

func TestEmergencyStabilizeOnCriticalInstability(t *testing.T) {
	r, _ := newTestReflex()
	s := healthyState()
	s[telemetry.IdxStability] = 0.1

	action, rule := r.SelectAction(s)
	if rule != RuleEmergencyStabilize {
		t.Fatalf("rule = %q, want %q", rule, RuleEmergencyStabilize)
	}
	combined, ok := action.(Combined)
	if !ok {
		t.Fatalf("action type %T, want Combined", action)
	}
	if combined.Control.SamplingPeriod == nil || *combined.Control.SamplingPeriod != 0.005 {
		t.Error("emergency action missing fast sampling")
	}
	if combined.Network.Priority == nil || *combined.Network.Priority != 46 {
		t.Error("emergency action missing priority boost")
	}
	if combined.Network.Redundancy == nil || !*combined.Network.Redundancy {
		t.Error("emergency action missing redundancy")
	}
}

func TestCooldownBlocksRefiring(t *testing.T) {
	r, clock := newTestReflex()
	s := healthyState()
	s[telemetry.IdxStability] = 0.1

	if _, rule := r.SelectAction(s); rule != RuleEmergencyStabilize {
		t.Fatal("first evaluation did not fire")
	}

	// Condition still holds, cooldown has not elapsed.
	clock.advance(2 * time.Second)
	if action, rule := r.SelectAction(s); action != nil {
		t.Errorf("rule %q fired during cooldown", rule)
	}

	clock.advance(4 * time.Second)
	if _, rule := r.SelectAction(s); rule != RuleEmergencyStabilize {
		t.Error("rule did not fire after cooldown elapsed")
	}
}

func TestCooldownOnOneRuleLetsLaterRulesFire(t *testing.T) {
	r, clock := newTestReflex()

	s := healthyState()
	s[telemetry.IdxStability] = 0.1
	r.SelectAction(s) // emergency fires, enters cooldown

	// Still unstable and now also lossy: emergency is cooled down, the loss
	// rule gets its turn.
	clock.advance(time.Second)
	s[telemetry.IdxLossRate] = 0.05
	action, rule := r.SelectAction(s)
	if rule != RuleHandleLoss {
		t.Fatalf("rule = %q, want %q", rule, RuleHandleLoss)
	}
	if _, ok := action.(NetworkAdjust); !ok {
		t.Errorf("action type %T, want NetworkAdjust", action)
	}
}

func TestNetworkOptimizeEscalatesOnHighJitter(t *testing.T) {
	r, _ := newTestReflex()

	s := healthyState()
	s[telemetry.IdxJitterMS] = 30
	action, rule := r.SelectAction(s)
	if rule != RuleNetworkOptimize {
		t.Fatalf("rule = %q, want %q", rule, RuleNetworkOptimize)
	}
	if _, ok := action.(NetworkAdjust); !ok {
		t.Errorf("moderate jitter: action type %T, want NetworkAdjust", action)
	}

	r2, _ := newTestReflex()
	s[telemetry.IdxJitterMS] = 80
	action, _ = r2.SelectAction(s)
	combined, ok := action.(Combined)
	if !ok {
		t.Fatalf("high jitter: action type %T, want Combined", action)
	}
	if combined.Control.SamplingPeriod == nil || *combined.Control.SamplingPeriod != 0.02 {
		t.Error("high jitter action should slow the sampling period")
	}
}

func TestOscillationDetection(t *testing.T) {
	r, clock := newTestReflex()

	// Alternate the angle channel sign with magnitude above threshold.
	sign := 1.0
	var action Action
	fired := false
	for i := 0; i < 8; i++ {
		s := healthyState()
		s[telemetry.IdxAngle] = 0.3 * sign
		sign = -sign
		if a, rule := r.SelectAction(s); rule == RuleDampenOscillation {
			action, fired = a, true
		}
		clock.advance(100 * time.Millisecond)
	}
	if !fired {
		t.Fatalf("oscillation rule never fired")
	}
	adjust, ok := action.(ControlAdjust)
	if !ok {
		t.Fatalf("action type %T, want ControlAdjust", action)
	}
	if adjust.QDiag == nil {
		t.Error("damping action missing weight adjustment")
	}
}

func TestRelaxProtectionsNeedsRisingTrend(t *testing.T) {
	r, clock := newTestReflex()

	// High stability but flat trend: rule 7 must not fire.
	for i := 0; i < 6; i++ {
		s := healthyState()
		if action, rule := r.SelectAction(s); action != nil {
			t.Fatalf("rule %q fired on flat trend", rule)
		}
		clock.advance(100 * time.Millisecond)
	}

	// Rising trend ending above the relax threshold.
	r2, clock2 := newTestReflex()
	var action Action
	var rule string
	for _, v := range []float64{0.80, 0.84, 0.88, 0.91, 0.95} {
		s := healthyState()
		s[telemetry.IdxStability] = v
		action, rule = r2.SelectAction(s)
		clock2.advance(100 * time.Millisecond)
	}
	if rule != RuleReduceProtection {
		t.Fatalf("rule = %q, want %q", rule, RuleReduceProtection)
	}
	adjust, ok := action.(NetworkAdjust)
	if !ok {
		t.Fatalf("action type %T, want NetworkAdjust", action)
	}
	if adjust.Redundancy == nil || *adjust.Redundancy {
		t.Error("relax action should disable redundancy")
	}
}

func TestSwitchControllerOnSlowSettling(t *testing.T) {
	r, _ := newTestReflex()
	s := healthyState()
	s[telemetry.IdxStability] = 0.5
	s[telemetry.IdxSettlingTime] = 15

	action, rule := r.SelectAction(s)
	if rule != RuleSwitchController {
		t.Fatalf("rule = %q, want %q", rule, RuleSwitchController)
	}
	adjust, ok := action.(ControlAdjust)
	if !ok || adjust.Mode != "pid" {
		t.Errorf("action = %v, want mode switch to pid", action)
	}
}
