// Rule-based reflex policy with per-rule cooldowns
package policy

import (
	"math"
	"sync"
	"time"

	"ncs-sim/internal/telemetry"
)

// Reflex rule names, used as cooldown keys and reported with decisions.
const (
	RuleEmergencyStabilize  = "emergency_stabilize"
	RuleNetworkOptimize     = "network_optimize"
	RuleHandleLoss          = "handle_loss"
	RuleReduceControlEffort = "reduce_control_effort"
	RuleIncreasePerformance = "increase_performance"
	RuleDampenOscillation   = "dampen_oscillation"
	RuleReduceProtection    = "reduce_protection"
	RuleSwitchController    = "switch_controller"
)

// ReflexConfig holds the rule thresholds.
type ReflexConfig struct {
	StabilityFloor     float64
	LatencyThresholdMS float64
	JitterThresholdMS  float64
	HighJitterMS       float64
	LossThreshold      float64
	CostThreshold      float64
	ErrorThreshold     float64
	SettlingThreshold  float64
	RelaxStability     float64
	Cooldown           time.Duration
	HistoryLength      int
}

// DefaultReflexConfig returns the standard thresholds.
func DefaultReflexConfig() ReflexConfig {
	return ReflexConfig{
		StabilityFloor:     0.3,
		LatencyThresholdMS: 50,
		JitterThresholdMS:  20,
		HighJitterMS:       50,
		LossThreshold:      0.02,
		CostThreshold:      10,
		ErrorThreshold:     0.1,
		SettlingThreshold:  10,
		RelaxStability:     0.9,
		Cooldown:           5 * time.Second,
		HistoryLength:      10,
	}
}

// Reflex is the deterministic rule-based policy. Rules are evaluated in
// order; the first rule whose condition holds and whose cooldown has elapsed
// fires. A rule in cooldown is skipped even if its condition holds.
type Reflex struct {
	mu        sync.Mutex
	cfg       ReflexConfig
	history   []telemetry.SystemState
	lastFired map[string]time.Time
	now       func() time.Time
}

// NewReflex builds a reflex policy with the given thresholds.
func NewReflex(cfg ReflexConfig) *Reflex {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Second
	}
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = 10
	}
	return &Reflex{
		cfg:       cfg,
		lastFired: make(map[string]time.Time),
		now:       time.Now,
	}
}

// SelectAction evaluates the rules against the state vector. It returns nil
// when no rule fires, otherwise the action and the rule that produced it.
func (r *Reflex) SelectAction(state telemetry.SystemState) (Action, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.history = append(r.history, state)
	if len(r.history) > r.cfg.HistoryLength {
		r.history = r.history[len(r.history)-r.cfg.HistoryLength:]
	}

	stability := state[telemetry.IdxStability]
	latency := state[telemetry.IdxLatencyMS]
	jitter := state[telemetry.IdxJitterMS]
	loss := state[telemetry.IdxLossRate]
	cost := state[telemetry.IdxControlCost]
	sse := state[telemetry.IdxSteadyStateError]
	settling := state[telemetry.IdxSettlingTime]

	// Rule 1: critical instability, take everything at once.
	if stability < r.cfg.StabilityFloor && r.canActLocked(RuleEmergencyStabilize, now) {
		return Combined{
			Control: ControlAdjust{
				SamplingPeriod: fptr(0.005),
				QDiag:          []float64{50, 5, 50, 5},
				RWeight:        fptr(0.01),
			},
			Network: NetworkAdjust{
				Priority:         iptr(46),
				AdmissionControl: bptr(true),
				Redundancy:       bptr(true),
			},
		}, RuleEmergencyStabilize
	}

	// Rule 2: degraded channel, prioritize network actions.
	if (latency > r.cfg.LatencyThresholdMS || jitter > r.cfg.JitterThresholdMS) &&
		r.canActLocked(RuleNetworkOptimize, now) {
		if jitter > r.cfg.HighJitterMS {
			// Slow the loop down instead of fighting the jitter.
			return Combined{
				Control: ControlAdjust{SamplingPeriod: fptr(0.02)},
				Network: NetworkAdjust{Priority: iptr(46), Redundancy: bptr(true)},
			}, RuleNetworkOptimize
		}
		return NetworkAdjust{Priority: iptr(46)}, RuleNetworkOptimize
	}

	// Rule 3: packet loss, duplicate transmissions.
	if loss > r.cfg.LossThreshold && r.canActLocked(RuleHandleLoss, now) {
		return NetworkAdjust{Redundancy: bptr(true), Priority: iptr(46)}, RuleHandleLoss
	}

	// Rule 4: expensive control, back off.
	if cost > r.cfg.CostThreshold && r.canActLocked(RuleReduceControlEffort, now) {
		return ControlAdjust{QDiag: []float64{5, 0.5, 5, 0.5}, RWeight: fptr(0.5)}, RuleReduceControlEffort
	}

	// Rule 5: lingering error, push harder.
	if sse > r.cfg.ErrorThreshold && r.canActLocked(RuleIncreasePerformance, now) {
		return ControlAdjust{QDiag: []float64{20, 2, 20, 2}, RWeight: fptr(0.05)}, RuleIncreasePerformance
	}

	// Rule 6: oscillation, raise damping.
	if r.oscillatingLocked() && r.canActLocked(RuleDampenOscillation, now) {
		return ControlAdjust{
			QDiag:          []float64{10, 5, 10, 5},
			RWeight:        fptr(0.1),
			SamplingPeriod: fptr(0.015),
		}, RuleDampenOscillation
	}

	// Rule 7: recovered, relax the protections.
	if stability > r.cfg.RelaxStability && r.recoveringTrendLocked() &&
		r.canActLocked(RuleReduceProtection, now) {
		return NetworkAdjust{
			Priority:         iptr(0),
			AdmissionControl: bptr(false),
			Redundancy:       bptr(false),
		}, RuleReduceProtection
	}

	// Rule 8: the law itself is struggling, switch to PID.
	if settling > r.cfg.SettlingThreshold && stability < 0.6 &&
		r.canActLocked(RuleSwitchController, now) {
		return ControlAdjust{Mode: "pid"}, RuleSwitchController
	}

	return nil, ""
}

// canActLocked enforces the per-rule cooldown and records the firing time.
func (r *Reflex) canActLocked(rule string, now time.Time) bool {
	last, ok := r.lastFired[rule]
	if ok && now.Sub(last) < r.cfg.Cooldown {
		return false
	}
	r.lastFired[rule] = now
	return true
}

// oscillatingLocked detects alternating sign on the angle-like channel:
// at least 3 sign changes over the last 6 samples with magnitude above 0.1.
func (r *Reflex) oscillatingLocked() bool {
	if len(r.history) < 6 {
		return false
	}
	window := r.history[len(r.history)-6:]
	changes := 0
	for i := 1; i < len(window); i++ {
		cur := window[i][telemetry.IdxAngle]
		prev := window[i-1][telemetry.IdxAngle]
		if math.Signbit(cur) != math.Signbit(prev) && math.Abs(cur) > 0.1 {
			changes++
		}
	}
	return changes >= 3
}

// recoveringTrendLocked reports a generally rising stability margin over the
// last 5 samples.
func (r *Reflex) recoveringTrendLocked() bool {
	if len(r.history) < 5 {
		return false
	}
	window := r.history[len(r.history)-5:]
	rising := 0
	for i := 1; i < len(window); i++ {
		if window[i][telemetry.IdxStability] > window[i-1][telemetry.IdxStability] {
			rising++
		}
	}
	return rising >= 3
}

// Thresholds returns a copy of the active configuration.
func (r *Reflex) Thresholds() ReflexConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg
}
