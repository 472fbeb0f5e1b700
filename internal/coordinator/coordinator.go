// Decision coordinator: builds the system state vector, runs the policies,
// dispatches their actions, and feeds rewards back to the bandit.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"ncs-sim/internal/chaos"
	"ncs-sim/internal/control"
	"ncs-sim/internal/logging"
	"ncs-sim/internal/plant"
	"ncs-sim/internal/policy"
	"ncs-sim/internal/recovery"
	"ncs-sim/internal/telemetry"
)

// Policy names used in decision rows.
const (
	PolicyReflex = "reflex"
	PolicyBandit = "bandit"
)

// RewardWeights parameterize the reward signal computed between consecutive
// decision cycles.
type RewardWeights struct {
	Stability     float64
	Cost          float64
	Error         float64
	Latency       float64
	Jitter        float64
	ActionPenalty float64
}

// DefaultRewardWeights favors stability improvement and penalizes
// intervention, encouraging parsimonious action.
func DefaultRewardWeights() RewardWeights {
	return RewardWeights{
		Stability:     10,
		Cost:          1,
		Error:         1,
		Latency:       0.01,
		Jitter:        0.01,
		ActionPenalty: 0.1,
	}
}

// Config configures the coordinator.
type Config struct {
	// DecisionInterval paces the decision loop; defaults to 1s.
	DecisionInterval time.Duration
	// UseReflex / UseBandit select the active policies.
	UseReflex bool
	UseBandit bool
	Rewards   RewardWeights
}

// DecisionWriter receives one row per action taken.
type DecisionWriter interface {
	WriteDecision(telemetry.DecisionRow) error
}

// AgentCommand is an externally supplied control directive, e.g. from the
// agent command topic. Nil fields are ignored.
type AgentCommand struct {
	SamplingPeriod *float64  `json:"sampling_period,omitempty"`
	LQRGains       []float64 `json:"lqr_gains,omitempty"`
	ControlActive  *bool     `json:"control_active,omitempty"`
}

// Coordinator owns the decision cycle. It is the single writer of the bandit
// model and the QoS configuration; the engine and loop own their own state.
type Coordinator struct {
	cfg     Config
	engine  *plant.Engine
	loop    *control.Loop
	tracker *recovery.Tracker
	reflex  *policy.Reflex
	bandit  *policy.Bandit
	writer  DecisionWriter

	banditAction int
	banditState  telemetry.SystemState
	banditRow    telemetry.DecisionRow
	banditArmed  bool

	now func() time.Time
}

// New builds a coordinator over the plant engine, control loop, and policies.
// Either policy may be nil when disabled in the config.
func New(cfg Config, engine *plant.Engine, loop *control.Loop, tracker *recovery.Tracker, reflex *policy.Reflex, bandit *policy.Bandit, writer DecisionWriter) *Coordinator {
	if cfg.DecisionInterval <= 0 {
		cfg.DecisionInterval = time.Second
	}
	if cfg.Rewards == (RewardWeights{}) {
		cfg.Rewards = DefaultRewardWeights()
	}
	return &Coordinator{
		cfg:     cfg,
		engine:  engine,
		loop:    loop,
		tracker: tracker,
		reflex:  reflex,
		bandit:  bandit,
		writer:  writer,
		now:     time.Now,
	}
}

// SystemState assembles the normalized snapshot from the latest KPI samples:
// control KPIs, network KPIs, plant indicators, and the aggregate stability
// margin. Each source is read under its own lock, so the vector is coherent
// per source and never torn.
func (c *Coordinator) SystemState() telemetry.SystemState {
	var s telemetry.SystemState

	kpis := c.loop.KPIs()
	s[telemetry.IdxControlCost] = kpis.ControlCost
	s[telemetry.IdxSettlingTime] = kpis.SettlingTime
	s[telemetry.IdxOvershoot] = kpis.Overshoot
	s[telemetry.IdxSteadyStateError] = kpis.SteadyStateError

	net := c.engine.NetworkKPIs(c.now())
	s[telemetry.IdxLatencyMS] = net.LatencyMS
	s[telemetry.IdxJitterMS] = net.JitterMS
	s[telemetry.IdxLossRate] = net.LossRate

	state := c.engine.StateSnapshot()
	if len(state) > 0 {
		s[telemetry.IdxPosition] = state[0]
	}
	if len(state) > 2 {
		s[telemetry.IdxAngle] = state[2]
	}
	s[telemetry.IdxStability] = c.engine.Model().StabilityMargin(state)
	return s
}

// Decide runs one decision cycle: observe, let the policies act, dispatch,
// then reward the bandit for its previous action.
func (c *Coordinator) Decide(ctx context.Context) {
	log := logging.FromContext(ctx)
	state := c.SystemState()
	now := c.now()

	if ep := c.tracker.Observe(state[telemetry.IdxStability]); ep != nil {
		log.Info("recovery completed",
			"cause", ep.Cause, "duration", ep.Duration, "mttr", c.tracker.MTTR())
	}
	recovering := c.tracker.Recovering()
	c.publishNetworkKPIs(log)

	if c.reflex != nil && c.cfg.UseReflex {
		if action, rule := c.reflex.SelectAction(state); action != nil {
			if err := c.Dispatch(ctx, action); err != nil {
				log.Error("reflex action dispatch failed", "rule", rule, "err", err)
			} else {
				c.writeDecision(telemetry.DecisionRow{
					Policy:          PolicyReflex,
					Action:          action.String(),
					Rule:            rule,
					StabilityMargin: state[telemetry.IdxStability],
					RecoveryActive:  recovering,
					Timestamp:       now,
				}, log)
			}
		}
	}

	if c.bandit != nil && c.cfg.UseBandit {
		// Close out the previous bandit decision before the next draw.
		c.rewardBandit(ctx, state)
		if c.banditShouldAct(state) {
			id := c.bandit.SelectAction(state.Slice())
			action, err := policy.ExpandDiscrete(id)
			if err != nil {
				log.Error("bandit produced invalid action", "id", id, "err", err)
			} else if err := c.Dispatch(ctx, action); err != nil {
				log.Error("bandit action dispatch failed", "id", id, "err", err)
			} else {
				c.banditAction = id
				c.banditState = state
				c.banditArmed = true
				// The row is held back until the reward closes next cycle,
				// so it carries the realized reward.
				c.banditRow = telemetry.DecisionRow{
					Policy:          PolicyBandit,
					Action:          action.String(),
					StabilityMargin: state[telemetry.IdxStability],
					RecoveryActive:  recovering,
					Timestamp:       now,
				}
			}
		}
	}
}

// publishNetworkKPIs forwards the channel indicators to writers that accept
// them, discovered by type assertion like the batch upgrade in the sink
// package. The decision writer interface itself stays minimal.
func (c *Coordinator) publishNetworkKPIs(log *slog.Logger) {
	nw, ok := c.writer.(interface {
		WriteNetworkKPIs(telemetry.NetworkKPIRow) error
	})
	if !ok {
		return
	}
	if err := nw.WriteNetworkKPIs(c.engine.NetworkKPIs(c.now())); err != nil {
		log.Error("network kpi write failed", "err", err)
	}
}

// banditShouldAct gates the learning policy to degraded conditions, so it is
// not burning exploration budget while the system is healthy.
func (c *Coordinator) banditShouldAct(s telemetry.SystemState) bool {
	return s[telemetry.IdxStability] < 0.7 ||
		s[telemetry.IdxSteadyStateError] > 0.1 ||
		s[telemetry.IdxLatencyMS] > 50 ||
		s[telemetry.IdxJitterMS] > 20
}

// rewardBandit computes the reward for the pending bandit action from the
// state delta since it was taken and feeds the update.
func (c *Coordinator) rewardBandit(ctx context.Context, current telemetry.SystemState) {
	if !c.banditArmed {
		return
	}
	log := logging.FromContext(ctx)
	reward := c.Reward(c.banditState, current, 1)
	if err := c.bandit.Update(c.banditState.Slice(), c.banditAction, reward); err != nil {
		log.Error("bandit update failed", "action", c.banditAction, "err", err)
	}
	c.banditRow.Reward = reward
	c.writeDecision(c.banditRow, log)
	c.banditArmed = false
}

// Reward scores a state transition: stability improvement is good, cost,
// error, latency, and jitter growth are bad, and every action taken carries a
// fixed penalty.
func (c *Coordinator) Reward(prev, cur telemetry.SystemState, nActions int) float64 {
	w := c.cfg.Rewards
	r := (cur[telemetry.IdxStability] - prev[telemetry.IdxStability]) * w.Stability
	r -= (cur[telemetry.IdxControlCost] - prev[telemetry.IdxControlCost]) * w.Cost
	r -= (cur[telemetry.IdxSteadyStateError] - prev[telemetry.IdxSteadyStateError]) * w.Error
	r -= (cur[telemetry.IdxLatencyMS] - prev[telemetry.IdxLatencyMS]) * w.Latency
	r -= (cur[telemetry.IdxJitterMS] - prev[telemetry.IdxJitterMS]) * w.Jitter
	r -= float64(nActions) * w.ActionPenalty
	return r
}

// Dispatch applies a policy action against the control loop and the plant's
// QoS configuration. The switch is exhaustive over the action variants.
func (c *Coordinator) Dispatch(ctx context.Context, action policy.Action) error {
	switch a := action.(type) {
	case policy.ControlAdjust:
		return c.applyControl(ctx, a)
	case policy.NetworkAdjust:
		c.applyNetwork(a)
		return nil
	case policy.Combined:
		if err := c.applyControl(ctx, a.Control); err != nil {
			return err
		}
		c.applyNetwork(a.Network)
		return nil
	case policy.Discrete:
		expanded, err := policy.ExpandDiscrete(a.ID)
		if err != nil {
			return err
		}
		return c.Dispatch(ctx, expanded)
	default:
		return fmt.Errorf("unhandled action type %T", action)
	}
}

func (c *Coordinator) applyControl(ctx context.Context, a policy.ControlAdjust) error {
	if a.SamplingPeriod != nil {
		if err := c.loop.SetSamplingPeriod(*a.SamplingPeriod); err != nil {
			return err
		}
	}
	if a.QDiag != nil {
		q := fitWeights(a.QDiag, c.engine.Model().Dim())
		r := 0.1
		if a.RWeight != nil {
			r = *a.RWeight
		}
		if err := c.loop.SetLQRWeights(ctx, q, r); err != nil {
			return err
		}
	}
	if a.Gains != nil {
		if err := c.loop.SetGains(a.Gains); err != nil {
			return err
		}
	}
	if a.Mode != "" {
		if err := c.loop.SwitchMode(control.Mode(a.Mode)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) applyNetwork(a policy.NetworkAdjust) {
	qos := c.engine.QoSState()
	if a.Priority != nil {
		qos.Priority = *a.Priority
	}
	if a.AdmissionControl != nil {
		qos.AdmissionControl = *a.AdmissionControl
	}
	if a.Redundancy != nil {
		qos.Redundancy = *a.Redundancy
	}
	c.engine.SetQoS(qos)
}

// fitWeights pads a Q diagonal with its last entry or truncates it to the
// plant dimension. Policies emit 4-dim weights regardless of the plant.
func fitWeights(q []float64, dim int) []float64 {
	out := make([]float64, dim)
	for i := 0; i < dim; i++ {
		if i < len(q) {
			out[i] = q[i]
		} else if len(q) > 0 {
			out[i] = q[len(q)-1]
		} else {
			out[i] = 1
		}
	}
	return out
}

// HandleAgentCommand applies an external control directive.
func (c *Coordinator) HandleAgentCommand(ctx context.Context, cmd AgentCommand) error {
	if cmd.SamplingPeriod != nil {
		if err := c.loop.SetSamplingPeriod(*cmd.SamplingPeriod); err != nil {
			return err
		}
	}
	if cmd.LQRGains != nil {
		if err := c.loop.SetGains(cmd.LQRGains); err != nil {
			return err
		}
	}
	if cmd.ControlActive != nil {
		c.loop.Activate(*cmd.ControlActive)
	}
	return nil
}

// NotifyDisturbance forces the recovery tracker into RECOVERING, used for
// attack-start and external disturbance events.
func (c *Coordinator) NotifyDisturbance(cause string) {
	c.tracker.ForceRecovering(cause)
}

// AttackNotifier adapts the coordinator into a chaos event writer that forces
// recovery tracking on attack start.
type AttackNotifier struct {
	Coordinator *Coordinator
	Next        chaos.EventWriter
}

// WriteAttackEvent forwards the event and flags recovery on starts.
func (n AttackNotifier) WriteAttackEvent(row telemetry.AttackEventRow) error {
	if row.Event == telemetry.EventAttackStart {
		n.Coordinator.NotifyDisturbance("attack:" + row.Kind)
	}
	if n.Next != nil {
		return n.Next.WriteAttackEvent(row)
	}
	return nil
}

func (c *Coordinator) writeDecision(row telemetry.DecisionRow, log *slog.Logger) {
	if c.writer == nil {
		return
	}
	if err := c.writer.WriteDecision(row); err != nil {
		log.Error("decision write failed", "err", err)
	}
}

// Tracker exposes the recovery tracker for status surfaces.
func (c *Coordinator) Tracker() *recovery.Tracker { return c.tracker }

// Run drives the plant, the control loop, and the decision cycle until the
// context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.engine.Run(ctx)
		return nil
	})
	g.Go(func() error {
		c.loop.Run(ctx, c.engine, c.engine)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(c.cfg.DecisionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				c.Decide(ctx)
			}
		}
	})

	log.Info("coordinator running",
		"decision_interval", c.cfg.DecisionInterval,
		"reflex", c.cfg.UseReflex, "bandit", c.cfg.UseBandit)
	return g.Wait()
}
