// Plant engine integrating dynamics under emulated network imperfections
package plant

import (
	"container/heap"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"ncs-sim/internal/logging"
	"ncs-sim/internal/telemetry"
)

// NetworkProfile models the lossy, delay-prone control channel. Values are
// read each time a command is enqueued.
type NetworkProfile struct {
	DelayS     float64
	JitterStdS float64
	LossRate   float64
}

// AttackProfile models sensor/actuator false-data injection. Bias and noise
// are applied additively at the publish or enqueue boundary.
type AttackProfile struct {
	SensorAttack   bool
	ActuatorAttack bool
	Bias           float64
	NoiseStd       float64
}

// QoS captures the network protections requested by the decision layer. The
// effect on the emulated channel is heuristic: priority halves mean delay,
// admission control halves jitter, redundancy squares the loss probability
// (both duplicates must drop).
type QoS struct {
	Priority         int
	AdmissionControl bool
	Redundancy       bool
}

// SampleWriter receives published samples. A nil writer disables publishing.
type SampleWriter interface {
	WritePlantState(telemetry.PlantStateRow) error
	WritePlantKPIs(telemetry.PlantKPIRow) error
}

type command struct {
	issue   time.Time
	arrival time.Time
	value   float64
	seq     uint64
}

// commandQueue is a min-heap ordered by arrival time, sequence breaking ties
// so equal arrivals apply in enqueue order.
type commandQueue []command

func (q commandQueue) Len() int { return len(q) }
func (q commandQueue) Less(i, j int) bool {
	if q[i].arrival.Equal(q[j].arrival) {
		return q[i].seq < q[j].seq
	}
	return q[i].arrival.Before(q[j].arrival)
}
func (q commandQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *commandQueue) Push(x any)        { *q = append(*q, x.(command)) }
func (q *commandQueue) Pop() any {
	old := *q
	n := len(old)
	c := old[n-1]
	*q = old[:n-1]
	return c
}

// Config configures a plant engine.
type Config struct {
	PlantID         string
	Type            string
	InitialState    []float64 // optional, defaults to the model's
	IntegrationStep time.Duration
	PublishStep     time.Duration
	StateLimit      float64
	Network         NetworkProfile
	Seed            int64
}

// Engine owns the plant state. It integrates dynamics at the integration step
// and publishes samples at the publish step. All mutation goes through the
// engine; consumers get copies.
type Engine struct {
	mu sync.Mutex

	plantID string
	model   Model
	state   []float64
	input   float64

	network NetworkProfile
	attack  AttackProfile
	qos     QoS

	queue commandQueue
	seq   uint64

	latencyEWMA float64 // seconds, measured over applied commands

	integrationStep time.Duration
	publishStep     time.Duration
	stateLimit      float64

	rand *rand.Rand
	now  func() time.Time

	writer SampleWriter

	// scratch buffers for RK4
	k1, k2, k3, k4, tmp []float64
}

// NewEngine validates the plant type and builds the engine. An unknown plant
// type is a fatal startup error.
func NewEngine(cfg Config, writer SampleWriter) (*Engine, error) {
	model, err := NewModel(cfg.Type)
	if err != nil {
		return nil, err
	}
	state := model.InitialState()
	if cfg.InitialState != nil {
		if len(cfg.InitialState) != model.Dim() {
			return nil, fmt.Errorf("initial state dimension %d, want %d", len(cfg.InitialState), model.Dim())
		}
		state = append([]float64(nil), cfg.InitialState...)
	}
	if cfg.IntegrationStep <= 0 {
		cfg.IntegrationStep = time.Millisecond
	}
	if cfg.PublishStep <= 0 {
		cfg.PublishStep = 10 * time.Millisecond
	}
	if cfg.StateLimit <= 0 {
		cfg.StateLimit = 1e3
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	dim := model.Dim()
	return &Engine{
		plantID:         cfg.PlantID,
		model:           model,
		state:           state,
		network:         cfg.Network,
		integrationStep: cfg.IntegrationStep,
		publishStep:     cfg.PublishStep,
		stateLimit:      cfg.StateLimit,
		rand:            rand.New(rand.NewSource(seed)),
		now:             time.Now,
		writer:          writer,
		k1:              make([]float64, dim),
		k2:              make([]float64, dim),
		k3:              make([]float64, dim),
		k4:              make([]float64, dim),
		tmp:             make([]float64, dim),
	}, nil
}

// Model returns the underlying plant model.
func (e *Engine) Model() Model { return e.model }

// PlantID returns the configured plant identity.
func (e *Engine) PlantID() string { return e.plantID }

// Step advances the plant state by dt seconds using RK4 with the live
// actuation held constant.
func (e *Engine) Step(dt float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stepLocked(dt)
}

func (e *Engine) stepLocked(dt float64) {
	s, u := e.state, e.input
	e.model.Derivatives(e.k1, s, u)
	for i := range s {
		e.tmp[i] = s[i] + 0.5*dt*e.k1[i]
	}
	e.model.Derivatives(e.k2, e.tmp, u)
	for i := range s {
		e.tmp[i] = s[i] + 0.5*dt*e.k2[i]
	}
	e.model.Derivatives(e.k3, e.tmp, u)
	for i := range s {
		e.tmp[i] = s[i] + dt*e.k3[i]
	}
	e.model.Derivatives(e.k4, e.tmp, u)
	for i := range s {
		s[i] += dt / 6 * (e.k1[i] + 2*e.k2[i] + 2*e.k3[i] + e.k4[i])
	}
	e.clampLocked()
}

// clampLocked bounds the state so numerical overflow never kills the
// simulation. A heuristic, not a physical law.
func (e *Engine) clampLocked() {
	for i, v := range e.state {
		switch {
		case math.IsNaN(v):
			e.state[i] = 0
		case v > e.stateLimit:
			e.state[i] = e.stateLimit
		case v < -e.stateLimit:
			e.state[i] = -e.stateLimit
		}
	}
}

// EnqueueCommand runs the command through the emulated channel: loss draw,
// delay plus Gaussian jitter, actuator attack bias. It reports whether the
// command survived the loss draw. Commands whose computed arrival is already
// in the past apply on the next tick, never dropped.
func (e *Engine) EnqueueCommand(value float64, issueTime time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	loss := e.network.LossRate
	if e.qos.Redundancy {
		loss = loss * loss
	}
	if e.rand.Float64() < loss {
		return false
	}

	delay := e.network.DelayS
	if e.qos.Priority > 0 {
		delay *= 0.5
	}
	jitter := e.network.JitterStdS
	if e.qos.AdmissionControl {
		jitter *= 0.5
	}
	delay += e.rand.NormFloat64() * jitter
	if delay < 0 {
		delay = 0
	}

	if e.attack.ActuatorAttack {
		value += e.attack.Bias + e.rand.NormFloat64()*e.attack.NoiseStd
	}

	heap.Push(&e.queue, command{
		issue:   issueTime,
		arrival: issueTime.Add(time.Duration(delay * float64(time.Second))),
		value:   value,
		seq:     e.seq,
	})
	e.seq++
	return true
}

// ApplyDueCommands pops and applies every buffered command whose arrival time
// is at or before now, in ascending arrival order. The last applied value is
// the live actuation until superseded. Returns the number applied.
func (e *Engine) ApplyDueCommands(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyDueLocked(now)
}

func (e *Engine) applyDueLocked(now time.Time) int {
	applied := 0
	for len(e.queue) > 0 && !e.queue[0].arrival.After(now) {
		c := heap.Pop(&e.queue).(command)
		e.input = c.value
		applied++
		latency := now.Sub(c.issue).Seconds()
		if latency < 0 {
			latency = 0
		}
		const alpha = 0.2
		e.latencyEWMA = alpha*latency + (1-alpha)*e.latencyEWMA
	}
	return applied
}

// ControlInput returns the live actuation value.
func (e *Engine) ControlInput() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.input
}

// StateSnapshot returns a copy of the true plant state.
func (e *Engine) StateSnapshot() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]float64(nil), e.state...)
}

// Observe returns the state as a sensor would report it, with any active
// sensor attack applied additively to the observed channels.
func (e *Engine) Observe() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.observeLocked()
}

func (e *Engine) observeLocked() []float64 {
	obs := append([]float64(nil), e.state...)
	if e.attack.SensorAttack {
		for _, ch := range e.model.ObservedChannels() {
			obs[ch] += e.attack.Bias + e.rand.NormFloat64()*e.attack.NoiseStd
		}
	}
	return obs
}

// Sample builds the state and KPI rows published at the publish step.
func (e *Engine) Sample(now time.Time) (telemetry.PlantStateRow, telemetry.PlantKPIRow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampleLocked(now)
}

func (e *Engine) sampleLocked(now time.Time) (telemetry.PlantStateRow, telemetry.PlantKPIRow) {
	obs := e.observeLocked()
	stateRow := telemetry.PlantStateRow{
		PlantID:        e.plantID,
		PlantType:      e.model.Type(),
		State:          obs,
		ControlInput:   e.input,
		DelayS:         e.network.DelayS,
		LossRate:       e.network.LossRate,
		JitterStdS:     e.network.JitterStdS,
		SensorAttack:   e.attack.SensorAttack,
		ActuatorAttack: e.attack.ActuatorAttack,
		Timestamp:      now,
	}
	kpiRow := telemetry.PlantKPIRow{
		PlantID:         e.plantID,
		StabilityMargin: e.model.StabilityMargin(e.state),
		Energy:          e.model.Energy(e.state),
		Deviation:       e.model.Deviation(e.state),
		ControlEffort:   math.Abs(e.input),
		Timestamp:       now,
	}
	return stateRow, kpiRow
}

// NetworkKPIs reports the emulated channel indicators. Latency is an EWMA of
// delays measured on applied commands, falling back to the profile mean before
// any command arrives.
func (e *Engine) NetworkKPIs(now time.Time) telemetry.NetworkKPIRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	latency := e.latencyEWMA
	if latency == 0 {
		latency = e.network.DelayS
	}
	return telemetry.NetworkKPIRow{
		PlantID:   e.plantID,
		LatencyMS: latency * 1000,
		JitterMS:  e.network.JitterStdS * 1000,
		LossRate:  e.network.LossRate,
		Timestamp: now,
	}
}

// SetNetworkProfile replaces the channel profile.
func (e *Engine) SetNetworkProfile(p NetworkProfile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.network = p
}

// Network returns the current channel profile.
func (e *Engine) Network() NetworkProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.network
}

// SetAttackProfile replaces the attack profile.
func (e *Engine) SetAttackProfile(a AttackProfile) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attack = a
}

// Attack returns the current attack profile.
func (e *Engine) Attack() AttackProfile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attack
}

// SetQoS replaces the requested network protections.
func (e *Engine) SetQoS(q QoS) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.qos = q
}

// QoSState returns the active network protections.
func (e *Engine) QoSState() QoS {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.qos
}

// QueueDepth returns the number of buffered commands.
func (e *Engine) QueueDepth() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Run drives the integration loop until the context is done, publishing a
// sample every publish step. Write failures are logged and skipped.
func (e *Engine) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("starting plant engine",
		"plant_id", e.plantID, "type", e.model.Type(),
		"integration_step", e.integrationStep, "publish_step", e.publishStep)

	ticker := time.NewTicker(e.integrationStep)
	defer ticker.Stop()

	publishEvery := int(e.publishStep / e.integrationStep)
	if publishEvery < 1 {
		publishEvery = 1
	}
	n := 0

	for {
		select {
		case <-ticker.C:
			now := e.now()
			e.mu.Lock()
			e.applyDueLocked(now)
			e.stepLocked(e.integrationStep.Seconds())
			n++
			publish := n%publishEvery == 0
			var stateRow telemetry.PlantStateRow
			var kpiRow telemetry.PlantKPIRow
			if publish {
				stateRow, kpiRow = e.sampleLocked(now)
			}
			e.mu.Unlock()

			if publish && e.writer != nil {
				if err := e.writer.WritePlantState(stateRow); err != nil {
					log.Error("plant state write failed", "plant_id", e.plantID, "err", err)
				}
				if err := e.writer.WritePlantKPIs(kpiRow); err != nil {
					log.Error("plant kpi write failed", "plant_id", e.plantID, "err", err)
				}
			}
		case <-ctx.Done():
			log.Info("stopping plant engine", "plant_id", e.plantID)
			return
		}
	}
}
