// Periodic control loop with runtime-reconfigurable control law
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"ncs-sim/internal/logging"
	"ncs-sim/internal/telemetry"
)

// Mode selects the active control law.
type Mode string

const (
	ModeLQR Mode = "lqr"
	ModePID Mode = "pid"
)

// Sampling period bounds in seconds.
const (
	MinTs = 0.001
	MaxTs = 0.1
)

// Configuration rejection errors. Prior state is unchanged when these are
// returned.
var (
	ErrBadGainDimension  = errors.New("gain dimension mismatch")
	ErrBadSamplingPeriod = errors.New("invalid sampling period")
	ErrBadWeights        = errors.New("invalid lqr weights")
	ErrBadPIDParams      = errors.New("invalid pid parameters")
	ErrUnknownMode       = errors.New("unknown controller mode")
)

// PIDParams holds the three PID gains.
type PIDParams struct {
	Kp float64
	Ki float64
	Kd float64
}

// KPIs are the controller performance indicators recomputed each tick.
type KPIs struct {
	ControlCost      float64
	SettlingTime     float64
	Overshoot        float64
	SteadyStateError float64
}

// Config configures a control loop.
type Config struct {
	Mode    Mode
	Ts      float64
	QDiag   []float64
	RWeight float64
	PID     PIDParams
	// ActuationLimit bounds |u|; defaults to 10.
	ActuationLimit float64
	// AntiWindupLimit clamps the PID integral accumulator; 0 disables clamping,
	// preserving unbounded accumulation under sustained error.
	AntiWindupLimit float64
	// FallbackGains are used when the Riccati solve fails; defaults per
	// DefaultFallbackGains.
	FallbackGains []float64
}

// StateSource provides the latest observed plant state.
type StateSource interface {
	Observe() []float64
}

// CommandSink receives computed actuation commands.
type CommandSink interface {
	EnqueueCommand(value float64, issueTime time.Time) bool
}

// KPIWriter receives a controller KPI row per tick; nil disables publishing.
type KPIWriter interface {
	WriteControlKPIs(telemetry.ControlKPIRow) error
}

// Loop periodically computes actuation from the latest plant sample. It owns
// the controller configuration; all mutation goes through reconfiguration
// calls which validate at the boundary.
type Loop struct {
	mu sync.Mutex

	dim  int
	a    [][]float64
	b    []float64
	mode Mode
	ts   float64

	k       []float64
	qDiag   []float64
	rWeight float64
	pid     PIDParams

	integral float64
	prevErr  float64
	hasPrev  bool

	reference []float64
	actLimit  float64
	windup    float64
	fallback  []float64

	active bool
	lastU  float64
	kpis   KPIs

	writer KPIWriter
	now    func() time.Time
}

// NewLoop builds a control loop for the linearized plant (a, b). The LQR gain
// is designed from (Q, R); a Riccati solve failure falls back to fixed
// validated gains and is recoverable, never fatal.
func NewLoop(ctx context.Context, a [][]float64, b []float64, cfg Config, writer KPIWriter) (*Loop, error) {
	log := logging.FromContext(ctx)
	n := len(b)
	if n == 0 {
		return nil, errors.New("empty plant model")
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeLQR
	}
	if cfg.Mode != ModeLQR && cfg.Mode != ModePID {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	if cfg.Ts == 0 {
		cfg.Ts = 0.01
	}
	if cfg.Ts < MinTs || cfg.Ts > MaxTs {
		return nil, fmt.Errorf("%w: %g", ErrBadSamplingPeriod, cfg.Ts)
	}
	if cfg.QDiag == nil {
		cfg.QDiag = defaultQDiag(n)
	}
	if len(cfg.QDiag) != n {
		return nil, fmt.Errorf("%w: Q has %d entries, want %d", ErrBadWeights, len(cfg.QDiag), n)
	}
	if cfg.RWeight == 0 {
		cfg.RWeight = 0.1
	}
	if cfg.ActuationLimit <= 0 {
		cfg.ActuationLimit = 10
	}
	fallback := cfg.FallbackGains
	if fallback == nil {
		fallback = DefaultFallbackGains(n)
	}
	if len(fallback) != n {
		return nil, fmt.Errorf("%w: fallback has %d entries, want %d", ErrBadGainDimension, len(fallback), n)
	}
	if cfg.PID == (PIDParams{}) {
		cfg.PID = PIDParams{Kp: 50, Ki: 0.1, Kd: 5}
	}

	k, err := SolveCARE(a, b, cfg.QDiag, cfg.RWeight)
	if err != nil {
		log.Warn("riccati solve failed, using fallback gains", "err", err, "fallback", fallback)
		k = append([]float64(nil), fallback...)
	}

	return &Loop{
		dim:       n,
		a:         a,
		b:         append([]float64(nil), b...),
		mode:      cfg.Mode,
		ts:        cfg.Ts,
		k:         k,
		qDiag:     append([]float64(nil), cfg.QDiag...),
		rWeight:   cfg.RWeight,
		pid:       cfg.PID,
		reference: make([]float64, n),
		actLimit:  cfg.ActuationLimit,
		windup:    cfg.AntiWindupLimit,
		fallback:  append([]float64(nil), fallback...),
		active:    true,
		writer:    writer,
		now:       time.Now,
	}, nil
}

func defaultQDiag(n int) []float64 {
	q := make([]float64, n)
	for i := range q {
		if i%2 == 0 {
			q[i] = 10
		} else {
			q[i] = 1
		}
	}
	return q
}

// Tick computes one actuation value from the observed state. It reports
// ok=false while the loop is paused or the state dimension is wrong.
func (l *Loop) Tick(state []float64, dt float64) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.active || len(state) != l.dim {
		return 0, false
	}

	var u float64
	switch l.mode {
	case ModeLQR:
		for i, ki := range l.k {
			u -= ki * (state[i] - l.reference[i])
		}
	case ModePID:
		e := state[0] - l.reference[0]
		l.integral += e * dt
		if l.windup > 0 {
			l.integral = math.Max(-l.windup, math.Min(l.windup, l.integral))
		}
		var d float64
		if l.hasPrev && dt > 0 {
			d = (e - l.prevErr) / dt
		}
		u = l.pid.Kp*e + l.pid.Ki*l.integral + l.pid.Kd*d
		l.prevErr = e
		l.hasPrev = true
	}

	u = math.Max(-l.actLimit, math.Min(l.actLimit, u))
	l.lastU = u
	l.updateKPIsLocked(state, u, dt)
	return u, true
}

func (l *Loop) updateKPIsLocked(state []float64, u, dt float64) {
	var cost, norm2 float64
	for i, x := range state {
		e := x - l.reference[i]
		cost += e * e * l.qDiag[i]
		norm2 += e * e
	}
	cost += l.rWeight * u * u
	l.kpis.ControlCost = cost

	// Settling accumulator resets inside the 5% band.
	if math.Sqrt(norm2) < 0.05 {
		l.kpis.SettlingTime = 0
	} else {
		l.kpis.SettlingTime += dt
	}
	l.kpis.Overshoot = math.Max(0, math.Abs(state[0])-1)
	l.kpis.SteadyStateError = math.Abs(state[0] - l.reference[0])
}

// Activate toggles ACTIVE/PAUSED. While paused no actuation is computed.
func (l *Loop) Activate(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = on
}

// Active reports whether the loop is computing actuation.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// SetSamplingPeriod updates Ts, clamping into [MinTs, MaxTs]. Non-finite or
// non-positive values are rejected.
func (l *Loop) SetSamplingPeriod(ts float64) error {
	if ts <= 0 || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return fmt.Errorf("%w: %g", ErrBadSamplingPeriod, ts)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ts = math.Max(MinTs, math.Min(MaxTs, ts))
	return nil
}

// Ts returns the current sampling period in seconds.
func (l *Loop) Ts() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ts
}

// SetLQRWeights updates (Q, R) and redesigns the gain. A Riccati failure
// falls back to the fixed validated gains and logs a recoverable warning.
func (l *Loop) SetLQRWeights(ctx context.Context, qDiag []float64, r float64) error {
	if len(qDiag) != l.dim {
		return fmt.Errorf("%w: Q has %d entries, want %d", ErrBadWeights, len(qDiag), l.dim)
	}
	for i, q := range qDiag {
		if q < 0 || math.IsNaN(q) {
			return fmt.Errorf("%w: Q[%d]=%g", ErrBadWeights, i, q)
		}
	}
	if r <= 0 || math.IsNaN(r) {
		return fmt.Errorf("%w: R=%g", ErrBadWeights, r)
	}

	k, err := SolveCARE(l.a, l.b, qDiag, r)
	if err != nil {
		logging.FromContext(ctx).Warn("riccati solve failed, using fallback gains", "err", err)
		k = append([]float64(nil), l.fallback...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.qDiag = append([]float64(nil), qDiag...)
	l.rWeight = r
	l.k = k
	return nil
}

// SetGains overrides the LQR gain vector directly.
func (l *Loop) SetGains(k []float64) error {
	if len(k) != l.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrBadGainDimension, len(k), l.dim)
	}
	for i, v := range k {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: K[%d]=%g", ErrBadGainDimension, i, v)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.k = append([]float64(nil), k...)
	return nil
}

// SetPIDParams updates the PID gains and resets the integral and derivative
// memory to avoid discontinuity jumps.
func (l *Loop) SetPIDParams(kp, ki, kd float64) error {
	for _, v := range []float64{kp, ki, kd} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: (%g,%g,%g)", ErrBadPIDParams, kp, ki, kd)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pid = PIDParams{Kp: kp, Ki: ki, Kd: kd}
	l.resetMemoryLocked()
	return nil
}

// SwitchMode changes the control law and resets controller memory.
func (l *Loop) SwitchMode(mode Mode) error {
	if mode != ModeLQR && mode != ModePID {
		return fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
	l.resetMemoryLocked()
	return nil
}

func (l *Loop) resetMemoryLocked() {
	l.integral = 0
	l.prevErr = 0
	l.hasPrev = false
}

// Mode returns the active control law.
func (l *Loop) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// Gains returns a copy of the current gain vector.
func (l *Loop) Gains() []float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]float64(nil), l.k...)
}

// PID returns the current PID parameters.
func (l *Loop) PID() PIDParams {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pid
}

// KPIs returns a copy of the latest controller KPIs.
func (l *Loop) KPIs() KPIs {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.kpis
}

// kpiRow builds the publishable KPI row under the lock.
func (l *Loop) kpiRow(now time.Time) telemetry.ControlKPIRow {
	l.mu.Lock()
	defer l.mu.Unlock()
	return telemetry.ControlKPIRow{
		Mode:             string(l.mode),
		ControlCost:      l.kpis.ControlCost,
		SettlingTime:     l.kpis.SettlingTime,
		Overshoot:        l.kpis.Overshoot,
		SteadyStateError: l.kpis.SteadyStateError,
		ControlInput:     l.lastU,
		SamplingPeriod:   l.ts,
		Timestamp:        now,
	}
}

// Run drives the control loop until the context is done. The timer is rebuilt
// every tick so sampling-period changes take effect within one tick.
func (l *Loop) Run(ctx context.Context, source StateSource, sink CommandSink) {
	log := logging.FromContext(ctx)
	log.Info("starting control loop", "mode", l.Mode(), "ts", l.Ts())

	for {
		ts := l.Ts()
		timer := time.NewTimer(time.Duration(ts * float64(time.Second)))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("stopping control loop")
			return
		case <-timer.C:
			now := l.now()
			state := source.Observe()
			u, ok := l.Tick(state, ts)
			if !ok {
				continue
			}
			sink.EnqueueCommand(u, now)
			if l.writer != nil {
				if err := l.writer.WriteControlKPIs(l.kpiRow(now)); err != nil {
					log.Error("control kpi write failed", "err", err)
				}
			}
		}
	}
}
