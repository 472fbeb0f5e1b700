// Attack orchestration with per-kind lifecycle and guaranteed cleanup
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ncs-sim/internal/plant"
	"ncs-sim/internal/telemetry"
)

// Attack kinds.
const (
	KindDoS          = "dos"
	KindNetworkDelay = "network_delay"
	KindPacketLoss   = "packet_loss"
	KindJitter       = "jitter"
	KindFalseData    = "false_data"
	KindTiming       = "timing"
	KindReplay       = "replay"
)

// Kinds lists every supported attack kind.
func Kinds() []string {
	return []string{
		KindDoS, KindNetworkDelay, KindPacketLoss, KindJitter,
		KindFalseData, KindTiming, KindReplay,
	}
}

// Attack lifecycle states.
const (
	StatusActive   = "active"
	StatusStopping = "stopping"
)

var (
	ErrUnknownAttack = errors.New("unknown attack kind")
	ErrAttackActive  = errors.New("attack kind already active")
)

// Params configures one attack run. Unused fields are ignored by kinds that
// do not need them.
type Params struct {
	Duration time.Duration `json:"duration"`
	// Target is the flood destination for DoS, host:port.
	Target        string        `json:"target,omitempty"`
	BandwidthMbps float64       `json:"bandwidth_mbps,omitempty"`
	Delay         time.Duration `json:"delay,omitempty"`
	Jitter        time.Duration `json:"jitter,omitempty"`
	LossRate      float64       `json:"loss_rate,omitempty"`
	Bias          float64       `json:"bias,omitempty"`
	Noise         float64       `json:"noise,omitempty"`
	TimeOffset    time.Duration `json:"time_offset,omitempty"`
}

func (p Params) String() string {
	return fmt.Sprintf("duration=%s target=%q delay=%s jitter=%s loss=%g bias=%g noise=%g",
		p.Duration, p.Target, p.Delay, p.Jitter, p.LossRate, p.Bias, p.Noise)
}

// Descriptor is the externally visible state of one attack run.
type Descriptor struct {
	ID      string        `json:"id"`
	Kind    string        `json:"kind"`
	Params  Params        `json:"params"`
	Start   time.Time     `json:"start"`
	Status  string        `json:"status"`
	Elapsed time.Duration `json:"elapsed"`
}

// NetworkShaper mutates the emulated channel. plant.Engine satisfies it.
type NetworkShaper interface {
	Network() plant.NetworkProfile
	SetNetworkProfile(plant.NetworkProfile)
}

// SensorTamperer mutates the sensor/actuator attack profile.
type SensorTamperer interface {
	Attack() plant.AttackProfile
	SetAttackProfile(plant.AttackProfile)
}

// CommandInjector accepts forged control commands.
type CommandInjector interface {
	EnqueueCommand(value float64, issueTime time.Time) bool
}

// EventWriter receives attack lifecycle events.
type EventWriter interface {
	WriteAttackEvent(telemetry.AttackEventRow) error
}

// run is one live injector: descriptor plus cancellation plumbing.
type run struct {
	desc    Descriptor
	cancel  context.CancelFunc
	done    chan struct{}
	cleanup func()
}

// Orchestrator runs attacks against a plant, at most one live run per kind.
// Every injector polls its context at one-second granularity or finer, so
// Stop takes effect within a second regardless of the configured duration.
type Orchestrator struct {
	mu     sync.Mutex
	active map[string]*run

	shaper   NetworkShaper
	tamperer SensorTamperer
	injector CommandInjector
	events   EventWriter
	log      *slog.Logger
	now      func() time.Time
}

// NewOrchestrator wires the orchestrator against a plant engine (which
// satisfies all three mutation interfaces) and an event sink.
func NewOrchestrator(shaper NetworkShaper, tamperer SensorTamperer, injector CommandInjector, events EventWriter, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		active:   make(map[string]*run),
		shaper:   shaper,
		tamperer: tamperer,
		injector: injector,
		events:   events,
		log:      log,
		now:      time.Now,
	}
}

// Start launches the injector for kind. Starting an already-active kind is
// rejected with a warning and leaves the running attack untouched.
func (o *Orchestrator) Start(ctx context.Context, kind string, params Params) error {
	inject, err := o.injectorFor(kind)
	if err != nil {
		return err
	}
	if params.Duration <= 0 {
		params.Duration = 60 * time.Second
	}

	o.mu.Lock()
	if _, ok := o.active[kind]; ok {
		o.mu.Unlock()
		o.log.Warn("attack already active, ignoring start", "kind", kind)
		return fmt.Errorf("%w: %s", ErrAttackActive, kind)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{
		desc: Descriptor{
			ID:     uuid.New().String(),
			Kind:   kind,
			Params: params,
			Start:  o.now(),
			Status: StatusActive,
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.active[kind] = r
	o.mu.Unlock()

	o.log.Info("attack starting", "kind", kind, "id", r.desc.ID, "duration", params.Duration)
	o.emit(r.desc, telemetry.EventAttackStart)

	go func() {
		cleanup := inject(runCtx, params)
		o.mu.Lock()
		if cleanup != nil {
			r.cleanup = cleanup
		}
		o.mu.Unlock()
		close(r.done)
		// Natural expiry: tear the attack down as if stopped. done is already
		// closed, so Stop proceeds to cleanup without waiting.
		if runCtx.Err() == nil {
			o.Stop(kind)
		}
	}()
	return nil
}

// injectorFor maps a kind to its injector. Each injector returns its cleanup
// function, which must be idempotent.
func (o *Orchestrator) injectorFor(kind string) (func(context.Context, Params) func(), error) {
	switch kind {
	case KindDoS:
		return o.runDoS, nil
	case KindNetworkDelay:
		return o.runNetworkDelay, nil
	case KindPacketLoss:
		return o.runPacketLoss, nil
	case KindJitter:
		return o.runJitter, nil
	case KindFalseData:
		return o.runFalseData, nil
	case KindTiming:
		return o.runTiming, nil
	case KindReplay:
		return o.runReplay, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAttack, kind)
	}
}

// Stop cancels the attack of the given kind, or every active attack for
// "all". Cleanup runs unconditionally, even when the injector already errored
// or finished, and is safe to invoke twice.
func (o *Orchestrator) Stop(kind string) {
	if kind == "all" {
		for _, k := range o.activeKinds() {
			o.Stop(k)
		}
		return
	}

	o.mu.Lock()
	r, ok := o.active[kind]
	if !ok {
		o.mu.Unlock()
		return
	}
	r.desc.Status = StatusStopping
	delete(o.active, kind)
	o.mu.Unlock()

	r.cancel()
	select {
	case <-r.done:
	case <-time.After(time.Second):
		o.log.Warn("attack injector slow to exit, cleaning up anyway", "kind", kind)
	}

	o.mu.Lock()
	cleanup := r.cleanup
	o.mu.Unlock()
	if cleanup != nil {
		cleanup()
	}

	elapsed := o.now().Sub(r.desc.Start)
	o.log.Info("attack stopped", "kind", kind, "id", r.desc.ID, "ran", elapsed)
	o.emit(r.desc, telemetry.EventAttackStop)
}

func (o *Orchestrator) activeKinds() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	kinds := make([]string, 0, len(o.active))
	for k := range o.active {
		kinds = append(kinds, k)
	}
	return kinds
}

// Active reports whether the kind currently has a live run.
func (o *Orchestrator) Active(kind string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[kind]
	return ok
}

// Status returns a snapshot of every live attack, keyed by kind.
func (o *Orchestrator) Status() map[string]Descriptor {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	out := make(map[string]Descriptor, len(o.active))
	for k, r := range o.active {
		d := r.desc
		d.Elapsed = now.Sub(d.Start)
		out[k] = d
	}
	return out
}

// StopAll tears down every active attack. Called on shutdown.
func (o *Orchestrator) StopAll() { o.Stop("all") }

func (o *Orchestrator) emit(desc Descriptor, event string) {
	if o.events == nil {
		return
	}
	row := telemetry.AttackEventRow{
		AttackID:  desc.ID,
		Kind:      desc.Kind,
		Event:     event,
		Params:    desc.Params.String(),
		Timestamp: o.now(),
	}
	if err := o.events.WriteAttackEvent(row); err != nil {
		o.log.Error("attack event write failed", "kind", desc.Kind, "err", err)
	}
}
