package chaos

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ncs-sim/internal/plant"
	"ncs-sim/internal/telemetry"
)

// fakePlant satisfies the three mutation interfaces with plain in-memory
// state, standing in for the engine.
type fakePlant struct {
	mu       sync.Mutex
	network  plant.NetworkProfile
	attack   plant.AttackProfile
	commands []float64
}

func (f *fakePlant) Network() plant.NetworkProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.network
}

func (f *fakePlant) SetNetworkProfile(p plant.NetworkProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.network = p
}

func (f *fakePlant) Attack() plant.AttackProfile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attack
}

func (f *fakePlant) SetAttackProfile(p plant.AttackProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attack = p
}

func (f *fakePlant) EnqueueCommand(value float64, _ time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, value)
	return true
}

func (f *fakePlant) commandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands)
}

// eventRecorder collects lifecycle events.
type eventRecorder struct {
	mu   sync.Mutex
	rows []telemetry.AttackEventRow
}

func (r *eventRecorder) WriteAttackEvent(row telemetry.AttackEventRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
	return nil
}

func (r *eventRecorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.rows))
	for i, row := range r.rows {
		out[i] = row.Kind + ":" + row.Event
	}
	return out
}

func newTestOrchestrator() (*Orchestrator, *fakePlant, *eventRecorder) {
	fp := &fakePlant{
		network: plant.NetworkProfile{DelayS: 0.01, JitterStdS: 0.002, LossRate: 0.001},
	}
	rec := &eventRecorder{}
	return NewOrchestrator(fp, fp, fp, rec, nil), fp, rec
}

// waitFor polls cond until it holds or two seconds pass. Injectors apply
// their effects from the run goroutine, so tests cannot assert immediately
// after Start returns.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached within 2s")
}

func TestStartRejectsUnknownKind(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	err := o.Start(context.Background(), "emp_burst", Params{})
	if !errors.Is(err, ErrUnknownAttack) {
		t.Errorf("err = %v, want ErrUnknownAttack", err)
	}
}

func TestDuplicateStartRejected(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	defer o.StopAll()

	if err := o.Start(context.Background(), KindNetworkDelay, Params{Duration: time.Minute}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	err := o.Start(context.Background(), KindNetworkDelay, Params{Duration: time.Minute})
	if !errors.Is(err, ErrAttackActive) {
		t.Errorf("second Start err = %v, want ErrAttackActive", err)
	}
}

func TestNetworkDelayAppliesAndStopRestores(t *testing.T) {
	o, fp, _ := newTestOrchestrator()
	base := fp.Network()

	if err := o.Start(context.Background(), KindNetworkDelay, Params{
		Duration: time.Minute,
		Delay:    200 * time.Millisecond,
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return fp.Network().DelayS == 0.2 })

	start := time.Now()
	o.Stop(KindNetworkDelay)
	if took := time.Since(start); took > 1500*time.Millisecond {
		t.Errorf("Stop took %v, want ≤1s plus slack", took)
	}

	after := fp.Network()
	if after.DelayS != base.DelayS || after.JitterStdS != base.JitterStdS {
		t.Errorf("profile after stop = %+v, want baseline %+v", after, base)
	}
	if o.Active(KindNetworkDelay) {
		t.Error("attack still listed as active after Stop")
	}
}

func TestPacketLossRestoreKeepsOtherFields(t *testing.T) {
	o, fp, _ := newTestOrchestrator()

	if err := o.Start(context.Background(), KindPacketLoss, Params{
		Duration: time.Minute,
		LossRate: 0.5,
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return fp.Network().LossRate == 0.5 })

	// Another actor raised the delay while the attack ran. Cleanup must
	// restore only the loss rate.
	cur := fp.Network()
	cur.DelayS = 0.7
	fp.SetNetworkProfile(cur)

	o.Stop(KindPacketLoss)
	after := fp.Network()
	if after.LossRate != 0.001 {
		t.Errorf("loss after stop = %g, want baseline 0.001", after.LossRate)
	}
	if after.DelayS != 0.7 {
		t.Errorf("delay after stop = %g, cleanup clobbered a foreign field", after.DelayS)
	}
}

func TestFalseDataSetsAndClearsSensorAttack(t *testing.T) {
	o, fp, _ := newTestOrchestrator()

	if err := o.Start(context.Background(), KindFalseData, Params{
		Duration: time.Minute,
		Bias:     1.5,
		Noise:    0.2,
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool {
		prof := fp.Attack()
		return prof.SensorAttack && prof.Bias == 1.5 && prof.NoiseStd == 0.2
	})

	o.Stop(KindFalseData)
	prof := fp.Attack()
	if prof.SensorAttack || prof.Bias != 0 || prof.NoiseStd != 0 {
		t.Errorf("attack profile after stop = %+v, want cleared", prof)
	}
}

func TestTimingAttackInjectsForgedCommands(t *testing.T) {
	o, fp, _ := newTestOrchestrator()

	if err := o.Start(context.Background(), KindTiming, Params{Duration: time.Minute}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for fp.commandCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	o.Stop(KindTiming)

	if fp.commandCount() == 0 {
		t.Error("timing attack injected no commands")
	}
}

func TestNaturalExpiryCleansUp(t *testing.T) {
	o, fp, rec := newTestOrchestrator()

	if err := o.Start(context.Background(), KindJitter, Params{
		Duration: 100 * time.Millisecond,
		Jitter:   80 * time.Millisecond,
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for o.Active(KindJitter) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if o.Active(KindJitter) {
		t.Fatal("attack did not expire")
	}
	if got := fp.Network().JitterStdS; got != 0.002 {
		t.Errorf("jitter after expiry = %g, want baseline", got)
	}

	want := []string{"jitter:" + telemetry.EventAttackStart, "jitter:" + telemetry.EventAttackStop}
	got := rec.events()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestNaturalExpiryCleanupIsPrompt(t *testing.T) {
	o, fp, _ := newTestOrchestrator()

	start := time.Now()
	if err := o.Start(context.Background(), KindNetworkDelay, Params{
		Duration: 100 * time.Millisecond,
		Delay:    200 * time.Millisecond,
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool {
		return !o.Active(KindNetworkDelay) && fp.Network().DelayS == 0.01
	})
	// Expiry must clean up right away, not after the stop-wait timeout.
	if took := time.Since(start); took > 700*time.Millisecond {
		t.Errorf("cleanup %v after a 100ms attack, expiry path stalled", took)
	}
}

func TestStopAllTearsDownEverything(t *testing.T) {
	o, fp, _ := newTestOrchestrator()
	ctx := context.Background()

	for _, kind := range []string{KindNetworkDelay, KindPacketLoss, KindFalseData} {
		if err := o.Start(ctx, kind, Params{Duration: time.Minute}); err != nil {
			t.Fatalf("Start(%s): %v", kind, err)
		}
	}
	if got := len(o.Status()); got != 3 {
		t.Fatalf("active attacks = %d, want 3", got)
	}

	o.StopAll()
	if got := len(o.Status()); got != 0 {
		t.Errorf("active attacks after StopAll = %d, want 0", got)
	}
	net := fp.Network()
	if net.DelayS != 0.01 || net.LossRate != 0.001 {
		t.Errorf("network after StopAll = %+v, want baseline", net)
	}
	if fp.Attack().SensorAttack {
		t.Error("sensor attack flag survived StopAll")
	}
}

func TestStatusSnapshot(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	defer o.StopAll()

	if err := o.Start(context.Background(), KindPacketLoss, Params{Duration: time.Minute, LossRate: 0.2}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := o.Status()
	d, ok := status[KindPacketLoss]
	if !ok {
		t.Fatal("packet_loss missing from status")
	}
	if d.Kind != KindPacketLoss || d.Status != StatusActive || d.ID == "" {
		t.Errorf("descriptor = %+v", d)
	}
	if d.Params.LossRate != 0.2 {
		t.Errorf("params loss = %g, want 0.2", d.Params.LossRate)
	}
}

func TestStopUnknownOrIdleKindIsNoOp(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	o.Stop(KindDoS)
	o.Stop("nonexistent")
}

func TestKindsCoverAllInjectors(t *testing.T) {
	o, _, _ := newTestOrchestrator()
	for _, kind := range Kinds() {
		if _, err := o.injectorFor(kind); err != nil {
			t.Errorf("no injector for listed kind %q: %v", kind, err)
		}
	}
}
