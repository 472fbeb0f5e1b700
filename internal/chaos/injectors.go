package chaos

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"ncs-sim/internal/plant"
)

// pollStep bounds how long an injector waits between context checks, so an
// external stop is observed promptly even for long attack durations.
const pollStep = 500 * time.Millisecond

// waitOut blocks until the duration elapses or the context is cancelled,
// polling at pollStep granularity. Returns false on cancellation.
func waitOut(ctx context.Context, d time.Duration) bool {
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(pollStep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case now := <-ticker.C:
			if !now.Before(deadline) {
				return true
			}
		}
	}
}

// runDoS floods the target with UDP datagrams at roughly the configured
// bandwidth. A dial failure degrades to an idle wait so the attack lifecycle
// still behaves normally.
func (o *Orchestrator) runDoS(ctx context.Context, p Params) func() {
	target := p.Target
	if target == "" {
		target = "127.0.0.1:9"
	}
	mbps := p.BandwidthMbps
	if mbps <= 0 {
		mbps = 10
	}

	conn, err := net.Dial("udp", target)
	if err != nil {
		o.log.Error("dos flood dial failed, idling for duration", "target", target, "err", err)
		waitOut(ctx, p.Duration)
		return func() {}
	}

	var once sync.Once
	cleanup := func() { once.Do(func() { _ = conn.Close() }) }

	payload := make([]byte, 1024)
	// datagrams per second for the requested rate at 1KiB per packet
	pps := mbps * 1e6 / 8 / float64(len(payload))
	interval := time.Duration(float64(time.Second) / pps)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	deadline := time.Now().Add(p.Duration)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return cleanup
		case now := <-ticker.C:
			if !now.Before(deadline) {
				return cleanup
			}
			if _, err := conn.Write(payload); err != nil {
				o.log.Debug("dos flood write failed", "err", err)
			}
		}
	}
}

// runNetworkDelay raises the channel delay (and jitter when given) for the
// duration, then restores the prior values.
func (o *Orchestrator) runNetworkDelay(ctx context.Context, p Params) func() {
	delay := p.Delay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	baseline := o.shaper.Network()

	shaped := o.shaper.Network()
	shaped.DelayS = delay.Seconds()
	if p.Jitter > 0 {
		shaped.JitterStdS = p.Jitter.Seconds()
	}
	o.shaper.SetNetworkProfile(shaped)

	cleanup := o.restoreNetwork(func(cur *plant.NetworkProfile, base plant.NetworkProfile) {
		cur.DelayS = base.DelayS
		cur.JitterStdS = base.JitterStdS
	}, baseline)

	waitOut(ctx, p.Duration)
	return cleanup
}

// runPacketLoss raises the channel loss probability for the duration.
func (o *Orchestrator) runPacketLoss(ctx context.Context, p Params) func() {
	loss := p.LossRate
	if loss <= 0 {
		loss = 0.03
	}
	baseline := o.shaper.Network()

	shaped := o.shaper.Network()
	shaped.LossRate = loss
	o.shaper.SetNetworkProfile(shaped)

	cleanup := o.restoreNetwork(func(cur *plant.NetworkProfile, base plant.NetworkProfile) {
		cur.LossRate = base.LossRate
	}, baseline)

	waitOut(ctx, p.Duration)
	return cleanup
}

// runJitter raises the channel jitter for the duration.
func (o *Orchestrator) runJitter(ctx context.Context, p Params) func() {
	jitter := p.Jitter
	if jitter <= 0 {
		jitter = 20 * time.Millisecond
	}
	baseline := o.shaper.Network()

	shaped := o.shaper.Network()
	shaped.JitterStdS = jitter.Seconds()
	o.shaper.SetNetworkProfile(shaped)

	cleanup := o.restoreNetwork(func(cur *plant.NetworkProfile, base plant.NetworkProfile) {
		cur.JitterStdS = base.JitterStdS
	}, baseline)

	waitOut(ctx, p.Duration)
	return cleanup
}

// runFalseData flips the sensor attack flag with the configured bias and
// noise, clearing it again on cleanup.
func (o *Orchestrator) runFalseData(ctx context.Context, p Params) func() {
	bias := p.Bias
	if bias == 0 {
		bias = 0.5
	}
	noise := p.Noise
	if noise == 0 {
		noise = 0.1
	}

	prof := o.tamperer.Attack()
	prof.SensorAttack = true
	prof.Bias = bias
	prof.NoiseStd = noise
	o.tamperer.SetAttackProfile(prof)

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			cur := o.tamperer.Attack()
			cur.SensorAttack = false
			cur.Bias = 0
			cur.NoiseStd = 0
			o.tamperer.SetAttackProfile(cur)
		})
	}

	waitOut(ctx, p.Duration)
	return cleanup
}

// runTiming forges control commands stamped with a skewed issue time at 10Hz.
// The skew defeats the arrival ordering the receiver expects.
func (o *Orchestrator) runTiming(ctx context.Context, p Params) func() {
	offset := p.TimeOffset
	if offset == 0 {
		offset = 100 * time.Millisecond
	}

	deadline := time.Now().Add(p.Duration)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return func() {}
		case now := <-ticker.C:
			if !now.Before(deadline) {
				return func() {}
			}
			forged := rand.Float64()*2 - 1
			o.injector.EnqueueCommand(forged, now.Add(offset))
		}
	}
}

// runReplay re-sends a small set of stale command values with old issue
// times at 2Hz.
func (o *Orchestrator) runReplay(ctx context.Context, p Params) func() {
	stale := []float64{0.5, -0.3, 0.8}

	deadline := time.Now().Add(p.Duration)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return func() {}
		case now := <-ticker.C:
			if !now.Before(deadline) {
				return func() {}
			}
			value := stale[rand.Intn(len(stale))]
			age := time.Duration(5+rand.Float64()*25) * time.Second
			o.injector.EnqueueCommand(value, now.Add(-age))
		}
	}
}

// restoreNetwork builds an idempotent cleanup restoring only the fields this
// attack touched. It re-reads the live profile at cleanup time so concurrent
// attacks on other fields are not clobbered.
func (o *Orchestrator) restoreNetwork(restore func(cur *plant.NetworkProfile, base plant.NetworkProfile), base plant.NetworkProfile) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			live := o.shaper.Network()
			restore(&live, base)
			o.shaper.SetNetworkProfile(live)
		})
	}
}
