package antipark

import (
	"sync"
	"time"
)

// MockProbe is a scripted Prober for tests. Each Sample call consumes
// the next queued sample; once the script is exhausted it reports no
// activity. It tracks call counts for verification.
type MockProbe struct {
	mu      sync.Mutex
	script  []Sample
	err     error
	samples int
	resyncs int

	// SampleHook, when set, runs after every Sample call with the
	// total number of calls so far. Run-loop tests use it to cancel
	// the driving context after a known number of ticks.
	SampleHook func(calls int)
}

// Queue appends samples to the script in order.
func (p *MockProbe) Queue(samples ...Sample) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.script = append(p.script, samples...)
}

// FailWith makes every subsequent Sample and Resync return err.
func (p *MockProbe) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Sample implements Prober.
func (p *MockProbe) Sample() (Sample, error) {
	p.mu.Lock()
	p.samples++
	calls := p.samples
	err := p.err
	var s Sample
	if err == nil && len(p.script) > 0 {
		s = p.script[0]
		p.script = p.script[1:]
	}
	hook := p.SampleHook
	p.mu.Unlock()

	if hook != nil {
		hook(calls)
	}
	if err != nil {
		return Sample{}, err
	}
	return s, nil
}

// Resync implements Prober. It discards any queued sample, matching a
// real probe's baseline resynchronization.
func (p *MockProbe) Resync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resyncs++
	if p.err != nil {
		return p.err
	}
	if len(p.script) > 0 {
		p.script = p.script[1:]
	}
	return nil
}

// SampleCalls returns how many times Sample was called.
func (p *MockProbe) SampleCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples
}

// ResyncCalls returns how many times Resync was called.
func (p *MockProbe) ResyncCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resyncs
}

// MockDisk records touch and sync side effects and can inject
// failures for either.
type MockDisk struct {
	mu       sync.Mutex
	touches  int
	syncs    int
	touchErr error
	syncErr  error
}

// FailTouch makes every subsequent Touch return err.
func (d *MockDisk) FailTouch(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.touchErr = err
}

// FailSync makes every subsequent Sync return err.
func (d *MockDisk) FailSync(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.syncErr = err
}

// Touch implements Disk.
func (d *MockDisk) Touch() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.touchErr != nil {
		return d.touchErr
	}
	d.touches++
	return nil
}

// Sync implements Disk.
func (d *MockDisk) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.syncErr != nil {
		return d.syncErr
	}
	d.syncs++
	return nil
}

// Touches returns how many touch writes succeeded.
func (d *MockDisk) Touches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.touches
}

// Syncs returns how many flushes succeeded.
func (d *MockDisk) Syncs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.syncs
}

// ManualClock is a deterministic Clock whose time only moves when a
// test advances it. Sleep advances the clock instead of blocking, and
// After advances by the full wait and fires immediately, so simulated
// runs consume no real time.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock returns a clock frozen at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now implements Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleep implements Clock by advancing the simulated time.
func (c *ManualClock) Sleep(d time.Duration) {
	c.Advance(d)
}

// After implements Clock. The wait is simulated in full and the
// returned channel fires immediately.
func (c *ManualClock) After(d time.Duration) <-chan time.Time {
	c.Advance(d)
	ch := make(chan time.Time, 1)
	ch <- c.Now()
	return ch
}

// Compile-time interface checks.
var (
	_ Prober = (*MockProbe)(nil)
	_ Disk   = (*MockDisk)(nil)
	_ Clock  = (*ManualClock)(nil)
)
