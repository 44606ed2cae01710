package antipark

import (
	"context"
	"fmt"
	"time"

	"github.com/behrlich/antiparkd/internal/logging"
)

// State identifies the control loop's current mode.
type State int

const (
	// StateAntiPark keeps the disk touched so the heads stay loaded.
	StateAntiPark State = iota
	// StateParked lets the heads park; writes may buffer upstream.
	StateParked
	// StateIdle is PARKED plus spindown eligibility. Recovery from
	// IDLE restarts the anti-park backoff at its baseline.
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateAntiPark:
		return "ANTIPARK"
	case StateParked:
		return "PARKED"
	case StateIdle:
		return "IDLE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	// syncCadence is the wall-time spacing of periodic flushes while
	// in ANTIPARK, independent of the tick interval.
	syncCadence = 30 * time.Second

	// settlePause lets the device quiesce after a forced flush before
	// the probe baseline is resynchronized.
	settlePause = time.Second

	// maxRedispatch bounds same-tick state re-evaluation. A single
	// tick traverses at most two states before reaching one that is
	// stable until the next tick boundary.
	maxRedispatch = 4
)

// Options tweaks engine construction. The zero value uses the default
// logger, unregistered metrics, and the real clock.
type Options struct {
	Logger  *logging.Logger
	Metrics *Metrics
	Clock   Clock
}

// Engine owns the three-state control loop. It is driven from a single
// goroutine by Run and is not safe for concurrent use.
type Engine struct {
	cfg     *Config
	probe   Prober
	disk    Disk
	clock   Clock
	log     *logging.Logger
	metrics *Metrics

	state        State
	parkTimeout  time.Duration // adaptive anti-park window
	timeoutStart time.Time     // start of the current qualifying window
	stateStart   time.Time     // entry time of the current state
	startTime    time.Time
	lastSync     time.Time
	cycles       uint64        // head load/unload events caused or allowed
	idleTime     time.Duration // total time spent in PARKED or IDLE
}

// New builds an engine from a configuration, validating it first.
func New(cfg *Config, p Prober, d Disk, opts *Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if p == nil {
		return nil, NewError("new", ErrCodeConfig, "a probe is required")
	}
	if d == nil {
		return nil, NewError("new", ErrCodeConfig, "a disk is required")
	}
	if opts == nil {
		opts = &Options{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	now := clock.Now()
	e := &Engine{
		cfg:          cfg,
		probe:        p,
		disk:         d,
		clock:        clock,
		log:          log,
		metrics:      metrics,
		state:        StateAntiPark,
		parkTimeout:  cfg.AntiParkTimeout,
		timeoutStart: now,
		stateStart:   now,
		startTime:    now,
		lastSync:     now,
	}
	e.metrics.setState(e.state)
	return e, nil
}

// State returns the current control-loop state. Like all accessors it
// must only be called from the goroutine driving the engine.
func (e *Engine) State() State { return e.state }

// CycleCount returns the number of head load/unload cycles the loop
// has caused or allowed so far. It never decreases.
func (e *Engine) CycleCount() uint64 { return e.cycles }

// IdleTime returns the accumulated time spent in PARKED or IDLE.
func (e *Engine) IdleTime() time.Duration { return e.idleTime }

// CurrentTimeout returns the adaptive anti-park window in effect.
func (e *Engine) CurrentTimeout() time.Duration { return e.parkTimeout }

// Run executes the control loop until ctx is cancelled. Cancellation
// is only observed between ticks so no tick ever sees the machine
// half-transitioned. Any returned error is fatal.
func (e *Engine) Run(ctx context.Context) error {
	// Fail fast on a broken stats source, and swallow the boot-time
	// counter delta in the same motion.
	if err := e.probe.Resync(); err != nil {
		return e.probeErr("resync", err)
	}
	e.logSettings()

	for {
		if ctx.Err() != nil {
			e.log.Info("shutdown observed, stopping control loop",
				"state", e.state.String(),
				"uptime", FormatDuration(e.clock.Now().Sub(e.startTime)),
				"cycles", e.cycles)
			return nil
		}

		start := e.clock.Now()
		if err := e.tick(); err != nil {
			return err
		}
		body := e.clock.Now().Sub(start)
		e.metrics.observeTick(body)

		if wait := e.nextWait(body); wait > 0 {
			select {
			case <-ctx.Done():
			case <-e.clock.After(wait):
			}
		}
	}
}

// nextWait returns how long to pause before the next tick so the
// effective period between tick starts stays close to TickInterval.
// A tick that overran the interval is followed immediately; there are
// no catch-up bursts and no skipped ticks.
func (e *Engine) nextWait(tickBody time.Duration) time.Duration {
	wait := e.cfg.TickInterval - tickBody
	if wait < 0 {
		return 0
	}
	return wait
}

// tick samples activity once and re-dispatches the state machine until
// it settles in a state that is stable until the next boundary.
func (e *Engine) tick() error {
	sample, err := e.probe.Sample()
	if err != nil {
		return e.probeErr("sample", err)
	}
	for i := 0; i < maxRedispatch; i++ {
		again, err := e.step(sample)
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
	return nil
}

// step evaluates the current state against one activity sample and
// reports whether the resulting state must be re-evaluated within the
// same tick.
func (e *Engine) step(sample Sample) (bool, error) {
	switch e.state {
	case StateAntiPark:
		return e.stepAntiPark(sample)
	case StateParked:
		return e.stepParked(sample)
	case StateIdle:
		return e.stepIdle(sample)
	}
	return false, nil
}

func (e *Engine) stepAntiPark(sample Sample) (bool, error) {
	now := e.clock.Now()

	// Genuine read traffic postpones parking indefinitely.
	if sample.ReadChanged {
		e.timeoutStart = now
	}

	if err := e.disk.Touch(); err != nil {
		return false, e.touchErr(err)
	}
	e.metrics.Touches.Inc()

	if now.Sub(e.lastSync) >= syncCadence {
		if err := e.disk.Sync(); err != nil {
			return false, e.syncErr(err)
		}
		e.metrics.Flushes.Inc()
		e.lastSync = now
	}

	if now.Sub(e.timeoutStart) > e.parkTimeout {
		e.log.Info("switching to PARKED",
			"time_in_state", FormatDuration(now.Sub(e.stateStart)))

		// Flush what our own touching left dirty, let the device
		// settle, then drop the resulting counter delta so it does
		// not read back as external activity next tick.
		if err := e.disk.Sync(); err != nil {
			return false, e.syncErr(err)
		}
		e.metrics.Flushes.Inc()
		e.clock.Sleep(settlePause)
		if err := e.probe.Resync(); err != nil {
			return false, e.probeErr("resync", err)
		}

		e.recordCycle()
		e.transition(StateParked)
	}
	return false, nil
}

func (e *Engine) stepParked(sample Sample) (bool, error) {
	now := e.clock.Now()

	if sample.ReadChanged || sample.WriteChanged {
		// Interrupted while parked: the disk is evidently still in
		// use, so the next anti-park window doubles.
		e.parkTimeout *= 2
		if e.parkTimeout > e.cfg.AntiParkTimeoutMax {
			e.parkTimeout = e.cfg.AntiParkTimeoutMax
		}
		e.accumulateIdle(now)
		e.log.Info("disk activity while PARKED, switching to ANTIPARK",
			"timeout", FormatDuration(e.parkTimeout),
			"time_parked", FormatDuration(now.Sub(e.stateStart)))
		e.transition(StateAntiPark)
		return true, nil
	}

	if now.Sub(e.timeoutStart) > e.cfg.ParkedTimeout {
		e.accumulateIdle(now)
		e.log.Info("switching to IDLE",
			"time_parked", FormatDuration(now.Sub(e.stateStart)))

		if e.cfg.SyncBeforeIdle {
			// This flush wakes the heads one more time, so it counts
			// as a parking cycle of its own.
			e.log.Info("syncing disks before IDLE")
			if err := e.disk.Sync(); err != nil {
				return false, e.syncErr(err)
			}
			e.metrics.Flushes.Inc()
			e.clock.Sleep(settlePause)
			if err := e.probe.Resync(); err != nil {
				return false, e.probeErr("resync", err)
			}
			e.recordCycle()
		}

		e.transition(StateIdle)
		return true, nil
	}

	return false, nil
}

func (e *Engine) stepIdle(sample Sample) (bool, error) {
	if !sample.ReadChanged && !sample.WriteChanged {
		return false, nil
	}
	now := e.clock.Now()

	// Recovery from genuine idleness is a fresh usage session: the
	// backoff accumulated by PARKED interruptions does not carry over.
	e.parkTimeout = e.cfg.AntiParkTimeout
	e.accumulateIdle(now)
	e.log.Info("disk activity while IDLE, switching to ANTIPARK",
		"timeout", FormatDuration(e.parkTimeout),
		"time_idle", FormatDuration(now.Sub(e.stateStart)))
	e.logStats(now)
	e.transition(StateAntiPark)
	return true, nil
}

// transition resets both timers and enters the new state. The two
// timers are never reset independently here; the only independent
// reset is the read-activity postponement inside stepAntiPark.
func (e *Engine) transition(s State) {
	now := e.clock.Now()
	e.timeoutStart = now
	e.stateStart = now
	e.state = s
	e.metrics.setState(s)
}

func (e *Engine) recordCycle() {
	e.cycles++
	e.metrics.Cycles.Inc()
}

func (e *Engine) accumulateIdle(now time.Time) {
	d := now.Sub(e.stateStart)
	if d < 0 {
		return
	}
	e.idleTime += d
	e.metrics.IdleSeconds.Add(d.Seconds())
}

func (e *Engine) logSettings() {
	e.log.Info("starting control loop",
		"device", e.cfg.Device,
		"touch_path", e.cfg.TouchPath)
	e.log.Info("settings",
		"interval", FormatDuration(e.cfg.TickInterval),
		"antipark_timeout", FormatDuration(e.cfg.AntiParkTimeout),
		"antipark_timeout_max", FormatDuration(e.cfg.AntiParkTimeoutMax),
		"parked_timeout", FormatDuration(e.cfg.ParkedTimeout),
		"sync_before_idle", e.cfg.SyncBeforeIdle)
}

// logStats emits the summary reported whenever IDLE is interrupted.
// Rate calculations guard against a zero uptime.
func (e *Engine) logStats(now time.Time) {
	uptime := now.Sub(e.startTime)
	var idlePct, cyclesPerHour float64
	if uptime > 0 {
		idlePct = e.idleTime.Seconds() / uptime.Seconds() * 100
		cyclesPerHour = float64(e.cycles) / uptime.Hours()
	}
	e.log.Info("current stats",
		"uptime", FormatDuration(uptime),
		"idle_time", FormatDuration(e.idleTime),
		"idle_pct", fmt.Sprintf("%.0f%%", idlePct),
		"cycles", e.cycles,
		"cycles_per_hour", fmt.Sprintf("%.1f", cyclesPerHour))
}

func (e *Engine) probeErr(op string, err error) error {
	werr := WrapError(op, ErrCodeProbe, err)
	werr.Device = e.cfg.Device
	return werr
}

func (e *Engine) touchErr(err error) error {
	werr := WrapError("touch", ErrCodeTouch, err)
	werr.Device = e.cfg.Device
	werr.Path = e.cfg.TouchPath
	return werr
}

func (e *Engine) syncErr(err error) error {
	werr := WrapError("sync", ErrCodeSync, err)
	werr.Device = e.cfg.Device
	return werr
}
