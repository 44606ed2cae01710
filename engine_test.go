package antipark

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/behrlich/antiparkd/internal/logging"
)

func testConfig() *Config {
	return &Config{
		Device:             "sda",
		TouchPath:          "/tmp/antiparkd.tmp",
		TickInterval:       7 * time.Second,
		AntiParkTimeout:    60 * time.Second,
		AntiParkTimeoutMax: 300 * time.Second,
		ParkedTimeout:      300 * time.Second,
	}
}

func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *MockProbe, *MockDisk, *ManualClock) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	p := &MockProbe{}
	d := &MockDisk{}
	clock := NewManualClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	log := logging.NewLogger(&logging.Config{
		Level:   logging.LevelError,
		Format:  "text",
		Output:  io.Discard,
		NoColor: true,
	})
	e, err := New(cfg, p, d, &Options{Logger: log, Clock: clock})
	require.NoError(t, err)
	return e, p, d, clock
}

// quietUntilParked advances past the current anti-park window and runs
// one quiet tick, which must land the engine in PARKED.
func quietUntilParked(t *testing.T, e *Engine, clock *ManualClock) {
	t.Helper()
	require.Equal(t, StateAntiPark, e.State())
	clock.Advance(e.CurrentTimeout() + time.Second)
	require.NoError(t, e.tick())
	require.Equal(t, StateParked, e.State())
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.TickInterval = -time.Second
	_, err := New(cfg, &MockProbe{}, &MockDisk{}, nil)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeConfig))

	_, err = New(testConfig(), nil, &MockDisk{}, nil)
	assert.True(t, IsCode(err, ErrCodeConfig))

	_, err = New(testConfig(), &MockProbe{}, nil, nil)
	assert.True(t, IsCode(err, ErrCodeConfig))
}

func TestInitialState(t *testing.T) {
	e, _, _, _ := newTestEngine(t, nil)

	assert.Equal(t, StateAntiPark, e.State())
	assert.Equal(t, uint64(0), e.CycleCount())
	assert.Equal(t, 60*time.Second, e.CurrentTimeout())
	assert.Equal(t, time.Duration(0), e.IdleTime())
}

// Scenario A: with a 60s baseline window and no activity, simulated
// 7s ticks transition to PARKED on the first tick past the window.
func TestQuietAntiParkTransitionsToParked(t *testing.T) {
	e, p, d, clock := newTestEngine(t, nil)

	ticks := 0
	for e.State() == StateAntiPark {
		clock.Advance(7 * time.Second)
		require.NoError(t, e.tick())
		ticks++
		require.LessOrEqual(t, ticks, 20, "never reached PARKED")
	}

	// 63s is the first 7s tick past the 60s window.
	assert.Equal(t, 9, ticks)
	assert.Equal(t, StateParked, e.State())
	assert.Equal(t, uint64(1), e.CycleCount())
	assert.Equal(t, 9, d.Touches(), "every ANTIPARK tick touches")
	assert.Equal(t, 1, p.ResyncCalls(), "baseline resynced on the way into PARKED")
}

// Scenario B: activity during PARKED doubles the window and the new
// ANTIPARK state acts within the same tick.
func TestParkedInterruptionDoublesTimeout(t *testing.T) {
	e, p, d, clock := newTestEngine(t, nil)
	quietUntilParked(t, e, clock)

	touchesBefore := d.Touches()
	p.Queue(Sample{WriteChanged: true})
	clock.Advance(10 * time.Second)
	require.NoError(t, e.tick())

	assert.Equal(t, StateAntiPark, e.State())
	assert.Equal(t, 120*time.Second, e.CurrentTimeout())
	assert.Equal(t, touchesBefore+1, d.Touches(),
		"the re-dispatched ANTIPARK state must touch within the same tick")
	assert.Equal(t, 10*time.Second, e.IdleTime())
}

// Scenario C: repeated PARKED interruptions follow the clamped
// sequence 60 -> 120 -> 240 -> 300 -> 300 -> 300.
func TestTimeoutBackoffClampsAtMax(t *testing.T) {
	e, p, _, clock := newTestEngine(t, nil)

	want := []time.Duration{120, 240, 300, 300, 300}
	for i, w := range want {
		quietUntilParked(t, e, clock)
		p.Queue(Sample{WriteChanged: true})
		clock.Advance(5 * time.Second)
		require.NoError(t, e.tick())

		assert.Equal(t, w*time.Second, e.CurrentTimeout(), "interruption %d", i+1)
		assert.LessOrEqual(t, e.CurrentTimeout(), e.cfg.AntiParkTimeoutMax,
			"adaptive timeout must never exceed the configured ceiling")
	}
}

// Scenario D: recovery from IDLE resets the window to the baseline, no
// matter how far the backoff had grown.
func TestIdleRecoveryResetsTimeout(t *testing.T) {
	e, p, _, clock := newTestEngine(t, nil)

	// Grow the backoff first so the reset is observable.
	quietUntilParked(t, e, clock)
	p.Queue(Sample{WriteChanged: true})
	clock.Advance(5 * time.Second)
	require.NoError(t, e.tick())
	require.Equal(t, 120*time.Second, e.CurrentTimeout())

	// Ride out the doubled window and the PARKED window quietly.
	quietUntilParked(t, e, clock)
	clock.Advance(e.cfg.ParkedTimeout + time.Second)
	require.NoError(t, e.tick())
	require.Equal(t, StateIdle, e.State())

	cyclesBefore := e.CycleCount()
	p.Queue(Sample{ReadChanged: true})
	clock.Advance(time.Minute)
	require.NoError(t, e.tick())

	assert.Equal(t, StateAntiPark, e.State())
	assert.Equal(t, 60*time.Second, e.CurrentTimeout())
	assert.Equal(t, cyclesBefore, e.CycleCount(), "IDLE recovery is not a parking event")
}

// Scenario E: entering IDLE with sync-before-idle flushes exactly once
// and counts one extra cycle.
func TestSyncBeforeIdleCountsACycle(t *testing.T) {
	e, p, d, clock := newTestEngine(t, func(c *Config) {
		c.SyncBeforeIdle = true
	})
	quietUntilParked(t, e, clock)

	syncsBefore := d.Syncs()
	cyclesBefore := e.CycleCount()
	resyncsBefore := p.ResyncCalls()

	clock.Advance(e.cfg.ParkedTimeout + time.Second)
	require.NoError(t, e.tick())

	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, syncsBefore+1, d.Syncs(), "exactly one flush on the way into IDLE")
	assert.Equal(t, cyclesBefore+1, e.CycleCount())
	assert.Equal(t, resyncsBefore+1, p.ResyncCalls())
}

func TestIdleWithoutSyncDoesNotCycle(t *testing.T) {
	e, _, d, clock := newTestEngine(t, nil)
	quietUntilParked(t, e, clock)

	syncsBefore := d.Syncs()
	cyclesBefore := e.CycleCount()

	clock.Advance(e.cfg.ParkedTimeout + time.Second)
	require.NoError(t, e.tick())

	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, syncsBefore, d.Syncs())
	assert.Equal(t, cyclesBefore, e.CycleCount())
}

func TestReadActivityPostponesParking(t *testing.T) {
	e, p, _, clock := newTestEngine(t, nil)

	// 20 ticks of 7s is well past the 60s window, but reads keep
	// arriving.
	for i := 0; i < 20; i++ {
		p.Queue(Sample{ReadChanged: true})
		clock.Advance(7 * time.Second)
		require.NoError(t, e.tick())
	}

	assert.Equal(t, StateAntiPark, e.State())
	assert.Equal(t, uint64(0), e.CycleCount())
}

func TestWriteActivityAloneDoesNotPostponeParking(t *testing.T) {
	e, p, _, clock := newTestEngine(t, nil)

	// Writes do not reset the ANTIPARK window; only reads do.
	ticks := 0
	for e.State() == StateAntiPark {
		p.Queue(Sample{WriteChanged: true})
		clock.Advance(7 * time.Second)
		require.NoError(t, e.tick())
		ticks++
		require.LessOrEqual(t, ticks, 20, "writes alone must not keep the disk unparked")
	}
	assert.Equal(t, StateParked, e.State())
}

func TestPeriodicSyncCadence(t *testing.T) {
	e, p, d, clock := newTestEngine(t, nil)

	// Constant reads hold the engine in ANTIPARK; flushes follow wall
	// time, not tick count. Over 70s the 30s cadence fires at t=35
	// and t=70.
	for i := 0; i < 10; i++ {
		p.Queue(Sample{ReadChanged: true})
		clock.Advance(7 * time.Second)
		require.NoError(t, e.tick())
	}

	assert.Equal(t, 2, d.Syncs())
	assert.Equal(t, 10, d.Touches())
}

func TestIdleTimeAccumulatesAcrossStates(t *testing.T) {
	e, p, _, clock := newTestEngine(t, nil)
	quietUntilParked(t, e, clock)

	// 301s quietly in PARKED, then into IDLE.
	clock.Advance(e.cfg.ParkedTimeout + time.Second)
	require.NoError(t, e.tick())
	require.Equal(t, StateIdle, e.State())
	parkedSpan := e.cfg.ParkedTimeout + time.Second
	assert.Equal(t, parkedSpan, e.IdleTime())

	// Another 100s in IDLE before recovery.
	p.Queue(Sample{ReadChanged: true})
	clock.Advance(100 * time.Second)
	require.NoError(t, e.tick())
	assert.Equal(t, parkedSpan+100*time.Second, e.IdleTime())
}

func TestNextWait(t *testing.T) {
	e, _, _, _ := newTestEngine(t, nil)

	assert.Equal(t, 4*time.Second, e.nextWait(3*time.Second))
	assert.Equal(t, time.Duration(0), e.nextWait(7*time.Second))
	assert.Equal(t, time.Duration(0), e.nextWait(10*time.Second))
	assert.Equal(t, 7*time.Second, e.nextWait(0))
}

func TestTouchFailureIsFatal(t *testing.T) {
	e, _, d, clock := newTestEngine(t, nil)
	d.FailTouch(os.ErrPermission)

	clock.Advance(7 * time.Second)
	err := e.tick()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeTouch))

	var structured *Error
	require.True(t, errors.As(err, &structured))
	assert.Equal(t, "/tmp/antiparkd.tmp", structured.Path)
	assert.Equal(t, "sda", structured.Device)
}

func TestProbeFailureIsFatal(t *testing.T) {
	e, p, _, clock := newTestEngine(t, nil)
	p.FailWith(fmt.Errorf("stats source vanished"))

	clock.Advance(7 * time.Second)
	err := e.tick()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeProbe))

	var structured *Error
	require.True(t, errors.As(err, &structured))
	assert.Equal(t, "sda", structured.Device)
}

func TestRunFailsOnStartupProbe(t *testing.T) {
	e, p, d, _ := newTestEngine(t, nil)
	p.FailWith(fmt.Errorf("no such device"))

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeProbe))
	assert.Equal(t, 0, d.Touches(), "the loop must not start on a broken stats source")
}

func TestRunStopsAtTickBoundary(t *testing.T) {
	e, p, d, _ := newTestEngine(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	p.SampleHook = func(calls int) {
		if calls >= 3 {
			cancel()
		}
	}

	require.NoError(t, e.Run(ctx))
	assert.GreaterOrEqual(t, d.Touches(), 3, "ticks before cancellation ran to completion")
}

func TestRunPropagatesTickErrors(t *testing.T) {
	e, _, d, _ := newTestEngine(t, nil)
	d.FailTouch(os.ErrPermission)

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeTouch))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ANTIPARK", StateAntiPark.String())
	assert.Equal(t, "PARKED", StateParked.String())
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "State(7)", State(7).String())
}
