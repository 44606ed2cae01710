// Package antipark implements the control loop of a head-parking
// prevention daemon for rotating disks.
//
// The engine cycles through three states. In ANTIPARK it writes a small
// payload to a file on the monitored disk every tick so the drive
// firmware never sees enough idle time to park the heads. Once reads
// have been quiet for long enough it stops touching and lets the heads
// park (PARKED), and after a further quiet stretch the disk becomes
// eligible for spindown (IDLE). A disk that keeps interrupting PARKED
// is granted exponentially longer anti-park windows up to a configured
// ceiling; a disk recovering from genuine IDLE starts fresh at the
// baseline window.
package antipark

import "time"

// Sample reports whether the monitored device's cumulative I/O
// counters advanced since the previous probe call.
type Sample struct {
	ReadChanged  bool
	WriteChanged bool
}

// Prober samples per-device activity counters. Sample must be called
// exactly once per tick: the implementation owns the previous-counter
// baseline and moves it forward on every successful call, so extra
// calls skew the delta. Resync reads and discards one sample, which
// the engine uses after its own deliberate I/O so that resumed
// touching is not mistaken for external activity.
type Prober interface {
	Sample() (Sample, error)
	Resync() error
}

// Disk performs the device-facing side effects of the control loop.
type Disk interface {
	// Touch writes a small payload with synchronous durability to a
	// file on the monitored disk, generating just enough I/O to keep
	// the heads loaded.
	Touch() error

	// Sync forces all dirty write-back buffers to stable storage,
	// system wide.
	Sync() error
}

// Clock abstracts monotonic time so the engine can be driven by a
// simulated clock in tests. Sleep is used for the short settle pause
// after a forced flush; After is used for the inter-tick wait.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
	After(d time.Duration) <-chan time.Time
}

// realClock is the Clock used outside of tests.
type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
