package antipark

import (
	"fmt"
	"strings"
	"time"
)

// Default settings, matching the daemon's historical defaults: touch
// sda every 7 seconds, allow parking after a minute of read quiet,
// back off up to 5 minutes, and treat 5 quiet minutes of PARKED as
// genuine idleness.
const (
	DefaultDevice             = "sda"
	DefaultTouchPath          = "/tmp/antiparkd.tmp"
	DefaultTickInterval       = 7 * time.Second
	DefaultAntiParkTimeout    = 60 * time.Second
	DefaultAntiParkTimeoutMax = 300 * time.Second
	DefaultParkedTimeout      = 300 * time.Second
)

// maxDuration bounds the tick interval and every timeout.
const maxDuration = 3600 * time.Second

// Config holds the daemon's runtime settings. It is validated once
// before the loop starts and never mutated afterwards; the engine only
// ever reads it.
type Config struct {
	// Device is the block device to monitor, named as it appears
	// under /sys/block (for example "sda", not "/dev/sda").
	Device string

	// TouchPath is a writable file residing on Device, overwritten
	// every ANTIPARK tick to generate disk activity.
	TouchPath string

	// TickInterval is the effective period between control-loop
	// ticks.
	TickInterval time.Duration

	// AntiParkTimeout is the baseline read-quiet window that must
	// elapse before the engine stops touching and allows parking.
	AntiParkTimeout time.Duration

	// AntiParkTimeoutMax caps the adaptive anti-park window grown by
	// repeated PARKED interruptions.
	AntiParkTimeoutMax time.Duration

	// ParkedTimeout is how long PARKED must stay quiet before the
	// disk is considered idle and eligible for spindown.
	ParkedTimeout time.Duration

	// SyncBeforeIdle forces a full flush when entering IDLE so a
	// spun-down disk holds no pending write-back data. The flush
	// itself counts as one parking cycle.
	SyncBeforeIdle bool
}

// DefaultConfig returns the daemon's historical default settings.
func DefaultConfig() *Config {
	return &Config{
		Device:             DefaultDevice,
		TouchPath:          DefaultTouchPath,
		TickInterval:       DefaultTickInterval,
		AntiParkTimeout:    DefaultAntiParkTimeout,
		AntiParkTimeoutMax: DefaultAntiParkTimeoutMax,
		ParkedTimeout:      DefaultParkedTimeout,
	}
}

// Validate checks every bound the engine relies on. All violations
// are reported as ErrCodeConfig.
func (c *Config) Validate() error {
	if c.Device == "" {
		return newConfigError("disk", "must not be empty")
	}
	if strings.ContainsRune(c.Device, '/') {
		return newConfigError("disk", "must be a bare device name, not a path")
	}
	if c.TouchPath == "" {
		return newConfigError("touch-file", "must not be empty")
	}
	if err := checkDuration("interval", c.TickInterval); err != nil {
		return err
	}
	if err := checkDuration("antipark-timeout", c.AntiParkTimeout); err != nil {
		return err
	}
	if err := checkDuration("antipark-timeout-max", c.AntiParkTimeoutMax); err != nil {
		return err
	}
	if err := checkDuration("parked-timeout", c.ParkedTimeout); err != nil {
		return err
	}
	if c.AntiParkTimeout > c.AntiParkTimeoutMax {
		return newConfigError("antipark-timeout", "must not exceed antipark-timeout-max")
	}
	return nil
}

func checkDuration(field string, d time.Duration) error {
	if d < 0 || d > maxDuration {
		return newConfigError(field, fmt.Sprintf("must be between 0s and %s", FormatDuration(maxDuration)))
	}
	return nil
}
