// Package disk implements the device-facing side effects of the
// control loop: anti-park touch writes and system-wide flushes.
package disk

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	antipark "github.com/behrlich/antiparkd"
)

// touchPayload is what every touch writes. Content is irrelevant to
// the drive firmware; only the synchronous write reaching the platters
// matters.
var touchPayload = []byte("park")

// SyncDisk touches a file on the monitored device with synchronous
// durability and flushes the system's write-back caches on demand.
type SyncDisk struct {
	path string
}

// New returns a SyncDisk writing to the given touch file path. The
// path must reside on the monitored device or the touches are
// pointless.
func New(touchPath string) *SyncDisk {
	return &SyncDisk{path: touchPath}
}

// Touch overwrites the touch file with a small payload. O_SYNC makes
// the write itself hit stable storage before returning.
func (d *SyncDisk) Touch() error {
	f, err := os.OpenFile(d.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|os.O_SYNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening touch file %s: %w", d.path, err)
	}
	if _, err := f.Write(touchPayload); err != nil {
		f.Close()
		return fmt.Errorf("writing touch file %s: %w", d.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing touch file %s: %w", d.path, err)
	}
	return nil
}

// Sync forces all dirty buffers to stable storage, system wide.
// sync(2) cannot fail.
func (d *SyncDisk) Sync() error {
	unix.Sync()
	return nil
}

// Compile-time interface check.
var _ antipark.Disk = (*SyncDisk)(nil)
