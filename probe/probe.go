// Package probe reads block device activity counters from sysfs.
package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	antipark "github.com/behrlich/antiparkd"
)

// statFields is the minimum field count of a well-formed stat line.
// /sys/block/<dev>/stat has carried at least 11 counters on every
// kernel since 2.6.
const statFields = 11

// 0-based positions of the cumulative sector counters within the
// stat line (fields 3 and 7 when counting from 1).
const (
	readSectorsField  = 2
	writeSectorsField = 6
)

// SysfsProbe samples the cumulative read/write sector counters of a
// block device via /sys/block/<device>/stat. It owns the previous
// counter baseline, so Sample must be called exactly once per tick.
type SysfsProbe struct {
	device   string
	statPath string

	lastReadSectors  uint64
	lastWriteSectors uint64
}

// New returns a probe for the named block device ("sda", not
// "/dev/sda").
func New(device string) *SysfsProbe {
	return NewWithPath(device, filepath.Join("/sys", "block", device, "stat"))
}

// NewWithPath returns a probe reading counters from an explicit stat
// file. Tests and non-standard sysfs layouts use this.
func NewWithPath(device, statPath string) *SysfsProbe {
	return &SysfsProbe{device: device, statPath: statPath}
}

// Sample reads the counters and reports whether either advanced since
// the previous successful call. The baseline moves forward
// unconditionally on success, even if the caller subsequently fails
// the tick.
func (p *SysfsProbe) Sample() (antipark.Sample, error) {
	readSectors, writeSectors, err := p.read()
	if err != nil {
		return antipark.Sample{}, err
	}
	s := antipark.Sample{
		ReadChanged:  readSectors != p.lastReadSectors,
		WriteChanged: writeSectors != p.lastWriteSectors,
	}
	p.lastReadSectors = readSectors
	p.lastWriteSectors = writeSectors
	return s, nil
}

// Resync re-reads the counters and discards the delta, so activity
// the daemon itself just generated is not reported by the next
// Sample.
func (p *SysfsProbe) Resync() error {
	_, err := p.Sample()
	return err
}

func (p *SysfsProbe) read() (readSectors, writeSectors uint64, err error) {
	raw, err := os.ReadFile(p.statPath)
	if err != nil {
		return 0, 0, fmt.Errorf("reading %s stats: %w", p.device, err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) < statFields {
		return 0, 0, fmt.Errorf("malformed stat line for %s: %d fields, want at least %d",
			p.device, len(fields), statFields)
	}
	readSectors, err = strconv.ParseUint(fields[readSectorsField], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing read sectors for %s: %w", p.device, err)
	}
	writeSectors, err = strconv.ParseUint(fields[writeSectorsField], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parsing write sectors for %s: %w", p.device, err)
	}
	return readSectors, writeSectors, nil
}

// Compile-time interface check.
var _ antipark.Prober = (*SysfsProbe)(nil)
