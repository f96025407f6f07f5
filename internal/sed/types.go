package sed

import (
	"sort"
	"time"
)

// ReasonNoSecret is the skip reason recorded for devices without a PSID.
const ReasonNoSecret = "no secret available"

// Device is one entry of the device directory, as listed by a scan.
type Device struct {
	DevicePath          string `json:"device_path"`
	SerialNumber        string `json:"serial_number,omitempty"`
	Model               string `json:"model,omitempty"`
	Firmware            string `json:"firmware,omitempty"`
	TypeTag             string `json:"type,omitempty"`
	IsEncryptionCapable bool   `json:"encryption_capable"`

	// Outcome annotation, set by Aggregate
	IsSED bool   `json:"is_sed,omitempty"`
	Error string `json:"error,omitempty"`
}

// Directory holds scanned devices keyed by device path, remembering scan order.
type Directory struct {
	Devices map[string]*Device `json:"devices"`
	order   []string
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{Devices: make(map[string]*Device)}
}

// Add inserts dev unless its path is already present. It reports whether
// the device was added.
func (d *Directory) Add(dev *Device) bool {
	if _, ok := d.Devices[dev.DevicePath]; ok {
		return false
	}
	d.Devices[dev.DevicePath] = dev
	d.order = append(d.order, dev.DevicePath)
	return true
}

// Get returns the device at path, or nil.
func (d *Directory) Get(path string) *Device {
	return d.Devices[path]
}

// Len returns the number of devices.
func (d *Directory) Len() int {
	return len(d.order)
}

// Paths returns device paths in scan order.
func (d *Directory) Paths() []string {
	return append([]string(nil), d.order...)
}

// Candidates returns the paths of encryption-capable devices in scan order.
func (d *Directory) Candidates() []string {
	var paths []string
	for _, p := range d.order {
		if d.Devices[p].IsEncryptionCapable {
			paths = append(paths, p)
		}
	}
	return paths
}

// Capabilities are the feature flags reported by a descriptor query.
type Capabilities struct {
	Features         []string `json:"features,omitempty"`
	LockingSupported bool     `json:"locking_supported"`
	LockingEnabled   bool     `json:"locking_enabled"`
	Locked           bool     `json:"locked"`
	MediaEncrypt     bool     `json:"media_encrypt"`
}

// Identity is what the resolver learns about one device.
type Identity struct {
	DevicePath   string       `json:"device_path"`
	SerialNumber string       `json:"serial_number"`
	TypeTag      string       `json:"type"`
	Model        string       `json:"model,omitempty"`
	Firmware     string       `json:"firmware,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// Identities maps serial number to identity.
type Identities map[string]Identity

// Serials returns the serial numbers in sorted order.
func (ids Identities) Serials() []string {
	return sortedKeys(ids)
}

// Status is the terminal state of one device.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome is the terminal result for one serial number. Detail carries the
// diagnostic text for failures and the reason for skips.
type Outcome struct {
	Status     Status        `json:"status"`
	Detail     string        `json:"detail,omitempty"`
	DevicePath string        `json:"device_path"`
	Duration   time.Duration `json:"duration,omitempty"`
}

// Succeeded builds a success outcome.
func Succeeded(path string, d time.Duration) Outcome {
	return Outcome{Status: StatusSucceeded, DevicePath: path, Duration: d}
}

// Failed builds a failure outcome carrying diagnostic text.
func Failed(path, diagnostic string, d time.Duration) Outcome {
	return Outcome{Status: StatusFailed, Detail: diagnostic, DevicePath: path, Duration: d}
}

// Skipped builds an outcome for a device that was never launched.
func Skipped(path, reason string) Outcome {
	return Outcome{Status: StatusSkipped, Detail: reason, DevicePath: path}
}

// OK reports whether the reset succeeded.
func (o Outcome) OK() bool {
	return o.Status == StatusSucceeded
}

// ResultSet maps serial number to outcome.
type ResultSet map[string]Outcome

// Serials returns the serial numbers in sorted order.
func (rs ResultSet) Serials() []string {
	return sortedKeys(rs)
}

// Count returns how many outcomes have status s.
func (rs ResultSet) Count(s Status) int {
	n := 0
	for _, o := range rs {
		if o.Status == s {
			n++
		}
	}
	return n
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
