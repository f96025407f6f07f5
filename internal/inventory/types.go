package inventory

import (
	"strings"

	"github.com/tinkerbell/hook/internal/sed"
)

// Info is the full hardware inventory reported at check-in. Each section is
// collected independently; a failed section holds its error shape instead of
// aborting the collection.
type Info struct {
	CPU           map[string]any       `json:"cpu"`
	NVMeList      any                  `json:"nvme_list"`
	LSHW          any                  `json:"lshw"`
	SSDPerNUMA    map[string]int       `json:"ssd_per_numa"`
	NVDIMM        any                  `json:"nvdimm"`
	LoadedNVMeDev []string             `json:"loaded_nvme_dev"`
	BlockDevices  []BlockDevice        `json:"block_devices"`
	Numactl       map[string]*NUMANode `json:"numactl"`
	Lightfield    map[string]any       `json:"lightfield"`
}

// SectionError is what a failed section reports.
type SectionError struct {
	Error string `json:"error"`
}

// NVMeList is the decoded output of `nvme list -o json`.
type NVMeList struct {
	Devices []NVMeDevice `json:"Devices"`
	// Error is set when the SED run aborted; the device list is still reported.
	Error string `json:"error,omitempty"`
}

// NVMeDevice keeps every field nvme-cli emitted so nothing is lost on the
// way to the collection service.
type NVMeDevice map[string]any

// Serial returns the SerialNumber field, trimmed.
func (d NVMeDevice) Serial() string {
	return stringField(d, "SerialNumber")
}

// DevicePath returns the DevicePath field.
func (d NVMeDevice) DevicePath() string {
	return stringField(d, "DevicePath")
}

// ApplySED annotates devices whose serial has an entry in the fragment.
// Devices without an entry are left untouched.
func (l *NVMeList) ApplySED(frag sed.Fragment) int {
	applied := 0
	for _, dev := range l.Devices {
		a, ok := frag[dev.Serial()]
		if !ok {
			continue
		}
		dev["is_sed"] = a.IsSED
		if a.Error != "" {
			dev["error"] = a.Error
		}
		applied++
	}
	return applied
}

// NUMANode is one node from `numactl -H`.
type NUMANode struct {
	CPUNum  int    `json:"cpu_num"`
	MemSize string `json:"mem_size,omitempty"`
}

// BlockDevice is one flattened lsblk entry.
type BlockDevice struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Type      string `json:"type"`
	Size      string `json:"size,omitempty"`
	Serial    string `json:"serial,omitempty"`
	WWN       string `json:"wwn,omitempty"`
	Model     string `json:"model,omitempty"`
	Vendor    string `json:"vendor,omitempty"`
	Transport string `json:"tran,omitempty"`
	FSType    string `json:"fstype,omitempty"`
	Parent    string `json:"parent,omitempty"`
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}
