package inventory

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tinkerbell/hook/internal/runner"
	"github.com/tinkerbell/hook/internal/sed"
)

// SEDResetter is the part of the SED engine the collector needs.
type SEDResetter interface {
	Reset(ctx context.Context) (*sed.Report, error)
}

// Collector gathers the hardware inventory from host tools and sysfs.
type Collector struct {
	Runner runner.Runner
	// SED is optional; when nil NVMe devices are listed without a reset run.
	SED SEDResetter
	// SysRoot and DevRoot default to /sys and /dev.
	SysRoot string
	DevRoot string
	Logger  zerolog.Logger
}

// Collect runs every section. It never fails; broken sections carry their
// error shape.
func (c *Collector) Collect(ctx context.Context) *Info {
	info := &Info{
		CPU:           c.cpu(ctx),
		NVMeList:      c.nvmeList(ctx),
		LSHW:          c.lshw(ctx),
		SSDPerNUMA:    c.ssdPerNUMA(),
		NVDIMM:        c.nvdimm(ctx),
		LoadedNVMeDev: c.loadedNVMeDevices(),
		BlockDevices:  c.blockDevices(ctx),
		Numactl:       c.numactl(ctx),
		Lightfield:    c.lightfield(ctx),
	}
	info.CPU["Architecture"] = "x86_64"

	return info
}

func (c *Collector) sysPath(elem ...string) string {
	root := c.SysRoot
	if root == "" {
		root = "/sys"
	}
	return filepath.Join(append([]string{root}, elem...)...)
}

func (c *Collector) devRoot() string {
	if c.DevRoot == "" {
		return "/dev"
	}
	return c.DevRoot
}

func (c *Collector) cpu(ctx context.Context) map[string]any {
	out, err := c.Runner.Run(ctx, "lscpu", "--json")
	if err != nil {
		c.Logger.Error().Err(err).Msg("lscpu failed")
		return map[string]any{"error": err.Error()}
	}

	cpu, err := ParseLscpu(out)
	if err != nil {
		c.Logger.Error().Err(err).Msg("lscpu output unreadable")
		return map[string]any{"error": err.Error()}
	}
	return cpu
}

// ParseLscpu flattens `lscpu --json` into field/value pairs. Field names lose
// their trailing ':' and a "(s)" suffix, so "CPU(s):" becomes "CPU".
func ParseLscpu(data []byte) (map[string]any, error) {
	var raw struct {
		Lscpu []struct {
			Field string `json:"field"`
			Data  any    `json:"data"`
		} `json:"lscpu"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode lscpu")
	}

	cpu := make(map[string]any, len(raw.Lscpu))
	for _, prop := range raw.Lscpu {
		name := strings.TrimSuffix(strings.TrimSpace(prop.Field), ":")
		name = strings.TrimSuffix(name, "(s)")
		cpu[name] = prop.Data
	}
	return cpu, nil
}

func (c *Collector) nvmeList(ctx context.Context) any {
	// mdev populates /dev on the busybox boot image; elsewhere udev already did.
	if _, err := c.Runner.Run(ctx, "mdev", "-s"); err != nil {
		c.Logger.Debug().Err(err).Msg("mdev -s failed")
	}

	out, err := c.Runner.Run(ctx, "nvme", "list", "-o", "json")
	if err != nil {
		c.Logger.Error().Err(err).Msg("nvme list failed")
		return SectionError{Error: err.Error()}
	}

	var list NVMeList
	if err := json.Unmarshal(out, &list); err != nil {
		c.Logger.Error().Err(err).Msg("nvme list output unreadable")
		return SectionError{Error: errors.Wrap(err, "decode nvme list").Error()}
	}

	if c.SED == nil {
		return &list
	}

	report, err := c.SED.Reset(ctx)
	if err != nil {
		c.Logger.Error().Err(err).Msg("sed reset aborted")
		list.Error = err.Error()
		return &list
	}

	applied := list.ApplySED(report.Fragment)
	c.Logger.Info().Int("devices", len(list.Devices)).Int("sed", applied).Msg("nvme list annotated")

	return &list
}

func (c *Collector) lshw(ctx context.Context) any {
	out, err := c.Runner.Run(ctx, "lshw", "-json")
	if err != nil {
		c.Logger.Error().Err(err).Msg("lshw failed")
		return map[string]any{}
	}

	var v any
	if err := json.Unmarshal(out, &v); err != nil {
		c.Logger.Error().Err(err).Msg("lshw output unreadable")
		return map[string]any{}
	}
	return v
}

func (c *Collector) nvdimm(ctx context.Context) any {
	out, err := c.Runner.Run(ctx, "ndctl", "list", "-vv")
	if err != nil {
		c.Logger.Error().Err(err).Msg("ndctl failed")
		return []any{}
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return []any{}
	}

	var v any
	if err := json.Unmarshal(out, &v); err != nil {
		c.Logger.Error().Err(err).Msg("ndctl output unreadable")
		return []any{}
	}
	return v
}

// nvmeControllers lists /sys/class/nvme entries; empty when the class is
// missing.
func (c *Collector) nvmeControllers() []string {
	entries, err := os.ReadDir(c.sysPath("class", "nvme"))
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// ssdPerNUMA counts NVMe controllers per socket. Nodes 0 and 3 sit on the
// first socket and nodes 1 and 2 on the second.
func (c *Collector) ssdPerNUMA() map[string]int {
	ctrls := c.nvmeControllers()
	if len(ctrls) == 0 {
		c.Logger.Info().Msg("no nvme controllers found")
		return map[string]int{}
	}

	counts := map[string]int{"numa0": 0, "numa1": 0}
	for _, name := range ctrls {
		data, err := os.ReadFile(c.sysPath("class", "nvme", name, "device", "numa_node"))
		if err != nil {
			c.Logger.Debug().Err(err).Str("controller", name).Msg("numa_node unreadable")
			continue
		}
		switch strings.TrimSpace(string(data)) {
		case "0", "3":
			counts["numa0"]++
		case "1", "2":
			counts["numa1"]++
		}
	}
	return counts
}

func (c *Collector) loadedNVMeDevices() []string {
	if len(c.nvmeControllers()) == 0 {
		return []string{}
	}

	entries, err := os.ReadDir(c.devRoot())
	if err != nil {
		c.Logger.Error().Err(err).Msg("reading device nodes failed")
		return []string{}
	}

	devs := []string{}
	for _, e := range entries {
		if strings.Contains(e.Name(), "nvme") {
			devs = append(devs, e.Name())
		}
	}
	sort.Strings(devs)
	return devs
}
