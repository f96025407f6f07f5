package sed

import (
	"bufio"
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/tinkerbell/hook/internal/runner"
)

// DefaultTypeTag is the descriptor type kept by the resolver.
const DefaultTypeTag = "nvme"

var (
	reFeature = regexp.MustCompile(`^\s*(.+?) function \(0x[0-9A-Fa-f]+\)`)
	reFlag    = regexp.MustCompile(`([A-Za-z][A-Za-z ]*?)\s*=\s*([YN])\b`)
)

// Resolver queries candidate devices and maps serial numbers to identities.
type Resolver struct {
	Runner      runner.Runner
	SedutilPath string
	TypeTag     string
	Logger      zerolog.Logger
}

type queryResult struct {
	identity Identity
	err      error
}

// Resolve queries every encryption-capable device in dir concurrently.
// Devices whose query fails, or whose type tag does not match, are left out.
// Resolved devices in dir get their serial, model and type filled in.
//
// Two paths reporting the same serial abort resolution with ErrDuplicateSerial.
func (r *Resolver) Resolve(ctx context.Context, dir *Directory) (Identities, error) {
	candidates := dir.Candidates()
	ids := make(Identities, len(candidates))
	if len(candidates) == 0 {
		return ids, nil
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]queryResult, len(candidates))

	for _, path := range candidates {
		wg.Add(1)
		go func(device string) {
			defer wg.Done()
			id, err := r.query(ctx, device)
			mu.Lock()
			results[device] = queryResult{identity: id, err: err}
			mu.Unlock()
		}(path)
	}
	wg.Wait()

	tag := r.typeTag()
	for _, path := range candidates {
		res := results[path]
		if res.err != nil {
			r.Logger.Error().Err(res.err).Str("device", path).Msg("descriptor query failed, excluding device")
			continue
		}

		id := res.identity
		if !strings.EqualFold(id.TypeTag, tag) {
			r.Logger.Debug().Str("device", path).Str("type", id.TypeTag).Msg("skipping device with non-matching type")
			continue
		}

		if prev, dup := ids[id.SerialNumber]; dup {
			return nil, errors.Wrapf(ErrDuplicateSerial, "serial %s reported by %s and %s",
				id.SerialNumber, prev.DevicePath, id.DevicePath)
		}
		ids[id.SerialNumber] = id

		dev := dir.Get(path)
		dev.SerialNumber = id.SerialNumber
		dev.TypeTag = id.TypeTag
		if id.Model != "" {
			dev.Model = id.Model
		}
		if id.Firmware != "" {
			dev.Firmware = id.Firmware
		}
	}

	return ids, nil
}

func (r *Resolver) query(ctx context.Context, device string) (Identity, error) {
	out, err := r.Runner.Run(ctx, r.sedutil(), "--query", device)
	if err != nil {
		return Identity{}, errors.Wrap(err, "sedutil query")
	}
	return ParseDescriptor(device, string(out))
}

func (r *Resolver) sedutil() string {
	if r.SedutilPath == "" {
		return DefaultSedutilPath
	}
	return r.SedutilPath
}

func (r *Resolver) typeTag() string {
	if r.TypeTag == "" {
		return DefaultTypeTag
	}
	return r.TypeTag
}

// ParseDescriptor parses `sedutil-cli --query <device>` output. The first
// line naming the device is the descriptor:
//
//	/dev/nvme0 NVMe INTEL SSDPE2KX080T8O                     VDV10184 PHLJ128000PC8P0HGN
//
// i.e. path, type tag, model words, firmware and serial number. The feature
// blocks that follow are parsed into Capabilities.
func ParseDescriptor(device, output string) (Identity, error) {
	var descriptor []string
	var body []string

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		if descriptor == nil {
			fields := strings.Fields(line)
			if len(fields) > 0 && fields[0] == device {
				descriptor = fields
			}
			continue
		}
		body = append(body, line)
	}
	if err := scanner.Err(); err != nil {
		return Identity{}, errors.Wrap(err, "read query output")
	}

	if descriptor == nil {
		return Identity{}, errors.Wrapf(ErrDescriptorMissing, "device %s", device)
	}
	if len(descriptor) < 4 {
		return Identity{}, errors.Wrapf(ErrDescriptorMalformed, "device %s: %q", device, strings.Join(descriptor, " "))
	}

	n := len(descriptor)
	id := Identity{
		DevicePath:   device,
		TypeTag:      descriptor[1],
		Firmware:     descriptor[n-2],
		SerialNumber: descriptor[n-1],
		Model:        strings.Join(descriptor[2:n-2], " "),
		Capabilities: parseCapabilities(body),
	}

	return id, nil
}

func parseCapabilities(lines []string) Capabilities {
	var caps Capabilities
	for _, line := range lines {
		if m := reFeature.FindStringSubmatch(line); m != nil {
			caps.Features = append(caps.Features, m[1])
			continue
		}
		for _, m := range reFlag.FindAllStringSubmatch(line, -1) {
			set := m[2] == "Y"
			switch strings.TrimSpace(m[1]) {
			case "LockingSupported":
				caps.LockingSupported = set
			case "LockingEnabled":
				caps.LockingEnabled = set
			case "Locked":
				caps.Locked = set
			case "MediaEncrypt":
				caps.MediaEncrypt = set
			}
		}
	}
	return caps
}
