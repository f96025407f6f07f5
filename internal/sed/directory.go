package sed

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// ParseScan reads `sedutil-cli --scan` output:
//
//	Scanning for Opal compliant disks
//	/dev/nvme0  2      INTEL SSDPE2KX080T8O                     VDV10184
//	/dev/sda   No      Samsung SSD 860 EVO 500GB                RVT04B6Q
//
// Lines that do not start with a /dev path, or lack the Opal column, are
// skipped. A "No" in the Opal column marks the device as not
// encryption-capable. Empty input yields an empty directory.
func ParseScan(r io.Reader) (*Directory, error) {
	dir := NewDirectory()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		dev, ok := parseScanLine(scanner.Text())
		if !ok {
			continue
		}
		dir.Add(dev)
	}
	if err := scanner.Err(); err != nil {
		return dir, errors.Wrap(err, "read scan output")
	}

	return dir, nil
}

// ParseScanString is ParseScan over a string.
func ParseScanString(s string) (*Directory, error) {
	return ParseScan(strings.NewReader(s))
}

func parseScanLine(line string) (*Device, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "/dev/") {
		return nil, false
	}

	dev := &Device{
		DevicePath:          fields[0],
		IsEncryptionCapable: !strings.EqualFold(fields[1], "no"),
	}

	switch rest := fields[2:]; {
	case len(rest) >= 2:
		dev.Model = strings.Join(rest[:len(rest)-1], " ")
		dev.Firmware = rest[len(rest)-1]
	case len(rest) == 1:
		dev.Model = rest[0]
	}

	return dev, true
}
