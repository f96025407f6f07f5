package inventory

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"
)

// Lightfield accelerators show up under these PCI IDs.
var reLightfieldPCI = regexp.MustCompile(`(?i)8764|1d9a`)

// lightfield reports accelerator PCI functions. The per-socket probe and
// programming tool sections are not collected on this image and keep their
// "found no device" shape.
func (c *Collector) lightfield(ctx context.Context) map[string]any {
	notFound := func() map[string]any {
		return map[string]any{"errcode": 1, "error": "found no device"}
	}

	section := map[string]any{
		"lspci": map[string]string{},
		"numa0": notFound(),
		"numa1": notFound(),
		"programtool": map[string]any{
			"numa0": map[string]any{},
			"numa1": map[string]any{},
		},
	}

	out, err := c.Runner.Run(ctx, "lspci", "-nn")
	if err != nil {
		c.Logger.Debug().Err(err).Msg("lspci failed")
		return section
	}
	section["lspci"] = ParseLightfieldPCI(out)

	return section
}

// ParseLightfieldPCI maps the PCI slot of every matching lspci line to the
// rest of its description, e.g. "3b:00" to "Processing accelerators ...".
func ParseLightfieldPCI(data []byte) map[string]string {
	found := make(map[string]string)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !reLightfieldPCI.MatchString(line) {
			continue
		}
		slot, rest, ok := strings.Cut(line, ".")
		if !ok {
			continue
		}
		// drop the function digit that follows the dot
		if len(rest) >= 2 {
			rest = rest[2:]
		} else {
			rest = ""
		}
		found[strings.TrimSpace(slot)] = strings.TrimSpace(rest)
	}

	return found
}
