package inventory

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"
)

var reNodeLine = regexp.MustCompile(`^node\s+(\d+)\s+(cpus|size):(.*)$`)

func (c *Collector) numactl(ctx context.Context) map[string]*NUMANode {
	out, err := c.Runner.Run(ctx, "numactl", "-H")
	if err != nil {
		c.Logger.Error().Err(err).Msg("numactl failed")
		return map[string]*NUMANode{}
	}
	return ParseNumactl(out)
}

// ParseNumactl reads the cpu count and memory size of every node in
// `numactl -H` output, keyed "numa<N>".
func ParseNumactl(data []byte) map[string]*NUMANode {
	nodes := make(map[string]*NUMANode)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		m := reNodeLine.FindStringSubmatch(strings.TrimSpace(scanner.Text()))
		if m == nil {
			continue
		}

		key := "numa" + m[1]
		node, ok := nodes[key]
		if !ok {
			node = &NUMANode{}
			nodes[key] = node
		}

		switch m[2] {
		case "cpus":
			node.CPUNum = len(strings.Fields(m[3]))
		case "size":
			node.MemSize = strings.TrimSpace(m[3])
		}
	}

	return nodes
}
