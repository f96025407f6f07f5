package inventory

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

const lsblkColumns = "NAME,PATH,TYPE,SIZE,SERIAL,WWN,MODEL,VENDOR,TRAN,FSTYPE,PKNAME"

// lsblkOutput mirrors `lsblk -J`.
type lsblkOutput struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name     string        `json:"name"`
	Path     string        `json:"path"`
	Type     string        `json:"type"`
	Size     string        `json:"size"`
	Serial   string        `json:"serial"`
	WWN      string        `json:"wwn"`
	Model    string        `json:"model"`
	Vendor   string        `json:"vendor"`
	Tran     string        `json:"tran"`
	FSType   string        `json:"fstype"`
	PKName   string        `json:"pkname"`
	Children []lsblkDevice `json:"children,omitempty"`
}

func (c *Collector) blockDevices(ctx context.Context) []BlockDevice {
	out, err := c.Runner.Run(ctx, "lsblk", "-J", "-o", lsblkColumns)
	if err != nil {
		c.Logger.Error().Err(err).Msg("lsblk failed")
		return []BlockDevice{}
	}

	devs, err := ParseLsblk(out)
	if err != nil {
		c.Logger.Error().Err(err).Msg("lsblk output unreadable")
		return []BlockDevice{}
	}

	c.Logger.Debug().Int("devices", len(devs)).Msg("block devices listed")
	return devs
}

// ParseLsblk flattens the lsblk device tree, parents before children.
func ParseLsblk(data []byte) ([]BlockDevice, error) {
	var output lsblkOutput
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, errors.Wrap(err, "decode lsblk")
	}

	devs := []BlockDevice{}
	for _, dev := range output.Blockdevices {
		devs = flattenLsblk(dev, devs)
	}
	return devs, nil
}

func flattenLsblk(dev lsblkDevice, devs []BlockDevice) []BlockDevice {
	bd := BlockDevice{
		Name:      dev.Name,
		Path:      dev.Path,
		Type:      dev.Type,
		Size:      dev.Size,
		Serial:    strings.TrimSpace(dev.Serial),
		WWN:       dev.WWN,
		Model:     strings.TrimSpace(dev.Model),
		Vendor:    strings.TrimSpace(dev.Vendor),
		Transport: dev.Tran,
		FSType:    dev.FSType,
	}
	if bd.Path == "" && dev.Name != "" {
		bd.Path = "/dev/" + dev.Name
	}
	if dev.PKName != "" {
		bd.Parent = "/dev/" + dev.PKName
	}
	devs = append(devs, bd)

	for _, child := range dev.Children {
		devs = flattenLsblk(child, devs)
	}
	return devs
}
