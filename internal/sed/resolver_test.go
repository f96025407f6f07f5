package sed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkerbell/hook/internal/runner"
)

func TestParseDescriptor(t *testing.T) {
	id, err := ParseDescriptor("/dev/nvme0", queryNVMe0)
	require.NoError(t, err)

	assert.Equal(t, "/dev/nvme0", id.DevicePath)
	assert.Equal(t, "NVMe", id.TypeTag)
	assert.Equal(t, "PHLJ128000PC8P0HGN", id.SerialNumber)
	assert.Equal(t, "VDV10184", id.Firmware)
	assert.Equal(t, "INTEL SSDPE2KX080T8O", id.Model)

	caps := id.Capabilities
	assert.True(t, caps.LockingSupported)
	assert.False(t, caps.LockingEnabled)
	assert.False(t, caps.Locked)
	assert.True(t, caps.MediaEncrypt)
	assert.Equal(t, []string{"TPer", "Locking", "Geometry", "OPAL 2.0"}, caps.Features)
}

func TestParseDescriptorErrors(t *testing.T) {
	_, err := ParseDescriptor("/dev/nvme0", "Invalid or unsupported disk /dev/nvme9\n")
	assert.True(t, errors.Is(err, ErrDescriptorMissing))

	_, err = ParseDescriptor("/dev/nvme0", "/dev/nvme0 NVMe SERIAL\n")
	assert.True(t, errors.Is(err, ErrDescriptorMalformed))
}

func TestResolve(t *testing.T) {
	dir, err := ParseScanString(`/dev/nvme0 2 INTEL SSDPE2KX080T8O VDV10184
/dev/nvme1 2 SAMSUNG MZWLJ1T9HBJR EPK9CB5Q
/dev/sda 2 ATA DISK 1.0
/dev/sdb No ATA DISK 1.0
`)
	require.NoError(t, err)

	fake := runner.NewFake().
		On("sedutil-cli --query /dev/nvme0", queryNVMe0).
		Fail("sedutil-cli --query /dev/nvme1", errors.New("device not responding")).
		On("sedutil-cli --query /dev/sda", "/dev/sda SATA ATA DISK 1.0 S3ATA0001\n")

	r := &Resolver{Runner: fake, Logger: testLogger()}
	ids, err := r.Resolve(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, ids, 1)
	id, ok := ids["PHLJ128000PC8P0HGN"]
	require.True(t, ok)
	assert.Equal(t, "/dev/nvme0", id.DevicePath)

	dev := dir.Get("/dev/nvme0")
	assert.Equal(t, "PHLJ128000PC8P0HGN", dev.SerialNumber)
	assert.Equal(t, "NVMe", dev.TypeTag)

	assert.Empty(t, dir.Get("/dev/nvme1").SerialNumber)
	assert.Empty(t, dir.Get("/dev/sda").SerialNumber)
	assert.NotContains(t, fake.Calls(), "sedutil-cli --query /dev/sdb")
}

func TestResolveDuplicateSerial(t *testing.T) {
	dir, err := ParseScanString("/dev/nvme0 2 A 1\n/dev/nvme1 2 A 1\n")
	require.NoError(t, err)

	fake := runner.NewFake().
		On("sedutil-cli --query /dev/nvme0", "/dev/nvme0 NVMe A 1 SAME\n").
		On("sedutil-cli --query /dev/nvme1", "/dev/nvme1 NVMe A 1 SAME\n")

	r := &Resolver{Runner: fake, Logger: testLogger()}
	ids, err := r.Resolve(context.Background(), dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateSerial))
	assert.Contains(t, err.Error(), "/dev/nvme0")
	assert.Contains(t, err.Error(), "/dev/nvme1")
	assert.Nil(t, ids)
}

func TestResolveCustomTypeTag(t *testing.T) {
	dir, err := ParseScanString("/dev/sda 2 ATA DISK 1.0\n")
	require.NoError(t, err)

	fake := runner.NewFake().
		On("/usr/sbin/sedutil-cli --query /dev/sda", "/dev/sda SATA ATA DISK 1.0 S3ATA0001\n")

	r := &Resolver{Runner: fake, SedutilPath: "/usr/sbin/sedutil-cli", TypeTag: "sata", Logger: testLogger()}
	ids, err := r.Resolve(context.Background(), dir)
	require.NoError(t, err)
	assert.Contains(t, ids, "S3ATA0001")
}
