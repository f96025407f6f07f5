package sed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinkerbell/hook/internal/runner"
)

type fakeRecorder struct {
	reports []*Report
	err     error
}

func (r *fakeRecorder) RecordRun(_ context.Context, report *Report) error {
	r.reports = append(r.reports, report)
	return r.err
}

func newTestEngine(fake *runner.Fake, secrets SecretProvider, launcher Launcher) (*Engine, *sinkTracker) {
	sinks := &sinkTracker{}
	e := NewEngine(Options{}, fake, secrets, testLogger())
	e.Orchestrator = newTestOrchestrator(secrets, launcher, sinks)
	return e, sinks
}

func TestEngineEmptyScan(t *testing.T) {
	fake := runner.NewFake().On("sedutil-cli --scan", "")
	e, _ := newTestEngine(fake, staticSecrets(nil), newFakeLauncher(nil))

	report, err := e.Reset(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Empty(t, report.Fragment)
	assert.NotEmpty(t, report.RunID)
}

func TestEngineScanCommandFailure(t *testing.T) {
	fake := runner.NewFake().Fail("sedutil-cli --scan", errors.New("sedutil-cli: not found"))
	e, _ := newTestEngine(fake, staticSecrets(nil), newFakeLauncher(nil))

	report, err := e.Reset(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Results)
}

func TestEngineSingleDeviceSuccess(t *testing.T) {
	fake := runner.NewFake().
		On("sedutil-cli --scan", "Scanning for Opal compliant disks\n/dev/nvme0 2 INTEL SSDPE2KX080T8O VDV10184\n").
		On("sedutil-cli --query /dev/nvme0", "/dev/nvme0 NVMe INTEL SSDPE2KX080T8O VDV10184 SN1\n")
	e, _ := newTestEngine(fake, staticSecrets(map[string]string{"SN1": "P"}), newFakeLauncher(nil))
	rec := &fakeRecorder{}
	e.Recorder = rec

	report, err := e.Reset(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.True(t, report.Results["SN1"].OK())
	assert.Equal(t, Fragment{"SN1": {IsSED: true}}, report.Fragment)

	dev := report.Directory.Get("/dev/nvme0")
	assert.True(t, dev.IsSED)
	assert.Empty(t, dev.Error)

	require.Len(t, rec.reports, 1)
	assert.Same(t, report, rec.reports[0])
}

func TestEngineNoSecret(t *testing.T) {
	fake := runner.NewFake().
		On("sedutil-cli --scan", "/dev/nvme0 2 M F\n").
		On("sedutil-cli --query /dev/nvme0", "/dev/nvme0 NVMe M F SN1\n")
	e, _ := newTestEngine(fake, staticSecrets(nil), newFakeLauncher(nil))

	report, err := e.Reset(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ResultSet{"SN1": Skipped("/dev/nvme0", ReasonNoSecret)}, report.Results)
	assert.Equal(t, Fragment{"SN1": {IsSED: true, Error: "no secret available"}}, report.Fragment)
}

func TestEngineTwoDevicesOneFails(t *testing.T) {
	fake := runner.NewFake().
		On("sedutil-cli --scan", "/dev/nvme0 2 M F\n/dev/nvme1 2 M F\n").
		On("sedutil-cli --query /dev/nvme0", "/dev/nvme0 NVMe M F A\n").
		On("sedutil-cli --query /dev/nvme1", "/dev/nvme1 NVMe M F B\n")
	launcher := newFakeLauncher(map[string]fakeRun{
		"/dev/nvme0": {polls: 3, stderr: "auth failure", exitErr: errors.New("exit status 1")},
		"/dev/nvme1": {polls: 0},
	})
	e, _ := newTestEngine(fake, staticSecrets(map[string]string{"A": "PA", "B": "PB"}), launcher)

	report, err := e.Reset(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, StatusFailed, report.Results["A"].Status)
	assert.Equal(t, "auth failure", report.Results["A"].Detail)
	assert.True(t, report.Results["B"].OK())
	assert.Equal(t, Fragment{
		"A": {IsSED: true, Error: "auth failure"},
		"B": {IsSED: true},
	}, report.Fragment)
}

func TestEngineDuplicateSerialAborts(t *testing.T) {
	fake := runner.NewFake().
		On("sedutil-cli --scan", "/dev/nvme0 2 M F\n/dev/nvme1 2 M F\n").
		On("sedutil-cli --query /dev/nvme0", "/dev/nvme0 NVMe M F SAME\n").
		On("sedutil-cli --query /dev/nvme1", "/dev/nvme1 NVMe M F SAME\n")
	launcher := newFakeLauncher(nil)
	e, _ := newTestEngine(fake, staticSecrets(map[string]string{"SAME": "P"}), launcher)

	_, err := e.Reset(context.Background())
	assert.True(t, errors.Is(err, ErrDuplicateSerial))
	assert.Empty(t, launcher.procs)
}

func TestEngineRecorderErrorIsNotFatal(t *testing.T) {
	fake := runner.NewFake().On("sedutil-cli --scan", "")
	e, _ := newTestEngine(fake, staticSecrets(nil), newFakeLauncher(nil))
	e.Recorder = &fakeRecorder{err: errors.New("database is locked")}

	_, err := e.Reset(context.Background())
	assert.NoError(t, err)
}

// The result set has one entry per resolved device, never more, never fewer.
func TestEngineResultCountMatchesResolved(t *testing.T) {
	fake := runner.NewFake().
		On("sedutil-cli --scan", "/dev/nvme0 2 M F\n/dev/nvme1 2 M F\n/dev/nvme2 2 M F\n/dev/sda No M F\n").
		On("sedutil-cli --query /dev/nvme0", "/dev/nvme0 NVMe M F A\n").
		On("sedutil-cli --query /dev/nvme1", "/dev/nvme1 SATA M F B\n").
		Fail("sedutil-cli --query /dev/nvme2", errors.New("timeout"))
	e, _ := newTestEngine(fake, staticSecrets(map[string]string{"A": "1", "B": "2"}), newFakeLauncher(nil))

	report, err := e.Reset(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Identities, 1)
	assert.Len(t, report.Results, len(report.Identities))
}
