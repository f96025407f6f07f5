package sed

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSedutil behaves like `sedutil-cli --PSIDrevert <psid> <device>`:
// the wrong PSID fails with a message on stderr.
const fakeSedutil = `#!/bin/sh
if [ "$1" != "--PSIDrevert" ]; then
	echo "unexpected arguments: $*" >&2
	exit 2
fi
if [ "$2" != "GOODPSID" ]; then
	echo "method status code NOT_AUTHORIZED" >&2
	echo "auth failure" >&2
	exit 1
fi
echo "revertTper completed successfully on $3"
exit 0
`

func writeFakeSedutil(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "sedutil-cli")
	require.NoError(t, os.WriteFile(path, []byte(fakeSedutil), 0o755))
	return path
}

func waitDone(t *testing.T, p Process) error {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if done, err := p.Poll(); done {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("process did not exit")
	return nil
}

func TestExecLauncherSuccess(t *testing.T) {
	bin := writeFakeSedutil(t)
	sink, err := NewTempSink(t.TempDir())
	require.NoError(t, err)
	defer sink.Release()

	p, err := ExecLauncher{Path: bin}.Launch("GOODPSID", "/dev/nvme0", sink)
	require.NoError(t, err)
	assert.NoError(t, waitDone(t, p))

	text, err := sink.Text()
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExecLauncherFailureCapturesStderr(t *testing.T) {
	bin := writeFakeSedutil(t)
	sink, err := NewTempSink(t.TempDir())
	require.NoError(t, err)
	defer sink.Release()

	p, err := ExecLauncher{Path: bin}.Launch("BADPSID", "/dev/nvme0", sink)
	require.NoError(t, err)
	assert.Error(t, waitDone(t, p))

	text, err := sink.Text()
	require.NoError(t, err)
	assert.Equal(t, "method status code NOT_AUTHORIZED; auth failure", text)
}

func TestExecLauncherMissingBinary(t *testing.T) {
	_, err := ExecLauncher{Path: filepath.Join(t.TempDir(), "missing")}.Launch("x", "/dev/nvme0", &fakeSink{})
	assert.Error(t, err)
}

func TestOrchestratorWithRealProcesses(t *testing.T) {
	bin := writeFakeSedutil(t)
	sinkDir := t.TempDir()

	o := &Orchestrator{
		Secrets:      staticSecrets(map[string]string{"A": "BADPSID", "B": "GOODPSID"}),
		Launcher:     ExecLauncher{Path: bin},
		NewSink:      TempSinkFactory(sinkDir),
		PollInterval: 5 * time.Millisecond,
		Logger:       testLogger(),
	}

	rs := o.Run(context.Background(), identities("A", "/dev/nvme0", "B", "/dev/nvme1", "C", "/dev/nvme2"))

	require.Len(t, rs, 3)
	assert.Equal(t, StatusFailed, rs["A"].Status)
	assert.Equal(t, "method status code NOT_AUTHORIZED; auth failure", rs["A"].Detail)
	assert.Equal(t, StatusSucceeded, rs["B"].Status)
	assert.Equal(t, StatusSkipped, rs["C"].Status)

	entries, err := os.ReadDir(sinkDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "diagnostic files must be removed")
}
