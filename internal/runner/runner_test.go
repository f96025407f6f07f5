package runner

import (
	"context"
	"os/exec"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunStdout(t *testing.T) {
	requireShell(t)

	out, err := Exec{}.Run(context.Background(), "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))
}

func TestExecRunNonZeroCarriesStderr(t *testing.T) {
	requireShell(t)

	_, err := Exec{}.Run(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	require.Error(t, err)

	var cerr *CommandError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 3, cerr.ExitCode)
	assert.Equal(t, "broken", cerr.Stderr)
	assert.Contains(t, err.Error(), "broken")
}

func TestExecRunMissingBinary(t *testing.T) {
	_, err := Exec{}.Run(context.Background(), "definitely-not-a-real-binary-hwinfo")
	require.Error(t, err)

	var cerr *CommandError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, -1, cerr.ExitCode)
	assert.True(t, errors.Is(err, exec.ErrNotFound))
}

func TestFake(t *testing.T) {
	f := NewFake().On("lscpu --json", "{}").Fail("nvme list", errors.New("boom"))

	out, err := f.Run(context.Background(), "lscpu", "--json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))

	_, err = f.Run(context.Background(), "nvme", "list")
	assert.EqualError(t, err, "boom")

	_, err = f.Run(context.Background(), "missing")
	var cerr *CommandError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, 127, cerr.ExitCode)
	assert.Equal(t, "missing: no fake response", err.Error())

	assert.Equal(t, []string{"lscpu --json", "nvme list", "missing"}, f.Calls())
}
