package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"SELF_TEST_BASE_URL", "MAC", "IP", "ID", "HWINFO_SED_MAX_WAIT", "HWINFO_LOG_LEVEL"} {
		if v, ok := os.LookupEnv(name); ok {
			require.NoError(t, os.Unsetenv(name))
			t.Cleanup(func() { os.Setenv(name, v) })
		}
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(Options{
		File:        writeFile(t, "config.yaml", "{}\n"),
		CmdlinePath: filepath.Join(t.TempDir(), "missing"),
	})
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "sedutil-cli", cfg.SED.SedutilPath)
	assert.Equal(t, "nvme", cfg.SED.TypeTag)
	assert.Equal(t, 100*time.Millisecond, cfg.SED.PollInterval)
	assert.Zero(t, cfg.SED.MaxWait)
	assert.Equal(t, 10, cfg.Report.Tries)
	assert.Equal(t, time.Hour, cfg.Report.SleepAfter)
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)

	file := writeFile(t, "config.yaml", `
self_test_base_url: http://from-file:50007
mac: 00:00:00:00:00:01
id: file-id
log_level: debug
sed:
  max_wait: 10m
  poll_interval: 250ms
report:
  tries: 3
`)
	cmdline := writeFile(t, "cmdline", "BOOT_IMAGE=/vmlinuz SELF_TEST_BASE_URL=http://labgw:50007 hw_addr=0c:c4:7a:85:7d:d6 plan=rack02-server75 console=ttyS0\n")

	t.Setenv("ID", "env-id")
	t.Setenv("HWINFO_SED_MAX_WAIT", "90s")

	cfg, err := Load(Options{File: file, CmdlinePath: cmdline})
	require.NoError(t, err)

	assert.Equal(t, "http://labgw:50007", cfg.SelfTestBaseURL)
	assert.Equal(t, "0c:c4:7a:85:7d:d6", cfg.MAC)
	assert.Equal(t, "env-id", cfg.ID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 90*time.Second, cfg.SED.MaxWait)
	assert.Equal(t, 250*time.Millisecond, cfg.SED.PollInterval)
	assert.Equal(t, 3, cfg.Report.Tries)
}

func TestLoadLogLevelFlagWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("HWINFO_LOG_LEVEL", "warn")

	cfg, err := Load(Options{
		File:        writeFile(t, "config.yaml", "log_level: debug\n"),
		CmdlinePath: filepath.Join(t.TempDir(), "missing"),
		LogLevel:    "error",
	})
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.LogLevel)
}

func TestLoadBadYAML(t *testing.T) {
	clearEnv(t)

	_, err := Load(Options{File: writeFile(t, "config.yaml", "sed: [\n")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(Options{File: filepath.Join(t.TempDir(), "nope.yaml")})
	assert.True(t, errors.Is(err, ErrConfig))
}

func TestApplyCmdline(t *testing.T) {
	cfg := Default()
	ApplyCmdline(cfg, "self_test_base_url=http://x:1/?a=b MAC=aa IP=10.0.0.2 ID=one worker_id=bb quiet")

	assert.Equal(t, "http://x:1/?a=b", cfg.SelfTestBaseURL)
	assert.Equal(t, "bb", cfg.MAC)
	assert.Equal(t, "10.0.0.2", cfg.IP)
	assert.Equal(t, "one", cfg.ID)
}

func TestVerify(t *testing.T) {
	cfg := Default()
	_, err := cfg.Verify()
	assert.True(t, errors.Is(err, ErrConfig))

	cfg.SelfTestBaseURL = "http://labgw:50007"
	_, err = cfg.Verify()
	assert.ErrorContains(t, err, "mac")

	cfg.MAC = "aa"
	_, err = cfg.Verify()
	assert.ErrorContains(t, err, "id")

	cfg.ID = "server75"
	warnings, err := cfg.Verify()
	require.NoError(t, err)
	assert.Len(t, warnings, 1)
	assert.Equal(t, "no-ip", cfg.IP)
}
