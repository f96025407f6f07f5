package sed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const queryNVMe0 = `/dev/nvme0 NVMe INTEL SSDPE2KX080T8O                     VDV10184 PHLJ128000PC8P0HGN
TPer function (0x0001)
    ACKNAK = N, ASYNC = N. BufferManagement = N, comIDManagement  = N, Streaming = Y, SYNC = Y
Locking function (0x0002)
    Locked = N, LockingEnabled = N, LockingSupported = Y, MBRDone = N, MBREnabled = N, MBRAbsent = N, MediaEncrypt = Y
Geometry function (0x0003)
    Align = Y, Alignment Granularity = 8 (4096), Logical Block size = 512, Lowest Aligned LBA = 0
OPAL 2.0 function (0x0203)
    Base comID = 0x0800, Initial PIN = 0x00, Reverted PIN = 0x00, comIDs = 1
`

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeSink records writes and counts releases.
type fakeSink struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	releases int
}

func (s *fakeSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *fakeSink) Text() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return joinDiagnostic(s.buf.String()), nil
}

func (s *fakeSink) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	if s.releases > 1 {
		return ErrSinkReleased
	}
	return nil
}

type sinkTracker struct {
	mu    sync.Mutex
	sinks []*fakeSink
	fail  bool
}

func (t *sinkTracker) factory() (DiagnosticSink, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return nil, errors.New("disk full")
	}
	s := &fakeSink{}
	t.sinks = append(t.sinks, s)
	return s, nil
}

// fakeProcess exits after a number of polls.
type fakeProcess struct {
	mu        sync.Mutex
	remaining int
	exitErr   error
	polls     int
	killed    bool
	never     bool
	finished  *[]string
	device    string
}

func (p *fakeProcess) Poll() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if p.killed {
		return true, errors.New("killed")
	}
	if p.never {
		return false, nil
	}
	if p.remaining > 0 {
		p.remaining--
		return false, nil
	}
	if p.finished != nil {
		*p.finished = append(*p.finished, p.device)
		p.finished = nil
	}
	return true, p.exitErr
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	return nil
}

type fakeRun struct {
	polls   int
	stderr  string
	exitErr error
	never   bool
	launch  error
}

// fakeLauncher hands out fakeProcesses configured per device path.
type fakeLauncher struct {
	mu       sync.Mutex
	runs     map[string]fakeRun
	procs    map[string]*fakeProcess
	secrets  map[string]string
	finished []string
}

func newFakeLauncher(runs map[string]fakeRun) *fakeLauncher {
	return &fakeLauncher{
		runs:    runs,
		procs:   make(map[string]*fakeProcess),
		secrets: make(map[string]string),
	}
}

func (l *fakeLauncher) Launch(secret, devicePath string, stderr io.Writer) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	run := l.runs[devicePath]
	if run.launch != nil {
		return nil, run.launch
	}
	if run.stderr != "" {
		_, _ = io.WriteString(stderr, run.stderr)
	}
	p := &fakeProcess{
		remaining: run.polls,
		exitErr:   run.exitErr,
		never:     run.never,
		finished:  &l.finished,
		device:    devicePath,
	}
	l.procs[devicePath] = p
	l.secrets[devicePath] = secret
	return p, nil
}

func staticSecrets(m map[string]string) SecretFunc {
	return func(_ context.Context, serial string) (string, error) {
		s, ok := m[serial]
		if !ok {
			return "", errors.New("not found")
		}
		return s, nil
	}
}

func newTestOrchestrator(secrets SecretProvider, l Launcher, sinks *sinkTracker) *Orchestrator {
	return &Orchestrator{
		Secrets:      secrets,
		Launcher:     l,
		NewSink:      sinks.factory,
		PollInterval: time.Millisecond,
		Logger:       testLogger(),
	}
}
