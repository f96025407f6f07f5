package sed

import (
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

// DefaultSedutilPath is the sedutil binary looked up on PATH.
const DefaultSedutilPath = "sedutil-cli"

// Process is a launched reset operation.
type Process interface {
	// Poll reports whether the process has exited without blocking. Once
	// done, err is the exit error (nil for status zero).
	Poll() (done bool, err error)
	// Kill stops the process.
	Kill() error
}

// Launcher starts the external reset for one device.
type Launcher interface {
	Launch(secret, devicePath string, stderr io.Writer) (Process, error)
}

// ExecLauncher runs `sedutil-cli --PSIDrevert <psid> <device>`.
// Launched processes are not tied to a context: once started a reset runs
// until it exits or is killed.
type ExecLauncher struct {
	Path string
}

type fileBacked interface {
	File() *os.File
}

// Launch implements Launcher.
func (l ExecLauncher) Launch(secret, devicePath string, stderr io.Writer) (Process, error) {
	path := l.Path
	if path == "" {
		path = DefaultSedutilPath
	}

	cmd := exec.Command(path, "--PSIDrevert", secret, devicePath)
	cmd.Stderr = stderr
	if fb, ok := stderr.(fileBacked); ok {
		cmd.Stderr = fb.File()
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "start %s", path)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()

	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) wait() {
	p.err = p.cmd.Wait()
	close(p.done)
}

func (p *execProcess) Poll() (bool, error) {
	select {
	case <-p.done:
		return true, p.err
	default:
		return false, nil
	}
}

func (p *execProcess) Kill() error {
	return p.cmd.Process.Kill()
}
