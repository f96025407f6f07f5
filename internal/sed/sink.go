package sed

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// DiagnosticSink captures the error stream of one reset process. It is owned
// by exactly one job and must be released once the job is terminal.
type DiagnosticSink interface {
	io.Writer
	// Text returns the captured output with lines trimmed, blank lines
	// dropped and the rest joined by "; ".
	Text() (string, error)
	// Release closes and removes the sink. A second call returns ErrSinkReleased.
	Release() error
}

// SinkFactory creates a fresh sink for a job.
type SinkFactory func() (DiagnosticSink, error)

// TempSinkFactory returns a SinkFactory creating temporary files in dir
// (os.TempDir when empty).
func TempSinkFactory(dir string) SinkFactory {
	return func() (DiagnosticSink, error) {
		return NewTempSink(dir)
	}
}

// TempSink is a DiagnosticSink backed by a temporary file, so the reset
// process writes straight to the file descriptor.
type TempSink struct {
	f        *os.File
	released bool
}

// NewTempSink creates the temporary file backing a sink.
func NewTempSink(dir string) (*TempSink, error) {
	f, err := os.CreateTemp(dir, "sed-reset-*.err")
	if err != nil {
		return nil, errors.Wrap(err, "create diagnostic file")
	}
	return &TempSink{f: f}, nil
}

// File exposes the backing file so it can be passed to a child process.
func (s *TempSink) File() *os.File {
	return s.f
}

// Name returns the path of the backing file.
func (s *TempSink) Name() string {
	return s.f.Name()
}

func (s *TempSink) Write(p []byte) (int, error) {
	if s.released {
		return 0, ErrSinkReleased
	}
	return s.f.Write(p)
}

// Text implements DiagnosticSink.
func (s *TempSink) Text() (string, error) {
	if s.released {
		return "", ErrSinkReleased
	}
	data, err := os.ReadFile(s.f.Name())
	if err != nil {
		return "", errors.Wrap(err, "read diagnostic file")
	}
	return joinDiagnostic(string(data)), nil
}

// Release implements DiagnosticSink.
func (s *TempSink) Release() error {
	if s.released {
		return ErrSinkReleased
	}
	s.released = true

	closeErr := s.f.Close()
	if err := os.Remove(s.f.Name()); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove diagnostic file")
	}
	return closeErr
}

func joinDiagnostic(s string) string {
	var parts []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, "; ")
}
