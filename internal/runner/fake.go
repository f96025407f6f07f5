package runner

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Response is a canned result for one command line.
type Response struct {
	Stdout string
	Err    error
}

// Fake answers commands from a table keyed by the full command line
// ("sedutil-cli --query /dev/nvme0"). Unknown commands fail with exit 127.
// It is safe for concurrent use.
type Fake struct {
	mu        sync.Mutex
	Responses map[string]Response
	calls     []string
}

// NewFake returns a Fake with an empty response table.
func NewFake() *Fake {
	return &Fake{Responses: make(map[string]Response)}
}

// On registers stdout for a command line.
func (f *Fake) On(line, stdout string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[line] = Response{Stdout: stdout}
	return f
}

// Fail registers an error for a command line.
func (f *Fake) Fail(line string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Responses[line] = Response{Err: err}
	return f
}

// Run implements Runner.
func (f *Fake) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	line := commandLine(name, args)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)

	resp, ok := f.Responses[line]
	if !ok {
		return nil, &CommandError{Command: line, ExitCode: 127, Err: errors.New("no fake response")}
	}
	return []byte(resp.Stdout), resp.Err
}

// Calls returns every command line run so far, in order.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
