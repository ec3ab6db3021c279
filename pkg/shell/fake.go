package shell

import (
	"context"
	"strings"
	"sync"
)

// Fake is a scripted Runner for tests. It records every invocation and
// answers from per-command scripts, succeeding by default.
type Fake struct {
	mu sync.Mutex

	// Calls records every executed command in order.
	Calls []Command

	// Fail maps a command-path substring to the error returned when a
	// matching command runs.
	Fail map[string]error

	// Outputs maps a command-path substring to the text returned by Output
	// for a matching command.
	Outputs map[string]string
}

// NewFake returns an empty Fake that succeeds for every command.
func NewFake() *Fake {
	return &Fake{
		Fail:    make(map[string]error),
		Outputs: make(map[string]string),
	}
}

func (f *Fake) record(cmd Command) {
	f.mu.Lock()
	f.Calls = append(f.Calls, cmd)
	f.mu.Unlock()
}

func (f *Fake) match(cmd Command) (string, error) {
	rendered := cmd.String()
	f.mu.Lock()
	defer f.mu.Unlock()

	for sub, err := range f.Fail {
		if strings.Contains(rendered, sub) {
			return "", err
		}
	}
	for sub, out := range f.Outputs {
		if strings.Contains(rendered, sub) {
			return out, nil
		}
	}
	return "", nil
}

// Run records the command and returns any scripted failure.
func (f *Fake) Run(_ context.Context, cmd Command) error {
	f.record(cmd)
	_, err := f.match(cmd)
	return err
}

// Output records the command and returns the scripted output or failure.
func (f *Fake) Output(_ context.Context, cmd Command) (string, error) {
	f.record(cmd)
	return f.match(cmd)
}

// Ran reports whether any recorded command contains the given substring.
func (f *Fake) Ran(sub string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range f.Calls {
		if strings.Contains(c.String(), sub) {
			return true
		}
	}
	return false
}
