// Package shell provides the command execution contract the service
// lifecycle depends on. Commands are structured objects rather than shell
// strings, which keeps the lifecycle logic independent of invocation syntax
// and makes the contract mockable for tests.
package shell

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/supernifty/cloudman/internal/logger"
)

// Command describes a single external command invocation.
type Command struct {
	// Path is the program to run.
	Path string

	// Args are the program arguments, not including the program itself.
	Args []string

	// Dir, when set, is the working directory for the invocation.
	Dir string

	// RunAs, when set, runs the command as the named system account via a
	// login shell (su - <account> -c "..."). The caller is assumed to hold
	// the privilege required for the switch.
	RunAs string
}

// String renders the command as it will be invoked.
func (c Command) String() string {
	parts := append([]string{c.Path}, c.Args...)
	s := strings.Join(parts, " ")
	if c.RunAs != "" {
		if c.Dir != "" {
			s = fmt.Sprintf("cd %s; %s", c.Dir, s)
		}
		return fmt.Sprintf("su - %s -c %q", c.RunAs, s)
	}
	return s
}

// Runner executes external commands. Both methods block until the command
// completes; cancellation is delivered through the context.
type Runner interface {
	// Run executes the command and returns an error if it fails to start
	// or exits non-zero.
	Run(ctx context.Context, cmd Command) error

	// Output executes the command and returns its combined standard output,
	// trimmed of surrounding whitespace.
	Output(ctx context.Context, cmd Command) (string, error)
}

// execRunner is the os/exec-backed Runner used in production.
type execRunner struct{}

// NewRunner returns the system Runner.
func NewRunner() Runner {
	return execRunner{}
}

// build assembles the exec.Cmd for a Command, wrapping it in an account
// switch when RunAs is set.
func (execRunner) build(ctx context.Context, cmd Command) *exec.Cmd {
	if cmd.RunAs == "" {
		c := exec.CommandContext(ctx, cmd.Path, cmd.Args...)
		c.Dir = cmd.Dir
		return c
	}

	// su gets a single shell string; cd into Dir inside it so the working
	// directory applies to the target account's shell.
	line := strings.Join(append([]string{cmd.Path}, cmd.Args...), " ")
	if cmd.Dir != "" {
		line = fmt.Sprintf("cd %s; %s", cmd.Dir, line)
	}
	return exec.CommandContext(ctx, "su", "-", cmd.RunAs, "-c", line)
}

func (r execRunner) Run(ctx context.Context, cmd Command) error {
	c := r.build(ctx, cmd)
	logger.Debug("Running command", "command", cmd.String())

	out, err := c.CombinedOutput()
	if err != nil {
		return fmt.Errorf("command %q failed: %w (output: %s)",
			cmd.String(), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (r execRunner) Output(ctx context.Context, cmd Command) (string, error) {
	c := r.build(ctx, cmd)
	logger.Debug("Capturing command output", "command", cmd.String())

	out, err := c.Output()
	if err != nil {
		return "", fmt.Errorf("command %q failed: %w", cmd.String(), err)
	}
	return strings.TrimSpace(string(out)), nil
}
