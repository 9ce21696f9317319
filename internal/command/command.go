// Package command runs external tools (docker, git) behind a narrow Runner
// interface so callers can be tested with recording fakes.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ErrNotFound is returned when the requested executable is not on PATH.
var ErrNotFound = errors.New("command not found")

type Spec struct {
	Name string
	Args []string
	Dir  string
}

func (s Spec) String() string {
	return strings.TrimSpace(s.Name + " " + strings.Join(s.Args, " "))
}

type Runner interface {
	// Require reports ErrNotFound when name cannot be executed.
	Require(name string) error
	Run(ctx context.Context, spec Spec, stdout, stderr io.Writer) (int, error)
}

type OSRunner struct{}

func (OSRunner) Require(name string) error {
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (OSRunner) Run(ctx context.Context, spec Spec, stdout, stderr io.Writer) (int, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), err
	}
	if errors.Is(err, exec.ErrNotFound) {
		return -1, fmt.Errorf("%w: %s", ErrNotFound, spec.Name)
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	return -1, err
}

// Lines splits captured output into lines, dropping carriage returns left
// behind by tools attached to a pseudo-terminal and a trailing empty line.
func Lines(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "")
	raw = strings.TrimSuffix(raw, "\n")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}
