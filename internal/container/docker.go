// Package container drives a containerized toolchain through the docker CLI.
package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mblsha/pfcore/internal/command"
)

const (
	// MountPoint is where the bind-mounted host folder appears in the container.
	MountPoint = "/build"

	defaultBin      = "docker"
	defaultPlatform = "linux/amd64"

	cpuCountCommand = "grep --count ^processor /proc/cpuinfo"
)

// ErrEngineNotRunning is returned when the docker daemon does not answer.
var ErrEngineNotRunning = errors.New("docker engine does not seem to be running")

// RunError reports a container command that exited non-zero.
type RunError struct {
	Image    string
	Command  []string
	ExitCode int
	Output   []string
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s in %s exited %d", strings.Join(e.Command, " "), e.Image, e.ExitCode)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Service wraps the docker CLI. The zero value is not usable; use New.
type Service struct {
	Runner   command.Runner
	Bin      string
	Platform string
	// Stream receives command output when a Run is not quiet.
	Stream io.Writer
	Logger *slog.Logger
}

func New(runner command.Runner, bin, platform string, stream io.Writer, logger *slog.Logger) *Service {
	if runner == nil {
		runner = command.OSRunner{}
	}
	if strings.TrimSpace(bin) == "" {
		bin = defaultBin
	}
	if strings.TrimSpace(platform) == "" {
		platform = defaultPlatform
	}
	if stream == nil {
		stream = io.Discard
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{Runner: runner, Bin: bin, Platform: platform, Stream: stream, Logger: logger}
}

// IsEngineRunning probes the daemon. A missing docker executable is an
// error; a daemon that does not answer is simply false.
func (s *Service) IsEngineRunning(ctx context.Context) (bool, error) {
	if err := s.Runner.Require(s.Bin); err != nil {
		return false, err
	}
	_, err := s.Runner.Run(ctx, command.Spec{Name: s.Bin, Args: []string{"ps"}}, io.Discard, io.Discard)
	if err != nil {
		if errors.Is(err, command.ErrNotFound) || ctx.Err() != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// HasImage reports whether ref ("repository:tag") is present locally. A
// reference without exactly one colon is never considered present.
func (s *Service) HasImage(ctx context.Context, ref string) (bool, error) {
	repo, tag, ok := splitRef(ref)
	if !ok {
		return false, nil
	}

	var stdout, stderr bytes.Buffer
	if _, err := s.Runner.Run(ctx, command.Spec{Name: s.Bin, Args: []string{"images"}}, &stdout, &stderr); err != nil {
		return false, fmt.Errorf("list docker images: %w", withStderr(err, stderr.String()))
	}
	for _, line := range command.Lines(stdout.String()) {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[0] == repo && fields[1] == tag {
			return true, nil
		}
	}
	return false, nil
}

// DetectParallelism counts the processing units visible inside a container
// of ref. Output that is not a single positive integer yields 1.
func (s *Service) DetectParallelism(ctx context.Context, ref string) (int, error) {
	lines, err := s.Run(ctx, ref, strings.Fields(cpuCountCommand), "", true)
	if err != nil {
		return 0, err
	}
	return parseCPUCount(lines), nil
}

// Run executes argv in a throwaway container of ref, optionally bind-mounting
// mount at MountPoint. Output is returned as lines and, unless quiet, also
// streamed. Pulling a missing image can block for a long time.
func (s *Service) Run(ctx context.Context, ref string, argv []string, mount string, quiet bool) ([]string, error) {
	running, err := s.IsEngineRunning(ctx)
	if err != nil {
		return nil, err
	}
	if !running {
		return nil, ErrEngineNotRunning
	}

	present, err := s.HasImage(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !present {
		if err := s.pull(ctx, ref); err != nil {
			return nil, err
		}
	}

	spec := s.runSpec(ref, argv, mount)
	s.Logger.Debug("docker run", "command", spec.String())

	var captured, stderr bytes.Buffer
	var stdout io.Writer = &captured
	if !quiet {
		stdout = io.MultiWriter(&captured, s.Stream)
	}
	exitCode, runErr := s.Runner.Run(ctx, spec, stdout, &stderr)
	lines := command.Lines(captured.String())
	if runErr != nil {
		if exitCode <= 0 {
			return lines, fmt.Errorf("docker run %s: %w", ref, withStderr(runErr, stderr.String()))
		}
		return lines, &RunError{Image: ref, Command: argv, ExitCode: exitCode, Output: lines, Err: withStderr(runErr, stderr.String())}
	}
	return lines, nil
}

func (s *Service) pull(ctx context.Context, ref string) error {
	s.Logger.Warn("docker needs to download image, this may take a while", "image", ref)
	var stderr bytes.Buffer
	spec := command.Spec{Name: s.Bin, Args: []string{"pull", "--platform", s.Platform, ref}}
	if _, err := s.Runner.Run(ctx, spec, s.Stream, &stderr); err != nil {
		return fmt.Errorf("pull image %s: %w", ref, withStderr(err, stderr.String()))
	}
	return nil
}

func (s *Service) runSpec(ref string, argv []string, mount string) command.Spec {
	args := []string{"run", "--platform", s.Platform, "-t", "--rm"}
	if mount != "" {
		args = append(args, "-v", mount+":"+MountPoint, "-w", MountPoint)
	}
	args = append(args, ref)
	args = append(args, argv...)
	return command.Spec{Name: s.Bin, Args: args}
}

func splitRef(ref string) (string, string, bool) {
	parts := strings.Split(ref, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func parseCPUCount(lines []string) int {
	if len(lines) != 1 {
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || n <= 0 {
		return 1
	}
	return n
}

func withStderr(err error, stderr string) error {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}
