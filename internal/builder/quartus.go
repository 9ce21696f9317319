package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mblsha/pfcore/internal/container"
	"github.com/mblsha/pfcore/internal/diagnostics"
	"github.com/mblsha/pfcore/internal/fsutil"
)

// DiagnosticsFile is the compiler error report written to output_files
// after a failed compile.
const DiagnosticsFile = "diagnostics.json"

// DefaultCommand compiles the pf_core revision of the template project.
var DefaultCommand = []string{"quartus_sh", "--flow", "compile", "pf_core"}

// Compiler runs a command inside a toolchain container. *container.Service
// satisfies it.
type Compiler interface {
	Run(ctx context.Context, image string, argv []string, mount string, quiet bool) ([]string, error)
}

type QuartusBuilder struct {
	Compiler Compiler
	// Quiet suppresses streaming of compiler output.
	Quiet bool
}

func NewQuartusBuilder(compiler Compiler, quiet bool) *QuartusBuilder {
	return &QuartusBuilder{Compiler: compiler, Quiet: quiet}
}

func (b *QuartusBuilder) Build(ctx context.Context, job BuildJob) (BuildResult, error) {
	report := func(step, message string) {
		if job.Progress != nil {
			job.Progress(ProgressUpdate{Step: step, Message: message, HeartbeatAt: time.Now().UTC()})
		}
	}

	projectDir, err := resolveDir(job.ProjectDir)
	if err != nil {
		return BuildResult{ExitCode: 1}, err
	}
	argv := job.Command
	if len(argv) == 0 {
		argv = DefaultCommand
	}

	logsDir := filepath.Join(projectDir, "output_files")

	// Neither the bitstream nor the error report of a previous compile may
	// survive this one.
	if err := os.Remove(job.Bitstream); err != nil && !errors.Is(err, os.ErrNotExist) {
		return BuildResult{ExitCode: 1}, fmt.Errorf("remove previous bitstream: %w", err)
	}
	if err := os.Remove(filepath.Join(logsDir, DiagnosticsFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return BuildResult{ExitCode: 1}, fmt.Errorf("remove previous diagnostics: %w", err)
	}

	report("compile", "compiling core bitstream")
	output, runErr := b.Compiler.Run(ctx, job.Image, argv, projectDir, b.Quiet)

	console := strings.Join(output, "\n")
	if len(output) > 0 {
		console += "\n"
	}
	if err := fsutil.WriteBytesAtomic(filepath.Join(logsDir, "console.log"), []byte(console), 0o644); err != nil {
		return BuildResult{ExitCode: 1}, fmt.Errorf("write console log: %w", err)
	}

	if runErr != nil {
		exitCode := -1
		var re *container.RunError
		if errors.As(runErr, &re) {
			exitCode = re.ExitCode
		}
		rep := diagnostics.BuildReport(collectLogs(logsDir))
		writeReport(filepath.Join(logsDir, DiagnosticsFile), rep)
		kind, summary := diagnostics.InferFailure(rep, "", runErr)
		report("failed", summary)
		if exitCode <= 0 {
			return BuildResult{ExitCode: exitCode, Message: "compiler invocation failed", FailureKind: kind}, runErr
		}
		return BuildResult{ExitCode: exitCode, Message: summary, FailureKind: kind}, fmt.Errorf("compile failed (%s): %s: %w", kind, summary, runErr)
	}

	fi, err := os.Stat(job.Bitstream)
	if err != nil {
		return BuildResult{ExitCode: 0, Message: "missing bitstream"}, fmt.Errorf("missing bitstream: %w", err)
	}
	if fi.Size() == 0 {
		return BuildResult{ExitCode: 0, Message: "empty bitstream"}, errors.New("bitstream is empty")
	}

	report("bitstream", "bitstream written")
	return BuildResult{ExitCode: 0, Message: "quartus build succeeded"}, nil
}

func resolveDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve project folder: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve project folder: %w", err)
	}
	if !fsutil.IsDir(resolved) {
		return "", fmt.Errorf("project folder %q is not a directory", resolved)
	}
	return resolved, nil
}

func collectLogs(dir string) map[string][]byte {
	logs := make(map[string][]byte, len(diagnostics.Sources))
	for _, name := range diagnostics.Sources {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		logs[name] = raw
	}
	return logs
}

func writeReport(path string, rep diagnostics.Report) {
	raw, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return
	}
	_ = fsutil.WriteBytesAtomic(path, raw, 0o644)
}
