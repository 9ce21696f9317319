package builder

import (
	"context"
	"time"
)

type ProgressUpdate struct {
	Step        string
	Message     string
	HeartbeatAt time.Time
}

type ProgressFunc func(update ProgressUpdate)

type BuildJob struct {
	// Image is the toolchain container image reference.
	Image string
	// ProjectDir holds the patched project file and is mounted into the
	// container as its working directory.
	ProjectDir string
	Command    []string
	// Bitstream is the host path of the file the compile must produce.
	Bitstream string
	Progress  ProgressFunc
}

type BuildResult struct {
	ExitCode    int
	Message     string
	FailureKind string
}

type Builder interface {
	Build(ctx context.Context, job BuildJob) (BuildResult, error)
}
