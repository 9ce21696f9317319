package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FakeBuilder is intended for tests and local dry-runs. It writes a small
// placeholder bitstream instead of invoking a compiler.
type FakeBuilder struct {
	mu sync.Mutex

	Calls []BuildJob

	Bitstream []byte
	Fail      error
}

func (b *FakeBuilder) Build(ctx context.Context, job BuildJob) (BuildResult, error) {
	report := func(step, message string) {
		if job.Progress != nil {
			job.Progress(ProgressUpdate{
				Step:        step,
				Message:     message,
				HeartbeatAt: time.Now().UTC(),
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return BuildResult{ExitCode: -1}, err
	}

	b.mu.Lock()
	b.Calls = append(b.Calls, job)
	b.mu.Unlock()

	report("compile", "fake compile running")

	if b.Fail != nil {
		report("failed", "fake build failed")
		return BuildResult{ExitCode: 2, Message: "fake build failed"}, b.Fail
	}

	payload := b.Bitstream
	if len(payload) == 0 {
		payload = []byte("fake-bitstream")
	}
	if err := os.MkdirAll(filepath.Dir(job.Bitstream), 0o755); err != nil {
		return BuildResult{ExitCode: 1}, err
	}
	if err := os.WriteFile(job.Bitstream, payload, 0o644); err != nil {
		return BuildResult{ExitCode: 1}, err
	}
	report("bitstream", "fake bitstream written")
	return BuildResult{ExitCode: 0, Message: fmt.Sprintf("fake build succeeded for %s", filepath.Base(job.Bitstream))}, nil
}

// CallCount returns the number of Build invocations so far.
func (b *FakeBuilder) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Calls)
}
