package command

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// FakeResult is the canned outcome for one command served by FakeRunner.
type FakeResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Err      error
	Hook     func(spec Spec) error
}

// FakeRunner is intended for tests and local dry-runs. Results are matched
// on the full command line first, then on the executable name.
type FakeRunner struct {
	mu sync.Mutex

	Calls   []Spec
	Results map[string]FakeResult
	Missing map[string]bool
}

func (r *FakeRunner) Require(name string) error {
	if r.Missing[name] {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (r *FakeRunner) Run(ctx context.Context, spec Spec, stdout, stderr io.Writer) (int, error) {
	_ = ctx
	r.mu.Lock()
	r.Calls = append(r.Calls, spec)
	res, ok := r.Results[spec.String()]
	if !ok {
		res = r.Results[spec.Name]
	}
	r.mu.Unlock()

	if res.Hook != nil {
		if err := res.Hook(spec); err != nil {
			return 1, err
		}
	}
	if res.Stdout != "" && stdout != nil {
		_, _ = io.WriteString(stdout, res.Stdout)
	}
	if res.Stderr != "" && stderr != nil {
		_, _ = io.WriteString(stderr, res.Stderr)
	}
	if res.Err != nil {
		return res.ExitCode, res.Err
	}
	if res.ExitCode != 0 {
		return res.ExitCode, fmt.Errorf("%s exited %d", spec.Name, res.ExitCode)
	}
	return 0, nil
}

// Commands returns the recorded command lines in call order.
func (r *FakeRunner) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.Calls))
	for _, c := range r.Calls {
		out = append(out, c.String())
	}
	return out
}
