package mk

import (
	"bytes"
	"context"
	"fmt"
	"time"
)

type EventKind int

const (
	EventUpToDate EventKind = iota
	EventStart
	EventDone
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventUpToDate:
		return "up-to-date"
	case EventStart:
		return "start"
	case EventDone:
		return "done"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

type Event struct {
	Kind     EventKind
	Target   string
	Reason   string
	Duration time.Duration
	Err      error
}

// Reasons a target is (or would be) rebuilt.
const (
	ReasonPhony      = "phony target"
	ReasonMissing    = "target missing"
	ReasonNeverBuilt = "no build record"
	ReasonChanged    = "inputs changed"
	ReasonDepRebuilt = "dependency will be rebuilt"
)

// Build brings the named targets up to date, or the defaults when no names
// are given. It stops at the first failing action; signatures of targets
// built before the failure are kept.
func (g *Graph) Build(ctx context.Context, names ...string) error {
	roots, err := g.roots(names)
	if err != nil {
		return err
	}
	st, err := loadState(g.stateFile)
	if err != nil {
		return err
	}
	h := newHasher()

	return g.walk(roots, func(t *Target) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sig, err := g.signature(h, t)
		if err != nil {
			return err
		}
		reason := g.staleReason(st, t, sig)
		if reason == "" {
			g.logger.Debug("target up to date", "target", t.Name)
			g.emit(Event{Kind: EventUpToDate, Target: t.Name})
			return nil
		}

		g.logger.Debug("building target", "target", t.Name, "reason", reason)
		g.emit(Event{Kind: EventStart, Target: t.Name, Reason: reason})
		started := time.Now()
		if err := t.Action(ctx); err != nil {
			g.emit(Event{Kind: EventFailed, Target: t.Name, Reason: reason, Duration: time.Since(started), Err: err})
			return fmt.Errorf("building %s: %w", t.Name, err)
		}
		if t.Phony {
			g.emit(Event{Kind: EventDone, Target: t.Name, Reason: reason, Duration: time.Since(started)})
			return nil
		}
		if !exists(t.Name) {
			err := fmt.Errorf("building %s: action did not produce the target", t.Name)
			g.emit(Event{Kind: EventFailed, Target: t.Name, Reason: reason, Duration: time.Since(started), Err: err})
			return err
		}
		h.forget(t.Name)
		st.Signatures[t.Name] = sig
		if err := st.save(g.stateFile); err != nil {
			return err
		}
		g.emit(Event{Kind: EventDone, Target: t.Name, Reason: reason, Duration: time.Since(started)})
		return nil
	}, func(name, neededBy string) error {
		if exists(name) {
			return nil
		}
		if neededBy == "" {
			return fmt.Errorf("%w: %s", ErrUnknownTarget, name)
		}
		return fmt.Errorf("%w %s, needed by %s", ErrNoRule, name, neededBy)
	})
}

func (g *Graph) staleReason(st *state, t *Target, sig []byte) string {
	switch {
	case t.Phony:
		return ReasonPhony
	case !exists(t.Name):
		return ReasonMissing
	}
	recorded, ok := st.Signatures[t.Name]
	if !ok {
		return ReasonNeverBuilt
	}
	if !bytes.Equal(recorded, sig) {
		return ReasonChanged
	}
	return ""
}

func (g *Graph) emit(e Event) {
	if g.onEvent != nil {
		g.onEvent(e)
	}
}

// Step is one entry of a dry run.
type Step struct {
	Target string
	Phony  bool
	Run    bool
	Reason string
}

// Plan reports, in build order, which targets Build would run without
// running any action. A target downstream of one that will run is assumed
// to run too, since its inputs cannot be hashed yet.
func (g *Graph) Plan(names ...string) ([]Step, error) {
	roots, err := g.roots(names)
	if err != nil {
		return nil, err
	}
	st, err := loadState(g.stateFile)
	if err != nil {
		return nil, err
	}
	h := newHasher()
	willRun := make(map[string]bool)
	var steps []Step

	err = g.walk(roots, func(t *Target) error {
		step := Step{Target: t.Name, Phony: t.Phony}
		for _, d := range t.Deps {
			if willRun[d] {
				step.Run, step.Reason = true, ReasonDepRebuilt
				break
			}
		}
		if !step.Run {
			sig, err := g.signature(h, t)
			if err != nil {
				step.Run, step.Reason = true, err.Error()
			} else if reason := g.staleReason(st, t, sig); reason != "" {
				step.Run, step.Reason = true, reason
			}
		}
		willRun[t.Name] = step.Run
		steps = append(steps, step)
		return nil
	}, func(string, string) error {
		// Missing sources surface as the reason of the step needing them.
		return nil
	})
	if err != nil {
		return nil, err
	}
	return steps, nil
}
