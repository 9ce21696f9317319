// Package mk is a small single-threaded build engine. Targets are files
// (or phony names) with dependencies and an action; a target is rebuilt
// only when it is missing or the content signature of its inputs changed
// since its last successful build.
package mk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrCycle is returned when targets depend on each other.
	ErrCycle = errors.New("dependency cycle")
	// ErrNoRule is returned for a dependency that is neither a declared
	// target nor an existing file.
	ErrNoRule = errors.New("no rule to make target")
	// ErrUnknownTarget is returned when a requested name is not declared.
	ErrUnknownTarget = errors.New("unknown target")
)

// Action produces a target.
type Action func(ctx context.Context) error

type Target struct {
	// Name is the file the action produces, or a label for phony targets.
	Name  string
	Deps  []string
	Phony bool
	// Key describes the action; a new key forces a rebuild.
	Key    string
	Action Action
}

type Graph struct {
	targets  map[string]*Target
	order    []string
	defaults []string
	aliases  map[string][]string

	stateFile string
	logger    *slog.Logger
	onEvent   func(Event)
}

type Option func(*Graph)

// WithStateFile persists signatures at path between runs.
func WithStateFile(path string) Option {
	return func(g *Graph) { g.stateFile = path }
}

func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithEvents registers a progress callback.
func WithEvents(fn func(Event)) Option {
	return func(g *Graph) { g.onEvent = fn }
}

func New(opts ...Option) *Graph {
	g := &Graph{
		targets: make(map[string]*Target),
		aliases: make(map[string][]string),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Add declares a target. Names are cleaned file paths unless Phony.
func (g *Graph) Add(t Target) error {
	name := normalize(t.Name, t.Phony)
	if name == "" {
		return errors.New("target name is required")
	}
	if _, ok := g.targets[name]; ok {
		return fmt.Errorf("target %q declared twice", name)
	}
	if _, ok := g.aliases[name]; ok {
		return fmt.Errorf("target %q is already an alias", name)
	}
	if t.Action == nil {
		return fmt.Errorf("target %q has no action", name)
	}
	t.Name = name
	deps := make([]string, 0, len(t.Deps))
	for _, d := range t.Deps {
		deps = append(deps, g.resolveName(d))
	}
	t.Deps = deps
	g.targets[name] = &t
	g.order = append(g.order, name)
	return nil
}

// Default sets the targets built when Build is called without names.
func (g *Graph) Default(names ...string) {
	g.defaults = nil
	for _, n := range names {
		g.defaults = append(g.defaults, g.resolveName(n))
	}
}

// Alias gives a group of targets a name.
func (g *Graph) Alias(name string, targets ...string) error {
	if _, ok := g.targets[name]; ok {
		return fmt.Errorf("alias %q collides with a target", name)
	}
	resolved := make([]string, 0, len(targets))
	for _, t := range targets {
		resolved = append(resolved, g.resolveName(t))
	}
	g.aliases[name] = resolved
	return nil
}

// Targets lists declared targets in declaration order.
func (g *Graph) Targets() []Target {
	out := make([]Target, 0, len(g.order))
	for _, n := range g.order {
		out = append(out, *g.targets[n])
	}
	return out
}

func (g *Graph) Aliases() map[string][]string {
	out := make(map[string][]string, len(g.aliases))
	for k, v := range g.aliases {
		out[k] = slices.Clone(v)
	}
	return out
}

// roots expands aliases and applies the defaults.
func (g *Graph) roots(names []string) ([]string, error) {
	if len(names) == 0 {
		if len(g.defaults) == 0 {
			return nil, errors.New("no default target")
		}
		names = g.defaults
	}
	var out []string
	seen := make(map[string]bool)
	var expand func(n string, depth int) error
	expand = func(n string, depth int) error {
		if depth > len(g.aliases) {
			return fmt.Errorf("%w: alias %q", ErrCycle, n)
		}
		if members, ok := g.aliases[n]; ok {
			for _, m := range members {
				if err := expand(m, depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		name := g.resolveName(n)
		if _, ok := g.targets[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownTarget, n)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
		return nil
	}
	for _, n := range names {
		if err := expand(n, 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// resolveName maps a user supplied name to a declared target, trying the
// raw string first so phony names are not mangled.
func (g *Graph) resolveName(n string) string {
	if _, ok := g.targets[n]; ok {
		return n
	}
	if _, ok := g.aliases[n]; ok {
		return n
	}
	return normalize(n, false)
}

// walk visits the dependency closure of roots depth first, calling visit on
// each target after its dependencies.
func (g *Graph) walk(roots []string, visit func(t *Target) error, source func(name, neededBy string) error) error {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int)
	var stack []string

	var visitName func(name, neededBy string) error
	visitName = func(name, neededBy string) error {
		t, ok := g.targets[name]
		if !ok {
			return source(name, neededBy)
		}
		switch state[name] {
		case done:
			return nil
		case inProgress:
			idx := slices.Index(stack, name)
			cycle := append(slices.Clone(stack[idx:]), name)
			return fmt.Errorf("%w: %s", ErrCycle, strings.Join(cycle, " -> "))
		}
		state[name] = inProgress
		stack = append(stack, name)
		for _, d := range t.Deps {
			if err := visitName(d, name); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return visit(t)
	}

	for _, r := range roots {
		if err := visitName(r, ""); err != nil {
			return err
		}
	}
	return nil
}

func normalize(name string, phony bool) string {
	name = strings.TrimSpace(name)
	if name == "" || phony {
		return name
	}
	return filepath.Clean(name)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
