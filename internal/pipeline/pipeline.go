// Package pipeline declares the core build as a graph of targets: template,
// staged sources, patched project file, bitstream, package and the explicit
// install step.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mblsha/pfcore/internal/builder"
	"github.com/mblsha/pfcore/internal/config"
	"github.com/mblsha/pfcore/internal/install"
	"github.com/mblsha/pfcore/internal/mk"
	"github.com/mblsha/pfcore/internal/packager"
	"github.com/mblsha/pfcore/internal/qsf"
	"github.com/mblsha/pfcore/internal/stage"
	"github.com/mblsha/pfcore/internal/template"
)

// InstallTarget is the alias that installs the package. It is never part of
// the default build.
const InstallTarget = "install"

// InstallAction is the phony target behind InstallTarget.
const InstallAction = "install-package"

// Parallelism reports how many processors the toolchain container sees.
// *container.Service satisfies it.
type Parallelism interface {
	DetectParallelism(ctx context.Context, image string) (int, error)
}

type Deps struct {
	Template    template.Acquirer
	Parallelism Parallelism
	Builder     builder.Builder
	Packager    *packager.Packager
	// Installer may be nil when no volume is configured; the install
	// target then fails.
	Installer install.Installer
	Logger    *slog.Logger
	Events    func(mk.Event)
	Progress  builder.ProgressFunc
}

type Pipeline struct {
	cfg     config.Config
	deps    Deps
	graph   *mk.Graph
	staged  []stage.File
	pkgFile string
}

// New scans the source tree, reads the manifest and declares every target.
func New(cfg config.Config, deps Deps) (*Pipeline, error) {
	if deps.Template == nil || deps.Parallelism == nil || deps.Builder == nil {
		return nil, errors.New("pipeline needs a template acquirer, a container service and a builder")
	}
	if deps.Packager == nil {
		deps.Packager = packager.New(deps.Logger)
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}

	p := &Pipeline{
		cfg:  cfg,
		deps: deps,
		graph: mk.New(
			mk.WithStateFile(cfg.StateFile()),
			mk.WithLogger(deps.Logger),
			mk.WithEvents(deps.Events),
		),
	}
	if err := p.declare(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) declare() error {
	cfg := p.cfg
	templateInput := cfg.InputProjectFile()

	if err := p.graph.Add(mk.Target{
		Name: templateInput,
		Key:  "template " + p.deps.Template.Describe(),
		Action: func(ctx context.Context) error {
			return p.deps.Template.Acquire(ctx, cfg.TemplateDir())
		},
	}); err != nil {
		return err
	}

	sources, extras, err := p.stagedFiles()
	if err != nil {
		return err
	}
	staged := append(slices.Clone(sources), extras...)
	p.staged = staged
	stagedDests := make([]string, 0, len(staged))
	for _, f := range staged {
		if err := p.graph.Add(mk.Target{
			Name:   f.Dest,
			Deps:   []string{f.Source, templateInput},
			Key:    "stage",
			Action: func(context.Context) error { return stage.Copy(f) },
		}); err != nil {
			return err
		}
		stagedDests = append(stagedDests, f.Dest)
	}

	// Only scanned sources are listed in the project file; extras are staged
	// for the compile but get no directive.
	qsfDeps := []string{templateInput}
	for _, f := range sources {
		qsfDeps = append(qsfDeps, f.Dest)
	}
	if err := p.graph.Add(mk.Target{
		Name:   cfg.OutputProjectFile(),
		Deps:   qsfDeps,
		Key:    "qsf " + cfg.DockerImage,
		Action: func(ctx context.Context) error { return p.patchProject(ctx, sources) },
	}); err != nil {
		return err
	}

	if err := p.graph.Add(mk.Target{
		Name:   cfg.BitstreamFile(),
		Deps:   append([]string{cfg.OutputProjectFile()}, stagedDests...),
		Key:    "compile " + cfg.DockerImage + " " + strings.Join(cfg.CompileCommand, " "),
		Action: p.compile,
	}); err != nil {
		return err
	}

	in := packager.Inputs{ConfigFile: cfg.CoreConfigFile, Bitstream: cfg.BitstreamFile(), BuildDir: cfg.BuildDir}
	pkgFile, err := p.deps.Packager.Output(in)
	if err != nil {
		return err
	}
	pkgDeps, err := p.deps.Packager.Dependencies(in)
	if err != nil {
		return err
	}
	p.pkgFile = pkgFile
	if err := p.graph.Add(mk.Target{
		Name: pkgFile,
		Deps: pkgDeps,
		Key:  "package",
		Action: func(ctx context.Context) error {
			_, err := p.deps.Packager.Package(ctx, in)
			return err
		},
	}); err != nil {
		return err
	}
	p.graph.Default(pkgFile)

	if err := p.graph.Add(mk.Target{
		Name:  InstallAction,
		Phony: true,
		Deps:  []string{pkgFile},
		Action: func(ctx context.Context) error {
			if p.deps.Installer == nil {
				return errors.New("no install volume configured")
			}
			_, err := p.deps.Installer.Install(ctx, pkgFile)
			return err
		},
	}); err != nil {
		return err
	}
	return p.graph.Alias(InstallTarget, InstallAction)
}

// stagedFiles returns the scanned sources and, separately, the extra files
// the scan did not already pick up.
func (p *Pipeline) stagedFiles() ([]stage.File, []stage.File, error) {
	cfg := p.cfg
	scanned, err := stage.Scan(cfg.SourceDir, cfg.ImportDir(), cfg.BuildDir)
	if err != nil {
		return nil, nil, err
	}
	extra, err := stage.Extra(cfg.SourceDir, cfg.ImportDir(), cfg.ExtraFiles)
	if err != nil {
		return nil, nil, err
	}
	seen := make(map[string]bool, len(scanned))
	for _, f := range scanned {
		seen[f.Dest] = true
	}
	var extras []stage.File
	for _, f := range extra {
		if !seen[f.Dest] {
			seen[f.Dest] = true
			extras = append(extras, f)
		}
	}
	return scanned, extras, nil
}

func (p *Pipeline) patchProject(ctx context.Context, sources []stage.File) error {
	cpus, err := p.deps.Parallelism.DetectParallelism(ctx, p.cfg.DockerImage)
	if err != nil {
		return fmt.Errorf("detect container parallelism: %w", err)
	}
	files := make([]string, 0, len(sources))
	for _, f := range sources {
		rel, err := filepath.Rel(p.cfg.FPGADir(), f.Dest)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
	}
	p.deps.Logger.Info("updating project file", "file", p.cfg.OutputProjectFile(), "cpus", cpus, "sources", len(files))
	return qsf.Patch(p.cfg.InputProjectFile(), p.cfg.OutputProjectFile(), qsf.DirectiveSet{CPUs: cpus, Files: files})
}

func (p *Pipeline) compile(ctx context.Context) error {
	p.deps.Logger.Info("compiling core bitstream", "image", p.cfg.DockerImage)
	res, err := p.deps.Builder.Build(ctx, builder.BuildJob{
		Image:      p.cfg.DockerImage,
		ProjectDir: p.cfg.FPGADir(),
		Command:    p.cfg.CompileCommand,
		Bitstream:  p.cfg.BitstreamFile(),
		Progress:   p.deps.Progress,
	})
	if err != nil {
		return err
	}
	p.deps.Logger.Debug("compile finished", "message", res.Message)
	return nil
}

// Build brings the package up to date.
func (p *Pipeline) Build(ctx context.Context) error {
	return p.graph.Build(ctx)
}

// Install builds the package if needed and installs it.
func (p *Pipeline) Install(ctx context.Context) error {
	return p.graph.Build(ctx, InstallTarget)
}

// DryRun lists what Build (or the named targets) would do.
func (p *Pipeline) DryRun(names ...string) ([]mk.Step, error) {
	return p.graph.Plan(names...)
}

func (p *Pipeline) Targets() []mk.Target {
	return p.graph.Targets()
}

func (p *Pipeline) Staged() []stage.File {
	return p.staged
}

// PackageFile is the default target.
func (p *Pipeline) PackageFile() string {
	return p.pkgFile
}

// Clean removes the whole build folder, template and engine state included.
func Clean(cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger != nil {
		logger.Info("removing build folder", "path", cfg.BuildDir)
	}
	if err := os.RemoveAll(cfg.BuildDir); err != nil {
		return fmt.Errorf("clean %s: %w", cfg.BuildDir, err)
	}
	return nil
}
