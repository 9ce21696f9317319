package cli

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/mblsha/pfcore/internal/qsf"
)

const watchDebounce = 300 * time.Millisecond

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the package whenever a source file changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			return a.watch(cmd.Context())
		},
	}
}

func (a *app) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := a.watchDir(watcher, a.cfg.SourceDir); err != nil {
		return err
	}
	a.rebuild(ctx)
	_, _ = fmt.Fprintln(a.stdout, a.styles.skipped.Render("watching "+a.cfg.SourceDir+" (ctrl-c to stop)"))

	var debounce <-chan time.Time
	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				// New folders need their own watch.
				if err := a.watchDir(watcher, event.Name); err != nil {
					a.logger.Debug("watch new path", "path", event.Name, "error", err)
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !a.relevant(event.Name) {
				continue
			}
			a.logger.Debug("source changed", "path", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			debounce = timer.C
		case <-debounce:
			debounce = nil
			a.rebuild(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watcher error", "error", err)
		}
	}
}

// watchDir adds dir and its subfolders, skipping the build folder and
// hidden folders.
func (a *app) watchDir(watcher *fsnotify.Watcher, dir string) error {
	buildDir, _ := filepath.Abs(a.cfg.BuildDir)
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if abs, _ := filepath.Abs(path); abs == buildDir {
			return filepath.SkipDir
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// relevant reports whether a change to path can affect the package.
func (a *app) relevant(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	if buildDir, err := filepath.Abs(a.cfg.BuildDir); err == nil && strings.HasPrefix(abs, buildDir+string(filepath.Separator)) {
		return false
	}
	if qsf.IsSource(abs) || filepath.Ext(abs) == ".json" {
		return true
	}
	for _, extra := range a.cfg.ExtraFiles {
		if e, err := filepath.Abs(extra); err == nil && e == abs {
			return true
		}
	}
	return false
}

// rebuild runs one build; failures are reported and watching continues.
func (a *app) rebuild(ctx context.Context) {
	started := time.Now()
	p, err := a.pipeline()
	if err == nil {
		err = p.Build(ctx)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		a.printDiagnostics(err)
		_, _ = fmt.Fprintln(a.stderr, a.styles.failed.Render("build failed: "+err.Error()))
		return
	}
	_, _ = fmt.Fprintln(a.stdout, a.styles.ok.Render(fmt.Sprintf("package up to date (%s)", time.Since(started).Round(time.Millisecond))))
}
