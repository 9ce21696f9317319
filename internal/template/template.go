// Package template obtains the vendor core template a build is staged into.
// Every acquisition starts from an empty destination.
package template

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mblsha/pfcore/internal/command"
	"github.com/mblsha/pfcore/internal/config"
	"github.com/mblsha/pfcore/internal/fsutil"
)

// ErrNoTemplateFolder is returned when a local reference copy is missing.
var ErrNoTemplateFolder = errors.New("cannot find core template folder")

type Acquirer interface {
	Acquire(ctx context.Context, dest string) error
	// Describe identifies the source; a change means the template must be
	// acquired again.
	Describe() string
}

type Cloner interface {
	Clone(ctx context.Context, url, tag, dest string) error
}

// GitCloner shallow-clones with the git CLI.
type GitCloner struct {
	Runner command.Runner
	Bin    string
}

func (g GitCloner) Clone(ctx context.Context, url, tag, dest string) error {
	runner := g.Runner
	if runner == nil {
		runner = command.OSRunner{}
	}
	bin := g.Bin
	if bin == "" {
		bin = "git"
	}
	if err := runner.Require(bin); err != nil {
		return err
	}

	args := []string{"clone", "--quiet", "--depth", "1"}
	if tag != "" {
		args = append(args, "--branch", tag)
	}
	args = append(args, NormalizeURL(url), dest)

	var stderr bytes.Buffer
	if _, err := runner.Run(ctx, command.Spec{Name: bin, Args: args}, io.Discard, &stderr); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("git clone %s: %w: %s", url, err, msg)
		}
		return fmt.Errorf("git clone %s: %w", url, err)
	}
	return nil
}

// NormalizeURL adds an https scheme to host-relative repository URLs such as
// github.com/owner/repo.
func NormalizeURL(url string) string {
	if strings.Contains(url, "://") || strings.HasPrefix(url, "git@") || strings.HasPrefix(url, "/") || strings.HasPrefix(url, ".") {
		return url
	}
	return "https://" + url
}

// Remote clones URL at Tag (the default branch when empty) and strips the
// .git folder so the template is a plain vendored copy.
type Remote struct {
	URL    string
	Tag    string
	Cloner Cloner
	Logger *slog.Logger
}

func (r Remote) Describe() string {
	if r.Tag == "" {
		return "clone " + r.URL
	}
	return "clone " + r.URL + "@" + r.Tag
}

func (r Remote) Acquire(ctx context.Context, dest string) error {
	logger(r.Logger).Info("cloning core template", "url", r.URL, "tag", r.Tag, "dest", dest)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("remove previous template %q: %w", dest, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create template parent folder: %w", err)
	}
	if err := r.Cloner.Clone(ctx, r.URL, r.Tag, dest); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(dest, ".git")); err != nil {
		return fmt.Errorf("remove template git metadata: %w", err)
	}
	return nil
}

// Local copies a reference checkout of the template.
type Local struct {
	Folder string
	Logger *slog.Logger
}

func (l Local) Describe() string {
	return "copy " + l.Folder
}

func (l Local) Acquire(ctx context.Context, dest string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !fsutil.IsDir(l.Folder) {
		return fmt.Errorf("%w: %q", ErrNoTemplateFolder, l.Folder)
	}
	logger(l.Logger).Info("copying core template", "from", l.Folder, "dest", dest)
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("remove previous template %q: %w", dest, err)
	}
	if err := fsutil.CopyDir(l.Folder, dest); err != nil {
		return fmt.Errorf("copy core template: %w", err)
	}
	return nil
}

// FromConfig picks the acquisition mode once for the invocation.
func FromConfig(cfg config.Config, runner command.Runner, log *slog.Logger) Acquirer {
	if cfg.UseLocalTemplate() {
		return Local{Folder: cfg.TemplateRepoFolder, Logger: log}
	}
	return Remote{
		URL:    cfg.TemplateRepoURL,
		Tag:    cfg.TemplateRepoTag,
		Cloner: GitCloner{Runner: runner, Bin: cfg.GitBin},
		Logger: log,
	}
}

func logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l
}
