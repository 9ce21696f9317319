// Package install copies a packaged core onto a mounted Pocket SD card.
package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mblsha/pfcore/internal/archive"
	"github.com/mblsha/pfcore/internal/fsutil"
)

// ErrNoVolume is returned when the destination volume is not mounted.
var ErrNoVolume = errors.New("install volume is not mounted")

// Package limits are generous: a core is a bitstream plus a few json files
// and platform images.
var defaultLimits = archive.Limits{
	MaxFiles:      4096,
	MaxTotalBytes: 1 << 30,
	MaxFileBytes:  256 << 20,
}

type Installer interface {
	Install(ctx context.Context, pkg string) ([]string, error)
}

// VolumeInstaller extracts packages at the root of a mounted volume, merging
// with the cores already there.
type VolumeInstaller struct {
	Root   string
	Limits archive.Limits
	Logger *slog.Logger
}

func NewVolumeInstaller(root string, logger *slog.Logger) *VolumeInstaller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &VolumeInstaller{Root: root, Limits: defaultLimits, Logger: logger}
}

func (v *VolumeInstaller) Install(ctx context.Context, pkg string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v.Root == "" {
		return nil, errors.New("install volume is not configured")
	}
	if !fsutil.IsDir(v.Root) {
		return nil, fmt.Errorf("%w: %s", ErrNoVolume, v.Root)
	}
	v.Logger.Info("installing core", "package", pkg, "volume", v.Root)
	created, err := archive.ExtractZipSecure(pkg, v.Root, v.Limits)
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", pkg, err)
	}
	return created, nil
}
