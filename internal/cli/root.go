// Package cli provides the pfcore command line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mblsha/pfcore/internal/builder"
	"github.com/mblsha/pfcore/internal/command"
	"github.com/mblsha/pfcore/internal/config"
	"github.com/mblsha/pfcore/internal/container"
	"github.com/mblsha/pfcore/internal/install"
	"github.com/mblsha/pfcore/internal/pipeline"
	"github.com/mblsha/pfcore/internal/template"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// Options injects the process environment; zero values use the real one.
type Options struct {
	Runner command.Runner
	Stdout io.Writer
	Stderr io.Writer
}

// app is the state shared by the commands of one invocation.
type app struct {
	runner  command.Runner
	stdout  io.Writer
	stderr  io.Writer
	cfgFile string

	cfg     config.Config
	cfgUsed string
	logger  *slog.Logger
	styles  styles
}

// NewRootCmd creates the root command.
func NewRootCmd(opts Options) *cobra.Command {
	a := &app{runner: opts.Runner, stdout: opts.Stdout, stderr: opts.Stderr}
	if a.runner == nil {
		a.runner = command.OSRunner{}
	}
	if a.stdout == nil {
		a.stdout = os.Stdout
	}
	if a.stderr == nil {
		a.stderr = os.Stderr
	}
	a.styles = newStyles()
	a.logger = newLogger(a.stderr, false)

	root := &cobra.Command{
		Use:   "pfcore",
		Short: "Build and package openFPGA cores for the Analogue Pocket",
		Long: `pfcore fetches the core template, stages your Verilog sources into it,
patches the Quartus project file, compiles the bitstream in a Docker
container and packages the result for the Pocket's SD card.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "settings file (default: ./"+config.FileName+" when present)")
	pf.String("core", "", "core config file (core.json)")
	pf.String("src", "", "source folder (default: folder of the core config file)")
	pf.String("build-dir", "", "build folder")
	pf.String("image", "", "docker image providing quartus_sh")
	pf.String("template-url", "", "core template repository url")
	pf.String("template-tag", "", "core template tag or branch")
	pf.String("template-folder", "", "copy the core template from this local folder instead of cloning")
	pf.StringSlice("extra", nil, "extra file to stage next to the sources (repeatable)")
	pf.String("volume", "", "volume name to install onto")
	pf.BoolP("quiet", "q", false, "do not stream compiler output")
	pf.BoolP("verbose", "v", false, "debug logging")

	root.AddCommand(
		newBuildCommand(a),
		newDryRunCommand(a),
		newCleanCommand(a),
		newInstallCommand(a),
		newWatchCommand(a),
		newQSFCommand(a),
		newCloneCommand(a),
		newVersionCommand(),
	)
	return root
}

// load resolves the configuration for commands that operate on a core.
func (a *app) load(cmd *cobra.Command) error {
	cfg, used, err := config.Load(config.LoadOptions{File: a.cfgFile, Flags: cmd.Root().PersistentFlags()})
	if err != nil {
		return err
	}
	a.cfg, a.cfgUsed = cfg, used
	a.logger = newLogger(a.stderr, cfg.Verbose)
	if used != "" {
		a.logger.Debug("using settings file", "path", used)
	}
	return nil
}

// pipeline wires the real collaborators for the loaded configuration.
func (a *app) pipeline() (*pipeline.Pipeline, error) {
	cfg := a.cfg
	var stream io.Writer = a.stdout
	if cfg.Quiet {
		stream = io.Discard
	}
	docker := container.New(a.runner, cfg.DockerBin, cfg.DockerPlatform, stream, a.logger)

	deps := pipeline.Deps{
		Template:    template.FromConfig(cfg, a.runner, a.logger),
		Parallelism: docker,
		Builder:     builder.NewQuartusBuilder(docker, cfg.Quiet),
		Logger:      a.logger,
		Events:      a.printEvent,
		Progress: func(u builder.ProgressUpdate) {
			a.logger.Debug("compile progress", "step", u.Step, "message", u.Message)
		},
	}
	if root := cfg.VolumePath(); root != "" {
		deps.Installer = install.NewVolumeInstaller(root, a.logger)
	}
	return pipeline.New(cfg, deps)
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Execute runs the root command with args.
func Execute(ctx context.Context, args []string, opts Options) error {
	root := NewRootCmd(opts)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "pfcore v%s (%s)\n", Version, GitCommit)
		},
	}
}
