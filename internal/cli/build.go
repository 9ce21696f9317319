package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mblsha/pfcore/internal/pipeline"
)

func newBuildCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "build",
		Aliases: []string{"make"},
		Short:   "Build the core package",
		Long: `Build brings the core package up to date: it fetches the template,
stages sources, patches the project file, compiles and packages. Steps
whose inputs did not change since the last build are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			if err := p.Build(cmd.Context()); err != nil {
				a.printDiagnostics(err)
				return err
			}
			_, _ = fmt.Fprintln(a.stdout, a.styles.ok.Render("Core packaged in "+p.PackageFile()))
			return nil
		},
	}
}

func newDryRunCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dryrun [target...]",
		Short: "Show what a build would do",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			steps, err := p.DryRun(args...)
			if err != nil {
				return err
			}
			renderPlan(a.stdout, a.styles, steps)
			return nil
		},
	}
}

func newCleanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the build folder",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			return pipeline.Clean(a.cfg, a.logger)
		},
	}
}

func newInstallCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Build the core package and install it on a mounted volume",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.load(cmd); err != nil {
				return err
			}
			if a.cfg.InstallVolume == "" {
				return fmt.Errorf("no install volume: use --volume or PF_INSTALL_VOLUME")
			}
			p, err := a.pipeline()
			if err != nil {
				return err
			}
			if err := p.Install(cmd.Context()); err != nil {
				a.printDiagnostics(err)
				return err
			}
			_, _ = fmt.Fprintln(a.stdout, a.styles.ok.Render("Core installed on "+a.cfg.VolumePath()))
			return nil
		},
	}
}
