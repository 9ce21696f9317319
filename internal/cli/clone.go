package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mblsha/pfcore/internal/config"
	"github.com/mblsha/pfcore/internal/template"
)

// cloneFolder is created inside the destination given to clone.
const cloneFolder = "pfCoreTemplate"

func newCloneCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clone [url] [tag=name] <dest>",
		Short: "Clone the core template into dest/" + cloneFolder,
		Long: `Clone a core template repository, optionally at a tag or branch, and
strip its git metadata. The url defaults to the pfCoreTemplate repository.
The result can be used as a local template with --template-folder.`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote, dest := parseCloneArgs(args)
			remote.Cloner = template.GitCloner{Runner: a.runner}
			remote.Logger = a.logger
			_, _ = fmt.Fprintln(a.stdout, a.styles.banner.Render("==> Cloning core template in "+dest))
			return remote.Acquire(cmd.Context(), dest)
		},
	}
}

// parseCloneArgs reads the positional form: the last argument is the
// destination, tag=name selects a tag, anything else is the url.
func parseCloneArgs(args []string) (template.Remote, string) {
	remote := template.Remote{URL: config.Default().TemplateRepoURL}
	dest := args[len(args)-1]
	for _, arg := range args[:len(args)-1] {
		if tag, ok := strings.CutPrefix(arg, "tag="); ok {
			remote.Tag = tag
		} else {
			remote.URL = arg
		}
	}
	return remote, filepath.Join(dest, cloneFolder)
}
