package cli

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mblsha/pfcore/internal/qsf"
)

func newQSFCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "qsf <input.qsf> <output.qsf> [cpus=N|max] [file...]",
		Short: "Add source files and settings to a Quartus project file",
		Long: `Copies input to output, replacing the region delimited by the pf
command markers (or appending one) with NUM_PARALLEL_PROCESSORS and one
VERILOG_FILE or SYSTEMVERILOG_FILE assignment per file.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, out, set, err := parseQSFArgs(args)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.stdout, a.styles.banner.Render("==> Updating QSF file"))
			return qsf.Patch(in, out, set)
		},
	}
}

func parseQSFArgs(args []string) (string, string, qsf.DirectiveSet, error) {
	in, out := args[0], args[1]
	if !strings.HasSuffix(in, ".qsf") {
		return "", "", qsf.DirectiveSet{}, errors.New("invalid input project file type, expected .qsf")
	}
	if _, err := os.Stat(in); err != nil {
		return "", "", qsf.DirectiveSet{}, fmt.Errorf("file %q does not exist", in)
	}
	if !strings.HasSuffix(out, ".qsf") {
		return "", "", qsf.DirectiveSet{}, errors.New("invalid output project file type, expected .qsf")
	}

	rest := args[2:]
	var set qsf.DirectiveSet
	if len(rest) > 0 && strings.HasPrefix(rest[0], "cpus=") {
		value := strings.TrimPrefix(rest[0], "cpus=")
		if value == "max" {
			set.CPUs = runtime.NumCPU()
		} else {
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return "", "", qsf.DirectiveSet{}, fmt.Errorf("invalid cpu count %q", value)
			}
			set.CPUs = n
		}
		rest = rest[1:]
	}
	set.Files = rest
	return in, out, set, nil
}
