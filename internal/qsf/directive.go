package qsf

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// ErrUnsupportedExtension is returned for directive inputs that are neither
// Verilog nor SystemVerilog sources.
var ErrUnsupportedExtension = errors.New("unsupported file type")

// Kind is the assignment a source file is declared with.
type Kind int

const (
	VerilogFile Kind = iota + 1
	SystemVerilogFile
)

func (k Kind) String() string {
	switch k {
	case VerilogFile:
		return "VERILOG_FILE"
	case SystemVerilogFile:
		return "SYSTEMVERILOG_FILE"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

var kindsByExtension = map[string]Kind{
	".v":  VerilogFile,
	".sv": SystemVerilogFile,
}

// KindFor returns the directive kind for a source path. Matching is on the
// exact, case-sensitive extension.
func KindFor(file string) (Kind, error) {
	normalized := strings.ReplaceAll(file, "\\", "/")
	if k, ok := kindsByExtension[path.Ext(normalized)]; ok {
		return k, nil
	}
	return 0, fmt.Errorf("%w for %q", ErrUnsupportedExtension, file)
}

// IsSource reports whether the file name carries one of the recognized
// hardware-description extensions.
func IsSource(file string) bool {
	_, err := KindFor(file)
	return err == nil
}

// DirectiveSet is the content of the generated region.
type DirectiveSet struct {
	// CPUs is emitted as NUM_PARALLEL_PROCESSORS when non-zero.
	CPUs  int
	Files []string
}

// Lines renders the directives, one per line and each terminated by a
// newline, in the order they appear in the generated region.
func (s DirectiveSet) Lines() ([]string, error) {
	lines := make([]string, 0, len(s.Files)+1)
	if s.CPUs != 0 {
		lines = append(lines, "set_global_assignment -name NUM_PARALLEL_PROCESSORS "+strconv.Itoa(s.CPUs)+"\n")
	}
	for _, file := range s.Files {
		kind, err := KindFor(file)
		if err != nil {
			return nil, err
		}
		lines = append(lines, "set_global_assignment -name "+kind.String()+" "+strings.ReplaceAll(file, "\\", "/")+"\n")
	}
	return lines, nil
}

// Region renders the whole generated region, both markers included.
func (s DirectiveSet) Region() (string, error) {
	lines, err := s.Lines()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(BeginMarker)
	for _, line := range lines {
		b.WriteString(line)
	}
	b.WriteString("\n")
	b.WriteString(EndMarker)
	return b.String(), nil
}
