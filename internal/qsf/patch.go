// Package qsf rewrites Quartus project files, replacing the region between
// two marker lines with generated assignments and leaving every other byte
// of the file untouched.
package qsf

import (
	"bytes"
	"fmt"
	"os"

	"github.com/mblsha/pfcore/internal/fsutil"
)

const (
	BeginMarker = "# Additions made by pf command\n"
	EndMarker   = "# End of additions made by pf command\n"
)

// State is the position of the line scanner relative to the markers.
type State int

const (
	BeforeEdit State = iota
	DuringEdit
	AfterEdit
)

func (s State) String() string {
	switch s {
	case BeforeEdit:
		return "before-edit"
	case DuringEdit:
		return "during-edit"
	case AfterEdit:
		return "after-edit"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// editor is the three-state machine driving a rewrite. Marker detection is
// exact line equality, newline included.
type editor struct {
	state    State
	region   string
	out      bytes.Buffer
	lastLine string
}

func (e *editor) feed(line string) {
	e.lastLine = line
	switch e.state {
	case BeforeEdit:
		if line == BeginMarker {
			e.out.WriteString(e.region)
			e.state = DuringEdit
			return
		}
		e.out.WriteString(line)
	case DuringEdit:
		if line == EndMarker {
			e.state = AfterEdit
		}
	case AfterEdit:
		e.out.WriteString(line)
	}
}

func (e *editor) finish() []byte {
	if e.state == BeforeEdit {
		if e.lastLine != "" {
			if e.lastLine[len(e.lastLine)-1] != '\n' {
				e.out.WriteByte('\n')
			}
			if e.lastLine != "\n" {
				e.out.WriteByte('\n')
			}
		}
		e.out.WriteString(e.region)
	}
	return e.out.Bytes()
}

// Rewrite returns input with its generated region replaced by region. When
// input has no begin marker the region is appended after a separating blank
// line.
func Rewrite(input []byte, region string) []byte {
	e := &editor{region: region}
	e.out.Grow(len(input) + len(region) + 2)
	for len(input) > 0 {
		n := bytes.IndexByte(input, '\n') + 1
		if n == 0 {
			n = len(input)
		}
		e.feed(string(input[:n]))
		input = input[n:]
	}
	return e.finish()
}

// Patch writes inFile to outFile with the generated region replaced by the
// directives in set. inFile and outFile may be the same path. Directives are
// rendered before anything is read or written, and the output only appears
// at outFile once it is completely written.
func Patch(inFile, outFile string, set DirectiveSet) error {
	region, err := set.Region()
	if err != nil {
		return err
	}

	input, err := os.ReadFile(inFile)
	if err != nil {
		return fmt.Errorf("read project file: %w", err)
	}

	perm := os.FileMode(0o644)
	if fi, err := os.Stat(inFile); err == nil {
		perm = fi.Mode().Perm()
	}

	if err := fsutil.WriteBytesAtomic(outFile, Rewrite(input, region), perm); err != nil {
		return fmt.Errorf("write project file: %w", err)
	}
	return nil
}
