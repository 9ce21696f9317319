package qsf

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pristine = "set_global_assignment -name FAMILY \"Cyclone V\"\n" +
	"set_global_assignment -name TOP_LEVEL_ENTITY apf_top\n" +
	"set_location_assignment PIN_V15 -to clk_74a\n"

func writeProject(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ap_core.qsf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func patchString(t *testing.T, content string, set DirectiveSet) string {
	t.Helper()
	in := writeProject(t, content)
	out := filepath.Join(filepath.Dir(in), "pf_core.qsf")
	require.NoError(t, Patch(in, out, set))
	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	return string(raw)
}

func TestDirectiveTyping_ByExtension(t *testing.T) {
	region, err := DirectiveSet{CPUs: 4, Files: []string{"a.v", "b.sv"}}.Region()
	require.NoError(t, err)

	want := BeginMarker +
		"set_global_assignment -name NUM_PARALLEL_PROCESSORS 4\n" +
		"set_global_assignment -name VERILOG_FILE a.v\n" +
		"set_global_assignment -name SYSTEMVERILOG_FILE b.sv\n" +
		"\n" +
		EndMarker
	assert.Equal(t, want, region)
}

func TestDirectiveLines_NormalizesBackslashes(t *testing.T) {
	lines, err := DirectiveSet{Files: []string{`core\sub\top.sv`}}.Lines()
	require.NoError(t, err)
	assert.Equal(t, []string{"set_global_assignment -name SYSTEMVERILOG_FILE core/sub/top.sv\n"}, lines)
}

func TestDirectiveSet_ZeroCPUsSuppressesParallelism(t *testing.T) {
	for _, set := range []DirectiveSet{{Files: []string{"a.v"}}, {CPUs: 0, Files: []string{"a.v"}}} {
		region, err := set.Region()
		require.NoError(t, err)
		assert.NotContains(t, region, "NUM_PARALLEL_PROCESSORS")
	}
}

func TestKindFor(t *testing.T) {
	tests := []struct {
		file string
		want Kind
		err  bool
	}{
		{file: "core.v", want: VerilogFile},
		{file: "core/top.sv", want: SystemVerilogFile},
		{file: `core\top.sv`, want: SystemVerilogFile},
		{file: "c.txt", err: true},
		{file: "core.SV", err: true},
		{file: "core.svh", err: true},
		{file: "v", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got, err := KindFor(tt.file)
			if tt.err {
				require.ErrorIs(t, err, ErrUnsupportedExtension)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPatch_UnsupportedExtensionWritesNothing(t *testing.T) {
	in := writeProject(t, pristine)
	out := filepath.Join(filepath.Dir(in), "pf_core.qsf")

	err := Patch(in, out, DirectiveSet{CPUs: 2, Files: []string{"a.v", "c.txt"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedExtension))
	assert.NoFileExists(t, out)
}

func TestPatch_UnsupportedExtensionLeavesExistingOutput(t *testing.T) {
	in := writeProject(t, pristine)
	out := filepath.Join(filepath.Dir(in), "pf_core.qsf")
	require.NoError(t, Patch(in, out, DirectiveSet{Files: []string{"a.v"}}))
	before, err := os.ReadFile(out)
	require.NoError(t, err)

	require.Error(t, Patch(in, out, DirectiveSet{Files: []string{"c.txt"}}))

	after, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestPatch_MissingInput(t *testing.T) {
	dir := t.TempDir()
	err := Patch(filepath.Join(dir, "missing.qsf"), filepath.Join(dir, "out.qsf"), DirectiveSet{})
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "out.qsf"))
}

func TestPatch_AppendModeTrailingNewlines(t *testing.T) {
	set := DirectiveSet{CPUs: 8, Files: []string{"core/core_top.sv"}}
	region, err := set.Region()
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "no trailing newline", input: "line", want: "line\n\n" + region},
		{name: "one trailing newline", input: "line\n", want: "line\n\n" + region},
		{name: "two trailing newlines", input: "line\n\n", want: "line\n\n" + region},
		{name: "empty file", input: "", want: region},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, patchString(t, tt.input, set))
		})
	}
}

func TestPatch_Idempotent(t *testing.T) {
	set := DirectiveSet{CPUs: 4, Files: []string{"core/a.v", "core/b.sv"}}

	in := writeProject(t, pristine)
	dir := filepath.Dir(in)
	once := filepath.Join(dir, "once.qsf")
	twice := filepath.Join(dir, "twice.qsf")

	require.NoError(t, Patch(in, once, set))
	require.NoError(t, Patch(once, twice, set))

	first, err := os.ReadFile(once)
	require.NoError(t, err)
	second, err := os.ReadFile(twice)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, 1, strings.Count(string(second), BeginMarker))
	assert.Equal(t, 1, strings.Count(string(second), EndMarker))
}

func TestPatch_InPlace(t *testing.T) {
	set := DirectiveSet{Files: []string{"core/a.v"}}
	in := writeProject(t, pristine)
	require.NoError(t, Patch(in, in, set))
	require.NoError(t, Patch(in, in, set))

	raw, err := os.ReadFile(in)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "VERILOG_FILE core/a.v"))
}

func TestPatch_ReplacesOnlyGeneratedRegion(t *testing.T) {
	before := "# header\r\nset_global_assignment -name FAMILY \"Cyclone V\"\n\n"
	after := "set_instance_assignment -name IO_STANDARD \"3.3-V LVCMOS\" -to cart_tran_bank0[7]\n# trailer without newline"
	input := before +
		BeginMarker +
		"set_global_assignment -name VERILOG_FILE old/stale.v\n" +
		"# ---------------------------\n" +
		EndMarker +
		after

	set := DirectiveSet{CPUs: 2, Files: []string{"core/new.sv"}}
	region, err := set.Region()
	require.NoError(t, err)

	got := patchString(t, input, set)
	assert.Equal(t, before+region+after, got)
	assert.NotContains(t, got, "old/stale.v")
}

func TestPatch_RegionIsolationAcrossDirectiveSets(t *testing.T) {
	before := "alpha\n  beta  \n\tgamma\n"
	after := "delta\n\n\nepsilon\n"
	input := before + BeginMarker + EndMarker + after

	for _, set := range []DirectiveSet{
		{},
		{CPUs: 1},
		{CPUs: 16, Files: []string{"a.v", "b.sv", "c/d.sv"}},
	} {
		got := patchString(t, input, set)
		require.True(t, strings.HasPrefix(got, before+BeginMarker), "prefix changed: %q", got)
		require.True(t, strings.HasSuffix(got, EndMarker+after), "suffix changed: %q", got)
	}
}

func TestPatch_MarkersMustMatchWholeLine(t *testing.T) {
	input := "  " + BeginMarker + "x\n" + strings.TrimSuffix(EndMarker, "\n") + " trailing\n"
	set := DirectiveSet{Files: []string{"a.v"}}
	region, err := set.Region()
	require.NoError(t, err)

	got := patchString(t, input, set)
	assert.Equal(t, input+"\n"+region, got)
}

func TestPatch_UnterminatedRegionDropsRest(t *testing.T) {
	input := "keep\n" + BeginMarker + "generated\n"
	set := DirectiveSet{Files: []string{"a.v"}}
	region, err := set.Region()
	require.NoError(t, err)

	assert.Equal(t, "keep\n"+region, patchString(t, input, set))
}

func TestRewrite_StateTransitions(t *testing.T) {
	e := &editor{region: "R"}
	assert.Equal(t, BeforeEdit, e.state)
	e.feed("a\n")
	assert.Equal(t, BeforeEdit, e.state)
	e.feed(BeginMarker)
	assert.Equal(t, DuringEdit, e.state)
	e.feed(BeginMarker)
	assert.Equal(t, DuringEdit, e.state)
	e.feed(EndMarker)
	assert.Equal(t, AfterEdit, e.state)
	e.feed(BeginMarker)
	assert.Equal(t, AfterEdit, e.state)
	assert.Equal(t, "a\nR"+BeginMarker, string(e.finish()))
}
