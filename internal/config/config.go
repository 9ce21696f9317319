package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

const (
	defaultCoreConfigFile  = "core.json"
	defaultBuildDir        = "_build"
	defaultDockerImage     = "didiermalenfant/quartus:22.1-apple-silicon"
	defaultDockerPlatform  = "linux/amd64"
	defaultDockerBin       = "docker"
	defaultGitBin          = "git"
	defaultTemplateRepoURL = "https://github.com/DidierMalenfant/pfCoreTemplate"
	defaultVolumesRoot     = "/Volumes"
	defaultCompileCommand  = "quartus_sh --flow compile pf_core"
)

// Config is the resolved configuration of one pipeline invocation. It is
// built once by Load and passed by value afterwards.
type Config struct {
	CoreConfigFile string `koanf:"core_config_file"`
	SourceDir      string `koanf:"src_folder"`
	BuildDir       string `koanf:"build_folder"`

	DockerImage    string `koanf:"docker_image"`
	DockerPlatform string `koanf:"docker_platform"`
	DockerBin      string `koanf:"docker_bin"`
	GitBin         string `koanf:"git_bin"`

	TemplateRepoURL    string `koanf:"core_template_repo_url"`
	TemplateRepoTag    string `koanf:"core_template_repo_tag"`
	TemplateRepoFolder string `koanf:"core_template_repo_folder"`

	ExtraFiles     []string `koanf:"extra_files"`
	CompileCommand []string `koanf:"compile_command"`

	InstallVolume string `koanf:"install_volume"`
	VolumesRoot   string `koanf:"volumes_root"`

	Quiet   bool `koanf:"quiet"`
	Verbose bool `koanf:"verbose"`
}

func Default() Config {
	return Config{
		CoreConfigFile:  defaultCoreConfigFile,
		BuildDir:        defaultBuildDir,
		DockerImage:     defaultDockerImage,
		DockerPlatform:  defaultDockerPlatform,
		DockerBin:       defaultDockerBin,
		GitBin:          defaultGitBin,
		TemplateRepoURL: defaultTemplateRepoURL,
		VolumesRoot:     defaultVolumesRoot,
		CompileCommand:  strings.Fields(defaultCompileCommand),
	}
}

// resolve fills values derived from other settings.
func (c Config) resolve() Config {
	c.CoreConfigFile = filepath.Clean(c.CoreConfigFile)
	if strings.TrimSpace(c.SourceDir) == "" {
		c.SourceDir = filepath.Dir(c.CoreConfigFile)
	}
	c.SourceDir = filepath.Clean(c.SourceDir)
	c.BuildDir = filepath.Clean(c.BuildDir)
	if c.TemplateRepoFolder != "" {
		c.TemplateRepoFolder = expandHome(c.TemplateRepoFolder)
	}
	c.ExtraFiles = slices.Clone(c.ExtraFiles)
	c.CompileCommand = slices.Clone(c.CompileCommand)
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.CoreConfigFile) == "" {
		return errors.New("core config file is required")
	}
	if strings.TrimSpace(c.SourceDir) == "" {
		return errors.New("source folder is required")
	}
	if strings.TrimSpace(c.BuildDir) == "" || filepath.Clean(c.BuildDir) == "." {
		return errors.New("build folder must be a dedicated folder")
	}
	if contains(c.BuildDir, c.SourceDir) {
		return fmt.Errorf("build folder %q must not contain the source folder %q", c.BuildDir, c.SourceDir)
	}
	if strings.TrimSpace(c.DockerImage) == "" {
		return errors.New("docker image is required")
	}
	if strings.TrimSpace(c.DockerBin) == "" {
		return errors.New("docker bin is required")
	}
	if c.TemplateRepoFolder == "" {
		if strings.TrimSpace(c.TemplateRepoURL) == "" {
			return errors.New("core template repo url is required when no local template folder is set")
		}
		if strings.TrimSpace(c.GitBin) == "" {
			return errors.New("git bin is required")
		}
	}
	if len(c.CompileCommand) == 0 {
		return errors.New("compile command is required")
	}
	for _, f := range c.ExtraFiles {
		if strings.TrimSpace(f) == "" {
			return errors.New("extra file entries cannot be empty")
		}
	}
	return nil
}

// UseLocalTemplate reports whether the template is copied from a local
// reference folder instead of cloned.
func (c Config) UseLocalTemplate() bool {
	return c.TemplateRepoFolder != ""
}

func (c Config) TemplateDir() string {
	return filepath.Join(c.BuildDir, "_core_template_repo")
}

func (c Config) FPGADir() string {
	return filepath.Join(c.TemplateDir(), "src", "fpga")
}

func (c Config) InputProjectFile() string {
	return filepath.Join(c.FPGADir(), "ap_core.qsf")
}

func (c Config) OutputProjectFile() string {
	return filepath.Join(c.FPGADir(), "pf_core.qsf")
}

func (c Config) BitstreamFile() string {
	return filepath.Join(c.FPGADir(), "output_files", "pf_core.rbf")
}

// ImportDir is where staged sources land inside the template.
func (c Config) ImportDir() string {
	return filepath.Join(c.FPGADir(), "core")
}

func (c Config) StateFile() string {
	return filepath.Join(c.BuildDir, ".pfcore.sign")
}

func (c Config) VolumePath() string {
	if c.InstallVolume == "" {
		return ""
	}
	return filepath.Join(c.VolumesRoot, c.InstallVolume)
}

// contains reports whether dir is child or equal to parent, comparing
// absolute paths.
func contains(parent, dir string) bool {
	absParent, err := filepath.Abs(parent)
	if err != nil {
		return false
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absParent, absDir)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
