package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// FileName is the optional project settings file looked up in the working
// directory.
const FileName = "pfcore.yaml"

// EnvPrefix marks environment overrides, e.g. PF_DOCKER_IMAGE.
const EnvPrefix = "PF_"

// flagKeys maps command line flag names to configuration keys. Flags not
// listed here are not configuration.
var flagKeys = map[string]string{
	"core":            "core_config_file",
	"src":             "src_folder",
	"build-dir":       "build_folder",
	"image":           "docker_image",
	"template-url":    "core_template_repo_url",
	"template-tag":    "core_template_repo_tag",
	"template-folder": "core_template_repo_folder",
	"extra":           "extra_files",
	"volume":          "install_volume",
	"quiet":           "quiet",
	"verbose":         "verbose",
}

type LoadOptions struct {
	// File is an explicit settings file; when empty FileName is used if it
	// exists in the working directory.
	File  string
	Flags *pflag.FlagSet
}

// Load resolves the configuration. Precedence, highest first: flags that were
// explicitly set, PF_* environment variables, the settings file, defaults.
func Load(opts LoadOptions) (Config, string, error) {
	k := koanf.New(".")

	def := Default()
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"core_config_file":       def.CoreConfigFile,
		"build_folder":           def.BuildDir,
		"docker_image":           def.DockerImage,
		"docker_platform":        def.DockerPlatform,
		"docker_bin":             def.DockerBin,
		"git_bin":                def.GitBin,
		"core_template_repo_url": def.TemplateRepoURL,
		"volumes_root":           def.VolumesRoot,
		"compile_command":        def.CompileCommand,
	}, "."), nil); err != nil {
		return Config{}, "", fmt.Errorf("load defaults: %w", err)
	}

	fileUsed := opts.File
	if fileUsed == "" {
		if _, err := os.Stat(FileName); err == nil {
			fileUsed = FileName
		}
	}
	if fileUsed != "" {
		if err := k.Load(file.Provider(fileUsed), yaml.Parser()); err != nil {
			return Config{}, "", fmt.Errorf("read config file %s: %w", fileUsed, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, "", fmt.Errorf("load environment: %w", err)
	}

	if opts.Flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		}), nil); err != nil {
			return Config{}, "", fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook:       mapstructure.StringToSliceHookFunc(","),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return Config{}, "", fmt.Errorf("decode config: %w", err)
	}

	cfg = cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return Config{}, "", err
	}
	return cfg, fileUsed, nil
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return filepath.Clean(p)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Clean(p)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
