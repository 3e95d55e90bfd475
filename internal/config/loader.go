package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/leapstack-labs/jbuild/pkg/core"
)

// ConfigFileName is the name of the project file.
const ConfigFileName = "jbuild.yaml"

// ConfigFileNameAlt is the alternate name of the project file.
const ConfigFileNameAlt = "jbuild.yml"

// UnmarshalConf decodes koanf values into core types. Durations accept
// strings such as "250ms".
func UnmarshalConf() koanf.UnmarshalConf {
	return koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
		},
	}
}

// Load reads a project file, applies defaults relative to its directory
// and validates the result.
func Load(path string) (*core.ProjectConfig, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("error reading project file %s: %w", path, err)
	}
	return Decode(k, filepath.Dir(path))
}

// Decode unmarshals the project held by k, then applies defaults and
// validates it.
func Decode(k *koanf.Koanf, root string) (*core.ProjectConfig, error) {
	var cfg core.ProjectConfig
	conf := UnmarshalConf()
	conf.DecoderConfig.Result = &cfg
	if err := k.UnmarshalWithConf("", &cfg, conf); err != nil {
		return nil, fmt.Errorf("unable to decode project: %w", err)
	}
	ApplyDefaults(&cfg, root)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid project configuration: %w", err)
	}
	return &cfg, nil
}

// LoadFromDir loads the project file in dir.
// Returns nil, nil if no project file is found.
func LoadFromDir(dir string) (*core.ProjectConfig, error) {
	path := FindConfigFile(dir)
	if path == "" {
		return nil, nil
	}
	return Load(path)
}

// FindConfigFile returns the project file in dir, or "" if there is none.
func FindConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// FindProjectRoot walks up from startDir to the first directory holding
// a project file. Returns empty string if not found.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if FindConfigFile(dir) != "" {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
