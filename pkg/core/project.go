package core

import "time"

// ProjectConfig holds project-level configuration read from jbuild.yaml.
type ProjectConfig struct {
	Name            string                `koanf:"name" yaml:"name"`
	Encoding        string                `koanf:"encoding" yaml:"encoding,omitempty"`
	LanguageLevel   int                   `koanf:"language_level" yaml:"language_level,omitempty"`
	SDK             string                `koanf:"sdk" yaml:"sdk,omitempty"`
	Modules         []*Module             `koanf:"modules" yaml:"modules"`
	Runtimes        []Runtime             `koanf:"runtimes" yaml:"runtimes,omitempty"`
	Compiler        CompilerConfig        `koanf:"compiler" yaml:"compiler"`
	Instrumentation InstrumentationConfig `koanf:"instrumentation" yaml:"instrumentation"`
}

// Module is one unit of Java sources with its own output directory.
type Module struct {
	Name            string   `koanf:"name" yaml:"name"`
	SourceRoots     []string `koanf:"source_roots" yaml:"source_roots"`
	TestSourceRoots []string `koanf:"test_source_roots" yaml:"test_source_roots,omitempty"`
	OutputDir       string   `koanf:"output_dir" yaml:"output_dir"`
	TestOutputDir   string   `koanf:"test_output_dir" yaml:"test_output_dir,omitempty"`

	// LanguageLevel is the Java feature release (8, 11, 17...). Zero inherits the project level.
	LanguageLevel int  `koanf:"language_level" yaml:"language_level,omitempty"`
	Preview       bool `koanf:"preview" yaml:"preview,omitempty"`

	// SDK names an entry of ProjectConfig.Runtimes. Empty inherits the project SDK.
	SDK            string `koanf:"sdk" yaml:"sdk,omitempty"`
	Encoding       string `koanf:"encoding" yaml:"encoding,omitempty"`
	BytecodeTarget string `koanf:"bytecode_target" yaml:"bytecode_target,omitempty"`

	// AdditionalOptions overrides CompilerConfig.AdditionalOptions for this module.
	AdditionalOptions string `koanf:"additional_options" yaml:"additional_options,omitempty"`

	AnnotationProcessing *ProcessingProfile `koanf:"annotation_processing" yaml:"annotation_processing,omitempty"`

	Dependencies []string `koanf:"dependencies" yaml:"dependencies,omitempty"`
	Libraries    []string `koanf:"libraries" yaml:"libraries,omitempty"`
}

// ProcessingEnabled reports whether annotation processing is on for the module.
func (m *Module) ProcessingEnabled() bool {
	return m.AnnotationProcessing != nil && m.AnnotationProcessing.Enabled
}

// ProcessingProfile configures annotation processing for a module.
type ProcessingProfile struct {
	Enabled       bool              `koanf:"enabled" yaml:"enabled"`
	ProcessorPath []string          `koanf:"processor_path" yaml:"processor_path,omitempty"`
	UseModulePath bool              `koanf:"use_module_path" yaml:"use_module_path,omitempty"`
	Processors    []string          `koanf:"processors" yaml:"processors,omitempty"`
	Options       map[string]string `koanf:"options" yaml:"options,omitempty"`
	ProcOnly      bool              `koanf:"proc_only" yaml:"proc_only,omitempty"`
	GeneratedDir  string            `koanf:"generated_dir" yaml:"generated_dir,omitempty"`
}

// Runtime is a configured JDK installation.
type Runtime struct {
	Name    string `koanf:"name" yaml:"name"`
	Home    string `koanf:"home" yaml:"home"`
	Version string `koanf:"version" yaml:"version"`

	// BootClasspath lists platform roots for pre-9 runtimes (rt.jar and friends).
	BootClasspath []string `koanf:"boot_classpath" yaml:"boot_classpath,omitempty"`
}

// Compiler modes.
const (
	CompilerModeAuto     = "auto"
	CompilerModeEmbedded = "embedded"
	CompilerModeExternal = "external"
)

// CompilerConfig holds project-wide javac settings.
type CompilerConfig struct {
	Mode string `koanf:"mode" yaml:"mode"`

	// HostRuntime names the runtime whose javac serves the embedded backend.
	HostRuntime string `koanf:"host_runtime" yaml:"host_runtime,omitempty"`

	PreferTargetJDK   bool   `koanf:"prefer_target_jdk" yaml:"prefer_target_jdk"`
	UseReleaseOption  bool   `koanf:"use_release_option" yaml:"use_release_option"`
	AdditionalOptions string `koanf:"additional_options" yaml:"additional_options,omitempty"`
	ProceedOnError    bool   `koanf:"proceed_on_error" yaml:"proceed_on_error"`
	Debug             bool   `koanf:"debug" yaml:"debug"`
	Deprecation       bool   `koanf:"deprecation" yaml:"deprecation"`
	NoWarn            bool   `koanf:"nowarn" yaml:"nowarn"`

	// HeapSizeMB is the -Xmx of the external compile server.
	HeapSizeMB int `koanf:"heap_size_mb" yaml:"heap_size_mb"`

	PollInterval   time.Duration `koanf:"poll_interval" yaml:"poll_interval"`
	ConnectTimeout time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`

	// ServerExecutable overrides the binary launched as compile server.
	// Empty means the running jbuild executable.
	ServerExecutable string `koanf:"server_executable" yaml:"server_executable,omitempty"`
}

// InstrumentationConfig controls bytecode post-processing.
type InstrumentationConfig struct {
	NotNull            bool     `koanf:"not_null" yaml:"not_null"`
	NotNullAnnotations []string `koanf:"not_null_annotations" yaml:"not_null_annotations,omitempty"`
	ExceptionClass     string   `koanf:"exception_class" yaml:"exception_class,omitempty"`
}

// FindModule returns the module with the given name.
func (p *ProjectConfig) FindModule(name string) *Module {
	for _, m := range p.Modules {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// FindRuntime returns the runtime with the given name.
func (p *ProjectConfig) FindRuntime(name string) (Runtime, bool) {
	for _, r := range p.Runtimes {
		if r.Name == name {
			return r, true
		}
	}
	return Runtime{}, false
}
