// Package config holds the options of a classmorph run and loads them from
// a YAML or JSON file and CLASSMORPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"classmorph/internal/layout"
	"classmorph/internal/program"

	"github.com/invopop/jsonschema"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config selects the passes of a run and the identifiers they must leave
// alone.
type Config struct {
	// Identifier renaming
	RenameClasses  bool `mapstructure:"renameClasses" yaml:"renameClasses" json:"renameClasses" jsonschema:"description=Give batch classes generated names"`
	RenameMembers  bool `mapstructure:"renameMembers" yaml:"renameMembers" json:"renameMembers" jsonschema:"description=Give fields and override sets generated names"`
	RenamePackages bool `mapstructure:"renamePackages" yaml:"renamePackages" json:"renamePackages" jsonschema:"description=Move wholly renamable packages to generated names"`

	// Control flow
	FlattenControlFlow bool `mapstructure:"flattenControlFlow" yaml:"flattenControlFlow" json:"flattenControlFlow" jsonschema:"description=Route method control flow through a dispatcher"`
	OpaquePredicates   bool `mapstructure:"opaquePredicates" yaml:"opaquePredicates" json:"opaquePredicates" jsonschema:"description=Insert invariant branches guarding dead blocks"`

	// Literals
	EncryptStrings bool `mapstructure:"encryptStrings" yaml:"encryptStrings" json:"encryptStrings" jsonschema:"description=Replace string literals with a decoded cache lookup"`
	EncryptNumbers bool `mapstructure:"encryptNumbers" yaml:"encryptNumbers" json:"encryptNumbers" jsonschema:"description=Split numeric pool literals into XOR pairs"`

	StripDebugInfo bool `mapstructure:"stripDebugInfo" yaml:"stripDebugInfo" json:"stripDebugInfo" jsonschema:"description=Remove line, local variable and source file tables"`
	ShuffleMembers bool `mapstructure:"shuffleMembers" yaml:"shuffleMembers" json:"shuffleMembers" jsonschema:"description=Permute field and method declaration order"`

	// Exclusions are class or member patterns that keep their names and
	// are left untouched by every pass: com.example.*, com.example.**,
	// com.example.Foo#bar*.
	Exclusions []string `mapstructure:"exclusions" yaml:"exclusions" json:"exclusions,omitempty" jsonschema:"description=Class or member name patterns excluded from every pass"`
	RandomSeed int64    `mapstructure:"randomSeed" yaml:"randomSeed" json:"randomSeed" jsonschema:"description=Seed of every generated name and key"`
	NamePrefix string   `mapstructure:"namePrefix" yaml:"namePrefix" json:"namePrefix,omitempty" jsonschema:"description=Watermark prepended to generated class and member names"`

	MaxLayoutIterations int      `mapstructure:"maxLayoutIterations" yaml:"maxLayoutIterations" json:"maxLayoutIterations" jsonschema:"minimum=1,description=Bound of the branch layout fixed point"`
	Parallelism         int      `mapstructure:"parallelism" yaml:"parallelism" json:"parallelism" jsonschema:"minimum=0,description=Concurrent units; 0 uses every CPU"`
	Classpath           []string `mapstructure:"classpath" yaml:"classpath" json:"classpath,omitempty" jsonschema:"description=Library jars or directories resolved against but never emitted"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		RenameClasses:       true,
		RenameMembers:       true,
		EncryptStrings:      true,
		StripDebugInfo:      true,
		MaxLayoutIterations: layout.DefaultMaxIterations,
	}
}

// defaults feeds viper so that every key is known to AutomaticEnv.
func (c *Config) defaults() map[string]any {
	return map[string]any{
		"renameClasses":       c.RenameClasses,
		"renameMembers":       c.RenameMembers,
		"renamePackages":      c.RenamePackages,
		"flattenControlFlow":  c.FlattenControlFlow,
		"opaquePredicates":    c.OpaquePredicates,
		"encryptStrings":      c.EncryptStrings,
		"encryptNumbers":      c.EncryptNumbers,
		"stripDebugInfo":      c.StripDebugInfo,
		"shuffleMembers":      c.ShuffleMembers,
		"exclusions":          c.Exclusions,
		"randomSeed":          c.RandomSeed,
		"namePrefix":          c.NamePrefix,
		"maxLayoutIterations": c.MaxLayoutIterations,
		"parallelism":         c.Parallelism,
		"classpath":           c.Classpath,
	}
}

// Load reads the configuration at path on top of Default. An empty path
// reads only the environment. Environment variables are the upper-cased
// keys with a CLASSMORPH_ prefix, e.g. CLASSMORPH_RANDOMSEED=42; lists are
// comma separated.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range Default().defaults() {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix("classmorph")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ErrBadPrefix is returned for a name prefix that is not a valid identifier
// part.
var ErrBadPrefix = errors.New("config: namePrefix may not contain . ; [ / < > or whitespace")

// Validate checks option ranges and compiles the exclusion patterns.
func (c *Config) Validate() error {
	if c.MaxLayoutIterations < 1 {
		return fmt.Errorf("config: maxLayoutIterations must be at least 1, got %d", c.MaxLayoutIterations)
	}
	if c.Parallelism < 0 {
		return fmt.Errorf("config: parallelism must not be negative, got %d", c.Parallelism)
	}
	if strings.ContainsAny(c.NamePrefix, ".;[/<> \t\n") {
		return ErrBadPrefix
	}
	if _, err := c.Rules(); err != nil {
		return err
	}
	return nil
}

// Rules compiles the exclusion patterns.
func (c *Config) Rules() (program.Rules, error) {
	rs, err := program.CompileRules(c.Exclusions)
	if err != nil {
		return nil, fmt.Errorf("config: exclusions: %w", err)
	}
	return rs, nil
}

// Write saves c as YAML.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Schema returns the JSON schema of the configuration file.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "classmorph configuration"
	s.Description = "Options of a classmorph obfuscation run"
	return s
}
