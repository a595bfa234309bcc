package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "classmorph.yaml")
	data := []byte(`renameClasses: false
flattenControlFlow: true
randomSeed: 42
exclusions:
  - com.example.api.*
  - com.example.Main#run*
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RenameClasses || !cfg.RenameMembers || !cfg.FlattenControlFlow {
		t.Errorf("toggles = %+v", cfg)
	}
	if cfg.RandomSeed != 42 {
		t.Errorf("RandomSeed = %d, want 42", cfg.RandomSeed)
	}
	if want := []string{"com.example.api.*", "com.example.Main#run*"}; !slices.Equal(cfg.Exclusions, want) {
		t.Errorf("Exclusions = %q, want %q", cfg.Exclusions, want)
	}
	if cfg.MaxLayoutIterations != Default().MaxLayoutIterations {
		t.Errorf("MaxLayoutIterations = %d, want the default", cfg.MaxLayoutIterations)
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("CLASSMORPH_RANDOMSEED", "7")
	t.Setenv("CLASSMORPH_STRIPDEBUGINFO", "false")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RandomSeed != 7 || cfg.StripDebugInfo {
		t.Errorf("RandomSeed = %d, StripDebugInfo = %v, want 7, false", cfg.RandomSeed, cfg.StripDebugInfo)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load of a missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Config)
		ok   bool
	}{
		{"default", func(*Config) {}, true},
		{"zero iterations", func(c *Config) { c.MaxLayoutIterations = 0 }, false},
		{"negative parallelism", func(c *Config) { c.Parallelism = -1 }, false},
		{"prefix", func(c *Config) { c.NamePrefix = "wm_" }, true},
		{"prefix with slash", func(c *Config) { c.NamePrefix = "a/b" }, false},
		{"bad glob", func(c *Config) { c.Exclusions = []string{"com.[x"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.edit(c)
			err := c.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
	c := Default()
	c.NamePrefix = "x;"
	if err := c.Validate(); !errors.Is(err, ErrBadPrefix) {
		t.Errorf("Validate() = %v, want ErrBadPrefix", err)
	}
}

func TestWriteLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "cfg.yaml")
	c := Default()
	c.ShuffleMembers = true
	c.NamePrefix = "wm"
	c.Classpath = []string{"lib/rt.jar"}
	if err := c.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.ShuffleMembers || got.NamePrefix != "wm" || !slices.Equal(got.Classpath, c.Classpath) {
		t.Errorf("reloaded = %+v", got)
	}
}

func TestSchema(t *testing.T) {
	s := Schema()
	if s.Properties == nil {
		t.Fatal("schema has no properties")
	}
	for _, k := range []string{"renameClasses", "exclusions", "randomSeed"} {
		if _, ok := s.Properties.Get(k); !ok {
			t.Errorf("schema lacks %s", k)
		}
	}
}
