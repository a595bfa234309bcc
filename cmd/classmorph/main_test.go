package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"classmorph/internal/classfile"
	"classmorph/internal/classfile/cftest"
	"classmorph/internal/disasm"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("classmorph %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func writeHello(t *testing.T, dir string) {
	t.Helper()
	data := cftest.New(t, "a/Hello", "").
		Method(classfile.AccPublic|classfile.AccStatic, "greet", "()Ljava/lang/String;", 1, 0, func(a *cftest.Asm) {
			a.Str("hello")
			a.Op(disasm.Areturn)
		}).Bytes()
	path := filepath.Join(dir, "a", "Hello.class")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunCommand(t *testing.T) {
	t.Setenv("CLASSMORPH_LOG_LEVEL", "error")
	in, out := t.TempDir(), t.TempDir()
	writeHello(t, in)
	jar := filepath.Join(out, "out.jar")
	mappings := filepath.Join(out, "map.yaml")
	execute(t, "run", in, "-o", jar, "-m", mappings, "--seed", "42", "-q")
	for _, p := range []string{jar, mappings} {
		if _, err := os.Stat(p); err != nil {
			t.Error(err)
		}
	}
	data, _ := os.ReadFile(mappings)
	if !strings.Contains(string(data), "a.Hello") {
		t.Errorf("mappings = %s", data)
	}
}

func TestDumpCommand(t *testing.T) {
	t.Setenv("CLASSMORPH_LOG_LEVEL", "error")
	in := t.TempDir()
	writeHello(t, in)
	text := execute(t, "dump", in, "--no-color")
	if !strings.Contains(text, `ldc "hello"`) {
		t.Errorf("dump = %s", text)
	}
}

func TestSchemaCommand(t *testing.T) {
	text := execute(t, "schema")
	if !strings.Contains(text, `"renameClasses"`) {
		t.Errorf("schema = %s", text)
	}
}

func TestFileName(t *testing.T) {
	if got := fileName("a/B.<init>(I)V"); got != "a_B._init__I_V" {
		t.Errorf("fileName = %q", got)
	}
}

func TestAuditCommand(t *testing.T) {
	t.Setenv("CLASSMORPH_LOG_LEVEL", "error")
	in := t.TempDir()
	writeHello(t, in)
	text := execute(t, "audit", in)
	if !strings.HasPrefix(text, "0 of 1 methods carry signal") {
		t.Errorf("audit = %s", text)
	}
}
