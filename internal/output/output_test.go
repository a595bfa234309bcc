package output_test

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"classmorph/internal/callgraph"
	"classmorph/internal/classfile"
	"classmorph/internal/classfile/cftest"
	"classmorph/internal/config"
	"classmorph/internal/disasm"
	"classmorph/internal/output"
	"classmorph/internal/pipeline"

	"gopkg.in/yaml.v3"
)

func hello(t *testing.T) *cftest.Builder {
	return cftest.New(t, "a/Hello", "").
		Method(classfile.AccPublic|classfile.AccStatic, "greet", "()Ljava/lang/String;", 1, 0, func(a *cftest.Asm) {
			l := a.Label()
			a.Mark(l)
			a.Line(l, 12)
			a.Str("hello")
			a.Op(disasm.Areturn)
		})
}

func run(t *testing.T) *pipeline.Result {
	t.Helper()
	inputs := []pipeline.Input{
		{Name: "META-INF/MANIFEST.MF", Data: []byte("Manifest-Version: 1.0\n")},
		{Name: "a/Hello.class", Data: hello(t).Bytes()},
	}
	res, err := pipeline.Run(context.Background(), inputs, config.Default())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func TestWriteJar(t *testing.T) {
	res := run(t)
	dir := t.TempDir()
	p1, p2 := filepath.Join(dir, "1.jar"), filepath.Join(dir, "2.jar")
	if err := output.WriteJar(p1, res); err != nil {
		t.Fatalf("WriteJar: %v", err)
	}
	if err := output.WriteJar(p2, res); err != nil {
		t.Fatalf("WriteJar: %v", err)
	}
	b1, _ := os.ReadFile(p1)
	b2, _ := os.ReadFile(p2)
	if !bytes.Equal(b1, b2) {
		t.Error("jar bytes differ between writes")
	}

	zr, err := zip.OpenReader(p1)
	if err != nil {
		t.Fatalf("open jar: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 2 {
		t.Fatalf("entries = %d, want 2", len(zr.File))
	}
	if zr.File[0].Name != "META-INF/MANIFEST.MF" {
		t.Errorf("entry 0 = %s", zr.File[0].Name)
	}
	if name := zr.File[1].Name; name == "a/Hello.class" || !strings.HasSuffix(name, ".class") {
		t.Errorf("renamed class stored as %s", name)
	}
}

func TestWriteDir(t *testing.T) {
	res := run(t)
	dir := t.TempDir()
	if err := output.WriteDir(dir, res); err != nil {
		t.Fatalf("WriteDir: %v", err)
	}
	for _, u := range res.Units {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(u.OutputName)))
		if err != nil {
			t.Fatalf("read %s: %v", u.OutputName, err)
		}
		if !bytes.Equal(data, u.Data) {
			t.Errorf("%s content differs", u.OutputName)
		}
	}
}

func TestWriteMappings(t *testing.T) {
	res := run(t)
	dir := t.TempDir()

	yp := filepath.Join(dir, "map.yaml")
	if err := output.WriteMappings(yp, res.Mappings); err != nil {
		t.Fatalf("WriteMappings yaml: %v", err)
	}
	data, _ := os.ReadFile(yp)
	var got struct {
		Classes map[string]string `yaml:"classes"`
	}
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if got.Classes["a.Hello"] == "" || got.Classes["a.Hello"] == "a.Hello" {
		t.Errorf("classes = %v", got.Classes)
	}

	jp := filepath.Join(dir, "map.json")
	if err := output.WriteMappings(jp, res.Mappings); err != nil {
		t.Fatalf("WriteMappings json: %v", err)
	}
	data, _ = os.ReadFile(jp)
	if !bytes.HasPrefix(data, []byte("{")) || !bytes.Contains(data, []byte(`"a.Hello"`)) {
		t.Errorf("json = %s", data)
	}
}

func TestListing(t *testing.T) {
	c := hello(t).Class()
	text := output.Listing(c)
	for _, want := range []string{
		"class a/Hello extends java/lang/Object",
		"public static greet()Ljava/lang/String;",
		`ldc "hello"  ; line 12`,
		"areturn",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in\n%s", want, text)
		}
	}

	dir := t.TempDir()
	if err := output.WriteListings(dir, []*classfile.Class{c}); err != nil {
		t.Fatalf("WriteListings: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "asm", "a", "Hello.txt")); err != nil {
		t.Error(err)
	}
}

func TestRecords(t *testing.T) {
	rec, _ := callgraph.Extract([]*classfile.Class{hello(t).Class()})
	dir := t.TempDir()
	if err := output.WriteRecords(dir, rec); err != nil {
		t.Fatalf("WriteRecords: %v", err)
	}
	back, err := output.ReadRecords(dir)
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	if len(back.Methods) != 1 || back.Methods[0].Name != "greet" {
		t.Errorf("methods = %+v", back.Methods)
	}
	if len(back.Edges) != 0 {
		t.Errorf("edges = %+v", back.Edges)
	}
	if len(back.Strings) != 1 || back.Strings[0].Value != "hello" {
		t.Errorf("strings = %+v", back.Strings)
	}
}

func TestReport(t *testing.T) {
	var b strings.Builder
	output.Report(&b, run(t))
	text := b.String()
	for _, want := range []string{"1 emitted", "1 resources", "renamed", "elapsed"} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in\n%s", want, text)
		}
	}
}
