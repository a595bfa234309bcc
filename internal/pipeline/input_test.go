package pipeline

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
)

func names(in []Input) []string {
	out := make([]string, len(in))
	for i, x := range in {
		out[i] = x.Name
	}
	return out
}

func TestLoad_Dir(t *testing.T) {
	root := t.TempDir()
	for _, n := range []string{"b/B.class", "a/A.class", "META-INF/MANIFEST.MF"} {
		p := filepath.Join(root, filepath.FromSlash(n))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(n), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	in, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := names(in)
	want := []string{"META-INF/MANIFEST.MF", "a/A.class", "b/B.class"}
	if len(got) != len(want) {
		t.Fatalf("names = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("names = %v, want %v", got, want)
		}
		if string(in[i].Data) != want[i] {
			t.Errorf("%s: data = %q", want[i], in[i].Data)
		}
	}
}

func TestLoad_Jar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.jar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	if _, err := zw.Create("a/"); err != nil {
		t.Fatal(err)
	}
	for _, n := range []string{"a/Z.class", "a/A.class"} {
		w, err := zw.Create(n)
		if err != nil {
			t.Fatal(err)
		}
		w.Write([]byte(n))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	in, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := names(in); len(got) != 2 || got[0] != "a/A.class" || got[1] != "a/Z.class" {
		t.Fatalf("names = %v, want [a/A.class a/Z.class]", got)
	}
}

func TestInput_IsClass(t *testing.T) {
	for name, want := range map[string]bool{
		"a/A.class":           true,
		"module-info.class":   false,
		"META-INF/MANIFEST.MF": false,
		"a/A.class.bak":       false,
	} {
		if got := (Input{Name: name}).isClass(); got != want {
			t.Errorf("isClass(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestOutputName(t *testing.T) {
	cases := []struct{ input, orig, renamed, want string }{
		{"a/A.class", "a/A", "a/A", "a/A.class"},
		{"a/A.class", "a/A", "b/x", "b/x.class"},
		{"classes/a/A.class", "a/A", "x", "classes/x.class"},
		{"odd.class", "a/A", "x", "x.class"},
	}
	for _, c := range cases {
		if got := outputName(c.input, c.orig, c.renamed); got != c.want {
			t.Errorf("outputName(%q, %q, %q) = %q, want %q", c.input, c.orig, c.renamed, got, c.want)
		}
	}
}
