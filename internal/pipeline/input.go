package pipeline

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Load reads a class file, a jar or zip archive, or a directory tree.
// Names are slash-separated and relative to the archive or directory root;
// the result is sorted by name.
func Load(path string) ([]Input, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	var out []Input
	switch {
	case fi.IsDir():
		out, err = loadDir(path)
	case isArchive(path):
		out, err = loadZip(path)
	default:
		var data []byte
		data, err = os.ReadFile(path)
		out = []Input{{Name: filepath.Base(path), Data: data}}
	}
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b Input) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

func isArchive(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jar", ".zip", ".war":
		return true
	}
	return false
}

func loadDir(root string) ([]Input, error) {
	var out []Input
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out = append(out, Input{Name: filepath.ToSlash(rel), Data: data})
		return nil
	})
	return out, err
}

func loadZip(path string) ([]Input, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open %s: %w", path, err)
	}
	defer zr.Close()
	var out []Input
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("pipeline: %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("pipeline: %s: %w", f.Name, err)
		}
		out = append(out, Input{Name: f.Name, Data: data})
	}
	return out, nil
}
