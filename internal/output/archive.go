package output

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"classmorph/internal/pipeline"
)

// epoch stamps every archive entry so equal runs give equal jars.
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// WriteJar writes the emitted units of res to a jar at path, in input
// order. Failed units are left out.
func WriteJar(path string, res *pipeline.Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	zw := zip.NewWriter(f)
	for _, u := range res.Units {
		if u.Err != nil {
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     u.OutputName,
			Method:   zip.Deflate,
			Modified: epoch,
		})
		if err != nil {
			f.Close()
			return fmt.Errorf("output: %s: %w", u.OutputName, err)
		}
		if _, err := w.Write(u.Data); err != nil {
			f.Close()
			return fmt.Errorf("output: %s: %w", u.OutputName, err)
		}
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("output: finish %s: %w", path, err)
	}
	return f.Close()
}

// WriteDir writes the emitted units of res under dir, one file each.
func WriteDir(dir string, res *pipeline.Result) error {
	for _, u := range res.Units {
		if u.Err != nil {
			continue
		}
		path := filepath.Join(dir, filepath.FromSlash(u.OutputName))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("output: mkdir: %w", err)
		}
		if err := os.WriteFile(path, u.Data, 0o644); err != nil {
			return fmt.Errorf("output: write %s: %w", u.OutputName, err)
		}
	}
	return nil
}
