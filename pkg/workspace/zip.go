package workspace

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteZip streams the tree as a zip archive. Skip rules match ListFiles.
func (t *Tree) WriteZip(w io.Writer) error {
	zw := zip.NewWriter(w)
	err := t.walk(func(rel string, info os.FileInfo) error {
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("failed to build zip header for %s: %w", rel, err)
		}
		hdr.Name = rel
		hdr.Method = zip.Deflate
		fw, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("failed to add %s to zip: %w", rel, err)
		}
		f, err := os.Open(filepath.Join(t.dir, rel))
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", rel, err)
		}
		defer f.Close()
		if _, err := io.Copy(fw, f); err != nil {
			return fmt.Errorf("failed to copy %s into zip: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		_ = zw.Close()
		return err
	}
	return zw.Close()
}
