package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mxgit/mxgit/internal/vcs"
)

// writeAtomic replaces dst with whatever fill writes, through a temp file in
// the same directory and a rename. dst is untouched when fill fails.
func writeAtomic(dst string, fill func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", dst, err)
	}
	tmpName := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", dst, err)
	}
	return nil
}

// retrieveBlob writes the blob named by hash to dst.
func retrieveBlob(ctx context.Context, repo vcs.Repo, hash, dst string) error {
	return writeAtomic(dst, func(w io.Writer) error {
		return repo.WriteBlob(ctx, hash, w)
	})
}

// copyFile copies src to dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	return writeAtomic(dst, func(w io.Writer) error {
		if _, err := io.Copy(w, in); err != nil {
			return fmt.Errorf("failed to copy %s: %w", src, err)
		}
		return nil
	})
}
