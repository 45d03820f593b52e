// Package basecache stores the base revision of the tracked artifact.
//
// The cache is a directory of flat files:
//
//	base_data     copy of the artifact as of the base revision
//	base_rev      format marker, always "2"
//	base_ver      product version read from base_data
//	base_rev_git  blob hash of the base revision, empty when uncommitted
//
// Data files are replaced through a temp file and a rename, so readers
// never see a partial copy. The record files are written last.
package basecache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// FormatMarker is the only base_rev value this version writes and reads.
	FormatMarker = "2"

	dataFile    = "base_data"
	revFile     = "base_rev"
	verFile     = "base_ver"
	revGitFile  = "base_rev_git"
	tempPattern = ".base_data-*"
)

var (
	// ErrNoRecord is returned by Load when no base has been recorded yet.
	ErrNoRecord = errors.New("no base record")

	// ErrUnknownFormat is returned when base_rev holds a foreign marker.
	ErrUnknownFormat = errors.New("unknown base record format")
)

// Record is the persisted identity of the current base.
type Record struct {
	Hash    string
	Version string
}

// Cache is a base cache rooted at a directory.
type Cache struct {
	dir string
}

// New returns a cache rooted at dir. The directory is created on demand.
func New(dir string) *Cache {
	return &Cache{dir: dir}
}

// Dir returns the cache directory.
func (c *Cache) Dir() string {
	return c.dir
}

// DataPath returns the path of base_data.
func (c *Cache) DataPath() string {
	return filepath.Join(c.dir, dataFile)
}

// Ensure creates the cache directory.
func (c *Cache) Ensure() error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	return nil
}

// HasData reports whether base_data exists.
func (c *Cache) HasData() bool {
	info, err := os.Stat(c.DataPath())
	return err == nil && info.Mode().IsRegular()
}

// Load reads the base record. A missing base_rev means no record.
func (c *Cache) Load() (Record, error) {
	marker, err := c.read(revFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNoRecord
		}
		return Record{}, err
	}
	if marker != FormatMarker {
		return Record{}, fmt.Errorf("%w: %q", ErrUnknownFormat, marker)
	}

	hash, err := c.read(revGitFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Record{}, err
	}
	version, err := c.read(verFile)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Record{}, err
	}

	return Record{Hash: hash, Version: version}, nil
}

// Save writes the record files. base_rev_git goes last: it is what the
// next run compares against.
func (c *Cache) Save(rec Record) error {
	if err := c.Ensure(); err != nil {
		return err
	}
	for _, f := range []struct{ name, value string }{
		{revFile, FormatMarker},
		{verFile, rec.Version},
		{revGitFile, rec.Hash},
	} {
		if err := os.WriteFile(filepath.Join(c.dir, f.name), []byte(f.value), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}

// Invalidate removes the record so the next run refreshes the base.
// base_data is left in place.
func (c *Cache) Invalidate() error {
	for _, name := range []string{revFile, revGitFile, verFile} {
		err := os.Remove(filepath.Join(c.dir, name))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to invalidate base record: %w", err)
		}
	}
	return nil
}

// ReplaceData atomically replaces base_data with whatever fill writes.
// On error the previous base_data is left untouched.
func (c *Cache) ReplaceData(fill func(w io.Writer) error) error {
	if err := c.Ensure(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, tempPattern)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync base data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close base data: %w", err)
	}

	if err := os.Rename(tmpName, c.DataPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace base data: %w", err)
	}
	return nil
}

// CopyData replaces base_data with a copy of src.
func (c *Cache) CopyData(src string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	return c.ReplaceData(func(w io.Writer) error {
		if _, err := io.Copy(w, in); err != nil {
			return fmt.Errorf("failed to copy %s: %w", src, err)
		}
		return nil
	})
}

func (c *Cache) read(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
