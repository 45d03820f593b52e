package shadow

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

//go:embed schema.sql
var schemaSQL string

//go:embed template
var templateFS embed.FS

// Directories every shadow tree must have. embed drops empty directories,
// so they are created rather than carried in the template.
var requiredDirs = []string{"pristine", "tmp"}

// BootstrapOptions controls how a shadow tree is created.
type BootstrapOptions struct {
	// Dir is the shadow directory to create, usually <root>/.svn
	Dir string

	// Artifact is the name the placeholder node is renamed to
	Artifact string

	// Sentinel is the repository root URL seeded into a fresh store
	Sentinel string

	// Template is an optional on-disk template directory. When empty the
	// embedded template is used. A template without wc.db gets a fresh one.
	Template string
}

// Exists reports whether a shadow directory is present at dir.
func Exists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// Bootstrap creates the shadow tree at opts.Dir. The tree is assembled in a
// sibling temp directory and renamed into place, so an interrupted
// bootstrap never leaves a half-built store behind.
func Bootstrap(ctx context.Context, opts BootstrapOptions) error {
	if opts.Artifact == "" || opts.Sentinel == "" {
		return errors.New("bootstrap requires an artifact name and a sentinel root")
	}
	if Exists(opts.Dir) {
		return fmt.Errorf("shadow directory %s already exists", opts.Dir)
	}

	parent := filepath.Dir(opts.Dir)
	staging, err := os.MkdirTemp(parent, ".svn-bootstrap-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	var src fs.FS
	if opts.Template != "" {
		src = os.DirFS(opts.Template)
	} else {
		src, err = fs.Sub(templateFS, "template")
		if err != nil {
			return fmt.Errorf("failed to open embedded template: %w", err)
		}
	}

	if err := copyTree(src, staging); err != nil {
		return err
	}

	for _, d := range requiredDirs {
		if err := os.MkdirAll(filepath.Join(staging, d), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}

	if err := prepareStore(ctx, filepath.Join(staging, DBName), opts); err != nil {
		return err
	}

	if err := os.Rename(staging, opts.Dir); err != nil {
		return fmt.Errorf("failed to move shadow tree into place: %w", err)
	}
	return nil
}

// prepareStore creates and seeds wc.db when the template did not bring one,
// then points the placeholder node at the artifact.
func prepareStore(ctx context.Context, dbPath string, opts BootstrapOptions) error {
	var (
		store *Store
		err   error
	)

	if _, statErr := os.Stat(dbPath); statErr == nil {
		store, err = Open(dbPath)
		if err != nil {
			return err
		}
	} else {
		store, err = Create(ctx, dbPath)
		if err != nil {
			return err
		}
		if err := store.Seed(ctx, opts.Sentinel, uuid.New().String()); err != nil {
			_ = store.Close()
			return err
		}
	}
	defer store.Close()

	return store.RenameNode(ctx, PlaceholderNode, opts.Artifact)
}

// copyTree copies every regular file and directory of src into dst.
func copyTree(src fs.FS, dst string) error {
	return fs.WalkDir(src, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dst, filepath.FromSlash(path))

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		in, err := src.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open template file %s: %w", path, err)
		}
		defer in.Close()

		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", target, err)
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return fmt.Errorf("failed to copy template file %s: %w", path, err)
		}
		return out.Close()
	})
}
