// Package mpr reads metadata from a Mendix project file.
//
// A project file is itself a SQLite database. It is only ever opened
// read-only; the modeler owns it.
package mpr

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNoVersion is returned when the project file carries no product version.
var ErrNoVersion = errors.New("project file has no product version")

// Metadata is the single row of the _MetaData table.
type Metadata struct {
	ProductVersion string `db:"_ProductVersion"`
}

// open opens path read-only. The modeler may hold the file open, so the
// connection waits briefly on a busy database.
func open(path string) (*sqlx.DB, error) {
	escaped := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(path)
	db, err := sqlx.Open("sqlite3", "file:"+escaped+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open project file: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open project file %s: %w", path, err)
	}
	return db, nil
}

// ReadMetadata reads the _MetaData row of the project file at path.
func ReadMetadata(ctx context.Context, path string) (Metadata, error) {
	db, err := open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer db.Close()

	var md Metadata
	err = db.GetContext(ctx, &md, `SELECT COALESCE(_ProductVersion, '') AS _ProductVersion FROM _MetaData LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Metadata{}, ErrNoVersion
		}
		return Metadata{}, fmt.Errorf("failed to read metadata of %s: %w", path, err)
	}
	return md, nil
}

// ProductVersion returns the modeler version that last saved the project.
func ProductVersion(ctx context.Context, path string) (string, error) {
	md, err := ReadMetadata(ctx, path)
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(md.ProductVersion)
	if version == "" {
		return "", ErrNoVersion
	}
	return version, nil
}
