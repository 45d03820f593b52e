// Package shadow provides access to the shadow Subversion working-copy store.
//
// The shadow store is a disposable `.svn/` directory whose `wc.db` makes the
// modeler believe the project is a versioned Subversion working copy. mxgit
// keeps three things in it current:
//   - the node of the tracked artifact (renamed from the template placeholder)
//   - the conflict record in ACTUAL_NODE while git reports a conflict
//   - optionally the pristine (base) copy of the artifact
//
// Architecture:
//   - Database file: .svn/wc.db (SQLite, ncruces/go-sqlite3 driver)
//   - Schema: pinned subset of the Subversion 1.7 wc.db, see schema.sql
//   - Access: jmoiron/sqlx, parameterized statements only
//
// The store is opened without WAL: the modeler opens the same file with its
// own SQLite build and expects a rollback journal.
package shadow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

const (
	// DBName is the database file inside the shadow directory.
	DBName = "wc.db"

	// PlaceholderNode is the artifact node name carried by the template.
	PlaceholderNode = "GitBasedTeamserverRepo.mpr"

	// wcID is the only working copy root the shadow store has.
	wcID = 1
)

// ErrNoRepository is returned when the REPOSITORY table is empty.
var ErrNoRepository = errors.New("shadow store has no repository root")

// ConflictRecord is the conflict entry of one node in ACTUAL_NODE.
// Left and Right are file names relative to the working copy root.
type ConflictRecord struct {
	Path  string `db:"local_relpath"`
	Left  string `db:"conflict_old"`
	Right string `db:"conflict_new"`
}

// Store wraps the shadow wc.db connection.
type Store struct {
	db   *sqlx.DB
	path string
}

// dsn builds a sqlite URI for path with the given query parameters.
func dsn(path, query string) string {
	escaped := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(path)
	return "file:" + escaped + "?" + query
}

// Open opens an existing shadow store at path. It never creates the file;
// use Create for a fresh store.
func Open(path string) (*Store, error) {
	return open(path, "mode=rw&_pragma=busy_timeout(5000)")
}

// Create creates a new database at path and initializes the schema.
func Create(ctx context.Context, path string) (*Store, error) {
	s, err := open(path, "mode=rwc&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err := s.InitSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func open(path, query string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn(path, query))
	if err != nil {
		return nil, fmt.Errorf("failed to open shadow store: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open shadow store %s: %w", path, err)
	}

	// one writer, short lived process
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close shadow store: %w", err)
	}
	s.db = nil
	return nil
}

// InitSchema creates the pinned schema. Safe to call more than once.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize shadow schema: %w", err)
	}
	return nil
}

// Seed inserts the repository root, the working copy root, the root
// directory node and the placeholder artifact node.
func (s *Store) Seed(ctx context.Context, sentinel, uuid string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmts := []struct {
		query string
		args  []any
	}{
		{`INSERT INTO REPOSITORY (id, root, uuid) VALUES (1, ?, ?)`, []any{sentinel, uuid}},
		{`INSERT INTO WCROOT (id, local_abspath) VALUES (?, NULL)`, []any{wcID}},
		{`INSERT INTO NODES (wc_id, local_relpath, op_depth, parent_relpath, repos_id, repos_path,
			revision, presence, kind, properties, depth, changed_revision)
			VALUES (?, '', 0, NULL, 1, '', 1, 'normal', 'dir', ?, 'infinity', 1)`,
			[]any{wcID, []byte(placeholderProperties)}},
		{`INSERT INTO NODES (wc_id, local_relpath, op_depth, parent_relpath, repos_id, repos_path,
			revision, presence, kind, properties, changed_revision)
			VALUES (?, ?, 0, '', 1, ?, 1, 'normal', 'file', ?, 1)`,
			[]any{wcID, PlaceholderNode, PlaceholderNode, []byte("()")}},
	}

	for _, st := range stmts {
		if _, err := tx.ExecContext(ctx, st.query, st.args...); err != nil {
			return fmt.Errorf("failed to seed shadow store: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RepositoryRoot returns the root URL of the first repository entry.
func (s *Store) RepositoryRoot(ctx context.Context) (string, error) {
	var root string
	err := s.db.GetContext(ctx, &root, `SELECT root FROM REPOSITORY ORDER BY id LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNoRepository
		}
		return "", fmt.Errorf("failed to read repository root: %w", err)
	}
	return strings.TrimSpace(root), nil
}

// RenameNode renames the node at from to to. Renaming a node that does not
// exist is not an error.
func (s *Store) RenameNode(ctx context.Context, from, to string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE NODES SET local_relpath = ?, repos_path = ? WHERE wc_id = ? AND local_relpath = ?`,
		to, to, wcID, from)
	if err != nil {
		return fmt.Errorf("failed to rename node %s to %s: %w", from, to, err)
	}
	return nil
}

// NodeExists reports whether a base node exists at relpath.
func (s *Store) NodeExists(ctx context.Context, relpath string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM NODES WHERE wc_id = ? AND local_relpath = ? AND op_depth = 0`,
		wcID, relpath)
	if err != nil {
		return false, fmt.Errorf("failed to look up node %s: %w", relpath, err)
	}
	return count > 0, nil
}

// Conflict returns the conflict record of relpath, if any.
func (s *Store) Conflict(ctx context.Context, relpath string) (ConflictRecord, bool, error) {
	var rec ConflictRecord
	err := s.db.GetContext(ctx, &rec,
		`SELECT local_relpath, COALESCE(conflict_old, '') AS conflict_old, COALESCE(conflict_new, '') AS conflict_new
		FROM ACTUAL_NODE
		WHERE wc_id = ? AND local_relpath = ? AND (conflict_old IS NOT NULL OR conflict_new IS NOT NULL)`,
		wcID, relpath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ConflictRecord{}, false, nil
		}
		return ConflictRecord{}, false, fmt.Errorf("failed to read conflict of %s: %w", relpath, err)
	}
	return rec, true, nil
}

// ReplaceConflict deletes any ACTUAL_NODE row of rec.Path and inserts rec,
// in a single transaction.
func (s *Store) ReplaceConflict(ctx context.Context, rec ConflictRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM ACTUAL_NODE WHERE wc_id = ? AND local_relpath = ?`, wcID, rec.Path); err != nil {
		return fmt.Errorf("failed to clear conflict of %s: %w", rec.Path, err)
	}

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO ACTUAL_NODE (wc_id, local_relpath, parent_relpath, conflict_old, conflict_new)
		VALUES (1, :local_relpath, '', :conflict_old, :conflict_new)`, rec); err != nil {
		return fmt.Errorf("failed to record conflict of %s: %w", rec.Path, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteConflict removes the ACTUAL_NODE row of relpath. It reports whether a
// row was removed.
func (s *Store) DeleteConflict(ctx context.Context, relpath string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM ACTUAL_NODE WHERE wc_id = ? AND local_relpath = ?`, wcID, relpath)
	if err != nil {
		return false, fmt.Errorf("failed to delete conflict of %s: %w", relpath, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete conflict of %s: %w", relpath, err)
	}
	return n > 0, nil
}
