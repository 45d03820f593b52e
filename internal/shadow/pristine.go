package shadow

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	sha1Prefix = "$sha1$"
	md5Prefix  = "$md5 $"
)

// PristineInfo describes one pristine text.
type PristineInfo struct {
	Checksum    string `db:"checksum"`
	MD5Checksum string `db:"md5_checksum"`
	Size        int64  `db:"size"`
	RefCount    int    `db:"refcount"`
}

// pristinePath returns the on-disk location of a pristine text inside the
// shadow directory: pristine/<first two hex digits>/<sha1>.svn-base
func pristinePath(shadowDir, checksum string) string {
	hexsum := strings.TrimPrefix(checksum, sha1Prefix)
	return filepath.Join(shadowDir, "pristine", hexsum[:2], hexsum+".svn-base")
}

// Pristine returns the pristine entry referenced by the base node of relpath.
func (s *Store) Pristine(ctx context.Context, relpath string) (PristineInfo, bool, error) {
	var info PristineInfo
	err := s.db.GetContext(ctx, &info,
		`SELECT p.checksum, p.md5_checksum, p.size, p.refcount
		FROM NODES n JOIN PRISTINE p ON p.checksum = n.checksum
		WHERE n.wc_id = ? AND n.local_relpath = ? AND n.op_depth = 0`, wcID, relpath)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PristineInfo{}, false, nil
		}
		return PristineInfo{}, false, fmt.Errorf("failed to read pristine of %s: %w", relpath, err)
	}
	return info, true, nil
}

// UpdatePristine installs the contents of src as the pristine text of the
// base node at relpath and repoints the node at it. The previous pristine is
// dropped once nothing references it.
func (s *Store) UpdatePristine(ctx context.Context, shadowDir, relpath, src string) (PristineInfo, error) {
	info, staged, err := stagePristine(shadowDir, src)
	if err != nil {
		return PristineInfo{}, err
	}
	defer os.Remove(staged)

	old, hadOld, err := s.Pristine(ctx, relpath)
	if err != nil {
		return PristineInfo{}, err
	}
	if hadOld && old.Checksum == info.Checksum {
		return old, nil
	}

	final := pristinePath(shadowDir, info.Checksum)
	if err := os.MkdirAll(filepath.Dir(final), 0755); err != nil {
		return PristineInfo{}, fmt.Errorf("failed to create pristine directory: %w", err)
	}
	if err := os.Rename(staged, final); err != nil {
		return PristineInfo{}, fmt.Errorf("failed to install pristine text: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return PristineInfo{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO PRISTINE (checksum, compression, size, refcount, md5_checksum)
		VALUES (?, NULL, ?, 1, ?)
		ON CONFLICT(checksum) DO UPDATE SET refcount = refcount + 1`,
		info.Checksum, info.Size, info.MD5Checksum); err != nil {
		return PristineInfo{}, fmt.Errorf("failed to record pristine: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE NODES SET checksum = ?, translated_size = ?
		WHERE wc_id = ? AND local_relpath = ? AND op_depth = 0`,
		info.Checksum, info.Size, wcID, relpath); err != nil {
		return PristineInfo{}, fmt.Errorf("failed to repoint node %s: %w", relpath, err)
	}

	orphaned := false
	if hadOld {
		if _, err := tx.ExecContext(ctx,
			`UPDATE PRISTINE SET refcount = refcount - 1 WHERE checksum = ?`, old.Checksum); err != nil {
			return PristineInfo{}, fmt.Errorf("failed to release pristine: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			`DELETE FROM PRISTINE WHERE checksum = ? AND refcount <= 0`, old.Checksum)
		if err != nil {
			return PristineInfo{}, fmt.Errorf("failed to drop pristine: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			orphaned = true
		}
	}

	if err := tx.Commit(); err != nil {
		return PristineInfo{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if orphaned {
		_ = os.Remove(pristinePath(shadowDir, old.Checksum))
	}

	info.RefCount = 1
	return info, nil
}

// stagePristine copies src into the shadow tmp directory while hashing it.
func stagePristine(shadowDir, src string) (PristineInfo, string, error) {
	in, err := os.Open(src)
	if err != nil {
		return PristineInfo{}, "", fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	tmpDir := filepath.Join(shadowDir, "tmp")
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return PristineInfo{}, "", fmt.Errorf("failed to create tmp directory: %w", err)
	}
	out, err := os.CreateTemp(tmpDir, "pristine-*")
	if err != nil {
		return PristineInfo{}, "", fmt.Errorf("failed to create staging file: %w", err)
	}

	sha, sum := sha1.New(), md5.New()
	n, err := io.Copy(io.MultiWriter(out, sha, sum), in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(out.Name())
		return PristineInfo{}, "", fmt.Errorf("failed to stage pristine text: %w", err)
	}

	return PristineInfo{
		Checksum:    sha1Prefix + hexSum(sha),
		MD5Checksum: md5Prefix + hexSum(sum),
		Size:        n,
	}, out.Name(), nil
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
