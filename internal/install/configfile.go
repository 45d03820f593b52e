package install

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

const (
	MarkerStart = "#mxgit-marker-start"
	MarkerEnd   = "#mxgit-marker-end"
)

// blockPattern matches one marker block including the newline before it.
var blockPattern = regexp.MustCompile(`(\n` + MarkerStart + `)([\s\S]*?)(` + MarkerEnd + `\n)`)

// hasItem reports whether item occurs in contents as whole lines.
func hasItem(contents, item string) bool {
	re := regexp.MustCompile(`(^|\n)` + regexp.QuoteMeta(item) + `(\r?\n|$)`)
	return re.MatchString(contents)
}

// EnsureBlock appends the items missing from the file at path inside a new
// marker block. An item may span several lines. covered, when not nil, can
// declare an item present even though its text is not in the file. It
// returns the items that were appended.
func EnsureBlock(path string, items []string, covered func(item string) bool) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	contents := string(data)

	var missing []string
	for _, item := range items {
		if hasItem(contents, item) || (covered != nil && covered(item)) {
			continue
		}
		missing = append(missing, item)
	}
	if len(missing) == 0 {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("\n" + MarkerStart + "\n")
	for _, item := range missing {
		b.WriteString(item + "\n")
	}
	b.WriteString(MarkerEnd + "\n")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to append to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close %s: %w", path, err)
	}
	return missing, nil
}

// StripBlocks removes every marker block from the file at path. A missing
// file is left missing. It reports whether the file changed.
func StripBlocks(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	stripped := blockPattern.ReplaceAllString(string(data), "")
	if stripped == string(data) {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(stripped), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}
