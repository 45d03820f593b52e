package git

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mxgit/mxgit/internal/vcs"
)

// unmergedCodes are the porcelain XY codes git uses for unmerged paths.
var unmergedCodes = map[string]bool{
	"DD": true,
	"AU": true,
	"UD": true,
	"UA": true,
	"DU": true,
	"AA": true,
	"UU": true,
}

// splitNUL splits -z output into records, dropping the empty trailer.
func splitNUL(output []byte) []string {
	if len(output) == 0 {
		return nil
	}
	records := strings.Split(string(output), "\x00")
	result := make([]string, 0, len(records))
	for _, r := range records {
		if r != "" {
			result = append(result, r)
		}
	}
	return result
}

// parseTreeEntry parses one `git ls-tree` record:
//
//	<mode> SP <type> SP <object> TAB <path>
func parseTreeEntry(record string) (vcs.TreeEntry, error) {
	meta, path, ok := strings.Cut(record, "\t")
	if !ok || path == "" {
		return vcs.TreeEntry{}, fmt.Errorf("%w: ls-tree record %q has no path", vcs.ErrUnexpectedOutput, record)
	}

	fields := strings.Fields(meta)
	if len(fields) != 3 {
		return vcs.TreeEntry{}, fmt.Errorf("%w: ls-tree record %q has %d fields, want 3", vcs.ErrUnexpectedOutput, record, len(fields))
	}
	if !hashPattern.MatchString(fields[2]) {
		return vcs.TreeEntry{}, fmt.Errorf("%w: ls-tree record %q has invalid object name", vcs.ErrUnexpectedOutput, record)
	}

	return vcs.TreeEntry{
		Mode: fields[0],
		Type: fields[1],
		Hash: fields[2],
		Path: path,
	}, nil
}

// parseStageEntry parses one `git ls-files -u` record:
//
//	<mode> SP <object> SP <stage> TAB <path>
func parseStageEntry(record string) (vcs.StageEntry, error) {
	meta, path, ok := strings.Cut(record, "\t")
	if !ok || path == "" {
		return vcs.StageEntry{}, fmt.Errorf("%w: ls-files record %q has no path", vcs.ErrUnexpectedOutput, record)
	}

	fields := strings.Fields(meta)
	if len(fields) != 3 {
		return vcs.StageEntry{}, fmt.Errorf("%w: ls-files record %q has %d fields, want 3", vcs.ErrUnexpectedOutput, record, len(fields))
	}
	if !hashPattern.MatchString(fields[1]) {
		return vcs.StageEntry{}, fmt.Errorf("%w: ls-files record %q has invalid object name", vcs.ErrUnexpectedOutput, record)
	}

	stage, err := strconv.Atoi(fields[2])
	if err != nil || stage < 0 || stage > 3 {
		return vcs.StageEntry{}, fmt.Errorf("%w: ls-files record %q has invalid stage", vcs.ErrUnexpectedOutput, record)
	}

	return vcs.StageEntry{
		Mode:  fields[0],
		Hash:  fields[1],
		Stage: stage,
		Path:  path,
	}, nil
}

// parseStatusCode extracts the XY code and path of one
// `git status --porcelain=v1 -z` record.
func parseStatusCode(record string) (string, string, error) {
	if len(record) < 4 || record[2] != ' ' {
		return "", "", fmt.Errorf("%w: status record %q", vcs.ErrUnexpectedOutput, record)
	}
	return record[:2], record[3:], nil
}

// classifyStatus maps porcelain records for a single path to a FileState.
// Rename records carry their source path as a separate record, which is
// skipped.
func classifyStatus(records []string, path string) (vcs.FileState, error) {
	state := vcs.StateClean

	for i := 0; i < len(records); i++ {
		code, p, err := parseStatusCode(records[i])
		if err != nil {
			return state, err
		}

		if code[0] == 'R' || code[0] == 'C' {
			// next record is the origin path
			i++
		}

		if p != path {
			continue
		}

		if unmergedCodes[code] {
			return vcs.StateUnresolved, nil
		}
		state = vcs.StateModified
	}

	return state, nil
}
