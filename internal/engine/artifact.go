package engine

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FindArtifact returns the name of the tracked artifact in root. When
// explicit is set it must exist; otherwise exactly one regular file with
// extension ext must be present.
func FindArtifact(root, ext, explicit string) (string, error) {
	if explicit != "" {
		info, err := os.Stat(filepath.Join(root, explicit))
		if err != nil || !info.Mode().IsRegular() {
			return "", newError(KindEnvironment, ExitNoArtifact, err, "configured artifact %s not found in %s", explicit, root)
		}
		return explicit, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return "", newError(KindEnvironment, ExitNoArtifact, err, "failed to list %s", root)
	}

	var matches []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), ext) || e.Name() == ext {
			continue
		}
		matches = append(matches, e.Name())
	}
	sort.Strings(matches)

	switch len(matches) {
	case 0:
		return "", newError(KindEnvironment, ExitNoArtifact, nil, "no %s file found in %s", ext, root)
	case 1:
		return matches[0], nil
	default:
		return "", newError(KindEnvironment, ExitNoArtifact, errors.New(strings.Join(matches, ", ")),
			"more than one %s file found, set artifact.path to pick one", ext)
	}
}
