package engine

import (
	"fmt"
	"os"
)

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CheckMergeMarker fails while the modeler is resolving a merge.
func CheckMergeMarker(s *Session) error {
	marker := s.Config.MergeMarkerPath()
	if exists(marker) {
		return newError(KindStateConflict, ExitMergeMarker, nil,
			"%s is being merged in the modeler (%s present), resolve the model conflicts first",
			s.Artifact, s.Config.Modeler.MergeMarker)
	}
	return nil
}

// CheckLock fails while the modeler has the artifact open. With ignorable
// set, an open artifact only produces a warning and flags a reload.
func CheckLock(s *Session, ignorable bool) error {
	if !exists(s.LockPath()) {
		return nil
	}
	if !ignorable {
		return newError(KindStateConflict, ExitLocked, nil,
			"%s is open in the modeler, close the project (or remove %s.lock) first", s.Artifact, s.Artifact)
	}

	msg := fmt.Sprintf("%s is open in the modeler", s.Artifact)
	s.Logger.Warn(msg)
	s.Notifier.Warn(msg)
	s.RequireReload("project was open in the modeler during the update")
	return nil
}
