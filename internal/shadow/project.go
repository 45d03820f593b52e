package shadow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

const (
	projectIDProperty = "mx:sprintr-project-id"

	// DefaultProjectID is the id the template root node carries.
	DefaultProjectID = "dummyprojectid"
)

// placeholderProperties is the property skel of the template root node.
var placeholderProperties = fmt.Sprintf("(%s %d %s)", projectIDProperty, len(DefaultProjectID), DefaultProjectID)

var (
	// ProjectIDPattern is the accepted shape of a project id.
	ProjectIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	projectIDAtom = regexp.MustCompile(regexp.QuoteMeta(projectIDProperty) + ` (\d+) `)

	// ErrInvalidProjectID is returned for ids not matching ProjectIDPattern.
	ErrInvalidProjectID = errors.New("invalid project id")

	// ErrNoProjectID is returned when the root node carries no project id.
	ErrNoProjectID = errors.New("root node has no project id property")
)

// rootProperties returns the property skel of the root directory node.
func (s *Store) rootProperties(ctx context.Context) ([]byte, error) {
	var props []byte
	err := s.db.GetContext(ctx, &props,
		`SELECT COALESCE(properties, x'') FROM NODES
		WHERE wc_id = ? AND local_relpath = '' AND kind = 'dir' AND op_depth = 0`, wcID)
	if err != nil {
		return nil, fmt.Errorf("failed to read root properties: %w", err)
	}
	return props, nil
}

// locateProjectID returns the byte range of the project id value in props.
// The value is length-prefixed, so the length decides where it ends.
func locateProjectID(props []byte) (lenStart, valueEnd int, err error) {
	m := projectIDAtom.FindSubmatchIndex(props)
	if m == nil {
		return 0, 0, ErrNoProjectID
	}
	n, err := strconv.Atoi(string(props[m[2]:m[3]]))
	if err != nil || m[1]+n > len(props) {
		return 0, 0, fmt.Errorf("%w: malformed length", ErrNoProjectID)
	}
	return m[2], m[1] + n, nil
}

// ProjectID returns the project id stored on the root node.
func (s *Store) ProjectID(ctx context.Context) (string, error) {
	props, err := s.rootProperties(ctx)
	if err != nil {
		return "", err
	}
	lenStart, valueEnd, err := locateProjectID(props)
	if err != nil {
		return "", err
	}
	value := props[lenStart:valueEnd]
	return string(value[bytes.IndexByte(value, ' ')+1:]), nil
}

// SetProjectID rewrites the project id property of the root node. Any
// previous id is replaced.
func (s *Store) SetProjectID(ctx context.Context, id string) error {
	if !ProjectIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidProjectID, id)
	}

	props, err := s.rootProperties(ctx)
	if err != nil {
		return err
	}
	lenStart, valueEnd, err := locateProjectID(props)
	if err != nil {
		return err
	}

	var updated []byte
	updated = append(updated, props[:lenStart]...)
	updated = append(updated, fmt.Sprintf("%d %s", len(id), id)...)
	updated = append(updated, props[valueEnd:]...)

	_, err = s.db.ExecContext(ctx,
		`UPDATE NODES SET properties = ?
		WHERE wc_id = ? AND local_relpath = '' AND kind = 'dir' AND op_depth = 0`, updated, wcID)
	if err != nil {
		return fmt.Errorf("failed to update project id: %w", err)
	}
	return nil
}
