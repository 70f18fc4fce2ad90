package vcs

import (
	"errors"
	"fmt"
)

var (
	// ErrObjectNotFound is returned when a commit or tree is absent locally.
	ErrObjectNotFound = errors.New("object not found")

	// ErrReplayConflict is matched by every ReplayError.
	ErrReplayConflict = errors.New("replay conflict")

	// ErrUnavailable marks transport or authentication failures of the
	// backend or the forge. No further object data can be obtained.
	ErrUnavailable = errors.New("backend unavailable")
)

// ReplayError reports a replay that could not complete cleanly.
type ReplayError struct {
	Commit Hash
	Onto   Hash
	Path   string
	Reason string
}

func (e *ReplayError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("replay %s onto %s: %s", short(e.Commit), short(e.Onto), e.Reason)
	}
	return fmt.Sprintf("replay %s onto %s: %s: %s", short(e.Commit), short(e.Onto), e.Path, e.Reason)
}

func (e *ReplayError) Is(target error) bool {
	return target == ErrReplayConflict
}

// MissingObjectError names the object that could not be found.
type MissingObjectError struct {
	ID   Hash
	Kind string
}

func (e *MissingObjectError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.ID, ErrObjectNotFound)
}

func (e *MissingObjectError) Unwrap() error {
	return ErrObjectNotFound
}

// Short abbreviates a hash for messages.
func Short(h Hash) string {
	return short(h)
}

func short(h Hash) string {
	s := h.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
