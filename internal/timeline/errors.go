package timeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kurobon/interdiff/internal/match"
	"github.com/kurobon/interdiff/internal/vcs"
)

var (
	// ErrNotEnoughIterations is returned when fewer than two iterations are
	// given; there is nothing to compare.
	ErrNotEnoughIterations = errors.New("at least two iterations are required")

	// ErrInvalidIteration marks iterations that cannot be resolved to a
	// commit list.
	ErrInvalidIteration = errors.New("invalid iteration")
)

// ErrorKind classifies a pair-level failure.
type ErrorKind string

const (
	KindMissingObject  ErrorKind = "missing_object"
	KindAmbiguousMatch ErrorKind = "ambiguous_match"
	KindBackend        ErrorKind = "backend"
)

// PairError is attached to a pair that could not be computed. OldID and NewID
// are the heads of the two iterations so the pair can be fetched and
// inspected by hand.
type PairError struct {
	Kind   ErrorKind
	OldID  vcs.Hash
	NewID  vcs.Hash
	Reason string
	Err    error
}

func (e *PairError) Error() string {
	return fmt.Sprintf("%s..%s: %s: %s", vcs.Short(e.OldID), vcs.Short(e.NewID), e.Kind, e.Reason)
}

func (e *PairError) Unwrap() error {
	return e.Err
}

// runFatal reports errors that abort the whole build.
func runFatal(err error) bool {
	return errors.Is(err, vcs.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrInvalidIteration)
}

func newPairError(err error, oldID, newID vcs.Hash) *PairError {
	kind := KindBackend
	switch {
	case errors.Is(err, vcs.ErrObjectNotFound):
		kind = KindMissingObject
	case errors.Is(err, match.ErrAmbiguousMatch):
		kind = KindAmbiguousMatch
	}
	return &PairError{Kind: kind, OldID: oldID, NewID: newID, Reason: err.Error(), Err: err}
}
