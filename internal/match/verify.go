package match

import (
	"errors"
	"fmt"
)

// ErrAmbiguousMatch reports matcher output that pairs a commit more than
// once or leaves one out. It indicates a defect, not bad input.
var ErrAmbiguousMatch = errors.New("ambiguous match")

// Verify checks that res covers nOld old and nNew new commits, each exactly
// once.
func Verify(res *Result, nOld, nNew int) error {
	oldSeen := make([]bool, nOld)
	newSeen := make([]bool, nNew)

	mark := func(seen []bool, idx int, side string) error {
		if idx < 0 || idx >= len(seen) {
			return fmt.Errorf("%w: %s index %d out of range", ErrAmbiguousMatch, side, idx)
		}
		if seen[idx] {
			return fmt.Errorf("%w: %s commit %d appears more than once", ErrAmbiguousMatch, side, idx)
		}
		seen[idx] = true
		return nil
	}

	for _, e := range res.Entries {
		switch e.Kind {
		case Matched:
			if err := mark(oldSeen, e.OldIndex, "old"); err != nil {
				return err
			}
			if err := mark(newSeen, e.NewIndex, "new"); err != nil {
				return err
			}
		case Added:
			if e.OldIndex >= 0 {
				return fmt.Errorf("%w: added entry references old commit %d", ErrAmbiguousMatch, e.OldIndex)
			}
			if err := mark(newSeen, e.NewIndex, "new"); err != nil {
				return err
			}
		case Removed:
			if e.NewIndex >= 0 {
				return fmt.Errorf("%w: removed entry references new commit %d", ErrAmbiguousMatch, e.NewIndex)
			}
			if err := mark(oldSeen, e.OldIndex, "old"); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unknown entry kind %q", ErrAmbiguousMatch, e.Kind)
		}
	}

	for i, ok := range oldSeen {
		if !ok {
			return fmt.Errorf("%w: old commit %d not covered", ErrAmbiguousMatch, i)
		}
	}
	for i, ok := range newSeen {
		if !ok {
			return fmt.Errorf("%w: new commit %d not covered", ErrAmbiguousMatch, i)
		}
	}
	return nil
}
