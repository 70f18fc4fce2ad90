package git

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage"
	"github.com/kurobon/interdiff/internal/vcs"
)

var errStopIteration = errors.New("stop iteration")

// ResolveRevision turns a branch, tag, full hash or unambiguous short hash
// into a commit id.
func (r *Repository) ResolveRevision(rev string) (vcs.Hash, error) {
	rev = strings.TrimSpace(rev)
	if rev == "" {
		return vcs.ZeroHash, errors.New("empty revision")
	}

	var hash plumbing.Hash
	err := r.store.exclusive(func(raw storage.Storer) error {
		// 1. Standard resolution (branch, tag, full hash)
		if h, err := r.repo.ResolveRevision(plumbing.Revision(rev)); err == nil {
			hash = *h
			return nil
		}

		// 2. Short hash resolution
		if len(rev) < 4 || len(rev) >= 40 || !isHex(rev) {
			return fmt.Errorf("revision '%s' not found", rev)
		}
		iter, err := raw.IterEncodedObjects(plumbing.CommitObject)
		if err != nil {
			return err
		}
		match, err := findShortHash(iter, strings.ToLower(rev))
		if err != nil {
			return err
		}
		if match.IsZero() {
			return fmt.Errorf("revision '%s' not found", rev)
		}
		hash = match
		return nil
	})
	return hash, err
}

func findShortHash(iter storer.EncodedObjectIter, prefix string) (plumbing.Hash, error) {
	var match plumbing.Hash
	ambiguous := false
	err := iter.ForEach(func(obj plumbing.EncodedObject) error {
		if !strings.HasPrefix(obj.Hash().String(), prefix) {
			return nil
		}
		if !match.IsZero() {
			ambiguous = true
			return errStopIteration
		}
		match = obj.Hash()
		return nil
	})
	if err != nil && !errors.Is(err, errStopIteration) {
		return plumbing.ZeroHash, err
	}
	if ambiguous {
		return plumbing.ZeroHash, fmt.Errorf("short commit hash '%s' is ambiguous", prefix)
	}
	return match, nil
}

func isHex(s string) bool {
	for _, c := range strings.ToLower(s) {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// ResolveCommit resolves rev and returns the commit metadata.
func (r *Repository) ResolveCommit(rev string) (*vcs.Commit, error) {
	h, err := r.ResolveRevision(rev)
	if err != nil {
		return nil, err
	}
	c, err := getCommit(r.store, h)
	if err != nil {
		return nil, err
	}
	return toCommit(c), nil
}
