package git

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/kurobon/interdiff/internal/vcs"
)

func toSignature(s object.Signature) vcs.Signature {
	return vcs.Signature{Name: s.Name, Email: s.Email, When: s.When}
}

func toCommit(c *object.Commit) *vcs.Commit {
	parents := make([]vcs.Hash, len(c.ParentHashes))
	copy(parents, c.ParentHashes)
	return &vcs.Commit{
		ID:        c.Hash,
		Parents:   parents,
		Author:    toSignature(c.Author),
		Committer: toSignature(c.Committer),
		Message:   c.Message,
		Tree:      c.TreeHash,
	}
}

// getCommit decodes a commit, mapping go-git's not-found error to the
// engine's MissingObject error.
func getCommit(s storer.EncodedObjectStorer, h plumbing.Hash) (*object.Commit, error) {
	c, err := object.GetCommit(s, h)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, &vcs.MissingObjectError{ID: h, Kind: "commit"}
		}
		return nil, fmt.Errorf("failed to read commit %s: %w", vcs.Short(h), err)
	}
	return c, nil
}

// getTree returns nil for the zero hash, which go-git treats as an empty tree.
func getTree(s storer.EncodedObjectStorer, h plumbing.Hash) (*object.Tree, error) {
	if h.IsZero() {
		return nil, nil
	}
	t, err := object.GetTree(s, h)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, &vcs.MissingObjectError{ID: h, Kind: "tree"}
		}
		return nil, fmt.Errorf("failed to read tree %s: %w", vcs.Short(h), err)
	}
	return t, nil
}

// headerValue looks up a non-standard commit header. Multi-line values keep
// their embedded newlines.
func headerValue(c *object.Commit, field string) (string, bool) {
	for _, h := range c.ExtraHeaders {
		if h.Key == field {
			return h.Value, true
		}
	}
	return "", false
}
