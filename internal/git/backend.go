// Package git implements the engine's VCS backend on top of go-git.
package git

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/storage"
	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/rs/zerolog/log"
)

// Repository is a go-git backed vcs.Backend. All access to the underlying
// store goes through one lock; replays run in private scratch sessions.
type Repository struct {
	repo         *gogit.Repository
	store        *lockedStorer
	source       ObjectSource
	contextLines int
}

var _ vcs.Backend = (*Repository)(nil)

// Option configures a Repository.
type Option func(*Repository)

// WithSource sets where FetchMissing gets absent objects from.
func WithSource(src ObjectSource) Option {
	return func(r *Repository) {
		r.source = src
	}
}

// WithContextLines sets the number of context lines kept around changes.
func WithContextLines(n int) Option {
	return func(r *Repository) {
		if n >= 0 {
			r.contextLines = n
		}
	}
}

// New wraps an opened go-git repository.
func New(repo *gogit.Repository, opts ...Option) *Repository {
	r := &Repository{
		repo:         repo,
		store:        newLockedStorer(repo.Storer),
		contextLines: DefaultContextLines,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open opens the repository at path, walking up to find the .git directory.
func Open(path string, opts ...Option) (*Repository, error) {
	repo, err := gogit.PlainOpenWithOptions(path, &gogit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open repository at %s: %w", path, err)
	}
	return New(repo, opts...), nil
}

// Repo exposes the wrapped go-git repository.
func (r *Repository) Repo() *gogit.Repository {
	return r.repo
}

func (r *Repository) ReadCommit(ctx context.Context, id vcs.Hash) (*vcs.Commit, error) {
	return readCommit(ctx, r.store, id)
}

func (r *Repository) ReadHeaderField(ctx context.Context, id vcs.Hash, field string) (string, bool, error) {
	return readHeaderField(ctx, r.store, id, field)
}

func (r *Repository) DiffTrees(ctx context.Context, a, b vcs.Hash) ([]vcs.FileDiff, error) {
	return diffTrees(ctx, r.store, a, b, r.contextLines)
}

// NewSession opens a scratch replay scope over the shared store.
func (r *Repository) NewSession(ctx context.Context) (vcs.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newSession(r.store, r.contextLines), nil
}

// FetchMissing asks the configured source for objects not present locally.
func (r *Repository) FetchMissing(ctx context.Context, ids []vcs.Hash) error {
	var missing []plumbing.Hash
	seen := make(map[plumbing.Hash]bool)
	for _, id := range ids {
		if id.IsZero() || seen[id] {
			continue
		}
		seen[id] = true
		if err := r.store.HasEncodedObject(id); err != nil {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	if r.source == nil {
		return &vcs.MissingObjectError{ID: missing[0], Kind: "object"}
	}

	log.Debug().Int("count", len(missing)).Msg("fetching missing objects")
	err := r.store.exclusive(func(raw storage.Storer) error {
		return r.source.Fetch(ctx, r.repo, raw, missing)
	})
	if err != nil {
		return err
	}

	for _, id := range missing {
		if err := r.store.HasEncodedObject(id); err != nil {
			return &vcs.MissingObjectError{ID: id, Kind: "object"}
		}
	}
	return nil
}

// CommitRange walks first parents from head down to the merge base of base
// and head.
func (r *Repository) CommitRange(ctx context.Context, base, head vcs.Hash) ([]vcs.Hash, vcs.Hash, error) {
	headCommit, err := getCommit(r.store, head)
	if err != nil {
		return nil, vcs.ZeroHash, err
	}
	baseCommit, err := getCommit(r.store, base)
	if err != nil {
		return nil, vcs.ZeroHash, err
	}

	bases, err := headCommit.MergeBase(baseCommit)
	if err != nil {
		return nil, vcs.ZeroHash, fmt.Errorf("failed to find merge base: %w", err)
	}
	if len(bases) == 0 {
		return nil, vcs.ZeroHash, fmt.Errorf("no common ancestor between %s and %s", vcs.Short(base), vcs.Short(head))
	}
	forkPoint := bases[0].Hash

	var commits []vcs.Hash
	iter := headCommit
	for iter.Hash != forkPoint {
		if err := ctx.Err(); err != nil {
			return nil, vcs.ZeroHash, err
		}
		commits = append(commits, iter.Hash)
		if iter.NumParents() == 0 {
			break
		}
		p, err := getCommit(r.store, iter.ParentHashes[0])
		if err != nil {
			return nil, vcs.ZeroHash, err
		}
		iter = p
	}

	// Reverse to list oldest first
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, forkPoint, nil
}

func readCommit(ctx context.Context, s storer.EncodedObjectStorer, id vcs.Hash) (*vcs.Commit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := getCommit(s, id)
	if err != nil {
		return nil, err
	}
	return toCommit(c), nil
}

func readHeaderField(ctx context.Context, s storer.EncodedObjectStorer, id vcs.Hash, field string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	c, err := getCommit(s, id)
	if err != nil {
		return "", false, err
	}
	v, ok := headerValue(c, field)
	return v, ok, nil
}

// isNotFound reports whether err means an object is absent.
func isNotFound(err error) bool {
	return errors.Is(err, plumbing.ErrObjectNotFound) || errors.Is(err, vcs.ErrObjectNotFound) ||
		errors.Is(err, object.ErrFileNotFound)
}
