package git

import (
	"context"
	"errors"
	"fmt"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage"
	"github.com/kurobon/interdiff/internal/retry"
	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/rs/zerolog/log"
)

// ObjectSource supplies commits (with their trees and ancestry) that are
// missing from the local store. Fetch runs while the store is locked; it must
// write through raw or repo, which share the same underlying storage.
type ObjectSource interface {
	Fetch(ctx context.Context, repo *gogit.Repository, raw storage.Storer, ids []plumbing.Hash) error
}

// RepositorySource copies objects from another object store, e.g. a mirror
// clone or an in-memory fixture.
type RepositorySource struct {
	From storer.EncodedObjectStorer
}

func (s *RepositorySource) Fetch(ctx context.Context, _ *gogit.Repository, raw storage.Storer, ids []plumbing.Hash) error {
	for _, id := range ids {
		if err := copyCommitClosure(ctx, s.From, raw, id); err != nil {
			return err
		}
	}
	return nil
}

// copyCommitClosure copies a commit, its ancestry and trees from src to dst.
// Commits already present in dst are assumed to be complete.
func copyCommitClosure(ctx context.Context, src, dst storer.EncodedObjectStorer, hash plumbing.Hash) error {
	stack := []plumbing.Hash{hash}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if dst.HasEncodedObject(h) == nil {
			continue
		}

		obj, err := src.EncodedObject(plumbing.CommitObject, h)
		if err != nil {
			if errors.Is(err, plumbing.ErrObjectNotFound) {
				return &vcs.MissingObjectError{ID: h, Kind: "commit"}
			}
			return err
		}
		commit, err := object.DecodeCommit(src, obj)
		if err != nil {
			return err
		}
		if err := copyTree(src, dst, commit.TreeHash); err != nil {
			return err
		}
		// Write the commit after its tree so a present commit implies a
		// present tree.
		if _, err := dst.SetEncodedObject(obj); err != nil {
			return err
		}
		stack = append(stack, commit.ParentHashes...)
	}
	return nil
}

func copyTree(src, dst storer.EncodedObjectStorer, hash plumbing.Hash) error {
	if dst.HasEncodedObject(hash) == nil {
		return nil
	}

	obj, err := src.EncodedObject(plumbing.TreeObject, hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return &vcs.MissingObjectError{ID: hash, Kind: "tree"}
		}
		return err
	}
	tree, err := object.DecodeTree(src, obj)
	if err != nil {
		return err
	}

	for _, entry := range tree.Entries {
		switch {
		case entry.Mode == filemode.Submodule:
			// Submodule commits live in another repository.
			continue
		case entry.Mode == filemode.Dir:
			if err := copyTree(src, dst, entry.Hash); err != nil {
				return err
			}
		default:
			if err := copyBlob(src, dst, entry.Hash); err != nil {
				return err
			}
		}
	}

	_, err = dst.SetEncodedObject(obj)
	return err
}

func copyBlob(src, dst storer.EncodedObjectStorer, hash plumbing.Hash) error {
	if dst.HasEncodedObject(hash) == nil {
		return nil
	}
	obj, err := src.EncodedObject(plumbing.BlobObject, hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return &vcs.MissingObjectError{ID: hash, Kind: "blob"}
		}
		return err
	}
	_, err = dst.SetEncodedObject(obj)
	return err
}

// RemoteSource fetches missing commits from a configured remote by exact
// object id. Each id is stored under refs/remotes/<remote>/<id> so later
// garbage collection keeps it.
type RemoteSource struct {
	Remote string
	// Token authenticates HTTPS fetches when set.
	Token string
	Retry retry.Config
}

// NewRemoteSource returns a source for the named remote with default retry
// settings.
func NewRemoteSource(remote, token string) *RemoteSource {
	return &RemoteSource{Remote: remote, Token: token, Retry: retry.DefaultConfig()}
}

func (s *RemoteSource) Fetch(ctx context.Context, repo *gogit.Repository, _ storage.Storer, ids []plumbing.Hash) error {
	remote := s.Remote
	if remote == "" {
		remote = gogit.DefaultRemoteName
	}

	specs := make([]config.RefSpec, 0, len(ids))
	for _, id := range ids {
		specs = append(specs, config.RefSpec(fmt.Sprintf("%s:refs/remotes/%s/%s", id, remote, id)))
	}

	opts := &gogit.FetchOptions{
		RemoteName: remote,
		RefSpecs:   specs,
		Tags:       gogit.NoTags,
	}
	if s.Token != "" {
		opts.Auth = &http.BasicAuth{Username: "x-access-token", Password: s.Token}
	}

	log.Info().Str("remote", remote).Int("commits", len(ids)).Msg("fetching missing commits")
	_, err := retry.Do(ctx, s.Retry, "git fetch", func(ctx context.Context) error {
		err := repo.FetchContext(ctx, opts)
		switch {
		case err == nil, errors.Is(err, gogit.NoErrAlreadyUpToDate):
			return nil
		case errors.Is(err, transport.ErrAuthenticationRequired),
			errors.Is(err, transport.ErrAuthorizationFailed),
			errors.Is(err, transport.ErrRepositoryNotFound),
			errors.Is(err, gogit.ErrRemoteNotFound),
			errors.Is(err, context.Canceled):
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: fetch from %s: %v", vcs.ErrUnavailable, remote, err)
	}
	return nil
}
