package vcs

import "context"

// Reader is the read side of the VCS backend.
type Reader interface {
	// ReadCommit returns commit metadata. A missing object yields an error
	// wrapping ErrObjectNotFound.
	ReadCommit(ctx context.Context, id Hash) (*Commit, error)

	// ReadHeaderField returns the raw value of a non-standard commit header.
	// ok is false when the commit has no such header.
	ReadHeaderField(ctx context.Context, id Hash, field string) (value string, ok bool, err error)

	// DiffTrees diffs two trees. ZeroHash on either side means the empty tree.
	// Files are ordered by path.
	DiffTrees(ctx context.Context, a, b Hash) ([]FileDiff, error)
}

// Session is a transient replay scope. Objects created by Replay are only
// visible through the session and are discarded by Close.
type Session interface {
	Reader

	// Replay applies the change introduced by commit (relative to its first
	// parent) on top of onto and returns the synthetic commit id. A non-clean
	// replay yields an error matching ErrReplayConflict.
	Replay(ctx context.Context, commit, onto Hash) (Hash, error)

	Close() error
}

// Backend is the VCS object-store collaborator.
type Backend interface {
	Reader

	// FetchMissing makes sure the given objects and their closures are present
	// locally. Objects already present are skipped.
	FetchMissing(ctx context.Context, ids []Hash) error

	// NewSession opens an isolated replay scope.
	NewSession(ctx context.Context) (Session, error)

	// CommitRange lists the first-parent commits reachable from head but not
	// from the merge base of base and head, oldest first, together with that
	// merge base.
	CommitRange(ctx context.Context, base, head Hash) ([]Hash, Hash, error)
}
