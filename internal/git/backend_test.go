package git

import (
	"context"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/kurobon/interdiff/internal/git/gittest"
	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCommitAndHeader(t *testing.T) {
	tr := gittest.New(t)
	h := tr.Commit(gittest.Commit{
		Files:    gittest.Files{"a": "a\n"},
		Message:  "title\n\nbody",
		Author:   "Ada <ada@example.com>",
		ChangeID: "kxyz",
		Headers:  map[string]string{"x-note": "multi\nline"},
	})
	repo := New(tr.Repo)
	ctx := context.Background()

	c, err := repo.ReadCommit(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, h, c.ID)
	assert.Equal(t, "Ada", c.Author.Name)
	assert.Equal(t, "ada@example.com", c.Author.Email)
	assert.True(t, c.Author.When.Equal(gittest.Epoch))
	assert.Equal(t, "title", c.Title())
	assert.Equal(t, vcs.ZeroHash, c.FirstParent())

	v, ok, err := repo.ReadHeaderField(ctx, h, "change-id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "kxyz", v)

	v, ok, err = repo.ReadHeaderField(ctx, h, "x-note")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "multi\nline", v)

	_, ok, err = repo.ReadHeaderField(ctx, h, "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadCommit_Cancelled(t *testing.T) {
	tr := gittest.New(t)
	h := tr.Commit(gittest.Commit{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(tr.Repo).ReadCommit(ctx, h)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchMissing_FromRepositorySource(t *testing.T) {
	remote := gittest.New(t)
	ids := remote.Chain(plumbing.ZeroHash,
		gittest.Commit{Files: gittest.Files{"a": "1\n"}},
		gittest.Commit{Files: gittest.Files{"a": "2\n", "dir/b": "b\n"}},
	)

	local := gittest.New(t)
	repo := New(local.Repo, WithSource(&RepositorySource{From: remote.Store}))
	ctx := context.Background()

	_, err := repo.ReadCommit(ctx, ids[1])
	require.ErrorIs(t, err, vcs.ErrObjectNotFound)

	require.NoError(t, repo.FetchMissing(ctx, []vcs.Hash{ids[1], ids[1], vcs.ZeroHash}))

	c, err := repo.ReadCommit(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, []vcs.Hash{ids[0]}, c.Parents)

	files, err := repo.DiffTrees(ctx, vcs.ZeroHash, c.Tree)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	// Already present: no source needed.
	require.NoError(t, New(local.Repo).FetchMissing(ctx, []vcs.Hash{ids[0]}))
}

func TestFetchMissing_NoSource(t *testing.T) {
	tr := gittest.New(t)
	err := New(tr.Repo).FetchMissing(context.Background(), []vcs.Hash{vcs.NewHash("3333333333333333333333333333333333333333")})
	assert.ErrorIs(t, err, vcs.ErrObjectNotFound)
}

func TestFetchMissing_UnknownToSource(t *testing.T) {
	remote := gittest.New(t)
	local := gittest.New(t)
	repo := New(local.Repo, WithSource(&RepositorySource{From: remote.Store}))

	err := repo.FetchMissing(context.Background(), []vcs.Hash{vcs.NewHash("4444444444444444444444444444444444444444")})
	assert.ErrorIs(t, err, vcs.ErrObjectNotFound)
}

func TestCommitRange(t *testing.T) {
	tr := gittest.New(t)
	trunk := tr.Chain(plumbing.ZeroHash,
		gittest.Commit{Message: "root"},
		gittest.Commit{Message: "trunk 1"},
	)
	feature := tr.Chain(trunk[0],
		gittest.Commit{Message: "f1"},
		gittest.Commit{Message: "f2"},
		gittest.Commit{Message: "f3"},
	)

	repo := New(tr.Repo)
	commits, base, err := repo.CommitRange(context.Background(), trunk[1], feature[2])
	require.NoError(t, err)
	assert.Equal(t, trunk[0], base)
	assert.Equal(t, feature, commits)
}

func TestResolveRevision(t *testing.T) {
	tr := gittest.New(t)
	h := tr.Commit(gittest.Commit{Message: "one"})
	tr.Branch("feature", h)
	repo := New(tr.Repo)

	got, err := repo.ResolveRevision("feature")
	require.NoError(t, err)
	assert.Equal(t, h, got)

	got, err = repo.ResolveRevision(h.String()[:8])
	require.NoError(t, err)
	assert.Equal(t, h, got)

	_, err = repo.ResolveRevision("nope")
	assert.Error(t, err)

	c, err := repo.ResolveCommit(h.String())
	require.NoError(t, err)
	assert.Equal(t, "one", c.Title())
}
