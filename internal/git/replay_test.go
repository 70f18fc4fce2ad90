package git

import (
	"context"
	"errors"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/kurobon/interdiff/internal/git/gittest"
	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type replayFixture struct {
	tr    *gittest.Repo
	repo  *Repository
	base  plumbing.Hash
	files gittest.Files
}

func newReplayFixture(t *testing.T) *replayFixture {
	tr := gittest.New(t)
	files := gittest.Files{
		"main.go":       "package main\n\nfunc main() {}\n",
		"README.md":     "hi\n",
		"pkg/util.go":   "package pkg\n",
		"pkg/extra.txt": "extra\n",
	}
	base := tr.Commit(gittest.Commit{Files: files, Message: "base"})
	return &replayFixture{tr: tr, repo: New(tr.Repo), base: base, files: files}
}

func openSession(t *testing.T, r *Repository) vcs.Session {
	s, err := r.NewSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestReplay_PureRebaseReproducesNewTree(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	withA := f.files.With("main.go", "package main\n\nfunc main() {}\n\nfunc a() {}\n")
	oldA := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: withA, ChangeID: "aaaa", Message: "add a"})

	upstream := f.files.With("README.md", "hello\n")
	newBase := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: upstream, Message: "upstream"})
	newA := f.tr.Commit(gittest.Commit{
		Parents:  []plumbing.Hash{newBase},
		Files:    upstream.With("main.go", withA["main.go"]),
		ChangeID: "aaaa",
		Message:  "add a",
	})

	s := openSession(t, f.repo)
	replayed, err := s.Replay(ctx, oldA, newBase)
	require.NoError(t, err)

	got, err := s.ReadCommit(ctx, replayed)
	require.NoError(t, err)
	want, err := f.repo.ReadCommit(ctx, newA)
	require.NoError(t, err)

	assert.Equal(t, want.Tree, got.Tree)
	assert.Equal(t, []vcs.Hash{newBase}, got.Parents)
	assert.Equal(t, "add a", got.Title())

	id, ok, err := s.ReadHeaderField(ctx, replayed, gittest.ChangeIDHeader)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "aaaa", id)

	files, err := s.DiffTrees(ctx, got.Tree, want.Tree)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReplay_MergesTextChangesInSameFile(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	lines := "1\n2\n3\n4\n5\n6\n7\n8\n9\n"
	root := f.tr.Commit(gittest.Commit{Files: gittest.Files{"n.txt": lines}})
	old := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{root}, Files: gittest.Files{"n.txt": "1\n2\n3\n4\n5\n6\n7\n8\nnine\n"}})
	onto := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{root}, Files: gittest.Files{"n.txt": "one\n2\n3\n4\n5\n6\n7\n8\n9\n"}})

	s := openSession(t, f.repo)
	replayed, err := s.Replay(ctx, old, onto)
	require.NoError(t, err)

	c, err := s.ReadCommit(ctx, replayed)
	require.NoError(t, err)
	expected := f.tr.Tree(gittest.Files{"n.txt": "one\n2\n3\n4\n5\n6\n7\n8\nnine\n"})
	assert.Equal(t, expected, c.Tree)
}

func TestReplay_ConflictingEdits(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	old := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: f.files.With("README.md", "mine\n")})
	onto := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: f.files.With("README.md", "theirs\n")})

	s := openSession(t, f.repo)
	_, err := s.Replay(ctx, old, onto)
	require.Error(t, err)
	assert.ErrorIs(t, err, vcs.ErrReplayConflict)

	var re *vcs.ReplayError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "README.md", re.Path)
	assert.Equal(t, old, re.Commit)
	assert.Equal(t, onto, re.Onto)
}

func TestReplay_DeleteModifyConflict(t *testing.T) {
	f := newReplayFixture(t)

	old := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: f.files.Without("pkg/util.go")})
	onto := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: f.files.With("pkg/util.go", "package pkg\n\nvar X = 1\n")})

	s := openSession(t, f.repo)
	_, err := s.Replay(context.Background(), old, onto)
	var re *vcs.ReplayError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "pkg/util.go", re.Path)
	assert.Contains(t, re.Reason, "deleted")
}

func TestReplay_FileDirectoryConflict(t *testing.T) {
	tests := []struct {
		name      string
		old, onto gittest.Files
	}{
		{"file added over new directory", gittest.Files{"x": "file\n"}, gittest.Files{"x/y": "nested\n"}},
		{"directory added over new file", gittest.Files{"x/y": "nested\n"}, gittest.Files{"x": "file\n"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := gittest.New(t)
			files := gittest.Files{"a.txt": "a\n"}
			base := tr.Commit(gittest.Commit{Files: files, Message: "base"})

			withOld, withOnto := files.With(), files.With()
			for k, v := range tt.old {
				withOld[k] = v
			}
			for k, v := range tt.onto {
				withOnto[k] = v
			}
			old := tr.Commit(gittest.Commit{Parents: []plumbing.Hash{base}, Files: withOld})
			onto := tr.Commit(gittest.Commit{Parents: []plumbing.Hash{base}, Files: withOnto})

			s := openSession(t, New(tr.Repo))
			replayed, err := s.Replay(context.Background(), old, onto)
			var re *vcs.ReplayError
			require.ErrorAs(t, err, &re, "replayed as %s", replayed)
			assert.Equal(t, "x", re.Path)
			assert.Equal(t, "file on one side and directory on the other", re.Reason)
		})
	}
}

func TestReplay_SymlinkConflict(t *testing.T) {
	tr := gittest.New(t)
	modes := map[string]filemode.FileMode{"current": filemode.Symlink}
	files := gittest.Files{"a.txt": "a\n", "current": "a.txt"}
	base := tr.Commit(gittest.Commit{Files: files, Modes: modes, Message: "base"})
	old := tr.Commit(gittest.Commit{Parents: []plumbing.Hash{base}, Files: files.With("current", "b.txt"), Modes: modes})
	onto := tr.Commit(gittest.Commit{Parents: []plumbing.Hash{base}, Files: files.With("current", "c.txt"), Modes: modes})

	s := openSession(t, New(tr.Repo))
	_, err := s.Replay(context.Background(), old, onto)
	var re *vcs.ReplayError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "current", re.Path)
	assert.Equal(t, "symlink target diverged", re.Reason)
}

func TestReplay_BinaryConflict(t *testing.T) {
	f := newReplayFixture(t)

	withBin := f.files.With("logo.png", "\x00\x01")
	root := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: withBin})
	old := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{root}, Files: withBin.With("logo.png", "\x00\x02")})
	onto := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{root}, Files: withBin.With("logo.png", "\x00\x03")})

	s := openSession(t, f.repo)
	_, err := s.Replay(context.Background(), old, onto)
	var re *vcs.ReplayError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "binary content diverged", re.Reason)
}

func TestReplay_OntoOwnParentIsIdentity(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	old := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: f.files.With("new.txt", "x\n")})

	s := openSession(t, f.repo)
	replayed, err := s.Replay(ctx, old, f.base)
	require.NoError(t, err)

	got, err := s.ReadCommit(ctx, replayed)
	require.NoError(t, err)
	want, err := f.repo.ReadCommit(ctx, old)
	require.NoError(t, err)
	assert.Equal(t, want.Tree, got.Tree)
}

func TestReplay_RemovesEmptiedDirectory(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	old := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: f.files.Without("pkg/util.go", "pkg/extra.txt")})
	upstream := f.files.With("README.md", "upstream\n")
	onto := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: upstream})

	s := openSession(t, f.repo)
	replayed, err := s.Replay(ctx, old, onto)
	require.NoError(t, err)

	got, err := s.ReadCommit(ctx, replayed)
	require.NoError(t, err)
	assert.Equal(t, f.tr.Tree(upstream.Without("pkg/util.go", "pkg/extra.txt")), got.Tree)
}

func TestSession_ObjectsAreScoped(t *testing.T) {
	f := newReplayFixture(t)
	ctx := context.Background()

	old := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: f.files.With("a.txt", "a\n")})
	onto := f.tr.Commit(gittest.Commit{Parents: []plumbing.Hash{f.base}, Files: f.files.With("b.txt", "b\n")})

	s, err := f.repo.NewSession(ctx)
	require.NoError(t, err)

	replayed, err := s.Replay(ctx, old, onto)
	require.NoError(t, err)

	_, err = s.ReadCommit(ctx, replayed)
	require.NoError(t, err)

	_, err = f.repo.ReadCommit(ctx, replayed)
	assert.ErrorIs(t, err, vcs.ErrObjectNotFound)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.ReadCommit(ctx, old)
	assert.ErrorIs(t, err, errSessionClosed)
}

func TestReplay_MissingCommit(t *testing.T) {
	f := newReplayFixture(t)
	s := openSession(t, f.repo)

	_, err := s.Replay(context.Background(), vcs.NewHash("2222222222222222222222222222222222222222"), f.base)
	assert.ErrorIs(t, err, vcs.ErrObjectNotFound)
}
