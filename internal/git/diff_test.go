package git

import (
	"context"
	"testing"

	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/kurobon/interdiff/internal/git/gittest"
	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testChunk struct {
	content string
	op      fdiff.Operation
}

func (c testChunk) Content() string       { return c.content }
func (c testChunk) Type() fdiff.Operation { return c.op }

func numbered(from, to int) string {
	var s string
	for i := from; i <= to; i++ {
		s += string(rune('a'+i%26)) + "\n"
	}
	return s
}

func TestBuildHunks_SingleChange(t *testing.T) {
	chunks := []fdiff.Chunk{
		testChunk{numbered(1, 10), fdiff.Equal},
		testChunk{"old\n", fdiff.Delete},
		testChunk{"new\n", fdiff.Add},
		testChunk{numbered(11, 20), fdiff.Equal},
	}

	hunks := buildHunks(chunks, 3)
	require.Len(t, hunks, 1)
	h := hunks[0]
	assert.Equal(t, 8, h.OldStart)
	assert.Equal(t, 7, h.OldLines)
	assert.Equal(t, 8, h.NewStart)
	assert.Equal(t, 7, h.NewLines)
	assert.Equal(t, 1, h.Added())
	assert.Equal(t, 1, h.Removed())
	assert.Equal(t, vcs.Line{Kind: vcs.LineRemoved, Content: "old", OldNum: 11}, h.Lines[3])
	assert.Equal(t, vcs.Line{Kind: vcs.LineAdded, Content: "new", NewNum: 11}, h.Lines[4])
}

func TestBuildHunks_DistantChangesSplit(t *testing.T) {
	chunks := []fdiff.Chunk{
		testChunk{"x\n", fdiff.Add},
		testChunk{numbered(1, 20), fdiff.Equal},
		testChunk{"y\n", fdiff.Add},
	}

	hunks := buildHunks(chunks, 3)
	require.Len(t, hunks, 2)
	assert.Equal(t, 1, hunks[0].OldStart)
	assert.Equal(t, 1, hunks[0].NewStart)
	assert.Equal(t, 4, hunks[0].NewLines)
	assert.Equal(t, 18, hunks[1].OldStart)
	assert.Equal(t, 3, hunks[1].OldLines)
	assert.Equal(t, 4, hunks[1].NewLines)
}

func TestBuildHunks_CloseChangesMerge(t *testing.T) {
	chunks := []fdiff.Chunk{
		testChunk{"x\n", fdiff.Add},
		testChunk{numbered(1, 6), fdiff.Equal},
		testChunk{"y\n", fdiff.Add},
	}
	assert.Len(t, buildHunks(chunks, 3), 1)
}

func TestDiffTrees(t *testing.T) {
	tr := gittest.New(t)
	base := gittest.Files{"a.txt": "one\ntwo\nthree\n", "gone.txt": "bye\n"}
	next := gittest.Files{"a.txt": "one\n2\nthree\n", "b.txt": "new\n", "bin.dat": "\x00\x01\x02"}

	repo := New(tr.Repo)
	files, err := repo.DiffTrees(context.Background(), tr.Tree(base), tr.Tree(next))
	require.NoError(t, err)
	require.Len(t, files, 4)

	assert.Equal(t, "a.txt", files[0].Path())
	assert.Equal(t, vcs.StatusModified, files[0].Status)
	require.Len(t, files[0].Hunks, 1)
	assert.Equal(t, 1, files[0].Hunks[0].OldStart)
	assert.Equal(t, 3, files[0].Hunks[0].OldLines)

	assert.Equal(t, "b.txt", files[1].Path())
	assert.Equal(t, vcs.StatusAdded, files[1].Status)
	assert.Empty(t, files[1].OldPath)

	assert.Equal(t, "bin.dat", files[2].Path())
	assert.True(t, files[2].Binary)
	assert.Empty(t, files[2].Hunks)

	assert.Equal(t, "gone.txt", files[3].Path())
	assert.Equal(t, vcs.StatusDeleted, files[3].Status)
	require.Len(t, files[3].Hunks, 1)
	assert.Equal(t, 0, files[3].Hunks[0].NewStart)
	assert.Equal(t, 0, files[3].Hunks[0].NewLines)

	st := vcs.Stats(files)
	assert.Equal(t, vcs.DiffStats{Additions: 2, Removals: 2, ChangedFiles: 4}, st)
}

func TestDiffTrees_EmptyTreeAndIdentity(t *testing.T) {
	tr := gittest.New(t)
	tree := tr.Tree(gittest.Files{"dir/a.txt": "a\n"})
	repo := New(tr.Repo)

	files, err := repo.DiffTrees(context.Background(), tree, tree)
	require.NoError(t, err)
	assert.Empty(t, files)

	files, err = repo.DiffTrees(context.Background(), vcs.ZeroHash, tree)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "dir/a.txt", files[0].NewPath)
	assert.Equal(t, vcs.StatusAdded, files[0].Status)
}

func TestDiffTrees_MissingTree(t *testing.T) {
	tr := gittest.New(t)
	repo := New(tr.Repo)
	_, err := repo.DiffTrees(context.Background(), vcs.ZeroHash, vcs.NewHash("1111111111111111111111111111111111111111"))
	assert.ErrorIs(t, err, vcs.ErrObjectNotFound)
}
