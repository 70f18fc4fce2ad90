package changeid

import (
	"context"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/kurobon/interdiff/internal/git"
	"github.com/kurobon/interdiff/internal/git/gittest"
	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"kxqzoympvusvlrrvnnlyplwmnqnmkqrl", true},
		{"I8473b95934b5732ac55d26311a706c9c2bde9940", true},
		{"change.1-a_b", true},
		{"", false},
		{"-leading-dash", false},
		{"has space", false},
		{"multi\nline", false},
	}
	for _, tt := range tests {
		err := Validate(tt.value)
		if tt.ok {
			assert.NoError(t, err, tt.value)
		} else {
			assert.ErrorIs(t, err, ErrMalformed, tt.value)
		}
	}
}

func TestNew(t *testing.T) {
	e, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultHeader, e.Header)

	e, err = New(Options{Header: "x-change", Pattern: `^[a-z]+$`})
	require.NoError(t, err)
	assert.Equal(t, "x-change", e.Header)
	assert.Error(t, e.Validate("ABC"))

	_, err = New(Options{Pattern: "("})
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	tr := gittest.New(t)
	withID := tr.Commit(gittest.Commit{ChangeID: "zzqqyy"})
	padded := tr.Commit(gittest.Commit{ChangeID: "  zzqqyy  "})
	malformed := tr.Commit(gittest.Commit{ChangeID: "not an id"})
	without := tr.Commit(gittest.Commit{})

	repo := git.New(tr.Repo)
	e := Default()
	ctx := context.Background()

	tests := []struct {
		name string
		id   plumbing.Hash
		want string
		ok   bool
	}{
		{"present", withID, "zzqqyy", true},
		{"trimmed", padded, "zzqqyy", true},
		{"malformed is absent", malformed, "", false},
		{"missing header", without, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := e.Extract(ctx, repo, tt.id)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_BackendError(t *testing.T) {
	tr := gittest.New(t)
	_, _, err := Default().Extract(context.Background(), git.New(tr.Repo), vcs.NewHash("5555555555555555555555555555555555555555"))
	assert.ErrorIs(t, err, vcs.ErrObjectNotFound)
}

type countingReader struct {
	vcs.Reader
	calls int
}

func (r *countingReader) ReadHeaderField(ctx context.Context, id vcs.Hash, field string) (string, bool, error) {
	r.calls++
	return r.Reader.ReadHeaderField(ctx, id, field)
}

func TestCache(t *testing.T) {
	tr := gittest.New(t)
	h := tr.Commit(gittest.Commit{ChangeID: "abc"})
	r := &countingReader{Reader: git.New(tr.Repo)}
	c := NewCache(Default())

	for i := 0; i < 3; i++ {
		id, ok, err := c.Extract(context.Background(), r, h)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "abc", id)
	}
	assert.Equal(t, 1, r.calls)
	assert.Equal(t, 1, c.Len())
}
