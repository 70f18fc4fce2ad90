package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobon/interdiff/internal/forge"
	"github.com/kurobon/interdiff/internal/git"
	"github.com/kurobon/interdiff/internal/git/gittest"
	"github.com/kurobon/interdiff/internal/timeline"
	"github.com/kurobon/interdiff/internal/vcs"
)

type fixture struct {
	srv   *Server
	heads [2]plumbing.Hash
}

func newFixture(t *testing.T, forges ForgeFactory) *fixture {
	tr := gittest.New(t)
	trunk := gittest.Files{"README": "hello\n"}
	base := tr.Commit(gittest.Commit{Files: trunk, Message: "init"})
	tr.Branch("main", base)

	v1 := tr.Commit(gittest.Commit{
		Parents:  []plumbing.Hash{base},
		Files:    trunk.With("a.txt", "one\n"),
		ChangeID: "aaaa",
		Message:  "add a",
	})
	v2 := tr.Commit(gittest.Commit{
		Parents:  []plumbing.Hash{base},
		Files:    trunk.With("a.txt", "one\ntwo\n"),
		ChangeID: "aaaa",
		Message:  "add a",
	})

	repo := git.New(tr.Repo)
	return &fixture{
		srv:   NewServer(timeline.NewBuilder(repo), repo.ResolveRevision, forges),
		heads: [2]plumbing.Hash{v1, v2},
	}
}

func (f *fixture) pushes() []forge.Push {
	return []forge.Push{
		{Head: f.heads[0].String(), Base: "main"},
		{Head: f.heads[1].String(), Base: "main"},
	}
}

func post(t *testing.T, s *Server, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if raw, ok := body.(string); ok {
		buf.WriteString(raw)
	} else {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, "/api/timeline", &buf)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	f := newFixture(t, nil)
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")
}

func TestTimeline(t *testing.T) {
	f := newFixture(t, nil)
	w := post(t, f.srv, TimelineRequest{Pushes: f.pushes()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var tl TimelineView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&tl))
	require.Len(t, tl.Iterations, 2)
	assert.Equal(t, f.heads[0].String(), tl.Iterations[0].Head)
	require.Len(t, tl.Iterations[0].Commits, 1)
	assert.Equal(t, "aaaa", tl.Iterations[0].Commits[0].ChangeID)
	assert.Equal(t, "add a", tl.Iterations[0].Commits[0].Title)

	require.Len(t, tl.Pairs, 1)
	p := tl.Pairs[0]
	assert.Nil(t, p.Error)
	require.Len(t, p.Entries, 1)

	e := p.Entries[0]
	assert.Equal(t, "matched", string(e.Kind))
	assert.True(t, e.Certain)
	assert.False(t, e.Unchanged)
	assert.Nil(t, e.Failed)
	require.Len(t, e.Files, 1)
	assert.Equal(t, "a.txt", e.Files[0].NewPath)
	assert.Equal(t, vcs.DiffStats{Additions: 1, ChangedFiles: 1}, e.Stats)
}

type staticFactory struct {
	pushes []forge.Push
	err    error
	seen   string
}

type fakeClient struct {
	pushes []forge.Push
	err    error
}

func (c fakeClient) History(ctx context.Context) ([]forge.Push, error) {
	return c.pushes, c.err
}

func (s *staticFactory) New(kind forge.Kind, url string) (forge.Client, error) {
	s.seen = url
	if url == "bad" {
		return nil, errors.New("unsupported forge host")
	}
	return fakeClient{pushes: s.pushes, err: s.err}, nil
}

func TestTimelineFromURL(t *testing.T) {
	sf := &staticFactory{}
	f := newFixture(t, sf.New)
	sf.pushes = f.pushes()

	w := post(t, f.srv, TimelineRequest{URL: "https://github.com/o/r/pull/1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "https://github.com/o/r/pull/1", sf.seen)

	w = post(t, f.srv, TimelineRequest{URL: "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	sf.err = fmt.Errorf("%w: github down", vcs.ErrUnavailable)
	w = post(t, f.srv, TimelineRequest{URL: "https://github.com/o/r/pull/1"})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "github down")
}

func TestTimelineBadRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "{"},
		{"empty", TimelineRequest{}},
		{"one push", TimelineRequest{Pushes: f.pushes()[:1]}},
		{"url without forges", TimelineRequest{URL: "https://github.com/o/r/pull/1"}},
		{"url and pushes", TimelineRequest{URL: "x", Pushes: f.pushes()}},
		{"unknown revision", TimelineRequest{Pushes: []forge.Push{{Head: "nope"}, {Head: "main"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, f.srv, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

			var res map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
			assert.NotEmpty(t, res["error"])
		})
	}
}

func TestTimelineMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/timeline", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(timeline.ErrNotEnoughIterations))
	assert.Equal(t, http.StatusBadGateway, statusFor(fmt.Errorf("x: %w", vcs.ErrUnavailable)))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(context.DeadlineExceeded))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(context.Canceled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
}
