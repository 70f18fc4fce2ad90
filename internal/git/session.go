package git

import (
	"context"
	"sync"

	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/rs/zerolog/log"
)

// Session is a scratch replay scope. Synthetic objects live in the session's
// own store and disappear with it.
type Session struct {
	store        *scratchStorer
	contextLines int

	mu     sync.Mutex
	closed bool
}

var _ vcs.Session = (*Session)(nil)

func newSession(shared *lockedStorer, contextLines int) *Session {
	return &Session{
		store:        newScratchStorer(shared),
		contextLines: contextLines,
	}
}

func (s *Session) ReadCommit(ctx context.Context, id vcs.Hash) (*vcs.Commit, error) {
	st, err := s.scratch()
	if err != nil {
		return nil, err
	}
	return readCommit(ctx, st, id)
}

func (s *Session) ReadHeaderField(ctx context.Context, id vcs.Hash, field string) (string, bool, error) {
	st, err := s.scratch()
	if err != nil {
		return "", false, err
	}
	return readHeaderField(ctx, st, id, field)
}

func (s *Session) DiffTrees(ctx context.Context, a, b vcs.Hash) ([]vcs.FileDiff, error) {
	st, err := s.scratch()
	if err != nil {
		return nil, err
	}
	return diffTrees(ctx, st, a, b, s.contextLines)
}

func (s *Session) Replay(ctx context.Context, commit, onto vcs.Hash) (vcs.Hash, error) {
	st, err := s.scratch()
	if err != nil {
		return vcs.ZeroHash, err
	}
	return replay(ctx, st, commit, onto)
}

// Close drops every object the session created.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	log.Debug().Int("objects", s.store.created()).Msg("discarding replay session")
	s.closed = true
	s.store = nil
	return nil
}

func (s *Session) scratch() (*scratchStorer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errSessionClosed
	}
	return s.store, nil
}
