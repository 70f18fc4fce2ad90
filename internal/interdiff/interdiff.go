// Package interdiff computes what a push changed for each matched commit by
// replaying the old commit onto the new base and diffing the replay against
// the new commit.
package interdiff

import (
	"context"
	"errors"
	"fmt"

	"github.com/kurobon/interdiff/internal/match"
	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Target selects what the old side is replayed onto.
type Target string

const (
	// TargetParent replays the old commit onto the new commit's first parent.
	TargetParent Target = "parent"
	// TargetBase replays the old iteration's chain up to the old commit onto
	// the new iteration's base.
	TargetBase Target = "base"
)

// Options configures a Computer.
type Options struct {
	Target  Target `koanf:"target"`
	Workers int    `koanf:"workers"`
}

// DefaultOptions returns parent-targeted replays on four workers.
func DefaultOptions() Options {
	return Options{Target: TargetParent, Workers: 4}
}

// Validate rejects unknown targets and worker counts below one.
func (o Options) Validate() error {
	switch o.Target {
	case TargetParent, TargetBase:
	default:
		return fmt.Errorf("unknown interdiff target %q", o.Target)
	}
	if o.Workers < 1 {
		return errors.New("interdiff workers must be at least 1")
	}
	return nil
}

// Backend is the part of vcs.Backend the computer needs.
type Backend interface {
	vcs.Reader
	NewSession(ctx context.Context) (vcs.Session, error)
}

// Failure describes a replay that did not apply cleanly.
type Failure struct {
	Reason string
	Path   string
	Onto   vcs.Hash
}

func (f *Failure) String() string {
	if f.Path == "" {
		return f.Reason
	}
	return f.Path + ": " + f.Reason
}

// Result is either a list of file diffs or a replay failure, never both.
type Result struct {
	Files  []vcs.FileDiff
	Stats  vcs.DiffStats
	Failed *Failure
}

// ReplayFailed reports whether the replay did not apply cleanly.
func (r *Result) ReplayFailed() bool {
	return r.Failed != nil
}

// Empty reports a successful interdiff without changes.
func (r *Result) Empty() bool {
	return r.Failed == nil && len(r.Files) == 0
}

func newResult(files []vcs.FileDiff) *Result {
	if files == nil {
		files = []vcs.FileDiff{}
	}
	return &Result{Files: files, Stats: vcs.Stats(files)}
}

// PairInput is the iteration context of the entries being computed.
type PairInput struct {
	OldBase vcs.Hash
	NewBase vcs.Hash
	Old     []match.Candidate
	New     []match.Candidate
}

// Computer produces interdiffs for match entries.
type Computer struct {
	opts Options
}

// New returns a Computer. Invalid options fall back to the defaults.
func New(opts Options) *Computer {
	if err := opts.Validate(); err != nil {
		log.Warn().Err(err).Msg("invalid interdiff options, using defaults")
		opts = DefaultOptions()
	}
	return &Computer{opts: opts}
}

// ComputeAll computes a result for every entry, in entry order. Matched
// entries get an interdiff, Added entries their own diff and Removed entries
// the reverse of theirs. Replay failures are results; any other error fails
// the whole call.
func (c *Computer) ComputeAll(ctx context.Context, b Backend, pair PairInput, entries []match.Entry) ([]*Result, error) {
	results := make([]*Result, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)
	for i, e := range entries {
		g.Go(func() error {
			res, err := c.Compute(gctx, b, pair, e)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Compute produces the result for a single entry.
func (c *Computer) Compute(ctx context.Context, b Backend, pair PairInput, e match.Entry) (*Result, error) {
	switch e.Kind {
	case match.Added:
		files, err := CommitDiff(ctx, b, e.New.Commit)
		if err != nil {
			return nil, err
		}
		return newResult(files), nil
	case match.Removed:
		files, err := RevertDiff(ctx, b, e.Old.Commit)
		if err != nil {
			return nil, err
		}
		return newResult(files), nil
	case match.Matched:
		return c.interdiff(ctx, b, pair, e)
	default:
		return nil, fmt.Errorf("unknown entry kind %q", e.Kind)
	}
}

func (c *Computer) interdiff(ctx context.Context, b Backend, pair PairInput, e match.Entry) (*Result, error) {
	oldCommit, newCommit := e.Old.Commit, e.New.Commit
	if oldCommit.ID == newCommit.ID {
		return newResult(nil), nil
	}

	var chain []*vcs.Commit
	var onto vcs.Hash
	switch c.opts.Target {
	case TargetBase:
		onto = pair.NewBase
		if pair.OldBase == pair.NewBase {
			break
		}
		for i := 0; i <= e.OldIndex && i < len(pair.Old); i++ {
			chain = append(chain, pair.Old[i].Commit)
		}
	default:
		onto = newCommit.FirstParent()
		if oldCommit.FirstParent() != onto {
			chain = []*vcs.Commit{oldCommit}
		}
	}

	// Nothing to replay onto, or the old side already sits on it.
	if len(chain) == 0 || onto.IsZero() {
		files, err := b.DiffTrees(ctx, oldCommit.Tree, newCommit.Tree)
		if err != nil {
			return nil, err
		}
		return newResult(files), nil
	}

	s, err := b.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	head := onto
	for _, commit := range chain {
		head, err = s.Replay(ctx, commit.ID, head)
		if err != nil {
			var re *vcs.ReplayError
			if errors.As(err, &re) {
				log.Warn().
					Str("old", vcs.Short(oldCommit.ID)).
					Str("new", vcs.Short(newCommit.ID)).
					Str("path", re.Path).
					Str("reason", re.Reason).
					Msg("replay failed")
				return &Result{Files: []vcs.FileDiff{}, Failed: &Failure{Reason: re.Reason, Path: re.Path, Onto: onto}}, nil
			}
			return nil, err
		}
	}

	replayed, err := s.ReadCommit(ctx, head)
	if err != nil {
		return nil, err
	}
	files, err := s.DiffTrees(ctx, replayed.Tree, newCommit.Tree)
	if err != nil {
		return nil, err
	}
	return newResult(files), nil
}

// CommitDiff diffs a commit against its first parent.
func CommitDiff(ctx context.Context, r vcs.Reader, c *vcs.Commit) ([]vcs.FileDiff, error) {
	base, err := parentTree(ctx, r, c)
	if err != nil {
		return nil, err
	}
	return r.DiffTrees(ctx, base, c.Tree)
}

// RevertDiff is the reverse of CommitDiff: what disappears when the commit is
// dropped.
func RevertDiff(ctx context.Context, r vcs.Reader, c *vcs.Commit) ([]vcs.FileDiff, error) {
	base, err := parentTree(ctx, r, c)
	if err != nil {
		return nil, err
	}
	return r.DiffTrees(ctx, c.Tree, base)
}

func parentTree(ctx context.Context, r vcs.Reader, c *vcs.Commit) (vcs.Hash, error) {
	p := c.FirstParent()
	if p.IsZero() {
		return vcs.ZeroHash, nil
	}
	parent, err := r.ReadCommit(ctx, p)
	if err != nil {
		return vcs.ZeroHash, err
	}
	return parent.Tree, nil
}

// DiffSource adapts CommitDiff to the matcher's content scoring.
func DiffSource(r vcs.Reader) match.DiffSource {
	return match.DiffFunc(func(ctx context.Context, c *vcs.Commit) ([]vcs.FileDiff, error) {
		return CommitDiff(ctx, r, c)
	})
}
