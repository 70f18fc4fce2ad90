// Package timeline assembles, for an ordered list of pushes, what every push
// changed relative to the previous one.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kurobon/interdiff/internal/changeid"
	"github.com/kurobon/interdiff/internal/interdiff"
	"github.com/kurobon/interdiff/internal/match"
	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Iteration is one push of the pull request. When Commits is empty the
// commits are the first-parent range from the merge base of Base and Head up
// to Head.
type Iteration struct {
	PushedAt time.Time
	Base     vcs.Hash
	Head     vcs.Hash
	Commits  []vcs.Hash
}

// IterationInfo is a resolved iteration. Err is set when its objects could
// not be loaded; the pairs touching it carry the error.
type IterationInfo struct {
	Index    int
	PushedAt time.Time
	Base     vcs.Hash
	Head     vcs.Hash
	Commits  []match.Candidate
	Err      string

	err error
}

// Entry is a match entry with its diff. Interdiff holds the interdiff for
// Matched entries, the commit's own diff for Added entries and the reverse of
// it for Removed entries.
type Entry struct {
	match.Entry
	Interdiff *interdiff.Result
}

// Unchanged reports a Matched entry whose push did not alter the change.
func (e Entry) Unchanged() bool {
	if e.Kind != match.Matched {
		return false
	}
	if e.Old.Commit.ID == e.New.Commit.ID {
		return true
	}
	return e.Interdiff != nil && e.Interdiff.Empty()
}

// Pair is the comparison of iterations From and To = From+1.
type Pair struct {
	From    int
	To      int
	Entries []Entry
	Err     *PairError
}

// Changed returns the entries that are not unchanged.
func (p *Pair) Changed() []Entry {
	var out []Entry
	for _, e := range p.Entries {
		if !e.Unchanged() {
			out = append(out, e)
		}
	}
	return out
}

// Timeline is the read-only result of a build.
type Timeline struct {
	Iterations []IterationInfo
	Pairs      []Pair
}

// IDExtractor reads a commit's change id.
type IDExtractor interface {
	Extract(ctx context.Context, r vcs.Reader, id vcs.Hash) (string, bool, error)
}

// Builder runs matching and interdiffs over consecutive iterations. Zero
// fields get defaults on Build.
type Builder struct {
	Backend   vcs.Backend
	Extractor IDExtractor
	Matcher   *match.Matcher
	Computer  *interdiff.Computer
	Workers   int
}

// NewBuilder returns a Builder with default collaborators.
func NewBuilder(b vcs.Backend) *Builder {
	return &Builder{Backend: b}
}

func withDefaults(b Builder) *Builder {
	if b.Extractor == nil {
		b.Extractor = changeid.NewCache(changeid.Default())
	}
	if b.Matcher == nil {
		b.Matcher = match.New(match.DefaultOptions(), interdiff.DiffSource(b.Backend))
	}
	if b.Computer == nil {
		b.Computer = interdiff.New(interdiff.DefaultOptions())
	}
	if b.Workers < 1 {
		b.Workers = 1
	}
	return &b
}

// Build computes the timeline of its. Pair-level failures are attached to
// their pair; transport failures, invalid input and cancellation abort the
// build without a timeline.
func (b *Builder) Build(ctx context.Context, its []Iteration) (*Timeline, error) {
	if b.Backend == nil {
		return nil, errors.New("timeline builder has no backend")
	}
	if len(its) < 2 {
		return nil, ErrNotEnoughIterations
	}
	if err := validate(its); err != nil {
		return nil, err
	}
	b = withDefaults(*b)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	infos, err := b.loadAll(ctx, its)
	if err != nil {
		return nil, err
	}

	pairs := make([]Pair, len(infos)-1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Workers)
	for i := range pairs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := b.buildPair(gctx, &infos[i], &infos[i+1])
			if err != nil {
				return err
			}
			pairs[i] = *p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Info().Int("iterations", len(infos)).Int("pairs", len(pairs)).Dur("duration", time.Since(start)).Msg("timeline built")
	return &Timeline{Iterations: infos, Pairs: pairs}, nil
}

func validate(its []Iteration) error {
	for i, it := range its {
		if len(it.Commits) == 0 && (it.Head.IsZero() || it.Base.IsZero()) {
			return fmt.Errorf("%w: iteration %d needs commits or both head and base", ErrInvalidIteration, i)
		}
		if i > 0 && !it.PushedAt.IsZero() && !its[i-1].PushedAt.IsZero() && it.PushedAt.Before(its[i-1].PushedAt) {
			return fmt.Errorf("%w: iteration %d was pushed before iteration %d", ErrInvalidIteration, i, i-1)
		}
	}
	return nil
}

func (b *Builder) loadAll(ctx context.Context, its []Iteration) ([]IterationInfo, error) {
	infos := make([]IterationInfo, len(its))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Workers)
	for i, it := range its {
		g.Go(func() error {
			info, err := b.load(gctx, i, it)
			if err != nil {
				if runFatal(err) {
					return err
				}
				log.Warn().Err(err).Int("iteration", i).Msg("failed to load iteration")
				head := it.Head
				if head.IsZero() && len(it.Commits) > 0 {
					head = it.Commits[len(it.Commits)-1]
				}
				info = IterationInfo{Index: i, PushedAt: it.PushedAt, Base: it.Base, Head: head, Err: err.Error(), err: err}
			}
			infos[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return infos, nil
}

// load fetches and reads one iteration.
func (b *Builder) load(ctx context.Context, idx int, it Iteration) (IterationInfo, error) {
	want := append([]vcs.Hash{it.Head, it.Base}, it.Commits...)
	if err := b.Backend.FetchMissing(ctx, want); err != nil {
		return IterationInfo{}, err
	}

	ids, base := it.Commits, it.Base
	if len(ids) == 0 {
		var err error
		ids, base, err = b.Backend.CommitRange(ctx, it.Base, it.Head)
		if err != nil {
			return IterationInfo{}, err
		}
	}

	info := IterationInfo{
		Index:    idx,
		PushedAt: it.PushedAt,
		Base:     base,
		Head:     it.Head,
		Commits:  make([]match.Candidate, 0, len(ids)),
	}
	for _, id := range ids {
		c, err := b.Backend.ReadCommit(ctx, id)
		if err != nil {
			return IterationInfo{}, err
		}
		changeID, ok, err := b.Extractor.Extract(ctx, b.Backend, id)
		if err != nil {
			return IterationInfo{}, err
		}
		info.Commits = append(info.Commits, match.Candidate{Commit: c, ChangeID: changeID, HasID: ok})
	}

	if len(info.Commits) > 0 {
		if info.Head.IsZero() {
			info.Head = info.Commits[len(info.Commits)-1].Commit.ID
		}
		if info.Base.IsZero() {
			info.Base = info.Commits[0].Commit.FirstParent()
		}
	}
	log.Debug().Int("iteration", idx).Int("commits", len(info.Commits)).Str("base", vcs.Short(info.Base)).Msg("loaded iteration")
	return info, nil
}

// buildPair matches and diffs two loaded iterations. The returned error is
// only set for run-fatal failures.
func (b *Builder) buildPair(ctx context.Context, from, to *IterationInfo) (*Pair, error) {
	p := &Pair{From: from.Index, To: to.Index, Entries: []Entry{}}

	fail := func(err error) (*Pair, error) {
		if runFatal(err) {
			return nil, err
		}
		p.Entries = []Entry{}
		p.Err = newPairError(err, from.Head, to.Head)
		log.Warn().Err(err).Int("from", p.From).Int("to", p.To).Str("kind", string(p.Err.Kind)).Msg("pair failed")
		return p, nil
	}

	if from.err != nil {
		return fail(from.err)
	}
	if to.err != nil {
		return fail(to.err)
	}

	res, err := b.Matcher.Match(ctx, from.Commits, to.Commits)
	if err != nil {
		return fail(err)
	}

	input := interdiff.PairInput{
		OldBase: from.Base,
		NewBase: to.Base,
		Old:     from.Commits,
		New:     to.Commits,
	}
	results, err := b.Computer.ComputeAll(ctx, b.Backend, input, res.Entries)
	if err != nil {
		return fail(err)
	}

	p.Entries = make([]Entry, len(res.Entries))
	failed := 0
	for i, e := range res.Entries {
		p.Entries[i] = Entry{Entry: e, Interdiff: results[i]}
		if results[i].ReplayFailed() {
			failed++
		}
	}

	log.Info().
		Int("from", p.From).
		Int("to", p.To).
		Int("matched", res.Count(match.Matched)).
		Int("added", res.Count(match.Added)).
		Int("removed", res.Count(match.Removed)).
		Int("replay_failed", failed).
		Msg("pair computed")
	return p, nil
}
