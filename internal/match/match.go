// Package match pairs the commits of two consecutive pushes of a pull
// request. Commits sharing a unique change id are paired first; the rest are
// paired by a weighted heuristic over author, timestamps and diff content.
package match

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/rs/zerolog/log"
)

// Kind is the variant of an Entry.
type Kind string

const (
	Matched Kind = "matched"
	Added   Kind = "added"
	Removed Kind = "removed"
)

// Candidate is one commit of an iteration as seen by the matcher.
type Candidate struct {
	Commit   *vcs.Commit
	ChangeID string
	HasID    bool
}

// Confidence tells how a Matched entry was decided. Score is 1 for
// identifier matches.
type Confidence struct {
	Certain bool
	Score   float64
}

// Entry is one element of a match result. OldIndex and NewIndex are the
// positions in the input slices, -1 when the side is absent.
type Entry struct {
	Kind       Kind
	Old        *Candidate
	New        *Candidate
	OldIndex   int
	NewIndex   int
	Confidence Confidence
}

// Result lists Matched and Added entries in new-iteration order followed by
// Removed entries in old-iteration order.
type Result struct {
	Entries []Entry
}

// Count returns the number of entries of kind k.
func (r *Result) Count(k Kind) int {
	n := 0
	for _, e := range r.Entries {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Options tunes the heuristic pass.
type Options struct {
	AuthorWeight  float64 `koanf:"author_weight"`
	TimeWeight    float64 `koanf:"time_weight"`
	ContentWeight float64 `koanf:"content_weight"`
	// TimeHalfLife is the author time distance at which the time component
	// drops to one half.
	TimeHalfLife time.Duration `koanf:"time_half_life"`
	// PrefilterWindow bounds the author time distance of pairs whose diff
	// content is compared.
	PrefilterWindow time.Duration `koanf:"prefilter_window"`
	// Threshold is the minimum score for a heuristic match.
	Threshold float64 `koanf:"threshold"`
	Workers   int     `koanf:"workers"`
}

// DefaultOptions returns the default weights: author identity dominates,
// content overlap next, timestamp proximity last.
func DefaultOptions() Options {
	return Options{
		AuthorWeight:    0.5,
		TimeWeight:      0.2,
		ContentWeight:   0.3,
		TimeHalfLife:    time.Hour,
		PrefilterWindow: 7 * 24 * time.Hour,
		Threshold:       0.55,
		Workers:         4,
	}
}

// Validate rejects unusable options.
func (o Options) Validate() error {
	if o.AuthorWeight < 0 || o.TimeWeight < 0 || o.ContentWeight < 0 {
		return errors.New("match weights must not be negative")
	}
	if o.AuthorWeight+o.TimeWeight+o.ContentWeight == 0 {
		return errors.New("at least one match weight must be positive")
	}
	if o.Threshold < 0 || o.Threshold > 1 {
		return fmt.Errorf("match threshold %v outside [0,1]", o.Threshold)
	}
	if o.TimeHalfLife < 0 || o.PrefilterWindow < 0 {
		return errors.New("match durations must not be negative")
	}
	if o.Workers < 1 {
		return errors.New("match workers must be at least 1")
	}
	return nil
}

// DiffSource returns the change a commit introduced relative to its first
// parent.
type DiffSource interface {
	CommitDiff(ctx context.Context, c *vcs.Commit) ([]vcs.FileDiff, error)
}

// DiffFunc adapts a function to DiffSource.
type DiffFunc func(ctx context.Context, c *vcs.Commit) ([]vcs.FileDiff, error)

func (f DiffFunc) CommitDiff(ctx context.Context, c *vcs.Commit) ([]vcs.FileDiff, error) {
	return f(ctx, c)
}

// Matcher pairs commits between two iterations. A nil DiffSource disables
// the content component.
type Matcher struct {
	opts  Options
	diffs DiffSource
}

// New returns a Matcher. Invalid options fall back to the defaults.
func New(opts Options, diffs DiffSource) *Matcher {
	if err := opts.Validate(); err != nil {
		log.Warn().Err(err).Msg("invalid match options, using defaults")
		opts = DefaultOptions()
	}
	return &Matcher{opts: opts, diffs: diffs}
}

// Options returns the effective options.
func (m *Matcher) Options() Options {
	return m.opts
}

// Match pairs the commits of the older push prev with those of next. Every
// candidate appears in exactly one entry.
func (m *Matcher) Match(ctx context.Context, prev, next []Candidate) (*Result, error) {
	for i := range prev {
		if prev[i].Commit == nil {
			return nil, fmt.Errorf("old candidate %d has no commit", i)
		}
	}
	for i := range next {
		if next[i].Commit == nil {
			return nil, fmt.Errorf("new candidate %d has no commit", i)
		}
	}

	a := newAssignment(len(prev), len(next))
	m.matchByID(prev, next, a)

	if err := m.matchByHeuristic(ctx, prev, next, a); err != nil {
		return nil, err
	}

	res := a.result(prev, next)
	if err := Verify(res, len(prev), len(next)); err != nil {
		return nil, err
	}
	return res, nil
}

// assignment tracks which old commit each new commit got.
type assignment struct {
	newToOld []int
	oldToNew []int
	conf     []Confidence // by new index
}

func newAssignment(nOld, nNew int) *assignment {
	a := &assignment{
		newToOld: make([]int, nNew),
		oldToNew: make([]int, nOld),
		conf:     make([]Confidence, nNew),
	}
	for i := range a.newToOld {
		a.newToOld[i] = -1
	}
	for i := range a.oldToNew {
		a.oldToNew[i] = -1
	}
	return a
}

func (a *assignment) assign(o, n int, c Confidence) bool {
	if a.oldToNew[o] >= 0 || a.newToOld[n] >= 0 {
		return false
	}
	a.oldToNew[o] = n
	a.newToOld[n] = o
	a.conf[n] = c
	return true
}

func (a *assignment) result(prev, next []Candidate) *Result {
	res := &Result{Entries: make([]Entry, 0, len(prev)+len(next))}
	for n := range next {
		o := a.newToOld[n]
		if o < 0 {
			res.Entries = append(res.Entries, Entry{Kind: Added, New: &next[n], OldIndex: -1, NewIndex: n})
			continue
		}
		res.Entries = append(res.Entries, Entry{
			Kind:       Matched,
			Old:        &prev[o],
			New:        &next[n],
			OldIndex:   o,
			NewIndex:   n,
			Confidence: a.conf[n],
		})
	}
	for o := range prev {
		if a.oldToNew[o] < 0 {
			res.Entries = append(res.Entries, Entry{Kind: Removed, Old: &prev[o], OldIndex: o, NewIndex: -1})
		}
	}
	return res
}

// matchByID pairs commits whose change id is unique on both sides. Ids shared
// by several commits on either side are left to the heuristic pass.
func (m *Matcher) matchByID(prev, next []Candidate, a *assignment) {
	oldByID := groupByID(prev)
	newByID := groupByID(next)

	ids := make([]string, 0, len(oldByID))
	for id := range oldByID {
		if _, ok := newByID[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		os, ns := oldByID[id], newByID[id]
		if len(os) != 1 || len(ns) != 1 {
			log.Debug().Str("change_id", id).Int("old", len(os)).Int("new", len(ns)).Msg("change id is not unique, deferring to heuristic")
			continue
		}
		a.assign(os[0], ns[0], Confidence{Certain: true, Score: 1})
		log.Debug().Str("change_id", id).
			Str("old", vcs.Short(prev[os[0]].Commit.ID)).
			Str("new", vcs.Short(next[ns[0]].Commit.ID)).
			Msg("matched by change id")
	}
}

func groupByID(cs []Candidate) map[string][]int {
	groups := make(map[string][]int)
	for i, c := range cs {
		if c.HasID && c.ChangeID != "" {
			groups[c.ChangeID] = append(groups[c.ChangeID], i)
		}
	}
	return groups
}
