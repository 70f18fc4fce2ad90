package match

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// scoredPair is one unassigned old x new pair of the heuristic pass.
type scoredPair struct {
	old, new    int
	delta       time.Duration
	prefiltered bool

	author  float64
	time    float64
	content float64
	score   float64
}

func (m *Matcher) matchByHeuristic(ctx context.Context, prev, next []Candidate, a *assignment) error {
	var olds, news []int
	for o := range prev {
		if a.oldToNew[o] < 0 {
			olds = append(olds, o)
		}
	}
	for n := range next {
		if a.newToOld[n] < 0 {
			news = append(news, n)
		}
	}
	if len(olds) == 0 || len(news) == 0 {
		return nil
	}

	pairs := make([]scoredPair, 0, len(olds)*len(news))
	for _, o := range olds {
		oc := prev[o].Commit
		for _, n := range news {
			nc := next[n].Commit
			p := scoredPair{old: o, new: n, delta: absDuration(oc.Author.When.Sub(nc.Author.When))}
			if oc.Author.SameIdentity(nc.Author) {
				p.author = 1
			}
			p.time = m.timeScore(p.delta)
			p.prefiltered = m.prefilter(oc.Author, nc.Author, p.delta)
			pairs = append(pairs, p)
		}
	}

	if m.diffs != nil && m.opts.ContentWeight > 0 {
		if err := m.scoreContent(ctx, prev, next, pairs); err != nil {
			return err
		}
	}
	for i := range pairs {
		pairs[i].score = m.combine(pairs[i])
	}

	sort.Slice(pairs, func(i, j int) bool {
		pi, pj := pairs[i], pairs[j]
		if pi.score != pj.score {
			return pi.score > pj.score
		}
		if pi.delta != pj.delta {
			return pi.delta < pj.delta
		}
		if pi.old != pj.old {
			return pi.old < pj.old
		}
		return pi.new < pj.new
	})

	for _, p := range pairs {
		if p.score < m.opts.Threshold {
			break
		}
		if !a.assign(p.old, p.new, Confidence{Score: p.score}) {
			continue
		}
		log.Debug().
			Str("old", vcs.Short(prev[p.old].Commit.ID)).
			Str("new", vcs.Short(next[p.new].Commit.ID)).
			Float64("score", p.score).
			Float64("author", p.author).
			Float64("time", p.time).
			Float64("content", p.content).
			Msg("matched by heuristic")
	}
	return nil
}

// timeScore decays by half every TimeHalfLife.
func (m *Matcher) timeScore(delta time.Duration) float64 {
	if m.opts.TimeHalfLife <= 0 {
		if delta == 0 {
			return 1
		}
		return 0
	}
	return math.Pow(0.5, float64(delta)/float64(m.opts.TimeHalfLife))
}

// prefilter selects the pairs whose diff content is worth comparing.
func (m *Matcher) prefilter(a, b vcs.Signature, delta time.Duration) bool {
	sameAuthor := (a.Email != "" && strings.EqualFold(a.Email, b.Email)) || (a.Name != "" && a.Name == b.Name)
	return sameAuthor && delta <= m.opts.PrefilterWindow
}

// combine normalizes by the sum of all weights, so a pair whose content was
// never compared simply scores zero on that component.
func (m *Matcher) combine(p scoredPair) float64 {
	total := m.opts.AuthorWeight + m.opts.TimeWeight + m.opts.ContentWeight
	if total == 0 {
		return 0
	}
	sum := m.opts.AuthorWeight*p.author + m.opts.TimeWeight*p.time + m.opts.ContentWeight*p.content
	return sum / total
}

// scoreContent fills the content component of the prefiltered pairs. Each
// commit's own diff is requested at most once.
func (m *Matcher) scoreContent(ctx context.Context, prev, next []Candidate, pairs []scoredPair) error {
	needed := make(map[vcs.Hash]*vcs.Commit)
	for _, p := range pairs {
		if !p.prefiltered {
			continue
		}
		needed[prev[p.old].Commit.ID] = prev[p.old].Commit
		needed[next[p.new].Commit.ID] = next[p.new].Commit
	}
	if len(needed) == 0 {
		return nil
	}

	var mu sync.Mutex
	sets := make(map[vcs.Hash]lineSet, len(needed))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for id, c := range needed {
		g.Go(func() error {
			files, err := m.diffs.CommitDiff(gctx, c)
			if err != nil {
				return fmt.Errorf("diff of commit %s: %w", vcs.Short(id), err)
			}
			set := changedLines(files)
			mu.Lock()
			sets[id] = set
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Workers)
	for i := range pairs {
		if !pairs[i].prefiltered {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p := &pairs[i]
			p.content = overlap(sets[prev[p.old].Commit.ID], sets[next[p.new].Commit.ID])
			return nil
		})
	}
	return g.Wait()
}

// lineSet holds the changed lines of a diff keyed by path, sign and content.
type lineSet map[string]struct{}

func changedLines(files []vcs.FileDiff) lineSet {
	set := make(lineSet)
	for _, f := range files {
		path := f.Path()
		if f.Binary {
			set[path+"\x00binary"] = struct{}{}
			continue
		}
		for _, h := range f.Hunks {
			for _, l := range h.Lines {
				switch l.Kind {
				case vcs.LineAdded:
					set[path+"\x00+"+l.Content] = struct{}{}
				case vcs.LineRemoved:
					set[path+"\x00-"+l.Content] = struct{}{}
				}
			}
		}
	}
	return set
}

// overlap is the shared fraction of the larger set.
func overlap(a, b lineSet) float64 {
	larger := max(len(a), len(b))
	if larger == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	shared := 0
	for k := range a {
		if _, ok := b[k]; ok {
			shared++
		}
	}
	return float64(shared) / float64(larger)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
