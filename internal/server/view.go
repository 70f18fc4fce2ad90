package server

import (
	"time"

	"github.com/kurobon/interdiff/internal/interdiff"
	"github.com/kurobon/interdiff/internal/match"
	"github.com/kurobon/interdiff/internal/timeline"
	"github.com/kurobon/interdiff/internal/vcs"
)

// The view types carry object ids as hex strings.

type commitView struct {
	ID        string        `json:"id"`
	Parents   []string      `json:"parents"`
	Author    vcs.Signature `json:"author"`
	Committer vcs.Signature `json:"committer"`
	Title     string        `json:"title"`
	Message   string        `json:"message"`
	ChangeID  string        `json:"changeId,omitempty"`
}

type iterationView struct {
	Index    int          `json:"index"`
	PushedAt time.Time    `json:"pushedAt"`
	Base     string       `json:"base"`
	Head     string       `json:"head"`
	Commits  []commitView `json:"commits"`
	Error    string       `json:"error,omitempty"`
}

type failureView struct {
	Reason string `json:"reason"`
	Path   string `json:"path,omitempty"`
	Onto   string `json:"onto"`
}

type entryView struct {
	Kind      match.Kind     `json:"kind"`
	Old       *commitView    `json:"old,omitempty"`
	New       *commitView    `json:"new,omitempty"`
	OldIndex  int            `json:"oldIndex"`
	NewIndex  int            `json:"newIndex"`
	Certain   bool           `json:"certain"`
	Score     float64        `json:"score"`
	Unchanged bool           `json:"unchanged"`
	Files     []vcs.FileDiff `json:"files"`
	Stats     vcs.DiffStats  `json:"stats"`
	Failed    *failureView   `json:"replayFailed,omitempty"`
}

type pairErrorView struct {
	Kind   timeline.ErrorKind `json:"kind"`
	OldID  string             `json:"oldId"`
	NewID  string             `json:"newId"`
	Reason string             `json:"reason"`
}

type pairView struct {
	From    int            `json:"from"`
	To      int            `json:"to"`
	Entries []entryView    `json:"entries"`
	Error   *pairErrorView `json:"error,omitempty"`
}

// TimelineView is the JSON form of a timeline.
type TimelineView struct {
	Iterations []iterationView `json:"iterations"`
	Pairs      []pairView      `json:"pairs"`
}

func hexOrEmpty(h vcs.Hash) string {
	if h.IsZero() {
		return ""
	}
	return h.String()
}

func newCommitView(c *match.Candidate) *commitView {
	if c == nil || c.Commit == nil {
		return nil
	}
	v := &commitView{
		ID:        c.Commit.ID.String(),
		Parents:   make([]string, len(c.Commit.Parents)),
		Author:    c.Commit.Author,
		Committer: c.Commit.Committer,
		Title:     c.Commit.Title(),
		Message:   c.Commit.Message,
	}
	if c.HasID {
		v.ChangeID = c.ChangeID
	}
	for i, p := range c.Commit.Parents {
		v.Parents[i] = p.String()
	}
	return v
}

func newEntryView(e timeline.Entry) entryView {
	v := entryView{
		Kind:      e.Kind,
		Old:       newCommitView(e.Old),
		New:       newCommitView(e.New),
		OldIndex:  e.OldIndex,
		NewIndex:  e.NewIndex,
		Certain:   e.Confidence.Certain,
		Score:     e.Confidence.Score,
		Unchanged: e.Unchanged(),
		Files:     []vcs.FileDiff{},
	}
	if r := e.Interdiff; r != nil {
		v.Stats = r.Stats
		if r.Files != nil {
			v.Files = r.Files
		}
		v.Failed = newFailureView(r.Failed)
	}
	return v
}

func newFailureView(f *interdiff.Failure) *failureView {
	if f == nil {
		return nil
	}
	return &failureView{Reason: f.Reason, Path: f.Path, Onto: hexOrEmpty(f.Onto)}
}

// NewTimelineView converts tl for JSON encoding.
func NewTimelineView(tl *timeline.Timeline) TimelineView {
	v := TimelineView{
		Iterations: make([]iterationView, 0, len(tl.Iterations)),
		Pairs:      make([]pairView, 0, len(tl.Pairs)),
	}
	for _, it := range tl.Iterations {
		iv := iterationView{
			Index:    it.Index,
			PushedAt: it.PushedAt,
			Base:     hexOrEmpty(it.Base),
			Head:     hexOrEmpty(it.Head),
			Commits:  make([]commitView, 0, len(it.Commits)),
			Error:    it.Err,
		}
		for i := range it.Commits {
			if c := newCommitView(&it.Commits[i]); c != nil {
				iv.Commits = append(iv.Commits, *c)
			}
		}
		v.Iterations = append(v.Iterations, iv)
	}
	for _, p := range tl.Pairs {
		pv := pairView{From: p.From, To: p.To, Entries: make([]entryView, 0, len(p.Entries))}
		for _, e := range p.Entries {
			pv.Entries = append(pv.Entries, newEntryView(e))
		}
		if p.Err != nil {
			pv.Error = &pairErrorView{
				Kind:   p.Err.Kind,
				OldID:  hexOrEmpty(p.Err.OldID),
				NewID:  hexOrEmpty(p.Err.NewID),
				Reason: p.Err.Reason,
			}
		}
		v.Pairs = append(v.Pairs, pv)
	}
	return v
}
