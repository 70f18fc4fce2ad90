// Package vcs holds the data model shared by the interdiff engine and the
// interfaces of the version-control backend it consumes.
package vcs

import (
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// Hash is a content hash of a commit, tree or blob.
type Hash = plumbing.Hash

// ZeroHash stands for "no object". Passed as a tree it means the empty tree.
var ZeroHash = plumbing.ZeroHash

// NewHash parses a hex object id.
func NewHash(s string) Hash {
	return plumbing.NewHash(s)
}

// Signature identifies who authored or committed a change and when.
type Signature struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	When  time.Time `json:"when"`
}

// SameIdentity reports whether two signatures name the same person.
func (s Signature) SameIdentity(o Signature) bool {
	return strings.EqualFold(s.Email, o.Email) && s.Name == o.Name
}

// Commit is the subset of commit metadata the engine reads from the backend.
type Commit struct {
	ID        Hash
	Parents   []Hash
	Author    Signature
	Committer Signature
	Message   string
	Tree      Hash
}

// Title returns the first line of the commit message.
func (c *Commit) Title() string {
	title, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	return title
}

// FirstParent returns the first parent, or ZeroHash for a root commit.
func (c *Commit) FirstParent() Hash {
	if len(c.Parents) == 0 {
		return ZeroHash
	}
	return c.Parents[0]
}

// FileStatus describes what happened to a path between two trees.
type FileStatus string

const (
	StatusAdded    FileStatus = "added"
	StatusDeleted  FileStatus = "deleted"
	StatusModified FileStatus = "modified"
)

// LineKind is the role of a line inside a hunk.
type LineKind string

const (
	LineContext LineKind = "context"
	LineAdded   LineKind = "add"
	LineRemoved LineKind = "delete"
)

// Line is a single line of a hunk. Content excludes the trailing newline.
// OldNum and NewNum are 1-based and zero when the line does not exist on
// that side.
type Line struct {
	Kind    LineKind `json:"kind"`
	Content string   `json:"content"`
	OldNum  int      `json:"oldNum,omitempty"`
	NewNum  int      `json:"newNum,omitempty"`
}

// Hunk is a contiguous block of changes with its surrounding context.
type Hunk struct {
	OldStart int    `json:"oldStart"`
	OldLines int    `json:"oldLines"`
	NewStart int    `json:"newStart"`
	NewLines int    `json:"newLines"`
	Lines    []Line `json:"lines"`
}

// Added returns the number of added lines in the hunk.
func (h Hunk) Added() int {
	return h.count(LineAdded)
}

// Removed returns the number of removed lines in the hunk.
func (h Hunk) Removed() int {
	return h.count(LineRemoved)
}

func (h Hunk) count(kind LineKind) int {
	n := 0
	for _, l := range h.Lines {
		if l.Kind == kind {
			n++
		}
	}
	return n
}

// FileDiff is the per-file part of a tree-vs-tree diff.
type FileDiff struct {
	OldPath string     `json:"oldPath,omitempty"`
	NewPath string     `json:"newPath,omitempty"`
	Status  FileStatus `json:"status"`
	Binary  bool       `json:"binary,omitempty"`
	Hunks   []Hunk     `json:"hunks"`
}

// Path returns the most relevant path of the file: the new one unless the
// file was deleted.
func (f FileDiff) Path() string {
	if f.NewPath != "" {
		return f.NewPath
	}
	return f.OldPath
}

// DiffStats summarizes a diff.
type DiffStats struct {
	Additions    int `json:"additions"`
	Removals     int `json:"removals"`
	ChangedFiles int `json:"changedFiles"`
}

// Stats computes the summary of a list of file diffs.
func Stats(files []FileDiff) DiffStats {
	var st DiffStats
	for _, f := range files {
		st.ChangedFiles++
		for _, h := range f.Hunks {
			st.Additions += h.Added()
			st.Removals += h.Removed()
		}
	}
	return st
}
