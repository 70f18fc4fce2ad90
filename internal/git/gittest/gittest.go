// Package gittest builds repositories for tests. Commits are
// written at the object level so tests control author, timestamps and extra
// headers exactly.
package gittest

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/require"
)

// Epoch is the author time of the first commit created without an explicit
// timestamp. Each later commit is one minute after the previous one.
var Epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// ChangeIDHeader is the commit header tools like jj and gerrit-style hosts
// use for stable change identifiers.
const ChangeIDHeader = "change-id"

// Files is a tree snapshot: path to content.
type Files map[string]string

// With returns a copy of f with the given paths set.
func (f Files) With(kv ...string) Files {
	out := make(Files, len(f)+len(kv)/2)
	for k, v := range f {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i]] = kv[i+1]
	}
	return out
}

// Without returns a copy of f without the given paths.
func (f Files) Without(paths ...string) Files {
	out := f.With()
	for _, p := range paths {
		delete(out, p)
	}
	return out
}

// Commit describes a commit to write.
type Commit struct {
	Parents  []plumbing.Hash
	Files    Files
	Message  string
	Author   string // "Name <email>", defaults to "Dev <dev@example.com>"
	When     time.Time
	ChangeID string
	// Headers are written after the change id header.
	Headers map[string]string
	// Modes overrides the regular file mode per path, e.g. filemode.Symlink.
	Modes map[string]filemode.FileMode
}

// Repo is a repository under construction.
type Repo struct {
	t     testing.TB
	Repo  *gogit.Repository
	Store storage.Storer
	clock time.Time
}

// New initializes an empty in-memory repository.
func New(t testing.TB) *Repo {
	t.Helper()
	st := memory.NewStorage()
	r, err := gogit.Init(st, memfs.New())
	require.NoError(t, err)
	return &Repo{t: t, Repo: r, Store: st, clock: Epoch}
}

// PlainInit initializes an empty repository on disk at dir, for code that
// opens repositories by path.
func PlainInit(t testing.TB, dir string) *Repo {
	t.Helper()
	r, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	return &Repo{t: t, Repo: r, Store: r.Storer, clock: Epoch}
}

// Commit writes c and returns its id.
func (r *Repo) Commit(c Commit) plumbing.Hash {
	r.t.Helper()

	when := c.When
	if when.IsZero() {
		when = r.clock
		r.clock = r.clock.Add(time.Minute)
	}
	sig := parseSignature(c.Author, when)

	msg := c.Message
	if msg == "" {
		msg = "change"
	}
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}

	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      msg,
		TreeHash:     r.TreeWithModes(c.Files, c.Modes),
		ParentHashes: c.Parents,
	}
	if c.ChangeID != "" {
		commit.ExtraHeaders = append(commit.ExtraHeaders, object.ExtraHeader{Key: ChangeIDHeader, Value: c.ChangeID})
	}
	keys := make([]string, 0, len(c.Headers))
	for k := range c.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		commit.ExtraHeaders = append(commit.ExtraHeaders, object.ExtraHeader{Key: k, Value: c.Headers[k]})
	}

	obj := r.Store.NewEncodedObject()
	require.NoError(r.t, commit.Encode(obj))
	h, err := r.Store.SetEncodedObject(obj)
	require.NoError(r.t, err)
	return h
}

// Chain writes one commit per snapshot, each on top of the previous one,
// starting from parent (which may be the zero hash).
func (r *Repo) Chain(parent plumbing.Hash, commits ...Commit) []plumbing.Hash {
	r.t.Helper()
	ids := make([]plumbing.Hash, 0, len(commits))
	for _, c := range commits {
		if !parent.IsZero() {
			c.Parents = []plumbing.Hash{parent}
		}
		parent = r.Commit(c)
		ids = append(ids, parent)
	}
	return ids
}

// Tree writes the nested trees for files and returns the root tree id.
func (r *Repo) Tree(files Files) plumbing.Hash {
	r.t.Helper()
	return r.TreeWithModes(files, nil)
}

// TreeWithModes is Tree with per-path modes; paths not in modes are regular
// files.
func (r *Repo) TreeWithModes(files Files, modes map[string]filemode.FileMode) plumbing.Hash {
	r.t.Helper()
	root := &dir{}
	for path, content := range files {
		mode, ok := modes[path]
		if !ok {
			mode = filemode.Regular
		}
		root.add(strings.Split(path, "/"), entry{hash: r.blob(content), mode: mode})
	}
	return r.writeDir(root)
}

// Branch points refs/heads/name at h.
func (r *Repo) Branch(name string, h plumbing.Hash) {
	r.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), h)
	require.NoError(r.t, r.Store.SetReference(ref))
}

func (r *Repo) blob(content string) plumbing.Hash {
	obj := r.Store.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	require.NoError(r.t, err)
	_, err = w.Write([]byte(content))
	require.NoError(r.t, err)
	require.NoError(r.t, w.Close())
	h, err := r.Store.SetEncodedObject(obj)
	require.NoError(r.t, err)
	return h
}

type entry struct {
	hash plumbing.Hash
	mode filemode.FileMode
}

type dir struct {
	files map[string]entry
	dirs  map[string]*dir
}

func (d *dir) add(parts []string, h entry) {
	if len(parts) == 1 {
		if d.files == nil {
			d.files = make(map[string]entry)
		}
		d.files[parts[0]] = h
		return
	}
	if d.dirs == nil {
		d.dirs = make(map[string]*dir)
	}
	sub, ok := d.dirs[parts[0]]
	if !ok {
		sub = &dir{}
		d.dirs[parts[0]] = sub
	}
	sub.add(parts[1:], h)
}

func (r *Repo) writeDir(d *dir) plumbing.Hash {
	var entries []object.TreeEntry
	for name, sub := range d.dirs {
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: r.writeDir(sub)})
	}
	for name, e := range d.files {
		entries = append(entries, object.TreeEntry{Name: name, Mode: e.mode, Hash: e.hash})
	}
	sort.Sort(object.TreeEntrySorter(entries))

	obj := r.Store.NewEncodedObject()
	require.NoError(r.t, (&object.Tree{Entries: entries}).Encode(obj))
	h, err := r.Store.SetEncodedObject(obj)
	require.NoError(r.t, err)
	return h
}

func parseSignature(s string, when time.Time) object.Signature {
	if s == "" {
		s = "Dev <dev@example.com>"
	}
	name, email := s, ""
	if i := strings.Index(s, "<"); i >= 0 {
		name = strings.TrimSpace(s[:i])
		email = strings.TrimSuffix(strings.TrimSpace(s[i+1:]), ">")
	}
	return object.Signature{Name: name, Email: email, When: when}
}
