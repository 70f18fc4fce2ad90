package git

// replay.go - object-level commit replay
//
// A replay re-applies the change a commit introduced relative to its first
// parent on top of another commit, without a worktree. Every path is merged
// three ways: the commit's parent is the base, the target ("onto") is ours and
// the commit itself is theirs. All objects written here land in the session's
// scratch store.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/go-git/go-git/v5/utils/binary"
	"github.com/kurobon/interdiff/internal/vcs"
)

type treeEntry struct {
	hash plumbing.Hash
	mode filemode.FileMode
}

// replay writes a synthetic commit whose only parent is onto and whose tree
// is onto's tree with commit's change applied.
func replay(ctx context.Context, s storer.EncodedObjectStorer, commitID, onto plumbing.Hash) (plumbing.Hash, error) {
	c, err := getCommit(s, commitID)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	target, err := getCommit(s, onto)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	baseTree := plumbing.ZeroHash
	if c.NumParents() > 0 {
		parent, err := getCommit(s, c.ParentHashes[0])
		if err != nil {
			return plumbing.ZeroHash, err
		}
		baseTree = parent.TreeHash
	}

	var tree plumbing.Hash
	switch {
	case baseTree == target.TreeHash:
		// Same starting point: the replay is the commit's own tree.
		tree = c.TreeHash
	case baseTree == c.TreeHash:
		// Empty change.
		tree = target.TreeHash
	default:
		tree, err = mergeTrees(ctx, s, baseTree, target.TreeHash, c.TreeHash)
		if err != nil {
			var conflict *pathConflict
			if errors.As(err, &conflict) {
				return plumbing.ZeroHash, &vcs.ReplayError{
					Commit: commitID,
					Onto:   onto,
					Path:   conflict.path,
					Reason: conflict.reason,
				}
			}
			return plumbing.ZeroHash, err
		}
	}

	synthetic := &object.Commit{
		Author:       c.Author,
		Committer:    c.Committer,
		Message:      c.Message,
		TreeHash:     tree,
		ParentHashes: []plumbing.Hash{onto},
		Encoding:     c.Encoding,
		ExtraHeaders: c.ExtraHeaders,
	}
	obj := s.NewEncodedObject()
	if err := synthetic.Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode replayed commit: %w", err)
	}
	return s.SetEncodedObject(obj)
}

type pathConflict struct {
	path   string
	reason string
}

func (c *pathConflict) Error() string {
	return fmt.Sprintf("%s: %s", c.path, c.reason)
}

// mergeTrees performs the per-path three-way merge.
//
// Strategy:
// - Ours == Theirs -> keep Ours
// - Base == Theirs -> keep Ours (the change did not touch the path)
// - Base == Ours -> take Theirs (only the change touched the path)
// - otherwise both sides changed the path: text blobs are merged line by line,
// anything else is a conflict.
func mergeTrees(ctx context.Context, s storer.EncodedObjectStorer, baseH, oursH, theirsH plumbing.Hash) (plumbing.Hash, error) {
	base, err := flattenTree(s, baseH)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	ours, err := flattenTree(s, oursH)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	theirs, err := flattenTree(s, theirsH)
	if err != nil {
		return plumbing.ZeroHash, err
	}

	paths := make(map[string]struct{}, len(ours))
	for _, m := range []map[string]treeEntry{base, ours, theirs} {
		for p := range m {
			paths[p] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	result := make(map[string]treeEntry, len(paths))
	for _, path := range sorted {
		if err := ctx.Err(); err != nil {
			return plumbing.ZeroHash, err
		}

		b, inBase := base[path]
		o, inOurs := ours[path]
		t, inTheirs := theirs[path]

		switch {
		case sameEntry(o, inOurs, t, inTheirs), sameEntry(b, inBase, t, inTheirs):
			if inOurs {
				result[path] = o
			}
		case sameEntry(b, inBase, o, inOurs):
			if inTheirs {
				result[path] = t
			}
		default:
			merged, err := mergeEntry(s, path, b, inBase, o, inOurs, t, inTheirs)
			if err != nil {
				return plumbing.ZeroHash, err
			}
			result[path] = merged
		}
	}

	if err := fileDirConflict(sorted, result); err != nil {
		return plumbing.ZeroHash, err
	}
	return writeTree(s, result)
}

// fileDirConflict reports a path that is a file in result while another
// path in result lives below it.
func fileDirConflict(sorted []string, result map[string]treeEntry) error {
	dirs := make(map[string]struct{})
	for p := range result {
		for i := 0; i < len(p); i++ {
			if p[i] == '/' {
				dirs[p[:i]] = struct{}{}
			}
		}
	}
	for _, p := range sorted {
		if _, ok := result[p]; !ok {
			continue
		}
		if _, isDir := dirs[p]; isDir {
			return &pathConflict{path: p, reason: "file on one side and directory on the other"}
		}
	}
	return nil
}

func sameEntry(a treeEntry, inA bool, b treeEntry, inB bool) bool {
	if inA != inB {
		return false
	}
	return !inA || a == b
}

func mergeEntry(s storer.EncodedObjectStorer, path string, b treeEntry, inBase bool, o treeEntry, inOurs bool, t treeEntry, inTheirs bool) (treeEntry, error) {
	if !inOurs || !inTheirs {
		return treeEntry{}, &pathConflict{path: path, reason: "modified on one side and deleted on the other"}
	}

	mode, ok := mergeMode(b.mode, inBase, o.mode, t.mode)
	if !ok {
		return treeEntry{}, &pathConflict{path: path, reason: "file mode changed on both sides"}
	}
	if o.hash == t.hash {
		return treeEntry{hash: o.hash, mode: mode}, nil
	}
	if o.mode == filemode.Symlink || t.mode == filemode.Symlink || (inBase && b.mode == filemode.Symlink) {
		return treeEntry{}, &pathConflict{path: path, reason: "symlink target diverged"}
	}
	if !mode.IsFile() || (inBase && !b.mode.IsFile()) {
		return treeEntry{}, &pathConflict{path: path, reason: "non-file entry diverged"}
	}

	var baseText string
	if inBase {
		text, isBinary, err := readBlob(s, b.hash)
		if err != nil {
			return treeEntry{}, err
		}
		if isBinary {
			return treeEntry{}, &pathConflict{path: path, reason: "binary content diverged"}
		}
		baseText = text
	}
	oursText, oursBinary, err := readBlob(s, o.hash)
	if err != nil {
		return treeEntry{}, err
	}
	theirsText, theirsBinary, err := readBlob(s, t.hash)
	if err != nil {
		return treeEntry{}, err
	}
	if oursBinary || theirsBinary {
		return treeEntry{}, &pathConflict{path: path, reason: "binary content diverged"}
	}

	merged, err := merge3(baseText, oursText, theirsText)
	if err != nil {
		var conflict *mergeConflict
		if errors.As(err, &conflict) {
			return treeEntry{}, &pathConflict{path: path, reason: conflict.Error()}
		}
		return treeEntry{}, err
	}

	h, err := writeBlob(s, merged)
	if err != nil {
		return treeEntry{}, err
	}
	return treeEntry{hash: h, mode: mode}, nil
}

func mergeMode(base filemode.FileMode, inBase bool, ours, theirs filemode.FileMode) (filemode.FileMode, bool) {
	switch {
	case ours == theirs:
		return ours, true
	case inBase && base == ours:
		return theirs, true
	case inBase && base == theirs:
		return ours, true
	default:
		return ours, false
	}
}

// flattenTree maps every non-directory path of a tree to its entry.
func flattenTree(s storer.EncodedObjectStorer, h plumbing.Hash) (map[string]treeEntry, error) {
	entries := make(map[string]treeEntry)
	t, err := getTree(s, h)
	if err != nil || t == nil {
		return entries, err
	}

	w := object.NewTreeWalker(t, true, nil)
	defer w.Close()
	for {
		name, e, err := w.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk tree %s: %w", vcs.Short(h), err)
		}
		if e.Mode == filemode.Dir {
			continue
		}
		entries[name] = treeEntry{hash: e.Hash, mode: e.Mode}
	}
	return entries, nil
}

func readBlob(s storer.EncodedObjectStorer, h plumbing.Hash) (string, bool, error) {
	blob, err := object.GetBlob(s, h)
	if err != nil {
		if isNotFound(err) {
			return "", false, &vcs.MissingObjectError{ID: h, Kind: "blob"}
		}
		return "", false, err
	}
	r, err := blob.Reader()
	if err != nil {
		return "", false, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", false, err
	}
	isBinary, err := binary.IsBinary(bytes.NewReader(data))
	if err != nil {
		return "", false, err
	}
	return string(data), isBinary, nil
}

func writeBlob(s storer.EncodedObjectStorer, content string) (plumbing.Hash, error) {
	obj := s.NewEncodedObject()
	obj.SetType(plumbing.BlobObject)
	w, err := obj.Writer()
	if err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := io.Copy(w, strings.NewReader(content)); err != nil {
		w.Close()
		return plumbing.ZeroHash, err
	}
	if err := w.Close(); err != nil {
		return plumbing.ZeroHash, err
	}
	return s.SetEncodedObject(obj)
}

type dirNode struct {
	files map[string]treeEntry
	dirs  map[string]*dirNode
}

func newDirNode() *dirNode {
	return &dirNode{files: make(map[string]treeEntry), dirs: make(map[string]*dirNode)}
}

// writeTree stores the nested trees for a flat path map and returns the root.
func writeTree(s storer.EncodedObjectStorer, files map[string]treeEntry) (plumbing.Hash, error) {
	root := newDirNode()
	for path, e := range files {
		node := root
		parts := strings.Split(path, "/")
		for _, dir := range parts[:len(parts)-1] {
			child, ok := node.dirs[dir]
			if !ok {
				child = newDirNode()
				node.dirs[dir] = child
			}
			node = child
		}
		node.files[parts[len(parts)-1]] = e
	}
	return writeDir(s, root)
}

func writeDir(s storer.EncodedObjectStorer, node *dirNode) (plumbing.Hash, error) {
	entries := make([]object.TreeEntry, 0, len(node.files)+len(node.dirs))
	for name, child := range node.dirs {
		h, err := writeDir(s, child)
		if err != nil {
			return plumbing.ZeroHash, err
		}
		entries = append(entries, object.TreeEntry{Name: name, Mode: filemode.Dir, Hash: h})
	}
	for name, e := range node.files {
		entries = append(entries, object.TreeEntry{Name: name, Mode: e.mode, Hash: e.hash})
	}
	sort.Sort(object.TreeEntrySorter(entries))

	obj := s.NewEncodedObject()
	if err := (&object.Tree{Entries: entries}).Encode(obj); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to encode tree: %w", err)
	}
	return s.SetEncodedObject(obj)
}
