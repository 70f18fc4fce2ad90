package git

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/kurobon/interdiff/internal/vcs"
)

// DefaultContextLines is the number of unchanged lines kept around a change.
const DefaultContextLines = 3

// diffTrees computes the per-file patch between two trees.
func diffTrees(ctx context.Context, s storer.EncodedObjectStorer, a, b vcs.Hash, contextLines int) ([]vcs.FileDiff, error) {
	if a == b {
		return nil, nil
	}

	from, err := getTree(s, a)
	if err != nil {
		return nil, err
	}
	to, err := getTree(s, b)
	if err != nil {
		return nil, err
	}

	changes, err := object.DiffTreeWithOptions(ctx, from, to, nil)
	if err != nil {
		return nil, treeDiffError(err)
	}
	patch, err := changes.PatchContext(ctx)
	if err != nil {
		return nil, treeDiffError(err)
	}

	files := make([]vcs.FileDiff, 0, len(patch.FilePatches()))
	for _, fp := range patch.FilePatches() {
		files = append(files, toFileDiff(fp, contextLines))
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].Path() < files[j].Path()
	})
	return files, nil
}

func treeDiffError(err error) error {
	if errors.Is(err, object.ErrCanceled) {
		return context.Canceled
	}
	return fmt.Errorf("failed to compute patch: %w", err)
}

func toFileDiff(fp fdiff.FilePatch, contextLines int) vcs.FileDiff {
	from, to := fp.Files()

	fd := vcs.FileDiff{Binary: fp.IsBinary()}
	switch {
	case from == nil:
		fd.Status = vcs.StatusAdded
	case to == nil:
		fd.Status = vcs.StatusDeleted
	default:
		fd.Status = vcs.StatusModified
	}
	if from != nil {
		fd.OldPath = from.Path()
	}
	if to != nil {
		fd.NewPath = to.Path()
	}
	if fd.Binary {
		return fd
	}

	fd.Hunks = buildHunks(fp.Chunks(), contextLines)
	return fd
}

// buildHunks numbers every line of the chunks and groups changed lines into
// hunks with up to contextLines of surrounding context.
func buildHunks(chunks []fdiff.Chunk, contextLines int) []vcs.Hunk {
	var lines []vcs.Line
	oldNum, newNum := 0, 0
	for _, c := range chunks {
		for _, text := range splitLines(c.Content()) {
			text = strings.TrimSuffix(text, "\n")
			switch c.Type() {
			case fdiff.Equal:
				oldNum++
				newNum++
				lines = append(lines, vcs.Line{Kind: vcs.LineContext, Content: text, OldNum: oldNum, NewNum: newNum})
			case fdiff.Delete:
				oldNum++
				lines = append(lines, vcs.Line{Kind: vcs.LineRemoved, Content: text, OldNum: oldNum})
			case fdiff.Add:
				newNum++
				lines = append(lines, vcs.Line{Kind: vcs.LineAdded, Content: text, NewNum: newNum})
			}
		}
	}

	var hunks []vcs.Hunk
	i := 0
	for i < len(lines) {
		if lines[i].Kind == vcs.LineContext {
			i++
			continue
		}

		start := max(0, i-contextLines)
		// Extend while the next change is close enough to share context.
		end := i
		for j := i; j < len(lines); j++ {
			if lines[j].Kind != vcs.LineContext {
				end = j
				continue
			}
			if j-end > 2*contextLines {
				break
			}
		}
		stop := min(len(lines), end+contextLines+1)

		hunks = append(hunks, newHunk(lines, start, stop))
		i = stop
	}
	return hunks
}

func newHunk(lines []vcs.Line, start, stop int) vcs.Hunk {
	h := vcs.Hunk{Lines: append([]vcs.Line(nil), lines[start:stop]...)}

	oldBefore, newBefore := 0, 0
	for _, l := range lines[:start] {
		if l.Kind != vcs.LineAdded {
			oldBefore++
		}
		if l.Kind != vcs.LineRemoved {
			newBefore++
		}
	}
	for _, l := range h.Lines {
		if l.Kind != vcs.LineAdded {
			h.OldLines++
		}
		if l.Kind != vcs.LineRemoved {
			h.NewLines++
		}
	}

	h.OldStart, h.NewStart = oldBefore, newBefore
	if h.OldLines > 0 {
		h.OldStart++
	}
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}
