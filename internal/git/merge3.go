package git

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/utils/diff"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// lineEdit replaces base lines [start, end) with lines.
type lineEdit struct {
	start, end int
	lines      []string
}

// mergeConflict describes a region of the base both sides changed
// differently. Lines are 1-based and inclusive.
type mergeConflict struct {
	startLine, endLine int
}

func (c *mergeConflict) Error() string {
	if c.startLine >= c.endLine {
		return fmt.Sprintf("conflicting edits at line %d", c.startLine)
	}
	return fmt.Sprintf("conflicting edits at lines %d-%d", c.startLine, c.endLine)
}

// splitLines splits text keeping line terminators.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// lineEdits computes the edits turning base into other.
func lineEdits(base, other string) []lineEdit {
	var (
		edits []lineEdit
		cur   *lineEdit
		pos   int
	)
	flush := func() {
		if cur != nil {
			edits = append(edits, *cur)
			cur = nil
		}
	}

	for _, d := range diff.Do(base, other) {
		lines := splitLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			flush()
			pos += len(lines)
		case diffmatchpatch.DiffDelete:
			if cur == nil {
				cur = &lineEdit{start: pos, end: pos}
			}
			cur.end += len(lines)
			pos += len(lines)
		case diffmatchpatch.DiffInsert:
			if cur == nil {
				cur = &lineEdit{start: pos, end: pos}
			}
			cur.lines = append(cur.lines, lines...)
		}
	}
	flush()
	return edits
}

// merge3 merges the line edits ours and theirs made to base. Edits from the
// two sides that overlap or touch form one region; such a region merges only
// when both sides produce identical text for it.
func merge3(base, ours, theirs string) (string, error) {
	if ours == theirs || base == theirs {
		return ours, nil
	}
	if base == ours {
		return theirs, nil
	}

	baseLines := splitLines(base)
	a := lineEdits(base, ours)
	b := lineEdits(base, theirs)

	var out strings.Builder
	pos := 0
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		var regionA, regionB []lineEdit
		var start, end int

		if j >= len(b) || (i < len(a) && a[i].start <= b[j].start) {
			start, end = a[i].start, a[i].end
			regionA = append(regionA, a[i])
			i++
		} else {
			start, end = b[j].start, b[j].end
			regionB = append(regionB, b[j])
			j++
		}

	grow:
		for {
			switch {
			case i < len(a) && a[i].start <= end:
				regionA = append(regionA, a[i])
				end = max(end, a[i].end)
				i++
			case j < len(b) && b[j].start <= end:
				regionB = append(regionB, b[j])
				end = max(end, b[j].end)
				j++
			default:
				break grow
			}
		}

		writeLines(&out, baseLines[pos:start])

		switch {
		case len(regionB) == 0:
			writeLines(&out, applyEdits(baseLines, regionA, start, end))
		case len(regionA) == 0:
			writeLines(&out, applyEdits(baseLines, regionB, start, end))
		default:
			ra := applyEdits(baseLines, regionA, start, end)
			rb := applyEdits(baseLines, regionB, start, end)
			if strings.Join(ra, "") != strings.Join(rb, "") {
				return "", &mergeConflict{startLine: start + 1, endLine: max(end, start+1)}
			}
			writeLines(&out, ra)
		}
		pos = end
	}
	writeLines(&out, baseLines[pos:])
	return out.String(), nil
}

func applyEdits(base []string, edits []lineEdit, start, end int) []string {
	var res []string
	p := start
	for _, e := range edits {
		res = append(res, base[p:e.start]...)
		res = append(res, e.lines...)
		p = e.end
	}
	return append(res, base[p:end]...)
}

func writeLines(b *strings.Builder, lines []string) {
	for _, l := range lines {
		b.WriteString(l)
	}
}
