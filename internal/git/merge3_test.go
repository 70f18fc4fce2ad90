package git

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mergeBase = "a\nb\nc\nd\ne\n"

func TestMerge3_DisjointEdits(t *testing.T) {
	got, err := merge3(mergeBase, "a\nB\nc\nd\ne\n", "a\nb\nc\nD\ne\n")
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\nD\ne\n", got)
}

func TestMerge3_OneSided(t *testing.T) {
	got, err := merge3(mergeBase, mergeBase, "a\nb\nc\nd\ne\nf\n")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\nd\ne\nf\n", got)

	got, err = merge3(mergeBase, "x\n"+mergeBase, mergeBase)
	require.NoError(t, err)
	assert.Equal(t, "x\n"+mergeBase, got)
}

func TestMerge3_SameEditOnBothSides(t *testing.T) {
	got, err := merge3(mergeBase, "a\nB\nc\nD\ne\n", "a\nB\nc\nd\ne\n")
	require.NoError(t, err)
	assert.Equal(t, "a\nB\nc\nD\ne\n", got)
}

func TestMerge3_Conflict(t *testing.T) {
	_, err := merge3(mergeBase, "a\nb\nX\nd\ne\n", "a\nb\nY\nd\ne\n")
	require.Error(t, err)

	var conflict *mergeConflict
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, conflict.startLine)
	assert.Equal(t, "conflicting edits at line 3", err.Error())
}

func TestMerge3_AdjacentEditsConflict(t *testing.T) {
	_, err := merge3(mergeBase, "a\nB\nc\nd\ne\n", "a\nb\nC\nd\ne\n")
	var conflict *mergeConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestMerge3_EmptyBase(t *testing.T) {
	got, err := merge3("", "same\n", "same\n")
	require.NoError(t, err)
	assert.Equal(t, "same\n", got)

	_, err = merge3("", "one\n", "two\n")
	assert.Error(t, err)
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(""))
	assert.Equal(t, []string{"a\n", "b"}, splitLines("a\nb"))
	assert.Equal(t, []string{"a\n", "b\n"}, splitLines("a\nb\n"))
}
