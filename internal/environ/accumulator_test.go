package environ

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAccumulatorPriority(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		first   Source
		second  Source
		wantVal string
		stored  bool
	}{
		{name: "override beats default", first: SourceOverride, second: SourceDefault, wantVal: "A", stored: false},
		{name: "local beats discovered", first: SourceLocal, second: SourceDiscovered, wantVal: "A", stored: false},
		{name: "override replaces default", first: SourceDefault, second: SourceOverride, wantVal: "B", stored: true},
		{name: "equal source replaces", first: SourceDefault, second: SourceDefault, wantVal: "B", stored: true},
		{name: "ambient beats local", first: SourceAmbient, second: SourceLocal, wantVal: "A", stored: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			acc := New()
			require.True(t, acc.Set("FOO", "A", tc.first))
			require.Equal(t, tc.stored, acc.Set("FOO", "B", tc.second))

			value, ok := acc.Get("FOO")
			require.True(t, ok)
			require.Equal(t, tc.wantVal, value)
		})
	}
}

func TestAccumulatorKeepsValuesVerbatim(t *testing.T) {
	t.Parallel()

	acc := New()
	acc.Set("EMPTY", "", SourceDefault)
	acc.Set("SPACES", "  padded  ", SourceDefault)
	acc.Set("NUM", "007", SourceDefault)

	value, ok := acc.Get("EMPTY")
	require.True(t, ok)
	require.Equal(t, "", value)
	require.Equal(t, "  padded  ", acc.View().Lookup("SPACES"))
	require.Equal(t, "007", acc.View().Lookup("NUM"))

	_, ok = acc.Get("MISSING")
	require.False(t, ok)
	require.Equal(t, []string{"EMPTY", "SPACES", "NUM"}, acc.Keys())
	require.Equal(t, 3, acc.Len())
}

func TestAccumulatorMergeAndSnapshot(t *testing.T) {
	t.Parallel()

	acc := New()
	acc.Set("PORT", "5001", SourceDiscovered)

	merged := acc.Merge(map[string]string{"PORT": "80", "HOME": "/home/me"})
	require.Equal(t, map[string]string{"PORT": "5001", "HOME": "/home/me"}, merged)

	snapshot := acc.Snapshot()
	snapshot["PORT"] = "mutated"
	require.Equal(t, "5001", acc.View().Lookup("PORT"))

	source, ok := acc.SourceOf("PORT")
	require.True(t, ok)
	require.Equal(t, SourceDiscovered, source)
	require.Equal(t, "discovered", source.String())
}

func TestEnvironHelpers(t *testing.T) {
	t.Parallel()

	parsed := ParseEnviron([]string{"A=1", "B=x=y", "broken", "=nokey", "C="})
	require.Equal(t, map[string]string{"A": "1", "B": "x=y", "C": ""}, parsed)
	require.Equal(t, []string{"A=1", "B=x=y", "C="}, FormatEnviron(parsed))

	acc := New()
	acc.Set("A", "override", SourceOverride)
	layered := acc.ViewWith(map[string]string{"A": "ambient", "HOME": "/home/me"})
	require.Equal(t, "override", layered.Lookup("A"))
	require.Equal(t, "/home/me", layered.Lookup("HOME"))
	require.True(t, layered.Accumulated("A"))
	require.False(t, layered.Accumulated("HOME"))
	require.Equal(t, map[string]string{"A": "override", "HOME": "/home/me"}, layered.Snapshot())

	view := ViewOf(map[string]string{"X": "1"})
	require.Equal(t, "1", view.Lookup("X"))
	require.Empty(t, View{}.Lookup("X"))
	require.Empty(t, View{}.Snapshot())
}
