package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func TestFixProblemsDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	original := &Project{
		Name:         "demo",
		Downloads:    []Download{{Name: "DATA", URL: "https://example.com/files/data.csv"}},
		SectionOrder: []string{SectionDownloads},
	}

	fixed, remaining := FixProblems(original, DefaultFixPasses)
	require.Empty(t, remaining)

	require.Empty(t, original.EnvSpecs)
	require.Empty(t, original.Downloads[0].Filename)
	require.Equal(t, []string{SectionDownloads}, original.SectionOrder)

	require.Equal(t, "data.csv", fixed.Downloads[0].Filename)
	require.Nil(t, fixed.Downloads[0].Unzip)
	require.Equal(t, []string{SectionDownloads, SectionEnvSpecs}, fixed.SectionOrder)
}

func TestFixProblemsDownloadNames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name         string
		download     Download
		wantFilename string
		wantUnzip    *bool
	}{
		{
			name:         "zip defaults to unzip and strips suffix",
			download:     Download{Name: "A", URL: "https://example.com/pkg.zip"},
			wantFilename: "pkg",
			wantUnzip:    boolPtr(true),
		},
		{
			name:         "zip with unzip disabled keeps suffix",
			download:     Download{Name: "A", URL: "https://example.com/pkg.zip", Unzip: boolPtr(false)},
			wantFilename: "pkg.zip",
			wantUnzip:    boolPtr(false),
		},
		{
			name:         "url without path falls back to name",
			download:     Download{Name: "A", URL: "https://example.com/"},
			wantFilename: "A",
		},
		{
			name:         "explicit filename for zip turns on unzip",
			download:     Download{Name: "A", URL: "https://example.com/pkg.zip", Filename: "pkgdir"},
			wantFilename: "pkgdir",
			wantUnzip:    boolPtr(true),
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			project := &Project{Name: "demo", EnvSpecs: []EnvSpec{{Name: "default"}}, Downloads: []Download{tc.download}}
			fixed, remaining := FixProblems(project, DefaultFixPasses)
			require.Empty(t, remaining)
			require.Equal(t, tc.wantFilename, fixed.Downloads[0].Filename)
			require.Equal(t, tc.wantUnzip, fixed.Downloads[0].Unzip)
		})
	}
}

func TestFixProblemsPrefersDefaultEnvSpec(t *testing.T) {
	t.Parallel()

	project := &Project{
		Name:     "demo",
		EnvSpecs: []EnvSpec{{Name: "py310"}, {Name: "default"}},
		Commands: []Command{{Name: "test", Unix: "pytest"}},
	}

	fixed, remaining := FixProblems(project, DefaultFixPasses)
	require.Empty(t, remaining)
	require.Equal(t, "default", fixed.Commands[0].EnvSpec)
}

func TestFixProblemsStopsAtPassLimit(t *testing.T) {
	t.Parallel()

	project := &Project{
		Name:     "demo",
		Commands: []Command{{Name: "test", Unix: "pytest"}},
	}

	// the command fix only becomes available after the env spec fix ran
	_, remaining := FixProblems(project, 1)
	require.Len(t, remaining, 1)
	require.True(t, remaining[0].Fixable())
	require.Equal(t, "commands[0].env_spec", remaining[0].Field)
}

func TestFindProblemsUnfixable(t *testing.T) {
	t.Parallel()

	project := &Project{
		Name:     "demo",
		EnvSpecs: []EnvSpec{{Name: "default"}},
		Commands: []Command{{Name: "test", Unix: "pytest", EnvSpec: "gone"}},
	}

	problems := FindProblems(project)
	require.Len(t, problems, 1)
	require.False(t, problems[0].Fixable())
	require.Contains(t, problems[0].String(), "unknown env spec")
}
