package gitrepo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/kapsel/internal/environ"
	"github.com/alexisbeaulieu97/kapsel/internal/localstate"
	"github.com/alexisbeaulieu97/kapsel/internal/logger"
	"github.com/alexisbeaulieu97/kapsel/internal/provider"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
	"github.com/alexisbeaulieu97/kapsel/internal/runmode"
)

func initGitRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello repo"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "kapsel", Email: "kapsel@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func repoContext(t *testing.T, url, directory string) (provider.Provider, *provider.Context) {
	t.Helper()
	p := New()
	pc := &provider.Context{
		Requirement: requirement.Requirement{
			Key:  "LIB_DIR",
			Kind: requirement.KindRepo,
			Repo: requirement.RepoParams{URL: url, Directory: directory},
		},
		Env:        environ.New().View(),
		Ambient:    environ.ViewOf(nil),
		Local:      localstate.NewInMemory(),
		Mode:       runmode.NonInteractive,
		ProjectDir: t.TempDir(),
		Logger:     logger.NewNop(),
	}
	opts, err := p.ReadConfig(pc)
	require.NoError(t, err)
	pc.Options = opts
	return p, pc
}

func TestProvideClonesRepository(t *testing.T) {
	t.Parallel()

	source := initGitRepo(t)
	p, pc := repoContext(t, source, "")

	eval, err := p.CheckState(context.Background(), pc)
	require.NoError(t, err)
	require.True(t, eval.Available)
	require.Contains(t, eval.Message, "would clone")

	status := p.Provide(context.Background(), pc)
	require.True(t, status.IsSatisfied(), status.String())

	dest := filepath.Join(pc.ProjectDir, "repos", filepath.Base(source))
	require.Equal(t, dest, status.Value())
	contents, err := os.ReadFile(filepath.Join(dest, "README.md"))
	require.NoError(t, err)
	require.Contains(t, string(contents), "hello repo")

	view := environ.ViewOf(map[string]string{"LIB_DIR": dest})
	require.True(t, pc.Requirement.Check(context.Background(), view))

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directory must not be left behind")

	status = p.Provide(context.Background(), pc)
	require.True(t, status.IsSatisfied())
}

func TestProvideUsesDeclaredDirectory(t *testing.T) {
	t.Parallel()

	source := initGitRepo(t)
	p, pc := repoContext(t, source, "vendor/lib")

	status := p.Provide(context.Background(), pc)
	require.True(t, status.IsSatisfied(), status.String())
	require.Equal(t, filepath.Join(pc.ProjectDir, "vendor", "lib"), status.Value())
}

func TestProvideRefusesNonRepositoryDirectory(t *testing.T) {
	t.Parallel()

	source := initGitRepo(t)
	p, pc := repoContext(t, source, "occupied")
	require.NoError(t, os.MkdirAll(filepath.Join(pc.ProjectDir, "occupied"), 0o755))

	eval, err := p.CheckState(context.Background(), pc)
	require.NoError(t, err)
	require.False(t, eval.Available)

	status := p.Provide(context.Background(), pc)
	require.True(t, status.Fatal())
	require.False(t, status.Transient())
	require.Contains(t, status.Reason(), "not a git repository")
}

func TestProvideFailsForMissingSource(t *testing.T) {
	t.Parallel()

	p, pc := repoContext(t, filepath.Join(t.TempDir(), "missing"), "")

	status := p.Provide(context.Background(), pc)
	require.True(t, status.IsFailed())
	require.True(t, status.Fatal())

	_, err := os.Stat(filepath.Join(pc.ProjectDir, "repos", "missing"))
	require.True(t, os.IsNotExist(err))
}

func TestRepoName(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://github.com/example/lib.git": "lib",
		"git@github.com:example/lib.git":     "lib",
		"/srv/git/lib/":                      "lib",
		"file:///srv/git/tools":              "tools",
	}
	for url, want := range cases {
		require.Equal(t, want, repoName(url), url)
	}
}

func TestReadConfigRejectsNegativeDepth(t *testing.T) {
	t.Parallel()

	p := New()
	pc := &provider.Context{
		Requirement: requirement.Requirement{Key: "LIB_DIR", Kind: requirement.KindRepo},
		Ambient:     environ.ViewOf(map[string]string{"KAPSEL_GIT_CLONE_DEPTH": "-1"}),
	}
	_, err := p.ReadConfig(pc)
	require.Error(t, err)
}
