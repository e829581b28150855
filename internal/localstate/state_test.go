package localstate

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	state, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Empty(t, state.Variables())
	_, ok := state.Variable("FOO")
	require.False(t, ok)
}

func TestStatePersistsAcrossLoads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	state, err := Load(dir)
	require.NoError(t, err)

	require.NoError(t, state.SetVariable("API_USER", "alice"))
	require.NoError(t, state.SetProviderOption("REDIS_URL", "scope", "project"))
	require.NoError(t, state.SetRunState("REDIS_URL", RunState{
		URL:              "redis://localhost:6380",
		Port:             6380,
		ShutdownCommands: [][]string{{"redis-cli", "-p", "6380", "shutdown"}},
	}))

	reloaded, err := Load(dir)
	require.NoError(t, err)

	value, ok := reloaded.Variable("API_USER")
	require.True(t, ok)
	require.Equal(t, "alice", value)
	require.Equal(t, map[string]string{"scope": "project"}, reloaded.ProviderOptions("REDIS_URL"))

	rs, ok := reloaded.RunState("REDIS_URL")
	require.True(t, ok)
	require.Equal(t, 6380, rs.Port)
	require.Equal(t, []string{"REDIS_URL"}, reloaded.RunStateKeys())

	require.NoError(t, reloaded.ClearRunState("REDIS_URL"))
	require.NoError(t, reloaded.UnsetVariable("API_USER"))
	require.NoError(t, reloaded.UnsetProviderOption("REDIS_URL", "scope"))

	final, err := Load(dir)
	require.NoError(t, err)
	require.Empty(t, final.Variables())
	require.Empty(t, final.ProviderOptions("REDIS_URL"))
	require.Empty(t, final.RunStateKeys())

	info, err := os.Stat(filepath.Join(dir, Filename))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStateMergesConcurrentWriters(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := Load(dir)
	require.NoError(t, err)
	second, err := Load(dir)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, s := range []*State{first, second} {
		wg.Add(1)
		go func(i int, s *State) {
			defer wg.Done()
			errs[i] = s.SetVariable([]string{"FIRST", "SECOND"}[i], "set")
		}(i, s)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	merged, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, merged.Variables(), 2)
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, Filename), []byte("variables: [unclosed"), 0o600))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestInMemoryState(t *testing.T) {
	t.Parallel()

	state := NewInMemory()
	require.Empty(t, state.Path())
	require.NoError(t, state.SetVariable("A", "1"))
	value, ok := state.Variable("A")
	require.True(t, ok)
	require.Equal(t, "1", value)
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	_, ok, err := store.Get("DB_PASSWORD")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set("DB_PASSWORD", "s3cret"))
	value, ok, err := store.Get("DB_PASSWORD")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s3cret", value)

	require.NoError(t, store.Delete("DB_PASSWORD"))
	require.NoError(t, store.Delete("DB_PASSWORD"))
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()

	store := NewKeyringStore("/srv/project")
	require.Equal(t, "kapsel:/srv/project", store.Service())
	require.NoError(t, store.Available())

	_, ok, err := store.Get("DB_PASSWORD")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set("DB_PASSWORD", "s3cret"))
	value, ok, err := store.Get("DB_PASSWORD")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "s3cret", value)

	require.NoError(t, store.Delete("DB_PASSWORD"))
	require.NoError(t, store.Delete("DB_PASSWORD"))
}
