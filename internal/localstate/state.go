// Package localstate persists per-checkout values in kapsel-local.yml: user
// entered variables, provider options and the run state of services started
// for the project.
package localstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// Filename is the local state file kept next to kapsel.yml.
const Filename = "kapsel-local.yml"

const (
	maxLockRetries = 50
	lockRetryDelay = 20 * time.Millisecond
)

// ErrLocked is returned when another process holds the state file lock.
var ErrLocked = errors.New("local state file is locked by another process")

// RunState records what is needed to find and stop a service started for
// the project.
type RunState struct {
	URL              string     `yaml:"url,omitempty"`
	Port             int        `yaml:"port,omitempty"`
	Dir              string     `yaml:"dir,omitempty"`
	ShutdownCommands [][]string `yaml:"shutdown_commands,omitempty"`
}

type document struct {
	Variables        map[string]string            `yaml:"variables,omitempty"`
	ProviderOptions  map[string]map[string]string `yaml:"provider_options,omitempty"`
	ServiceRunStates map[string]RunState          `yaml:"service_run_states,omitempty"`
}

// State is the in-memory copy of the local state file. Every mutation
// re-reads the file under an exclusive lock, applies the change and writes
// the result atomically, so concurrent invocations do not lose each other's
// updates.
type State struct {
	mu   sync.Mutex
	path string
	doc  document
}

// Load reads <projectDir>/kapsel-local.yml. A missing file yields empty state.
func Load(projectDir string) (*State, error) {
	s := &State{path: filepath.Join(projectDir, Filename)}
	doc, err := readDocument(s.path)
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

// NewInMemory returns state that is never written to disk.
func NewInMemory() *State {
	return &State{}
}

// Path is the backing file, or "" for in-memory state.
func (s *State) Path() string {
	return s.path
}

// Variable returns the locally stored value for key.
func (s *State) Variable(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.doc.Variables[key]
	return value, ok
}

// Variables returns a copy of all locally stored variables.
func (s *State) Variables() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.doc.Variables))
	for k, v := range s.doc.Variables {
		out[k] = v
	}
	return out
}

// SetVariable stores value for key and saves.
func (s *State) SetVariable(key, value string) error {
	return s.update(func(doc *document) {
		if doc.Variables == nil {
			doc.Variables = make(map[string]string)
		}
		doc.Variables[key] = value
	})
}

// UnsetVariable removes key and saves.
func (s *State) UnsetVariable(key string) error {
	return s.update(func(doc *document) {
		delete(doc.Variables, key)
	})
}

// ProviderOptions returns the options stored for requirement key.
func (s *State) ProviderOptions(key string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.doc.ProviderOptions[key]
	out := make(map[string]string, len(stored))
	for k, v := range stored {
		out[k] = v
	}
	return out
}

// SetProviderOption stores one option for requirement key and saves.
func (s *State) SetProviderOption(key, name, value string) error {
	return s.update(func(doc *document) {
		if doc.ProviderOptions == nil {
			doc.ProviderOptions = make(map[string]map[string]string)
		}
		if doc.ProviderOptions[key] == nil {
			doc.ProviderOptions[key] = make(map[string]string)
		}
		doc.ProviderOptions[key][name] = value
	})
}

// UnsetProviderOption removes one option of requirement key and saves.
func (s *State) UnsetProviderOption(key, name string) error {
	return s.update(func(doc *document) {
		delete(doc.ProviderOptions[key], name)
		if len(doc.ProviderOptions[key]) == 0 {
			delete(doc.ProviderOptions, key)
		}
	})
}

// RunState returns the recorded run state of the service behind key.
func (s *State) RunState(key string) (RunState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rs, ok := s.doc.ServiceRunStates[key]
	return rs, ok
}

// RunStateKeys lists keys with a recorded run state, sorted.
func (s *State) RunStateKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.doc.ServiceRunStates))
	for k := range s.doc.ServiceRunStates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetRunState records rs for key and saves.
func (s *State) SetRunState(key string, rs RunState) error {
	return s.update(func(doc *document) {
		if doc.ServiceRunStates == nil {
			doc.ServiceRunStates = make(map[string]RunState)
		}
		doc.ServiceRunStates[key] = rs
	})
}

// ClearRunState forgets the run state of key and saves.
func (s *State) ClearRunState(key string) error {
	return s.update(func(doc *document) {
		delete(doc.ServiceRunStates, key)
	})
}

func (s *State) update(mutate func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		mutate(&s.doc)
		return nil
	}

	return withLock(s.path, func() error {
		doc, err := readDocument(s.path)
		if err != nil {
			return err
		}
		mutate(&doc)
		if err := writeDocument(s.path, doc); err != nil {
			return err
		}
		s.doc = doc
		return nil
	})
}

func readDocument(path string) (document, error) {
	var doc document
	if path == "" {
		return doc, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

func writeDocument(path string, doc document) error {
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode local state: %w", err)
	}
	header := []byte("# Local values for this checkout. Do not commit this file.\n")
	if err := renameio.WriteFile(path, append(header, data...), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// withLock runs fn while holding an exclusive flock on path + ".lock". The
// lock lives next to the file so the atomic rename never replaces it.
func withLock(path string, fn func() error) error {
	lock := flock.New(path + ".lock")

	var locked bool
	var err error
	for i := 0; i < maxLockRetries; i++ {
		locked, err = lock.TryLock()
		if err != nil {
			return errors.Join(ErrLocked, err)
		}
		if locked {
			break
		}
		time.Sleep(lockRetryDelay)
	}
	if !locked {
		return ErrLocked
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}
