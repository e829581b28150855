// Package environ holds the environment variable accumulator built up during
// one prepare run.
package environ

import (
	"sort"
	"strings"
)

// Source ranks where a value came from. Higher sources win.
type Source int

const (
	SourceDiscovered Source = iota + 1
	SourceDefault
	SourceLocal
	SourceAmbient
	SourceOverride
)

func (s Source) String() string {
	switch s {
	case SourceDiscovered:
		return "discovered"
	case SourceDefault:
		return "default"
	case SourceLocal:
		return "local"
	case SourceAmbient:
		return "environment"
	case SourceOverride:
		return "override"
	default:
		return "unknown"
	}
}

type entry struct {
	value  string
	source Source
}

// Accumulator maps variable names to string values, remembering the source
// of each value. It has a single writer, the engine, and is not safe for
// concurrent use.
type Accumulator struct {
	entries map[string]entry
	order   []string
}

// New returns an empty accumulator.
func New() *Accumulator {
	return &Accumulator{entries: make(map[string]entry)}
}

// Set stores value for key unless the existing value came from a strictly
// higher source. It reports whether the value was stored.
func (a *Accumulator) Set(key, value string, source Source) bool {
	current, exists := a.entries[key]
	if exists && current.source > source {
		return false
	}
	if !exists {
		a.order = append(a.order, key)
	}
	a.entries[key] = entry{value: value, source: source}
	return true
}

// Get returns the value stored for key.
func (a *Accumulator) Get(key string) (string, bool) {
	e, ok := a.entries[key]
	return e.value, ok
}

// SourceOf returns the source of the value stored for key.
func (a *Accumulator) SourceOf(key string) (Source, bool) {
	e, ok := a.entries[key]
	return e.source, ok
}

// Keys returns the stored keys in the order they were first set.
func (a *Accumulator) Keys() []string {
	return append([]string(nil), a.order...)
}

// Len returns the number of stored keys.
func (a *Accumulator) Len() int {
	return len(a.entries)
}

// Snapshot copies the stored values.
func (a *Accumulator) Snapshot() map[string]string {
	out := make(map[string]string, len(a.entries))
	for k, e := range a.entries {
		out[k] = e.value
	}
	return out
}

// View returns a read-only view over the accumulator.
func (a *Accumulator) View() View {
	return View{acc: a}
}

// ViewWith returns a read-only view that falls back to fallback for keys the
// accumulator does not define.
func (a *Accumulator) ViewWith(fallback map[string]string) View {
	return View{acc: a, fallback: fallback}
}

// Merge overlays the accumulated values onto ambient. Keys defined by the
// accumulator take precedence.
func (a *Accumulator) Merge(ambient map[string]string) map[string]string {
	out := make(map[string]string, len(ambient)+len(a.entries))
	for k, v := range ambient {
		out[k] = v
	}
	for k, e := range a.entries {
		out[k] = e.value
	}
	return out
}

// View exposes lookups without allowing writes.
type View struct {
	acc      *Accumulator
	fallback map[string]string
}

// Get returns the value stored for key.
func (v View) Get(key string) (string, bool) {
	if v.acc != nil {
		if value, ok := v.acc.Get(key); ok {
			return value, true
		}
	}
	value, ok := v.fallback[key]
	return value, ok
}

// Accumulated reports whether key came from the accumulator rather than the
// fallback values.
func (v View) Accumulated(key string) bool {
	if v.acc == nil {
		return false
	}
	_, ok := v.acc.Get(key)
	return ok
}

// Lookup returns the value for key or "" when absent.
func (v View) Lookup(key string) string {
	value, _ := v.Get(key)
	return value
}

// Snapshot copies the visible values.
func (v View) Snapshot() map[string]string {
	out := make(map[string]string, len(v.fallback))
	for k, value := range v.fallback {
		out[k] = value
	}
	if v.acc != nil {
		for k, value := range v.acc.Snapshot() {
			out[k] = value
		}
	}
	return out
}

// ViewOf wraps a plain map in a read-only view, mostly for tests and callers
// that only have ambient values.
func ViewOf(values map[string]string) View {
	acc := New()
	for _, k := range sortedKeys(values) {
		acc.Set(k, values[k], SourceAmbient)
	}
	return acc.View()
}

// ParseEnviron converts os.Environ-style KEY=VALUE pairs into a map. Entries
// without "=" are skipped.
func ParseEnviron(pairs []string) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// FormatEnviron converts a map into sorted KEY=VALUE pairs.
func FormatEnviron(values map[string]string) []string {
	out := make([]string, 0, len(values))
	for _, k := range sortedKeys(values) {
		out = append(out, k+"="+values[k])
	}
	return out
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
