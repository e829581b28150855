package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alexisbeaulieu97/kapsel/internal/logger"
	"github.com/alexisbeaulieu97/kapsel/internal/requirement"
	kapselerrors "github.com/alexisbeaulieu97/kapsel/pkg/errors"
)

// ErrProviderNotFound is returned when the requested provider is not registered.
type ErrProviderNotFound struct {
	Name string
}

func (e ErrProviderNotFound) Error() string {
	return fmt.Sprintf("provider '%s' not found in registry\nHint: ensure the provider is registered before usage", e.Name)
}

// ErrNoProviders is returned when no provider handles a requirement kind.
type ErrNoProviders struct {
	Kind requirement.Kind
}

func (e ErrNoProviders) Error() string {
	return fmt.Sprintf("no provider registered for requirement kind '%s'", e.Kind)
}

// Source yields the candidate providers of a kind in priority order.
type Source interface {
	ForKind(kind requirement.Kind) []Provider
}

// Registry holds the providers of one process. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	metadata  map[string]Metadata
	order     []string
	logger    *logger.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		metadata:  make(map[string]Metadata),
		logger:    log,
	}
}

// Register adds a provider. Names must be unique and metadata well-formed.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return kapselerrors.NewProviderError("", fmt.Errorf("provider is nil"))
	}

	meta := p.Metadata()
	if err := meta.Validate(); err != nil {
		return kapselerrors.NewProviderError(meta.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[meta.Name]; exists {
		return kapselerrors.NewProviderError(meta.Name, fmt.Errorf("provider already registered"))
	}

	r.providers[meta.Name] = p
	r.metadata[meta.Name] = meta
	r.order = append(r.order, meta.Name)

	r.logger.WithFields(map[string]any{
		"provider": meta.Name,
		"class":    meta.Class.String(),
	}).Debug("registered provider")
	return nil
}

// MustRegister registers every provider and panics on the first error. It is
// meant for wiring built-in providers at startup.
func (r *Registry) MustRegister(providers ...Provider) {
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, ErrProviderNotFound{Name: name}
	}
	return p, nil
}

// Names lists registered providers in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ForKind returns the providers declaring kind, ordered by priority class and
// then by registration order.
func (r *Registry) ForKind(kind requirement.Kind) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	type candidate struct {
		p     Provider
		class Class
		index int
	}

	var candidates []candidate
	for i, name := range r.order {
		meta := r.metadata[name]
		if !meta.Handles(kind) {
			continue
		}
		candidates = append(candidates, candidate{p: r.providers[name], class: meta.Class, index: i})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].class != candidates[j].class {
			return candidates[i].class < candidates[j].class
		}
		return candidates[i].index < candidates[j].index
	})

	out := make([]Provider, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.p)
	}
	return out
}

// Validate checks that every kind has at least one provider.
func (r *Registry) Validate(kinds ...requirement.Kind) error {
	for _, kind := range kinds {
		if len(r.ForKind(kind)) == 0 {
			return ErrNoProviders{Kind: kind}
		}
	}
	return nil
}
