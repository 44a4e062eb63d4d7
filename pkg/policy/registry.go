package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned by an OverrideLoader when the directory has no implementation.
var ErrNotFound = errors.New("policy implementation not found")

// OverrideLoader compiles a policy implementation from an override directory.
type OverrideLoader interface {
	// Load returns the implementation of name found in dir, or ErrNotFound.
	Load(ctx context.Context, dir, name string) (*engine.Definition, error)
}

// Registry resolves policy names: override directory first, then builtins.
type Registry struct {
	mu        sync.RWMutex
	builtins  map[string]*engine.Definition
	overrides OverrideLoader
	cache     map[string]*engine.Definition
	logger    zerolog.Logger
}

// NewRegistry creates a registry over the given builtin set.
// A nil overrides loader disables override lookup.
func NewRegistry(logger zerolog.Logger, builtins []*engine.Definition, overrides OverrideLoader) *Registry {
	r := &Registry{
		builtins:  make(map[string]*engine.Definition, len(builtins)),
		overrides: overrides,
		cache:     make(map[string]*engine.Definition),
		logger:    logger.With().Str("component", "policy-registry").Logger(),
	}
	for _, def := range builtins {
		r.builtins[def.Name] = def
	}
	return r
}

// Resolve implements engine.Resolver.
func (r *Registry) Resolve(ctx context.Context, name, overrideDir string) (*engine.Definition, error) {
	if name == "" {
		return nil, engine.NewLoadError(name, fmt.Errorf("empty policy name"))
	}

	if overrideDir != "" && r.overrides != nil {
		key := cacheKey(overrideDir, name)

		r.mu.RLock()
		def, ok := r.cache[key]
		r.mu.RUnlock()
		if ok {
			return def, nil
		}

		def, err := r.overrides.Load(ctx, overrideDir, name)
		switch {
		case err == nil:
			r.mu.Lock()
			r.cache[key] = def
			r.mu.Unlock()

			r.logger.Debug().
				Str("policy", name).
				Str("origin", def.Origin).
				Msg("Resolved policy from override directory")
			return def, nil
		case !errors.Is(err, ErrNotFound):
			return nil, engine.NewLoadError(name, err)
		}
	}

	r.mu.RLock()
	def, ok := r.builtins[name]
	r.mu.RUnlock()
	if !ok {
		if overrideDir != "" {
			return nil, engine.NewLoadError(name, fmt.Errorf("not found in %s or in builtin policies", overrideDir))
		}
		return nil, engine.NewLoadError(name, fmt.Errorf("not found in builtin policies"))
	}
	return def, nil
}

// Builtins returns the builtin definitions sorted by name.
func (r *Registry) Builtins() []*engine.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*engine.Definition, 0, len(r.builtins))
	for _, def := range r.builtins {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Invalidate drops cached override implementations loaded from dir.
// An empty dir clears the whole cache.
func (r *Registry) Invalidate(dir string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if dir == "" {
		r.cache = make(map[string]*engine.Definition)
		r.logger.Debug().Msg("Override cache cleared")
		return
	}

	prefix := absPath(dir) + "\x00"
	for key := range r.cache {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(r.cache, key)
		}
	}
	r.logger.Debug().Str("dir", dir).Msg("Override cache invalidated")
}

func cacheKey(dir, name string) string {
	return absPath(dir) + "\x00" + name
}
