// Package override compiles policy implementations found in a service's
// safeguards directory. A policy named "x" may be provided as x.rego, x.star
// or x.wasm, with an optional x.docs file holding its documentation link.
package override

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/openfroyo/safeguards/pkg/policy"
	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
)

// Config tunes the sandboxed runtimes.
type Config struct {
	// Timeout bounds a single Starlark or WebAssembly invocation.
	Timeout time.Duration

	// MemoryLimitPages caps WebAssembly memory in 64KiB pages.
	MemoryLimitPages uint32
}

// DefaultConfig returns the default sandbox limits.
func DefaultConfig() Config {
	return Config{
		Timeout:          30 * time.Second,
		MemoryLimitPages: 256,
	}
}

// Loader implements policy.OverrideLoader.
type Loader struct {
	config Config
	logger zerolog.Logger
	cache  wazero.CompilationCache
}

// NewLoader creates a loader with the default sandbox limits.
func NewLoader(logger zerolog.Logger) *Loader {
	return NewLoaderWithConfig(logger, DefaultConfig())
}

// NewLoaderWithConfig creates a loader with explicit sandbox limits.
func NewLoaderWithConfig(logger zerolog.Logger, config Config) *Loader {
	defaults := DefaultConfig()
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if config.MemoryLimitPages == 0 {
		config.MemoryLimitPages = defaults.MemoryLimitPages
	}
	return &Loader{
		config: config,
		logger: logger.With().Str("component", "policy-override").Logger(),
		cache:  wazero.NewCompilationCache(),
	}
}

// Close releases the WebAssembly compilation cache.
func (l *Loader) Close(ctx context.Context) error {
	return l.cache.Close(ctx)
}

type compileFunc func(ctx context.Context, name, path string, src []byte) (engine.PolicyFunc, error)

// Load implements policy.OverrideLoader.
func (l *Loader) Load(ctx context.Context, dir, name string) (*engine.Definition, error) {
	if dir == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, policy.ErrNotFound
	}

	kinds := []struct {
		ext     string
		compile compileFunc
	}{
		{".rego", l.compileRego},
		{".star", l.compileStarlark},
		{".wasm", l.compileWasm},
	}

	for _, kind := range kinds {
		path := filepath.Join(dir, name+kind.ext)
		src, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		fn, err := kind.compile(ctx, name, path, src)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s: %w", path, err)
		}

		l.logger.Debug().
			Str("policy", name).
			Str("path", path).
			Msg("Compiled override policy")

		return &engine.Definition{
			Name:        name,
			DocsURL:     readDocs(filepath.Join(dir, name+".docs")),
			Description: fmt.Sprintf("Override policy from %s", filepath.Base(path)),
			Origin:      path,
			Func:        fn,
		}, nil
	}

	return nil, policy.ErrNotFound
}

func readDocs(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// input is the document handed to Rego and WebAssembly policies.
func input(snapshot *engine.Snapshot, options interface{}) map[string]interface{} {
	doc := snapshot.Document()
	doc["options"] = options
	return doc
}
