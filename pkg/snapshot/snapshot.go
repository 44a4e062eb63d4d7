package snapshot

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/openfroyo/safeguards/pkg/engine"
	"github.com/rs/zerolog"
)

// backReferenceKey is the framework back-reference dropped from the declaration copy.
const backReferenceKey = "serverless"

// Builder assembles the read-only snapshot handed to policies.
type Builder struct {
	logger zerolog.Logger
}

// NewBuilder creates a snapshot builder.
func NewBuilder(logger zerolog.Logger) *Builder {
	return &Builder{
		logger: logger.With().Str("component", "snapshot-builder").Logger(),
	}
}

// Build is a convenience wrapper around a Builder without logging.
func Build(declaration map[string]interface{}, artifacts map[string][]byte, provider engine.ProviderContext, frameworkVersion string) (*engine.Snapshot, error) {
	return NewBuilder(zerolog.Nop()).Build(declaration, artifacts, provider, frameworkVersion)
}

// Build deep-copies the declaration and parses every JSON or YAML artifact.
// Artifacts with other extensions are ignored. The first artifact that fails
// to parse aborts the build with an artifact parse error naming the file.
func (b *Builder) Build(declaration map[string]interface{}, artifacts map[string][]byte, provider engine.ProviderContext, frameworkVersion string) (*engine.Snapshot, error) {
	decl, _ := deepCopy(declaration, map[uintptr]bool{}).(map[string]interface{})
	if decl == nil {
		decl = map[string]interface{}{}
	}
	delete(decl, backReferenceKey)

	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	compiled := make(map[string]interface{}, len(names))
	for _, name := range names {
		value, ok, err := parseArtifact(name, artifacts[name])
		if err != nil {
			return nil, engine.NewArtifactParseError(name, err)
		}
		if !ok {
			b.logger.Debug().Str("file", name).Msg("Ignoring non-JSON/YAML artifact")
			continue
		}
		compiled[name] = value
	}

	b.logger.Debug().
		Int("artifacts", len(compiled)).
		Str("stage", provider.Stage).
		Str("region", provider.Region).
		Msg("Snapshot built")

	return &engine.Snapshot{
		Declaration:      decl,
		Compiled:         compiled,
		Provider:         provider,
		FrameworkVersion: frameworkVersion,
	}, nil
}

// IsArtifact reports whether name has a parsed artifact extension.
func IsArtifact(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yml", ".yaml":
		return true
	}
	return false
}

// Parse decodes a JSON or YAML document according to the extension of name.
func Parse(name string, data []byte) (interface{}, error) {
	v, ok, err := parseArtifact(name, data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s", filepath.Ext(name))
	}
	return v, nil
}

func parseArtifact(name string, data []byte) (interface{}, bool, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, true, fmt.Errorf("invalid JSON: %w", err)
		}
		return v, true, nil
	case ".yml", ".yaml":
		v, err := parseYAML(data)
		if err != nil {
			return nil, true, err
		}
		return v, true, nil
	}
	return nil, false, nil
}

// deepCopy copies maps and slices into the generic JSON shape. A container
// already on the current copy path is a cycle and is dropped.
func deepCopy(v interface{}, path map[uintptr]bool) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		ptr := reflect.ValueOf(val).Pointer()
		if path[ptr] {
			return nil
		}
		path[ptr] = true
		defer delete(path, ptr)

		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			if isCycle(item, path) {
				continue
			}
			out[k] = deepCopy(item, path)
		}
		return out
	case []interface{}:
		var ptr uintptr
		if len(val) > 0 {
			ptr = reflect.ValueOf(val).Pointer()
			if path[ptr] {
				return nil
			}
			path[ptr] = true
			defer delete(path, ptr)
		}

		out := make([]interface{}, 0, len(val))
		for _, item := range val {
			if isCycle(item, path) {
				continue
			}
			out = append(out, deepCopy(item, path))
		}
		return out
	case map[interface{}]interface{}, int, int64, uint64:
		return deepCopy(engine.Normalize(val), path)
	default:
		return copyTyped(v, path)
	}
}

// copyTyped converts typed containers such as []string or map[string]int into
// the generic shape so the copy shares nothing with the caller.
func copyTyped(v interface{}, path map[uintptr]bool) interface{} {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			item := iter.Value().Interface()
			if isCycle(item, path) {
				continue
			}
			out[fmt.Sprint(iter.Key().Interface())] = deepCopy(item, path)
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return nil
		}
		fallthrough
	case reflect.Array:
		out := make([]interface{}, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i).Interface()
			if isCycle(item, path) {
				continue
			}
			out = append(out, deepCopy(item, path))
		}
		return out
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return float64(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return float64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	}
	return v
}

func isCycle(v interface{}, path map[uintptr]bool) bool {
	switch val := v.(type) {
	case map[string]interface{}:
		return path[reflect.ValueOf(val).Pointer()]
	case []interface{}:
		return len(val) > 0 && path[reflect.ValueOf(val).Pointer()]
	}
	return false
}
