package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// OverrideExtensions are the file types an override directory is read for.
var OverrideExtensions = []string{".rego", ".star", ".wasm", ".docs"}

// inputExtensions are the file types whose changes trigger a re-run by default.
var inputExtensions = append([]string{".json", ".yml", ".yaml"}, OverrideExtensions...)

// Target is one watched path. Directories are walked recursively unless
// Shallow is set. Extensions narrows the file types that count as a change.
type Target struct {
	Path       string
	Shallow    bool
	Extensions []string
}

// Watcher re-runs safeguards when override policies or artifacts change.
type Watcher struct {
	registry *Registry
	logger   zerolog.Logger
	delay    time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher that invalidates registry caches on change.
// registry may be nil when no override directory is in use.
func NewWatcher(logger zerolog.Logger, registry *Registry) *Watcher {
	return &Watcher{
		registry: registry,
		logger:   logger.With().Str("component", "policy-watcher").Logger(),
		delay:    500 * time.Millisecond,
	}
}

// Watch starts watching targets and calls onChange, debounced, after changes.
// Calls to onChange never overlap; changes made during a run queue one more run.
// It returns once the watcher is set up; events are processed until ctx is done.
func (w *Watcher) Watch(ctx context.Context, targets []Target, onChange func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	w.mu.Lock()
	w.watcher = watcher
	w.mu.Unlock()

	var active []Target
	for _, target := range targets {
		if target.Path == "" {
			continue
		}
		target.Path = absPath(target.Path)
		info, err := os.Stat(target.Path)
		if err != nil {
			w.logger.Warn().Err(err).Str("path", target.Path).Msg("Failed to stat path for watching")
			continue
		}

		switch {
		case !info.IsDir():
			err = watcher.Add(target.Path)
		case target.Shallow:
			err = watcher.Add(target.Path)
		default:
			err = w.watchDirectory(watcher, target.Path)
		}
		if err != nil {
			w.logger.Warn().Err(err).Str("path", target.Path).Msg("Failed to watch path")
			continue
		}
		active = append(active, target)
	}

	if len(active) == 0 {
		_ = watcher.Close()
		return fmt.Errorf("no watchable paths in %v", targets)
	}

	trigger := make(chan struct{}, 1)
	go w.runLoop(ctx, trigger, onChange)
	go w.processEvents(ctx, watcher, active, trigger)

	w.logger.Info().
		Int("paths", len(active)).
		Msg("Started watching safeguard paths")

	return nil
}

func (w *Watcher) watchDirectory(watcher *fsnotify.Watcher, dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

// runLoop is the single consumer of trigger.
func (w *Watcher) runLoop(ctx context.Context, trigger <-chan struct{}, onChange func(context.Context) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			if err := onChange(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Safeguards re-run failed")
			}
		}
	}
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, targets []Target, trigger chan<- struct{}) {
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !matches(targets, event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Safeguard input changed")

			if w.registry != nil && hasExtension(event.Name, OverrideExtensions) {
				w.registry.Invalidate(filepath.Dir(event.Name))
			}

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.delay, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// matches reports whether a change to name concerns one of targets.
func matches(targets []Target, name string) bool {
	name = absPath(name)
	for _, target := range targets {
		exts := target.Extensions
		if len(exts) == 0 {
			exts = inputExtensions
		}
		if !hasExtension(name, exts) {
			continue
		}

		switch {
		case name == target.Path:
			return true
		case target.Shallow:
			if filepath.Dir(name) == target.Path {
				return true
			}
		default:
			rel, err := filepath.Rel(target.Path, name)
			if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return true
			}
		}
	}
	return false
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
