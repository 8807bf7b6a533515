package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cloudwarden/cloudwarden/pkg/telemetry"
)

// Loader reads catalog files from disk and optionally watches them for
// changes.
type Loader struct {
	log      *telemetry.Logger
	validate *validator.Validate
	watcher  *fsnotify.Watcher
}

// NewLoader creates a new catalog loader.
func NewLoader(log *telemetry.Logger) *Loader {
	if log == nil {
		log = telemetry.NopLogger()
	}
	return &Loader{
		log:      log.NewComponentLogger("catalog-loader"),
		validate: validator.New(),
	}
}

// LoadFromPaths loads definitions from a list of file or directory paths
// into one merged catalog.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) (*Catalog, error) {
	cat := NewCatalog()

	for _, path := range paths {
		if err := l.loadFromPath(ctx, cat, path); err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
	}

	l.log.WithField("definitions", cat.Len()).
		WithField("sources", len(paths)).
		Info("Catalog loaded from paths")

	return cat, nil
}

// loadFromPath loads definitions from a single path (file or directory).
func (l *Loader) loadFromPath(ctx context.Context, cat *Catalog, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, cat, path)
	}

	return l.loadFromFile(cat, path)
}

// loadFromDirectory loads all .yaml and .yml files from a directory
// recursively.
func (l *Loader) loadFromDirectory(_ context.Context, cat *Catalog, dirPath string) error {
	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if !isCatalogFile(path) {
			return nil
		}

		if err := l.loadFromFile(cat, path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		return nil
	})

	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}

	return nil
}

// loadFromFile loads a catalog file and merges its definitions.
func (l *Loader) loadFromFile(cat *Catalog, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse catalog file: %w", err)
	}

	for i := range file.Entities {
		def := &file.Entities[i]
		if err := l.validate.Struct(def); err != nil {
			return fmt.Errorf("definition %d (%s/%s) invalid: %w", i, def.Kind, def.Name, err)
		}
		if err := cat.Add(def); err != nil {
			return err
		}
	}

	l.log.WithField("path", filePath).
		WithField("definitions", len(file.Entities)).
		Debug("Catalog file loaded")

	return nil
}

// Watch starts watching paths for catalog changes and triggers reload on
// change. Reload events are debounced so an editor save producing several
// filesystem events reloads once.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func(*Catalog) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	l.watcher = watcher

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.log.WithError(err).WithField("path", path).Warn("Failed to stat path for watching")
			continue
		}

		if info.IsDir() {
			if err := l.watchDirectory(path); err != nil {
				l.log.WithError(err).WithField("path", path).Warn("Failed to watch directory")
			}
		} else {
			if err := watcher.Add(path); err != nil {
				l.log.WithError(err).WithField("path", path).Warn("Failed to watch file")
			}
		}
	}

	go l.processEvents(ctx, paths, reloadFn)

	l.log.WithField("paths", len(paths)).Info("Started watching catalog paths")

	return nil
}

// watchDirectory adds all subdirectories to the watcher.
func (l *Loader) watchDirectory(dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return l.watcher.Add(path)
		}

		return nil
	})
}

// processEvents processes file system events and triggers reloads.
func (l *Loader) processEvents(ctx context.Context, paths []string, reloadFn func(*Catalog) error) {
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if l.watcher != nil {
				_ = l.watcher.Close()
			}
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && isCatalogFile(event.Name) {
				l.log.WithField("file", event.Name).
					WithField("op", event.Op.String()).
					Debug("Catalog file changed")

				if reloadTimer != nil {
					reloadTimer.Stop()
				}
				reloadTimer = time.AfterFunc(reloadDelay, func() {
					if err := l.triggerReload(ctx, paths, reloadFn); err != nil {
						l.log.WithError(err).Error("Failed to reload catalog")
					}
				})
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.WithError(err).Error("Watcher error")
		}
	}
}

// triggerReload reloads the full catalog from watched paths.
func (l *Loader) triggerReload(ctx context.Context, paths []string, reloadFn func(*Catalog) error) error {
	cat, err := l.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to reload catalog: %w", err)
	}

	if err := reloadFn(cat); err != nil {
		return fmt.Errorf("failed to apply reloaded catalog: %w", err)
	}

	l.log.WithField("definitions", cat.Len()).Info("Catalog reloaded successfully")

	return nil
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}

func isCatalogFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}
