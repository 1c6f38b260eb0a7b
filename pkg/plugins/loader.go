package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/boringtable/pkg/table"
)

const (
	// CurrentAPIVersion is the manifest API version this loader understands.
	CurrentAPIVersion = "1.0.0"
)

// ErrInvalidManifest is returned when validation finds errors.
var ErrInvalidManifest = errors.New("manifest validation failed")

type prioritySetter interface {
	SetPriority(table.Priority)
}

// Loader turns manifests into plugin chains using a registry.
type Loader[T any] struct {
	registry *Registry[T]
	log      logrus.FieldLogger
}

// NewLoader creates a new loader
func NewLoader[T any](registry *Registry[T], log logrus.FieldLogger) *Loader[T] {
	if log == nil {
		log = logrus.New()
	}
	return &Loader[T]{registry: registry, log: log}
}

// Build validates the manifest and creates its plugins in declaration order.
// The table sorts them by priority.
func (l *Loader[T]) Build(ctx context.Context, manifest *Manifest) ([]table.Plugin, error) {
	errs := ValidateManifest(manifest)
	for _, e := range errs {
		if e.Severity == SeverityWarning {
			l.log.Warnf("Manifest %s: %s", manifest.ID, e.Error())
		}
	}
	if HasErrors(errs) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, errs)
	}

	if !IsCompatibleAPIVersion(manifest.APIVersion, CurrentAPIVersion) {
		return nil, fmt.Errorf("incompatible API version: manifest requires %s, loader is %s",
			manifest.APIVersion, CurrentAPIVersion)
	}

	chain := make([]table.Plugin, 0, len(manifest.Plugins))
	for _, spec := range manifest.Plugins {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		factory, err := l.registry.Get(spec.Name)
		if err != nil {
			return nil, err
		}

		plugin, err := factory(manifest, spec)
		if err != nil {
			return nil, fmt.Errorf("failed to create plugin %s: %w", spec.Name, err)
		}

		if spec.Priority != "" {
			prio, err := table.ParsePriority(spec.Priority)
			if err != nil {
				return nil, err
			}
			setter, ok := plugin.(prioritySetter)
			if !ok {
				return nil, fmt.Errorf("plugin %s does not support a priority override", spec.Name)
			}
			setter.SetPriority(prio)
		}

		l.log.Debugf("Created plugin %s (priority: %s) for table %s", plugin.Name(), plugin.Priority(), manifest.ID)
		chain = append(chain, plugin)
	}

	l.log.Infof("Loaded table manifest: %s v%s (%d plugins)", manifest.Name, manifest.Version, len(chain))
	return chain, nil
}

// LoadFile reads a manifest file and builds its chain.
func (l *Loader[T]) LoadFile(ctx context.Context, path string) (*Manifest, []table.Plugin, error) {
	manifest, err := LoadManifest(path)
	if err != nil {
		return nil, nil, err
	}
	chain, err := l.Build(ctx, manifest)
	if err != nil {
		return nil, nil, err
	}
	return manifest, chain, nil
}

// Discover scans dirs for subdirectories holding a table.yaml and returns the
// manifests that load. Unreadable entries are logged and skipped.
func (l *Loader[T]) Discover(ctx context.Context, dirs []string) ([]*Manifest, error) {
	var manifests []*Manifest

	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			l.log.Debugf("Manifest directory does not exist: %s", dir)
			continue
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			l.log.Warnf("Failed to read manifest directory %s: %v", dir, err)
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			tableDir := filepath.Join(dir, entry.Name())
			manifest, err := LoadManifestFromDir(tableDir)
			if err != nil {
				l.log.Warnf("Failed to load manifest from %s: %v", tableDir, err)
				continue
			}
			manifests = append(manifests, manifest)
		}
	}

	return manifests, nil
}
