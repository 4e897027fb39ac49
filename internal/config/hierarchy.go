package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/fabriclabs/unshub/internal/types"
)

// hierarchyFile is the YAML shape of a hierarchy definition.
type hierarchyFile struct {
	Levels []struct {
		ID            string   `yaml:"id"`
		Name          string   `yaml:"name"`
		Order         int      `yaml:"order"`
		Required      bool     `yaml:"required"`
		ParentLevelID string   `yaml:"parent"`
		AllowedChilds []string `yaml:"allowed_children"`
	} `yaml:"levels"`
}

// LoadHierarchy parses and validates a hierarchy definition file.
func LoadHierarchy(path string) (*types.HierarchyConfiguration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read hierarchy: %w", err)
	}
	var file hierarchyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("config: parse hierarchy %s: %w", path, err)
	}

	cfg := &types.HierarchyConfiguration{}
	for _, l := range file.Levels {
		cfg.Levels = append(cfg.Levels, types.HierarchyLevel{
			ID:            l.ID,
			Name:          l.Name,
			Order:         l.Order,
			Required:      l.Required,
			ParentLevelID: l.ParentLevelID,
			AllowedChilds: l.AllowedChilds,
		})
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("config: hierarchy %s is invalid: %v", path, problems)
	}
	return cfg, nil
}

// DefaultHierarchy is the built-in Enterprise/Site/Area definition used when
// no hierarchy file is configured.
func DefaultHierarchy() *types.HierarchyConfiguration {
	return &types.HierarchyConfiguration{
		Levels: []types.HierarchyLevel{
			{ID: "enterprise", Name: "Enterprise", Order: 0, Required: true, AllowedChilds: []string{"site"}},
			{ID: "site", Name: "Site", Order: 1, ParentLevelID: "enterprise", AllowedChilds: []string{"area"}},
			{ID: "area", Name: "Area", Order: 2, ParentLevelID: "site"},
		},
	}
}

// WatchFile invokes onChange (debounced) whenever the file is rewritten,
// until the context is cancelled. The parent directory is watched so the
// usual rename-into-place editors and config reloaders are caught.
func WatchFile(ctx context.Context, path string, log *slog.Logger, onChange func()) error {
	if log == nil {
		log = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	base := filepath.Base(path)

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		const debounceDelay = 500 * time.Millisecond
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					if debounce != nil {
						debounce.Stop()
					}
					debounce = time.AfterFunc(debounceDelay, onChange)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("config watcher error", "path", path, "error", err)
			}
		}
	}()
	return nil
}
