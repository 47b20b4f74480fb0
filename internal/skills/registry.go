package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Registry is the process-wide skill registry. It scans the global and
// project skill directories, applies scope toggles and disable lists, and
// keeps itself current through a filesystem watcher.
type Registry struct {
	projectRoot string
	logger      *slog.Logger

	mu     sync.RWMutex
	skills map[string]*Skill

	gating *GatingContext

	watcher     *fsnotify.Watcher
	watchPaths  map[string]struct{}
	watchMu     sync.Mutex
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the shared registry, synced on first use against the
// current working directory as project root.
func Default(logger *slog.Logger) *Registry {
	defaultRegistryOnce.Do(func() {
		root, _ := os.Getwd()
		defaultRegistry = NewRegistry(root, logger)
		if err := defaultRegistry.Sync(context.Background()); err != nil {
			defaultRegistry.logger.Warn("initial skill sync failed", "error", err)
		}
	})
	return defaultRegistry
}

// NewRegistry creates an empty registry rooted at projectRoot.
func NewRegistry(projectRoot string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		projectRoot: projectRoot,
		logger:      logger.With("component", "skills"),
		skills:      make(map[string]*Skill),
		gating:      NewGatingContext(),
	}
}

// Sync rescans all skill directories and replaces the registry contents.
// Project skills override global skills on id collision. Skills named in
// the scope's disable list, or failing their gating rules, are excluded.
func (r *Registry) Sync(ctx context.Context) error {
	next := make(map[string]*Skill)

	if scopeEnabled(EnvEnableGlobal) {
		disabled := disabledSet(EnvDisabledGlobal)
		for _, dir := range GlobalDirs() {
			found, err := scanDir(ctx, dir, ScopeGlobal, r.logger)
			if err != nil {
				r.logger.Warn("global skill scan failed", "dir", dir, "error", err)
				continue
			}
			r.merge(next, found, disabled)
		}
	}
	if scopeEnabled(EnvEnableProject) {
		disabled := disabledSet(EnvDisabledProject)
		for _, dir := range ProjectDirs(r.projectRoot) {
			found, err := scanDir(ctx, dir, ScopeProject, r.logger)
			if err != nil {
				r.logger.Warn("project skill scan failed", "dir", dir, "error", err)
				continue
			}
			r.merge(next, found, disabled)
		}
	}

	r.mu.Lock()
	prev := r.skills
	r.skills = next
	r.mu.Unlock()

	for id, skill := range next {
		if old, ok := prev[id]; ok && old.Hash != skill.Hash {
			r.logger.Info("skill updated", "id", id, "scope", skill.Scope)
		}
	}
	r.logger.Info("skill registry synced", "count", len(next))

	r.refreshWatches()
	return nil
}

// merge folds scanned skills into the target map. Within one scan pass
// the first occurrence of an id wins; across scopes the caller scans
// global before project, and project entries replace global ones.
func (r *Registry) merge(target map[string]*Skill, found []*Skill, disabled map[string]struct{}) {
	for _, skill := range found {
		if _, off := disabled[skill.ID]; off {
			r.logger.Debug("skill disabled by env", "id", skill.ID, "scope", skill.Scope)
			continue
		}
		if elig := CheckEligibility(skill, r.gating); !elig.Eligible {
			r.logger.Debug("skill ineligible", "id", skill.ID, "reason", elig.Reason)
			continue
		}
		if existing, ok := target[skill.ID]; ok {
			if existing.Scope == skill.Scope {
				continue
			}
			if skill.Scope == ScopeProject {
				r.logger.Debug("project skill overrides global", "id", skill.ID)
				target[skill.ID] = skill
			}
			continue
		}
		target[skill.ID] = skill
	}
}

// Get returns a skill by id.
func (r *Registry) Get(id string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skill, ok := r.skills[id]
	return skill, ok
}

// List returns all registered skills sorted by id.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.skills))
	for _, skill := range r.skills {
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadContent returns the markdown body of a registered skill, re-reading
// from disk so callers always see the latest content.
func (r *Registry) LoadContent(id string) (string, error) {
	skill, ok := r.Get(id)
	if !ok {
		return "", fmt.Errorf("skill not found: %s", id)
	}
	parsed, err := ParseFile(filepath.Join(skill.Path, SkillFilename))
	if err != nil {
		return "", fmt.Errorf("load skill %s: %w", id, err)
	}
	return parsed.Content, nil
}

// Watch starts a filesystem watcher that resyncs the registry when a
// skill directory changes. Safe to call once; stop with Close.
func (r *Registry) Watch(ctx context.Context) error {
	r.watchMu.Lock()
	if r.watcher != nil {
		r.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.watchMu.Unlock()
		return fmt.Errorf("create skill watcher: %w", err)
	}
	r.watcher = watcher
	r.watchPaths = make(map[string]struct{})
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	r.watchMu.Unlock()

	r.refreshWatches()

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx)
	return nil
}

// Close stops the watcher if one is running.
func (r *Registry) Close() error {
	r.watchMu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}

func (r *Registry) watchLoop(ctx context.Context) {
	defer r.watchWg.Done()
	r.watchMu.Lock()
	watcher := r.watcher
	r.watchMu.Unlock()
	if watcher == nil {
		return
	}

	const debounce = 250 * time.Millisecond
	var timerMu sync.Mutex
	var timer *time.Timer
	scheduleSync := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			if err := r.Sync(context.Background()); err != nil {
				r.logger.Warn("skill resync failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleSync()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("skill watch error", "error", err)
		}
	}
}

// refreshWatches aligns the watcher with the current skill directories.
func (r *Registry) refreshWatches() {
	r.watchMu.Lock()
	defer r.watchMu.Unlock()
	if r.watcher == nil {
		return
	}

	desired := make(map[string]struct{})
	addDir := func(dir string) {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			desired[filepath.Clean(dir)] = struct{}{}
		}
	}
	for _, dir := range GlobalDirs() {
		addDir(dir)
	}
	for _, dir := range ProjectDirs(r.projectRoot) {
		addDir(dir)
	}
	r.mu.RLock()
	for _, skill := range r.skills {
		addDir(skill.Path)
	}
	r.mu.RUnlock()

	for path := range desired {
		if _, ok := r.watchPaths[path]; ok {
			continue
		}
		if err := r.watcher.Add(path); err != nil {
			r.logger.Debug("cannot watch skill path", "path", path, "error", err)
			continue
		}
		r.watchPaths[path] = struct{}{}
	}
	for path := range r.watchPaths {
		if _, ok := desired[path]; ok {
			continue
		}
		_ = r.watcher.Remove(path)
		delete(r.watchPaths, path)
	}
}
