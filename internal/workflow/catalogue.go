package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/thin-edge/tedge-core/internal/domain"
)

// Catalogue holds the set of known workflow definitions, reference-counted
// by content hash so an in-flight command keeps using the version it
// started with even after the file changes or is removed (spec §4.F, §9
// "intern workflow definitions by content hash in a reference-counted
// catalogue").
type Catalogue struct {
	dir    string
	bakDir string
	log    zerolog.Logger

	mu       sync.RWMutex
	latest   map[string]*domain.WorkflowDefinition          // operation -> current version
	versions map[string]map[string]*refCountedDefinition     // operation -> version -> definition

	watcher *fsnotify.Watcher

	onChange func(operation string) // notified after latest[operation] changes, nil-safe
}

type refCountedDefinition struct {
	def   domain.WorkflowDefinition
	count int
}

// NewCatalogue seeds the catalogue from built-in definitions, then overlays
// anything already on disk under dir. It then rehydrates any version
// backups left by a previous process so a command resumed after a crash
// can still Pin the exact version it started with, even if that version's
// .toml file was since edited or removed (spec §4.F).
func NewCatalogue(dir string, log zerolog.Logger) (*Catalogue, error) {
	c := &Catalogue{
		dir:      dir,
		bakDir:   filepath.Join(dir, ".versions"),
		log:      log.With().Str("component", "workflow-catalogue").Logger(),
		latest:   make(map[string]*domain.WorkflowDefinition),
		versions: make(map[string]map[string]*refCountedDefinition),
	}
	if err := materializeBuiltins(dir); err != nil {
		return nil, fmt.Errorf("materialize built-in workflows: %w", err)
	}
	if err := c.loadAll(); err != nil {
		return nil, err
	}
	c.rehydrateVersions()
	return c, nil
}

// SetOnChange registers a callback invoked whenever a workflow's latest
// version changes (used by the engine to re-advertise capabilities).
func (c *Catalogue) SetOnChange(fn func(operation string)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Catalogue) loadAll() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		def, err := loadDefinitionFile(path)
		if err != nil {
			c.log.Error().Err(err).Str("file", path).Msg("skipping malformed workflow file")
			continue
		}
		c.install(def)
	}
	return nil
}

// install registers def as the latest version for its operation, retaining
// (not discarding) the previous version if it still has live references.
func (c *Catalogue) install(def domain.WorkflowDefinition) {
	c.mu.Lock()
	if c.versions[def.Operation] == nil {
		c.versions[def.Operation] = make(map[string]*refCountedDefinition)
	}
	_, known := c.versions[def.Operation][def.Version]
	if !known {
		c.versions[def.Operation][def.Version] = &refCountedDefinition{def: def}
	}
	d := def
	c.latest[def.Operation] = &d
	cb := c.onChange
	c.mu.Unlock()

	if !known {
		c.backupVersion(def)
	}
	if cb != nil {
		cb(def.Operation)
	}
}

// Remove retracts the on-disk override for operation, falling back to the
// built-in definition if one exists (spec §4.F "restored automatically if
// the file is removed").
func (c *Catalogue) Remove(operation string) {
	builtin, ok := builtinDefinitions[operation]
	c.mu.Lock()
	newlyKnown := false
	if ok {
		d := builtin
		c.latest[operation] = &d
		if c.versions[operation] == nil {
			c.versions[operation] = make(map[string]*refCountedDefinition)
		}
		if _, exists := c.versions[operation][builtin.Version]; !exists {
			c.versions[operation][builtin.Version] = &refCountedDefinition{def: builtin}
			newlyKnown = true
		}
	} else {
		delete(c.latest, operation)
	}
	cb := c.onChange
	c.mu.Unlock()
	if ok && newlyKnown {
		c.backupVersion(builtin)
	}
	if cb != nil {
		cb(operation)
	}
}

// backupVersion archives def's raw content under bakDir, keyed by operation
// and content hash, so a later process can rehydrate it even after the
// .toml file it came from has been edited or deleted (spec §4.F, §9
// "re-hydrating from an on-disk .bak snapshot").
func (c *Catalogue) backupVersion(def domain.WorkflowDefinition) {
	raw, err := c.rawContentOf(def)
	if err != nil {
		c.log.Error().Err(err).Str("operation", def.Operation).Str("version", def.Version).
			Msg("could not archive workflow version, resumed commands may lose pin on restart")
		return
	}
	path := c.versionBackupPath(def.Operation, def.Version)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("could not create workflow version backup directory")
		return
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		c.log.Error().Err(err).Str("path", path).Msg("could not write workflow version backup")
	}
}

// rawContentOf recovers the exact bytes def was parsed from: the embedded
// asset for a built-in, otherwise the on-disk file at def.Source.
func (c *Catalogue) rawContentOf(def domain.WorkflowDefinition) ([]byte, error) {
	if strings.HasPrefix(def.Source, "embedded:") {
		raw, ok := builtinRawContent[def.Operation]
		if !ok {
			return nil, fmt.Errorf("no embedded content recorded for %s", def.Operation)
		}
		return raw, nil
	}
	return os.ReadFile(def.Source)
}

func (c *Catalogue) versionBackupPath(operation, version string) string {
	return filepath.Join(c.bakDir, operation, version+".toml.bak")
}

// rehydrateVersions loads every archived version not already known into
// c.versions (without touching latest), so Pin can still resolve a command's
// recorded @version after a crash even if no live .toml file holds it
// anymore.
func (c *Catalogue) rehydrateVersions() {
	opEntries, err := os.ReadDir(c.bakDir)
	if err != nil {
		return
	}
	for _, opEntry := range opEntries {
		if !opEntry.IsDir() {
			continue
		}
		operation := opEntry.Name()
		opDir := filepath.Join(c.bakDir, operation)
		versionFiles, err := os.ReadDir(opDir)
		if err != nil {
			continue
		}
		for _, vf := range versionFiles {
			if vf.IsDir() || !strings.HasSuffix(vf.Name(), ".toml.bak") {
				continue
			}
			version := strings.TrimSuffix(vf.Name(), ".toml.bak")
			c.mu.RLock()
			_, known := c.versions[operation][version]
			c.mu.RUnlock()
			if known {
				continue
			}
			path := filepath.Join(opDir, vf.Name())
			raw, err := os.ReadFile(path)
			if err != nil {
				c.log.Error().Err(err).Str("file", path).Msg("skipping unreadable workflow version backup")
				continue
			}
			def, err := parseDefinition(raw, path)
			if err != nil {
				c.log.Error().Err(err).Str("file", path).Msg("skipping malformed workflow version backup")
				continue
			}
			c.mu.Lock()
			if c.versions[operation] == nil {
				c.versions[operation] = make(map[string]*refCountedDefinition)
			}
			if _, known := c.versions[operation][version]; !known {
				c.versions[operation][version] = &refCountedDefinition{def: def}
			}
			c.mu.Unlock()
		}
	}
}

// Latest returns the current definition for operation, if any.
func (c *Catalogue) Latest(operation string) (domain.WorkflowDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.latest[operation]
	if !ok {
		return domain.WorkflowDefinition{}, false
	}
	return *d, true
}

// Operations lists every operation with a live definition, used to
// advertise/retract capability meta messages.
func (c *Catalogue) Operations() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.latest))
	for op := range c.latest {
		out = append(out, op)
	}
	return out
}

// Pin increments the reference count for (operation, version) so a command
// holding this version keeps it alive even if the catalogue moves on.
func (c *Catalogue) Pin(operation, version string) (domain.WorkflowDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc, ok := c.versions[operation][version]
	if !ok {
		return domain.WorkflowDefinition{}, domain.NewWorkflowError(domain.WorkflowKindBadDefinition, operation, "",
			fmt.Errorf("unknown workflow version %s", version))
	}
	rc.count++
	return rc.def, nil
}

// Unpin decrements the reference count, dropping the version entirely once
// it is both unreferenced and no longer the latest.
func (c *Catalogue) Unpin(operation, version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rc, ok := c.versions[operation][version]
	if !ok {
		return
	}
	rc.count--
	if rc.count <= 0 && (c.latest[operation] == nil || c.latest[operation].Version != version) {
		delete(c.versions[operation], version)
	}
}

// Watch starts an fsnotify watch on the catalogue directory, rebuilding
// affected entries as files are written or removed, until ctx is
// cancelled. This is the actor-facing entry point (component F "hot
// reload").
func (c *Catalogue) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(c.dir); err != nil {
		return fmt.Errorf("watch %s: %w", c.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			c.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.log.Warn().Err(err).Msg("workflow directory watch error")
		}
	}
}

func (c *Catalogue) handleEvent(ev fsnotify.Event) {
	if !strings.HasSuffix(ev.Name, ".toml") {
		return
	}
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		base := strings.TrimSuffix(filepath.Base(ev.Name), ".toml")
		c.Remove(base)
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
		def, err := loadDefinitionFile(ev.Name)
		if err != nil {
			c.log.Error().Err(err).Str("file", ev.Name).Msg("reload failed, keeping previous version")
			return
		}
		c.install(def)
	}
}
