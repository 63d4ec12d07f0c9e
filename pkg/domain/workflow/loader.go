package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ddeutils/ddeutil-workflow-sub000/pkg/domain/errors"
)

// Loader resolves workflow names to validated Workflow values from a set of
// search paths. Loaded specs are cached until Invalidate (or the reload
// watcher) clears them.
type Loader struct {
	paths  []string
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Workflow
}

// NewLoader creates a loader over the given search paths (files or
// directories).
func NewLoader(paths []string, logger zerolog.Logger) *Loader {
	return &Loader{
		paths:  paths,
		logger: logger.With().Str("component", "loader").Logger(),
		cache:  make(map[string]*Workflow),
	}
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string { return l.paths }

// Load returns the workflow with the given name, searching the cache first
// and then every YAML document under the search paths.
func (l *Loader) Load(name string) (*Workflow, error) {
	l.mu.RLock()
	if wf, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		return wf, nil
	}
	l.mu.RUnlock()

	for _, root := range l.paths {
		wf, err := l.search(root, name)
		if err != nil {
			return nil, err
		}
		if wf != nil {
			l.mu.Lock()
			l.cache[name] = wf
			l.mu.Unlock()
			return wf, nil
		}
	}
	return nil, errors.Newf(errors.KindWorkflow, errors.CodeNotFound,
		"workflow %q not found under %v", name, l.paths)
}

// Put registers a programmatically built workflow, validating it first.
// Tests and embedding callers use this instead of the filesystem.
func (l *Loader) Put(wf *Workflow) error {
	if err := wf.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	l.cache[wf.Name] = wf
	l.mu.Unlock()
	return nil
}

// Invalidate drops the loader cache; the next Load re-reads from disk.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.cache = make(map[string]*Workflow)
	l.mu.Unlock()
	l.logger.Debug().Msg("loader cache invalidated")
}

func (l *Loader) search(root, name string) (*Workflow, error) {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}

	var found *Workflow
	visit := func(path string) error {
		wfs, err := LoadFile(path)
		if err != nil {
			return err
		}
		if wf, ok := wfs[name]; ok {
			found = wf
		}
		return nil
	}

	if !info.IsDir() {
		if err := visit(root); err != nil {
			return nil, err
		}
		return found, nil
	}
	err = filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		switch filepath.Ext(path) {
		case ".yml", ".yaml":
			if found == nil {
				return visit(path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// LoadFile parses every `type: Workflow` document in one YAML file and
// validates each before returning it.
func LoadFile(path string) (map[string]*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes workflow documents from raw YAML. The top level is a mapping
// from workflow name to body; only entries with `type: Workflow` are taken.
func Parse(data []byte) (map[string]*Workflow, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.New(errors.KindWorkflow, errors.CodeValidationFailed,
			"invalid workflow YAML", err)
	}

	out := make(map[string]*Workflow)
	for name, node := range doc {
		var probe struct {
			Type string `yaml:"type"`
		}
		if err := node.Decode(&probe); err != nil || probe.Type != TypeName {
			continue
		}
		wf := &Workflow{}
		if err := node.Decode(wf); err != nil {
			return nil, errors.New(errors.KindWorkflow, errors.CodeValidationFailed,
				fmt.Sprintf("workflow %q: decode failed", name), err)
		}
		wf.Name = name
		for id, job := range wf.Jobs {
			if job.ID == "" {
				job.ID = id
			}
		}
		if err := wf.Validate(); err != nil {
			return nil, err
		}
		out[name] = wf
	}
	return out, nil
}
