// Package loader reads experiment documents from disk, merges them over a
// shared default document, and caches the validated result.
package loader

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xtding233/experiment-engine/internal/experiment"
)

var (
	ErrNotFound    = errors.New("experiment not found")
	ErrInvalidName = errors.New("invalid experiment name")
)

const defaultName = "default"

// extensions are tried in order when locating a document.
var extensions = []string{".yaml", ".yml", ".json"}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Paths helper for default/experiment files.
type Paths struct {
	BaseDir string // e.g. /opt/app/config
}

func (p Paths) Dir() string { return filepath.Join(p.BaseDir, "experiments") }

func (p Paths) DefaultPath() string { return filepath.Join(p.Dir(), defaultName+".yaml") }

// ExperimentPath returns the first existing document for name, or the
// .yaml candidate when none exists.
func (p Paths) ExperimentPath(name string) string {
	for _, ext := range extensions {
		path := filepath.Join(p.Dir(), name+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return filepath.Join(p.Dir(), name+extensions[0])
}

// Loader reads experiment documents and merges default → experiment.
type Loader struct {
	paths Paths
	log   *zap.Logger

	mu    sync.RWMutex
	cache map[string]experiment.Config
}

type Option func(*Loader)

func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// NewLoader creates a loader rooted at baseDir.
func NewLoader(baseDir string, opts ...Option) *Loader {
	l := &Loader{
		paths: Paths{BaseDir: baseDir},
		log:   zap.NewNop(),
		cache: make(map[string]experiment.Config),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loader) Paths() Paths { return l.paths }

// Load returns the merged, normalized and validated experiment name.
// Unknown references are logged, not rejected.
func (l *Loader) Load(name string) (experiment.Config, error) {
	if !namePattern.MatchString(name) || name == defaultName {
		return experiment.Config{}, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	l.mu.RLock()
	if cfg, ok := l.cache[name]; ok {
		l.mu.RUnlock()
		l.log.Debug("experiment cache hit", zap.String("experiment", name))
		return cfg, nil
	}
	l.mu.RUnlock()

	defCfg, _, err := readDocument(l.paths.DefaultPath())
	if err != nil {
		return experiment.Config{}, fmt.Errorf("read default: %w", err)
	}
	path := l.paths.ExperimentPath(name)
	expCfg, found, err := readDocument(path)
	if err != nil {
		return experiment.Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !found {
		return experiment.Config{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	merged := Merge(defCfg, expCfg)
	experiment.NormalizeConfig(&merged)
	if err := experiment.Validate(merged); err != nil {
		return experiment.Config{}, fmt.Errorf("experiment %q: %w", name, err)
	}
	for _, ref := range experiment.UnknownReferences(merged) {
		l.log.Warn("unknown reference", zap.String("experiment", name), zap.Stringer("ref", ref))
	}

	l.mu.Lock()
	l.cache[name] = merged
	l.mu.Unlock()
	l.log.Info("experiment loaded", zap.String("experiment", name), zap.String("path", path))
	return merged, nil
}

// Names lists the experiments available under the base directory.
func (l *Loader) Names() ([]string, error) {
	entries, err := os.ReadDir(l.paths.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	seen := make(map[string]bool)
	for _, ent := range entries {
		name, ok := documentName(ent.Name())
		if ent.IsDir() || !ok || name == defaultName {
			continue
		}
		seen[name] = true
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// Invalidate clears the loader's cache. Call after hot-reload detects changes.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]experiment.Config)
}

// Decode checks the document shape and parses a YAML or JSON experiment
// document.
func Decode(b []byte) (experiment.Config, error) {
	if err := CheckSchema(b); err != nil {
		return experiment.Config{}, err
	}
	var cfg experiment.Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return experiment.Config{}, err
	}
	return cfg, nil
}

// readDocument loads a document. Missing files return a zero config and
// found == false, no error.
func readDocument(path string) (experiment.Config, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return experiment.Config{}, false, nil
		}
		return experiment.Config{}, false, err
	}
	cfg, err := Decode(b)
	if err != nil {
		return experiment.Config{}, true, err
	}
	return cfg, true, nil
}

// documentName strips a known extension from a file name.
func documentName(file string) (string, bool) {
	ext := filepath.Ext(file)
	if !slices.Contains(extensions, ext) {
		return "", false
	}
	return strings.TrimSuffix(file, ext), true
}

// Merge overlays exp on def: params are replaced by ID, non-empty templates
// win, and exp's blocks replace def's when present.
func Merge(def, exp experiment.Config) experiment.Config {
	out := experiment.Config{Templates: def.Templates, Blocks: def.Blocks}

	if len(def.Params)+len(exp.Params) > 0 {
		out.Params = make(experiment.Params, len(def.Params)+len(exp.Params))
		maps.Copy(out.Params, def.Params)
		maps.Copy(out.Params, exp.Params)
	}
	if exp.IntroTemplate != "" {
		out.IntroTemplate = exp.IntroTemplate
	}
	if exp.DecisionTemplate != "" {
		out.DecisionTemplate = exp.DecisionTemplate
	}
	if exp.ResultTemplate != "" {
		out.ResultTemplate = exp.ResultTemplate
	}
	if len(exp.Blocks) > 0 {
		out.Blocks = exp.Blocks
	}
	return out
}

// ReadFile decodes, normalizes and validates a single document without
// merging it over a default.
func ReadFile(path string) (experiment.Config, error) {
	cfg, found, err := readDocument(path)
	if err != nil {
		return experiment.Config{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !found {
		return experiment.Config{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	experiment.NormalizeConfig(&cfg)
	if err := experiment.Validate(cfg); err != nil {
		return experiment.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
