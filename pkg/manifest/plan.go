// Package manifest loads ingest plans: YAML files describing which local
// documents go into which session and how they should be chunked. Plans make
// a batch ingest reproducible and agent-friendly.
package manifest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Default chunking options applied when the plan leaves them unset.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 80
)

// Plan describes one batch ingest.
type Plan struct {
	Session SessionRef `yaml:"session"`
	Sources Sources    `yaml:"sources"`
	Ingest  Options    `yaml:"ingest"`
}

// SessionRef names the target session.
type SessionRef struct {
	ID string `yaml:"id"`
}

// Sources selects local files with doublestar glob patterns, evaluated
// relative to Root.
type Sources struct {
	Root     string   `yaml:"root"`
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// Options tune server-side chunking.
type Options struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// Load reads, validates, and applies defaults to a plan file.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("plan file not found: %s", path)
		}
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parse plan file %s: %w", path, err)
	}

	plan.applyDefaults(filepath.Dir(path))
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return &plan, nil
}

// applyDefaults fills optional fields. A relative or empty sources root is
// resolved against the plan file's directory.
func (p *Plan) applyDefaults(planDir string) {
	if p.Sources.Root == "" {
		p.Sources.Root = planDir
	} else if !filepath.IsAbs(p.Sources.Root) {
		p.Sources.Root = filepath.Join(planDir, p.Sources.Root)
	}
	if p.Ingest.ChunkSize <= 0 {
		p.Ingest.ChunkSize = DefaultChunkSize
	}
	if p.Ingest.ChunkOverlap < 0 {
		p.Ingest.ChunkOverlap = DefaultChunkOverlap
	}
}

// Validate checks plan invariants.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.Session.ID) == "" {
		return fmt.Errorf("session.id is required")
	}
	if len(p.Sources.Includes) == 0 {
		return fmt.Errorf("sources.includes must list at least one pattern")
	}
	for _, pat := range append(append([]string{}, p.Sources.Includes...), p.Sources.Excludes...) {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("invalid glob pattern: %s", pat)
		}
	}
	if p.Ingest.ChunkOverlap >= p.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap (%d) must be smaller than ingest.chunk_size (%d)",
			p.Ingest.ChunkOverlap, p.Ingest.ChunkSize)
	}
	return nil
}

// Expand walks the sources root and returns the absolute paths of files
// matched by the include patterns and not excluded. Results are sorted for
// deterministic upload order.
func (p *Plan) Expand() ([]string, error) {
	info, err := os.Stat(p.Sources.Root)
	if err != nil {
		return nil, fmt.Errorf("sources root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sources root is not a directory: %s", p.Sources.Root)
	}

	var matched []string
	err = filepath.WalkDir(p.Sources.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(p.Sources.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if !matchAny(p.Sources.Includes, rel) || matchAny(p.Sources.Excludes, rel) {
			return nil
		}
		matched = append(matched, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expand sources: %w", err)
	}

	sort.Strings(matched)
	return matched, nil
}

func matchAny(patterns []string, rel string) bool {
	for _, pat := range patterns {
		ok, err := doublestar.Match(pat, rel)
		if err == nil && ok {
			return true
		}
	}
	return false
}
