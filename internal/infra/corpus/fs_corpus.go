// Package corpus reads previously ingested drawings from disk.
//
//	<root>/<drawing>/drawing.yaml   metadata, at least the type tag
//	<root>/<drawing>/units/*.txt    one file per unit, ordered by name
package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"drawing-query/internal/domain"
	"drawing-query/internal/domain/ports/adapter"
)

const (
	metaFile = "drawing.yaml"
	unitsDir = "units"
	unitExt  = ".txt"

	UnknownType = "unknown"
)

var _ adapter.CorpusProvider = (*FSCorpus)(nil)

// Metadata is the content of drawing.yaml.
type Metadata struct {
	Type   string   `yaml:"type"`
	Title  string   `yaml:"title,omitempty"`
	Sheets int      `yaml:"sheets,omitempty"`
	Tags   []string `yaml:"tags,omitempty"`
}

type FSCorpus struct {
	root string
}

func NewFSCorpus(root string) (*FSCorpus, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("corpus: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("corpus: %s is not a directory", root)
	}
	return &FSCorpus{root: root}, nil
}

// ListAvailable returns every drawing directory holding a metadata file.
func (c *FSCorpus) ListAvailable(ctx context.Context) (map[string]struct{}, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, fmt.Errorf("corpus: list: %w", err)
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, err := os.Stat(filepath.Join(c.root, e.Name(), metaFile)); err == nil {
			out[e.Name()] = struct{}{}
		}
	}
	return out, nil
}

func (c *FSCorpus) Classify(ctx context.Context, name string) (string, error) {
	meta, err := c.Metadata(name)
	if err != nil {
		return "", err
	}
	if t := strings.TrimSpace(meta.Type); t != "" {
		return t, nil
	}
	return UnknownType, nil
}

func (c *FSCorpus) Metadata(name string) (Metadata, error) {
	dir, err := c.dir(name)
	if err != nil {
		return Metadata{}, err
	}
	b, err := os.ReadFile(filepath.Join(dir, metaFile))
	if errors.Is(err, os.ErrNotExist) {
		return Metadata{}, fmt.Errorf("corpus: drawing %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("corpus: read %s metadata: %w", name, err)
	}
	var meta Metadata
	if err := yaml.Unmarshal(b, &meta); err != nil {
		return Metadata{}, fmt.Errorf("corpus: parse %s metadata: %w", name, err)
	}
	return meta, nil
}

// GetArtifacts returns the unit records of a drawing ordered by file name.
// A drawing without units yields an empty slice.
func (c *FSCorpus) GetArtifacts(ctx context.Context, name string) ([]adapter.UnitRecord, error) {
	dir, err := c.dir(name)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, unitsDir))
	if errors.Is(err, os.ErrNotExist) {
		return []adapter.UnitRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("corpus: list units of %s: %w", name, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), unitExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]adapter.UnitRecord, 0, len(names))
	for _, n := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := os.ReadFile(filepath.Join(dir, unitsDir, n))
		if err != nil {
			return nil, fmt.Errorf("corpus: read unit %s/%s: %w", name, n, err)
		}
		out = append(out, adapter.UnitRecord{ID: strings.TrimSuffix(n, unitExt), Text: string(b)})
	}
	return out, nil
}

// WriteDrawing creates or replaces a drawing. Used by the seed tool and tests.
func WriteDrawing(root, name string, meta Metadata, units map[string]string) error {
	if err := validName(name); err != nil {
		return err
	}
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Join(dir, unitsDir), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(meta)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), b, 0o644); err != nil {
		return err
	}
	for id, text := range units {
		if err := validName(id); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, unitsDir, id+unitExt), []byte(text), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func (c *FSCorpus) dir(name string) (string, error) {
	if err := validName(name); err != nil {
		return "", err
	}
	return filepath.Join(c.root, name), nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: drawing name %q", domain.ErrInvalidArgument, name)
	}
	return nil
}
