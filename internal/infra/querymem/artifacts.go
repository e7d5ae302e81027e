package querymem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"drawing-query/internal/domain/model"
	"drawing-query/internal/domain/ports/repository"
)

const (
	tagsFile     = "tags.json"
	manifestFile = "targets.json"
	contextFile  = "context.txt"
	targetsDir   = "targets"
	unitsDir     = "units"
)

type manifestUnit struct {
	UnitID string `json:"unit_id"`
	File   string `json:"file"`
}

type manifestEntry struct {
	Target string         `json:"target"`
	Dir    string         `json:"dir"`
	Units  []manifestUnit `json:"units"`
}

var _ repository.ArtifactWriter = (*artifactDir)(nil)

// artifactDir writes the artifacts of one cache-miss run. Files are only
// ever added to; existing entries are kept.
type artifactDir struct {
	id   string
	path string

	mu       sync.Mutex
	tags     model.TagSpecMap
	manifest []manifestEntry
}

// Begin creates the directory for a new fingerprint derived from query and at.
func (s *Store) Begin(ctx context.Context, query string, at time.Time) (repository.ArtifactWriter, error) {
	id := model.FingerprintID(query, at)
	if _, ok := s.Get(id); ok {
		return nil, fmt.Errorf("querymem: fingerprint %s already exists", id)
	}
	path := filepath.Join(s.root, id)
	if err := os.Mkdir(path, 0o755); err != nil {
		return nil, fmt.Errorf("querymem: create fingerprint dir: %w", err)
	}
	return &artifactDir{id: id, path: path, tags: model.TagSpecMap{}}, nil
}

func (a *artifactDir) FingerprintID() string { return a.id }

func (a *artifactDir) Discard() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.RemoveAll(a.path); err != nil {
		return fmt.Errorf("querymem: discard %s: %w", a.id, err)
	}
	a.tags = model.TagSpecMap{}
	a.manifest = nil
	return nil
}

func (a *artifactDir) WriteTags(specs []model.TagSpec) error {
	if len(specs) == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tags.Add(specs...)
	b, err := json.MarshalIndent(a.tags, "", "  ")
	if err != nil {
		return fmt.Errorf("querymem: encode tags: %w", err)
	}
	return writeFileAtomic(filepath.Join(a.path, tagsFile), b)
}

func (a *artifactDir) WriteTarget(art model.TargetArtifacts) error {
	if art.Target == "" {
		return errors.New("querymem: target name is empty")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	dir := safeName(art.Target)
	for _, e := range a.manifest {
		if e.Dir == dir {
			dir = fmt.Sprintf("%s-%d", dir, len(a.manifest))
			break
		}
	}
	targetPath := filepath.Join(a.path, targetsDir, dir)
	if err := os.MkdirAll(filepath.Join(targetPath, unitsDir), 0o755); err != nil {
		return fmt.Errorf("querymem: create target dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(targetPath, contextFile), []byte(art.Context), 0o644); err != nil {
		return fmt.Errorf("querymem: write context for %s: %w", art.Target, err)
	}

	entry := manifestEntry{Target: art.Target, Dir: dir}
	for i, ex := range art.Extractions {
		name := fmt.Sprintf("%03d-%s.txt", i+1, safeName(ex.UnitID))
		if err := os.WriteFile(filepath.Join(targetPath, unitsDir, name), []byte(ex.Text), 0o644); err != nil {
			return fmt.Errorf("querymem: write unit %s: %w", ex.UnitID, err)
		}
		entry.Units = append(entry.Units, manifestUnit{UnitID: ex.UnitID, File: name})
	}
	a.manifest = append(a.manifest, entry)

	b, err := json.MarshalIndent(a.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("querymem: encode manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(a.path, manifestFile), b)
}

// Merge unions the artifacts of every given fingerprint in order. Tag
// specifications are concatenated, never de-duplicated.
func (s *Store) Merge(ctx context.Context, ids []string) (model.MergedArtifacts, error) {
	out := model.MergedArtifacts{Tags: model.TagSpecMap{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if _, ok := s.Get(id); !ok {
			return out, fmt.Errorf("querymem: unknown fingerprint %s", id)
		}
		dir := filepath.Join(s.root, id)

		tags, err := readTags(dir)
		if err != nil {
			return out, err
		}
		out.Tags.Merge(tags)

		targets, err := readTargets(dir)
		if err != nil {
			return out, err
		}
		out.Targets = append(out.Targets, targets...)
		out.FingerprintIDs = append(out.FingerprintIDs, id)
	}
	return out, nil
}

func readTags(dir string) (model.TagSpecMap, error) {
	b, err := os.ReadFile(filepath.Join(dir, tagsFile))
	if errors.Is(err, os.ErrNotExist) {
		return model.TagSpecMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querymem: read tags: %w", err)
	}
	tags := model.TagSpecMap{}
	if err := json.Unmarshal(b, &tags); err != nil {
		return nil, fmt.Errorf("querymem: parse tags in %s: %w", filepath.Base(dir), err)
	}
	return tags, nil
}

func readTargets(dir string) ([]model.TargetArtifacts, error) {
	b, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querymem: read manifest: %w", err)
	}
	var manifest []manifestEntry
	if err := json.Unmarshal(b, &manifest); err != nil {
		return nil, fmt.Errorf("querymem: parse manifest in %s: %w", filepath.Base(dir), err)
	}

	out := make([]model.TargetArtifacts, 0, len(manifest))
	for _, e := range manifest {
		targetPath := filepath.Join(dir, targetsDir, e.Dir)
		ctxText, err := os.ReadFile(filepath.Join(targetPath, contextFile))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("querymem: read context for %s: %w", e.Target, err)
		}
		art := model.TargetArtifacts{Target: e.Target, Context: string(ctxText)}
		for _, u := range e.Units {
			text, err := os.ReadFile(filepath.Join(targetPath, unitsDir, u.File))
			if err != nil {
				return nil, fmt.Errorf("querymem: read unit %s of %s: %w", u.UnitID, e.Target, err)
			}
			art.Extractions = append(art.Extractions, model.UnitExtraction{UnitID: u.UnitID, Text: string(text)})
		}
		out = append(out, art)
	}
	return out, nil
}

func safeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	if name == "" {
		return "_"
	}
	return name
}
