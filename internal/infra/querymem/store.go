// Package querymem stores partial results of past queries under content
// fingerprints and finds prior queries similar to a new one.
//
// Layout under the root directory:
//
//	query_index.json                  every fingerprint, rewritten in full on Add
//	<fingerprint>/tags.json           tag -> candidate specifications
//	<fingerprint>/targets.json        manifest of targets and their unit files
//	<fingerprint>/targets/<t>/context.txt
//	<fingerprint>/targets/<t>/units/<n>-<unit>.txt
package querymem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"drawing-query/internal/domain/model"
	"drawing-query/internal/domain/ports/adapter"
	"drawing-query/internal/domain/ports/repository"
	"drawing-query/internal/infra/metrics"
)

const (
	indexFile   = "query_index.json"
	indexLockID = "querymem:index"
	lockTTL     = 30 * time.Second
)

var _ repository.QueryMemory = (*Store)(nil)

// Scorer rates stored queries against a new one, 0..1 per fingerprint id.
type Scorer interface {
	ScoreSimilarity(ctx context.Context, query string, priors []adapter.PriorQuery) (map[string]float64, error)
}

// IndexLocker guards the index rewrite across processes sharing the directory.
type IndexLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, err error)
	Unlock(ctx context.Context, key, token string) error
}

type Store struct {
	root   string
	scorer Scorer
	locker IndexLocker
	log    *zerolog.Logger

	mu    sync.RWMutex
	index map[string]model.Fingerprint
}

// Open loads the whole index into memory. locker may be nil.
func Open(root string, scorer Scorer, locker IndexLocker, logger *zerolog.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("querymem: empty root directory")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("querymem: create root: %w", err)
	}
	l := logger.With().Str("component", "QueryMemory").Logger()
	s := &Store{root: root, scorer: scorer, locker: locker, log: &l}

	idx, err := s.readIndex()
	if err != nil {
		return nil, err
	}
	s.index = idx
	s.log.Info().Int("fingerprints", len(idx)).Str("root", root).Msg("query memory loaded")
	return s, nil
}

func (s *Store) Get(id string) (model.Fingerprint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.index[id]
	return fp, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// FindSimilar scores every stored query. Scoring errors are swallowed and
// reported as a miss.
func (s *Store) FindSimilar(ctx context.Context, query string) []model.SimilarQuery {
	s.mu.RLock()
	priors := make([]adapter.PriorQuery, 0, len(s.index))
	for id, fp := range s.index {
		priors = append(priors, adapter.PriorQuery{FingerprintID: id, Query: fp.Query})
	}
	s.mu.RUnlock()

	if len(priors) == 0 || s.scorer == nil {
		return nil
	}
	sort.Slice(priors, func(i, j int) bool { return priors[i].FingerprintID < priors[j].FingerprintID })

	scores, err := s.scorer.ScoreSimilarity(ctx, query, priors)
	if err != nil {
		metrics.IncCacheRequest("query_memory", "error")
		s.log.Warn().Err(err).Msg("similarity scoring failed; treating as cache miss")
		return nil
	}

	out := make([]model.SimilarQuery, 0, len(scores))
	for id, score := range scores {
		if _, ok := s.Get(id); !ok {
			continue
		}
		out = append(out, model.SimilarQuery{FingerprintID: id, Score: clamp01(score)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].FingerprintID < out[j].FingerprintID
		}
		return out[i].Score > out[j].Score
	})
	return out
}

func (s *Store) BestMatch(ctx context.Context, query string, threshold float64) (string, bool) {
	matches := s.FindSimilar(ctx, query)
	if len(matches) == 0 || matches[0].Score < threshold {
		return "", false
	}
	return matches[0].FingerprintID, true
}

func (s *Store) Qualifying(ctx context.Context, query string, threshold float64) []model.SimilarQuery {
	var out []model.SimilarQuery
	for _, m := range s.FindSimilar(ctx, query) {
		if m.Score >= threshold {
			out = append(out, m)
		}
	}
	return out
}

// Add appends fp to the index and rewrites the index file in full.
func (s *Store) Add(ctx context.Context, fp model.Fingerprint) error {
	if fp.ID == "" {
		return errors.New("querymem: fingerprint id is empty")
	}
	if s.locker != nil {
		token, err := s.locker.TryLock(ctx, indexLockID, lockTTL)
		if err != nil {
			return fmt.Errorf("querymem: lock index: %w", err)
		}
		defer func() {
			if err := s.locker.Unlock(context.Background(), indexLockID, token); err != nil {
				s.log.Warn().Err(err).Msg("unlock index failed")
			}
		}()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[fp.ID]; ok {
		return fmt.Errorf("querymem: fingerprint %s already indexed", fp.ID)
	}
	// Pick up entries written by other processes since startup.
	if onDisk, err := s.readIndex(); err == nil {
		for id, other := range onDisk {
			if _, ok := s.index[id]; !ok {
				s.index[id] = other
			}
		}
	}
	s.index[fp.ID] = fp
	if err := s.writeIndex(s.index); err != nil {
		delete(s.index, fp.ID)
		return err
	}
	s.log.Debug().Str("fingerprint", fp.ID).Int("targets", len(fp.Targets)).Msg("fingerprint indexed")
	return nil
}

func (s *Store) readIndex() (map[string]model.Fingerprint, error) {
	b, err := os.ReadFile(filepath.Join(s.root, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]model.Fingerprint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querymem: read index: %w", err)
	}
	idx := map[string]model.Fingerprint{}
	if len(b) == 0 {
		return idx, nil
	}
	if err := json.Unmarshal(b, &idx); err != nil {
		return nil, fmt.Errorf("querymem: parse index: %w", err)
	}
	return idx, nil
}

func (s *Store) writeIndex(idx map[string]model.Fingerprint) error {
	b, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("querymem: encode index: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.root, indexFile), b)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("querymem: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("querymem: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
