package repository

import (
	"context"
	"time"

	"drawing-query/internal/domain/model"
)

// QueryMemory is the fingerprinted store of partial results.
type QueryMemory interface {
	// FindSimilar never fails: any scoring error is a cache miss.
	FindSimilar(ctx context.Context, query string) []model.SimilarQuery
	BestMatch(ctx context.Context, query string, threshold float64) (string, bool)
	// Qualifying returns every fingerprint scoring at or above threshold, best first.
	Qualifying(ctx context.Context, query string, threshold float64) []model.SimilarQuery
	Merge(ctx context.Context, ids []string) (model.MergedArtifacts, error)

	// Begin creates a fresh artifact directory for a cache-miss run.
	Begin(ctx context.Context, query string, at time.Time) (ArtifactWriter, error)
	Add(ctx context.Context, fp model.Fingerprint) error
	Get(id string) (model.Fingerprint, bool)
}

// ArtifactWriter appends artifacts under one fingerprint directory.
type ArtifactWriter interface {
	FingerprintID() string
	WriteTags(specs []model.TagSpec) error
	WriteTarget(art model.TargetArtifacts) error
	// Discard removes the directory and everything written to it. Used when
	// the run ends without the fingerprint being indexed.
	Discard() error
}
