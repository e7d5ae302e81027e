package adapter

import (
	"context"

	"drawing-query/internal/domain/model"
)

// BatchTarget is one target of a batch with its corpus records attached.
type BatchTarget struct {
	Name  string
	Type  string
	Units []UnitRecord
}

type BatchRequest struct {
	Query      string
	BatchIndex int
	BatchTotal int
	Targets    []BatchTarget
}

// BatchOutput is what one batch call produced: the answer text plus the
// artifacts worth caching.
type BatchOutput struct {
	Text    string
	Tags    []model.TagSpec
	Targets []model.TargetArtifacts
}

// PriorQuery is a stored query offered to the similarity scorer.
type PriorQuery struct {
	FingerprintID string
	Query         string
}

// Reasoner is the boundary to the external reasoning service. Every method is
// a single fallible remote call.
type Reasoner interface {
	ProcessBatch(ctx context.Context, req BatchRequest) (BatchOutput, error)
	Synthesize(ctx context.Context, query string, artifacts model.MergedArtifacts) (string, error)
	ScoreSimilarity(ctx context.Context, query string, priors []PriorQuery) (map[string]float64, error)
	SuggestTargets(ctx context.Context, query string, candidates []string) ([]string, error)
}
