package adapter

import "context"

// UnitRecord is one opaque per-unit record of a drawing (sheet, tile, page).
type UnitRecord struct {
	ID   string
	Text string
}

// CorpusProvider is the port to the previously-ingested drawing corpus.
type CorpusProvider interface {
	ListAvailable(ctx context.Context) (map[string]struct{}, error)
	Classify(ctx context.Context, name string) (string, error)
	GetArtifacts(ctx context.Context, name string) ([]UnitRecord, error)
}
