package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceAuto   Confidence = "auto"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence maps free text onto the known levels; unknown values are low.
func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	case ConfidenceAuto:
		return ConfidenceAuto
	default:
		return ConfidenceLow
	}
}

// TagSpec is one candidate specification for a tag. Entries for the same tag
// are never merged or overwritten.
type TagSpec struct {
	Tag        string     `json:"tag"`
	Spec       string     `json:"spec"`
	Confidence Confidence `json:"confidence"`
	SourceUnit string     `json:"source_unit"`
}

// TagSpecMap maps a tag to every candidate specification seen for it.
type TagSpecMap map[string][]TagSpec

func (m TagSpecMap) Add(specs ...TagSpec) {
	for _, s := range specs {
		if s.Tag == "" {
			continue
		}
		m[s.Tag] = append(m[s.Tag], s)
	}
}

// Merge appends other's entries, keeping duplicates.
func (m TagSpecMap) Merge(other TagSpecMap) {
	for tag, specs := range other {
		m[tag] = append(m[tag], specs...)
	}
}

func (m TagSpecMap) Len() int {
	n := 0
	for _, specs := range m {
		n += len(specs)
	}
	return n
}

// Fingerprint is the index record of one non-cached query execution.
type Fingerprint struct {
	ID        string    `json:"id"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at"`
	Targets   []string  `json:"targets"`
}

// FingerprintID derives an id from the query text and a microsecond timestamp,
// so identical repeated queries still get distinct ids.
func FingerprintID(query string, at time.Time) string {
	sum := sha256.Sum256([]byte(query + "\x00" + at.UTC().Format("20060102T150405.000000Z")))
	return hex.EncodeToString(sum[:16])
}

// UnitExtraction is the text extracted from one unit (sheet, tile, page) of a target.
type UnitExtraction struct {
	UnitID string `json:"unit_id"`
	Text   string `json:"text"`
}

// TargetArtifacts holds what one execution produced for one target.
type TargetArtifacts struct {
	Target      string           `json:"target"`
	Context     string           `json:"context"`
	Extractions []UnitExtraction `json:"extractions"`
}

// SimilarQuery is a scored prior query.
type SimilarQuery struct {
	FingerprintID string  `json:"fingerprint_id"`
	Score         float64 `json:"score"`
}

// MergedArtifacts is the union of artifacts from every qualifying cache hit.
type MergedArtifacts struct {
	FingerprintIDs []string
	Tags           TagSpecMap
	Targets        []TargetArtifacts
}

// FailureClass classifies reasoning service failures.
type FailureClass string

const (
	FailureRateLimit FailureClass = "rate_limit"
	FailureTransient FailureClass = "transient"
	FailureOther     FailureClass = "other"
	FailureFatal     FailureClass = "fatal"
)

func (c FailureClass) Retryable() bool {
	return c != FailureFatal
}
