package reasoning

import (
	"encoding/json"
	"errors"
	"strings"

	"drawing-query/internal/domain/model"
)

// Task names carried in every request payload.
const (
	TaskProcessBatch    = "process_batch"
	TaskSynthesize      = "synthesize"
	TaskScoreSimilarity = "score_similarity"
	TaskSuggestTargets  = "suggest_targets"
)

type WireUnit struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type WireTarget struct {
	Name  string     `json:"name"`
	Type  string     `json:"type"`
	Units []WireUnit `json:"units"`
}

type WirePrior struct {
	ID    string `json:"id"`
	Query string `json:"query"`
}

// Request is the user message sent to the chat model, encoded as JSON.
type Request struct {
	Task  string `json:"task"`
	Query string `json:"query"`

	Batch   int          `json:"batch,omitempty"`
	Total   int          `json:"total,omitempty"`
	Targets []WireTarget `json:"targets,omitempty"`

	Tags      model.TagSpecMap        `json:"tags,omitempty"`
	Artifacts []model.TargetArtifacts `json:"artifacts,omitempty"`

	Priors     []WirePrior `json:"priors,omitempty"`
	Candidates []string    `json:"candidates,omitempty"`
}

type WireTag struct {
	Tag        string `json:"tag"`
	Spec       string `json:"spec"`
	Confidence string `json:"confidence"`
	SourceUnit string `json:"source_unit"`
}

type WireExtraction struct {
	UnitID string `json:"unit_id"`
	Text   string `json:"text"`
}

type WireTargetResult struct {
	Target      string           `json:"target"`
	Context     string           `json:"context"`
	Extractions []WireExtraction `json:"extractions"`
}

// Reply is the union of every task's expected JSON answer.
type Reply struct {
	Answer  string             `json:"answer"`
	Tags    []WireTag          `json:"tags"`
	Targets []WireTargetResult `json:"targets"`
	Scores  map[string]float64 `json:"scores"`
	Suggest []string           `json:"suggested"`
}

var errNoJSON = errors.New("reasoning: reply holds no JSON object")

// ParseReply decodes the first JSON object in text, tolerating code fences
// and prose around it.
func ParseReply(text string) (Reply, error) {
	var r Reply
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return r, errNoJSON
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &r); err != nil {
		return r, err
	}
	return r, nil
}

// DecodeRequest is used by offline models to read a request payload.
func DecodeRequest(text string) (Request, bool) {
	var r Request
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &r); err != nil || r.Task == "" {
		return r, false
	}
	return r, true
}
