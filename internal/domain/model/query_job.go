package model

import (
	"fmt"
	"strings"
	"time"

	"drawing-query/internal/domain"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

type MessageLevel string

const (
	MessageInfo    MessageLevel = "info"
	MessageWarning MessageLevel = "warning"
	MessageError   MessageLevel = "error"
)

// ProgressMessage is one entry of a job's append-only progress log.
type ProgressMessage struct {
	At    time.Time    `json:"at"`
	Phase Phase        `json:"phase"`
	Level MessageLevel `json:"level"`
	Text  string       `json:"text"`
}

// QueryJob is the record of one submitted query. It is owned by the job table
// and mutated only by the goroutine executing it.
type QueryJob struct {
	ID       string
	Query    string
	Targets  []string
	UseCache bool

	Status    JobStatus
	CreatedAt time.Time
	UpdatedAt time.Time

	Progress         int
	Phase            Phase
	TotalBatches     int
	CompletedBatches int
	CurrentBatch     *int

	Messages []ProgressMessage
	Result   *string
	Error    *string
}

// NewQueryJob validates a submission and builds a pending job.
// Targets are de-duplicated with their first-seen order preserved.
func NewQueryJob(id, query string, targets []string, useCache bool, batchSize int, now time.Time) (*QueryJob, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrValidation)
	}
	clean := UniqueTargets(targets)
	if len(clean) == 0 {
		return nil, fmt.Errorf("%w: targets are empty", domain.ErrValidation)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: job id is empty", domain.ErrInvalidArgument)
	}

	j := &QueryJob{
		ID:           id,
		Query:        query,
		Targets:      clean,
		UseCache:     useCache,
		Status:       JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
		Phase:        PhaseInit,
		TotalBatches: BatchCount(len(clean), batchSize),
	}
	j.AddMessage(MessageInfo, fmt.Sprintf("Query received: %d target(s) queued in %d batch(es)", len(clean), j.TotalBatches))
	return j, nil
}

// UniqueTargets drops blanks and repeated names, keeping first-seen order.
func UniqueTargets(targets []string) []string {
	seen := make(map[string]struct{}, len(targets))
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (j *QueryJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Start moves a pending job to processing.
func (j *QueryJob) Start() error {
	if j.Status != JobStatusPending {
		return fmt.Errorf("%w: cannot start job in status %s", domain.ErrInvalidArgument, j.Status)
	}
	j.Status = JobStatusProcessing
	j.touch()
	return nil
}

func (j *QueryJob) SetPhase(p Phase) {
	if j.IsTerminal() {
		return
	}
	j.Phase = p
	j.touch()
}

// SetTotalBatches is used when discovery narrows the working target set.
func (j *QueryJob) SetTotalBatches(n int) {
	if j.IsTerminal() || n <= 0 {
		return
	}
	j.TotalBatches = n
	j.recomputeProgress()
	j.touch()
}

// BeginBatch records the 1-based batch index about to run.
func (j *QueryJob) BeginBatch(index int) {
	if j.IsTerminal() {
		return
	}
	current := index
	j.CurrentBatch = &current
	j.CompletedBatches = index - 1
	j.recomputeProgress()
	j.touch()
}

// FinishBatch bumps the completed count to the batch's own index.
func (j *QueryJob) FinishBatch(index int) {
	if j.IsTerminal() {
		return
	}
	j.CompletedBatches = index
	j.recomputeProgress()
	j.touch()
}

func (j *QueryJob) AddMessage(level MessageLevel, text string) {
	if j.IsTerminal() {
		return
	}
	j.Messages = append(j.Messages, ProgressMessage{
		At:    time.Now(),
		Phase: j.Phase,
		Level: level,
		Text:  text,
	})
	j.touch()
}

// Complete is terminal: phase Complete, progress 100. CompletedBatches keeps
// the real count, so degraded batches stay visible to pollers.
func (j *QueryJob) Complete(result string) {
	if j.IsTerminal() {
		return
	}
	j.Phase = PhaseComplete
	j.CurrentBatch = nil
	j.Result = &result
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.touch()
}

// Fail is terminal and keeps the error text for callers.
func (j *QueryJob) Fail(errText string) {
	if j.IsTerminal() {
		return
	}
	j.AddMessage(MessageError, "Error: "+errText)
	j.Error = &errText
	j.CurrentBatch = nil
	j.Status = JobStatusFailed
	j.touch()
}

func (j *QueryJob) recomputeProgress() {
	p := ComputeProgress(j.CompletedBatches, j.TotalBatches, j.Phase)
	if p > 99 {
		p = 99
	}
	if p > j.Progress {
		j.Progress = p
	}
}

func (j *QueryJob) touch() { j.UpdatedAt = time.Now() }

// JobSnapshot is a detached copy of a job handed to pollers.
type JobSnapshot struct {
	ID                string            `json:"id"`
	Query             string            `json:"query"`
	Targets           []string          `json:"targets"`
	UseCache          bool              `json:"use_cache"`
	Status            JobStatus         `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	Progress          int               `json:"progress"`
	Phase             Phase             `json:"phase"`
	TotalBatches      int               `json:"total_batches"`
	CompletedBatches  int               `json:"completed_batches"`
	CurrentBatch      *int              `json:"current_batch"`
	Messages          []ProgressMessage `json:"messages"`
	MessagesTruncated bool              `json:"messages_truncated"`
	MessageCount      int               `json:"message_count"`
	Result            *string           `json:"result"`
	Error             *string           `json:"error"`
}

// Snapshot copies the job, keeping only the last tail messages.
func (j *QueryJob) Snapshot(tail int) JobSnapshot {
	msgs := j.Messages
	truncated := false
	if tail > 0 && len(msgs) > tail {
		msgs = msgs[len(msgs)-tail:]
		truncated = true
	}
	s := JobSnapshot{
		ID:                j.ID,
		Query:             j.Query,
		Targets:           append([]string(nil), j.Targets...),
		UseCache:          j.UseCache,
		Status:            j.Status,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
		Progress:          j.Progress,
		Phase:             j.Phase,
		TotalBatches:      j.TotalBatches,
		CompletedBatches:  j.CompletedBatches,
		Messages:          append([]ProgressMessage(nil), msgs...),
		MessagesTruncated: truncated,
		MessageCount:      len(j.Messages),
	}
	if j.CurrentBatch != nil {
		v := *j.CurrentBatch
		s.CurrentBatch = &v
	}
	if j.Result != nil {
		v := *j.Result
		s.Result = &v
	}
	if j.Error != nil {
		v := *j.Error
		s.Error = &v
	}
	return s
}

// JobSummary is the list view of a job.
type JobSummary struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Query       string    `json:"query"`
	TargetCount int       `json:"target_count"`
}

func (j *QueryJob) Summary() JobSummary {
	return JobSummary{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		Query:       j.Query,
		TargetCount: len(j.Targets),
	}
}
