package model

// DefaultBatchSize is the number of targets processed as one retryable unit.
const DefaultBatchSize = 3

// Batch is a contiguous slice of a job's target set. It is derived, never stored.
type Batch struct {
	Index   int // 1-based
	Total   int
	Targets []string
}

func BatchCount(n, size int) int {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if n <= 0 {
		return 0
	}
	return (n + size - 1) / size
}

// SplitBatches partitions targets in order; all batches but the last hold exactly size targets.
func SplitBatches(targets []string, size int) []Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	total := BatchCount(len(targets), size)
	out := make([]Batch, 0, total)
	for i := 0; i < total; i++ {
		start := i * size
		end := start + size
		if end > len(targets) {
			end = len(targets)
		}
		out = append(out, Batch{
			Index:   i + 1,
			Total:   total,
			Targets: append([]string(nil), targets[start:end]...),
		})
	}
	return out
}
