package model

import "math"

// Phase is a coarse stage label used to weight displayed progress.
type Phase string

const (
	PhaseInit        Phase = "init"
	PhaseDiscovery   Phase = "discovery"
	PhaseAnalysis    Phase = "analysis"
	PhaseCorrelation Phase = "correlation"
	PhaseSynthesis   Phase = "synthesis"
	PhaseComplete    Phase = "complete"
)

var phaseWeights = map[Phase]float64{
	PhaseInit:        0.05,
	PhaseDiscovery:   0.25,
	PhaseAnalysis:    0.55,
	PhaseCorrelation: 0.75,
	PhaseSynthesis:   0.9,
	PhaseComplete:    1.0,
}

func PhaseWeight(p Phase) float64 {
	return phaseWeights[p]
}

// ComputeProgress blends batch completion (80%) with the phase weight (20%).
// Once a batch has completed the result is never below 1.
func ComputeProgress(completed, total int, phase Phase) int {
	ratio := 0.0
	if total > 0 {
		ratio = float64(completed) / float64(total)
	}
	if ratio > 1 {
		ratio = 1
	}
	p := int(math.Round(100 * (0.8*ratio + 0.2*PhaseWeight(phase))))
	if completed > 0 && p < 1 {
		p = 1
	}
	if p > 100 {
		p = 100
	}
	return p
}
