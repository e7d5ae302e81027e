package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiTokensTotal,
		aiCallsLatencyMs,
		aiPromptTrims,
		aiRateLimited,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Sum of total tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "Reasoning call latency distribution in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000, 64000},
		},
		[]string{"operation", "success"},
	)

	aiPromptTrims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_prompt_trims",
			Help: "Count of prompts whose unit records were trimmed to fit the token budget.",
		},
		[]string{"operation"},
	)

	aiRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_rate_limited_total",
			Help: "Calls refused locally because the shared rate-limit window was exhausted.",
		},
	)
)

func PromptTrimmed(operation string) {
	aiPromptTrims.WithLabelValues(norm(operation)).Inc()
}

func IncRateLimited() {
	aiRateLimited.Inc()
}

func ObserveTokenUsage(provider, model string, tokensIn, tokensOut, tokensTotal int) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiTokensTotal.WithLabelValues(lbl...).Add(float64(tokensTotal))
}

func ObserveReasoningCall(operation string, latencyMs int, success bool) {
	aiCallsLatencyMs.WithLabelValues(norm(operation), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
