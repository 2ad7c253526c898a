package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirai_gateway_turns_total",
			Help: "Total number of conversation turns by final state",
		},
		[]string{"state"},
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "mirai_gateway_turn_duration_seconds",
			Help: "End-to-end turn duration in seconds",
		},
	)

	QueryClassifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirai_gateway_query_classifications_total",
			Help: "Query classifications by type",
		},
		[]string{"query_type"},
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirai_gateway_search_requests_total",
			Help: "Web search requests by outcome",
		},
		[]string{"outcome"},
	)

	SearchCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirai_gateway_search_cache_hits_total",
			Help: "Search cache hits",
		},
	)

	SearchCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirai_gateway_search_cache_entries",
			Help: "Number of live search cache entries",
		},
	)

	TriggerMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mirai_gateway_trigger_matches_total",
			Help: "API module trigger matches",
		},
	)

	PublishedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mirai_gateway_published_messages_total",
			Help: "Messages published to the hub by channel class",
		},
		[]string{"channel"},
	)

	ActiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mirai_gateway_active_subscribers",
			Help: "Number of live hub subscribers",
		},
	)

	InferenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "mirai_gateway_inference_latency_seconds",
			Help: "LLM inference latency in seconds",
		},
	)

	VoicingLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "mirai_gateway_voicing_latency_seconds",
			Help: "TTS synthesis latency in seconds",
		},
	)
)
