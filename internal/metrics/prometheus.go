package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_sessions_total",
			Help: "Research sessions by lifecycle outcome",
		},
		[]string{"status"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "deep_research_sessions_active",
			Help: "Research sessions currently running",
		},
	)

	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_phase_duration_seconds",
			Help:    "Duration of each research phase in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"phase"},
	)

	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_provider_requests_total",
			Help: "Search provider calls by outcome",
		},
		[]string{"provider", "status"},
	)

	ProviderDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_provider_duration_seconds",
			Help:    "Search provider call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15},
		},
		[]string{"provider"},
	)

	SearchResults = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_search_results",
			Help:    "Deduplicated results returned per fan-out",
			Buckets: []float64{0, 5, 10, 20, 40, 100},
		},
	)

	Extractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_extractions_total",
			Help: "Content extractions by document kind and outcome",
		},
		[]string{"kind", "status"},
	)

	ExtractionQuality = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deep_research_extraction_quality",
			Help:    "Quality score of extracted documents",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_llm_requests_total",
			Help: "Text generation calls by backend and outcome",
		},
		[]string{"backend", "status"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deep_research_llm_duration_seconds",
			Help:    "Text generation latency in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"backend"},
	)

	Facts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_facts_total",
			Help: "Facts by verification outcome",
		},
		[]string{"status"},
	)

	Contradictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_contradictions_total",
			Help: "Contradictions detected between facts",
		},
	)

	GraphEntities = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_graph_entities_total",
			Help: "Knowledge graph nodes created",
		},
	)

	GraphRelationships = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deep_research_graph_relationships_total",
			Help: "Knowledge graph relationships created",
		},
	)

	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_events_total",
			Help: "Session events appended by type",
		},
		[]string{"type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ReportsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deep_research_reports_total",
			Help: "Report synthesis requests by outcome",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(PhaseDuration)
	prometheus.MustRegister(ProviderRequests)
	prometheus.MustRegister(ProviderDuration)
	prometheus.MustRegister(SearchResults)
	prometheus.MustRegister(Extractions)
	prometheus.MustRegister(ExtractionQuality)
	prometheus.MustRegister(LLMRequests)
	prometheus.MustRegister(LLMDuration)
	prometheus.MustRegister(Facts)
	prometheus.MustRegister(Contradictions)
	prometheus.MustRegister(GraphEntities)
	prometheus.MustRegister(GraphRelationships)
	prometheus.MustRegister(EventsEmitted)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ReportsGenerated)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
