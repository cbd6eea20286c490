package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/pkg/logger"
	"github.com/deepresearch/backend/pkg/utils"
)

type Orchestrator struct {
	providers []Provider
	timeout   time.Duration
}

// NewOrchestrator keeps providers in registration order; that order decides
// which duplicate survives when scores tie or are absent.
func NewOrchestrator(providers []Provider, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Orchestrator{providers: providers, timeout: timeout}
}

func (o *Orchestrator) Providers() []Provider {
	return o.providers
}

// SearchAll queries every enabled and available provider concurrently and
// merges their results. It never fails: a provider that errors, times out or
// panics contributes nothing.
func (o *Orchestrator) SearchAll(ctx context.Context, query string, opts Options) []Result {
	start := time.Now()

	var active []Provider
	for _, p := range o.providers {
		if !opts.Enabled(p.Name()) || !p.IsAvailable() {
			continue
		}
		active = append(active, p)
	}

	logger.Info("Searching providers",
		zap.String("query", query),
		zap.Int("providers", len(active)),
		zap.Int("max_results", opts.MaxResults),
	)

	perProvider := make([][]Result, len(active))
	var g errgroup.Group
	for i, p := range active {
		i, p := i, p
		g.Go(func() error {
			perProvider[i] = o.searchOne(ctx, p, query, opts)
			return nil
		})
	}
	g.Wait()

	var all []Result
	for _, rs := range perProvider {
		all = append(all, rs...)
	}

	merged := Deduplicate(all)
	if opts.MaxResults > 0 && len(merged) > opts.MaxResults {
		merged = merged[:opts.MaxResults]
	}

	metrics.SearchResults.Observe(float64(len(merged)))
	logger.Info("Search completed",
		zap.String("query", query),
		zap.Int("raw_results", len(all)),
		zap.Int("results", len(merged)),
		zap.Duration("duration", time.Since(start)),
	)

	return merged
}

func (o *Orchestrator) searchOne(ctx context.Context, p Provider, query string, opts Options) (results []Result) {
	name := p.Name()
	start := time.Now()
	status := "ok"

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Search provider panicked",
				zap.String("provider", name),
				zap.String("panic", fmt.Sprint(r)),
			)
			results = nil
			status = "panic"
		}
		metrics.ProviderRequests.WithLabelValues(name, status).Inc()
		metrics.ProviderDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	results = p.Search(ctx, query, opts)
	if len(results) == 0 {
		status = "empty"
	}

	for i := range results {
		if results[i].Provider == "" {
			results[i].Provider = name
		}
	}

	logger.Debug("Provider returned results", zap.String("provider", name), zap.Int("results", len(results)))
	return results
}

// Deduplicate collapses results whose URLs normalize to the same key. The
// first occurrence keeps its position; a later duplicate replaces it only
// when it carries a strictly higher score. When any result is scored the
// output is stably sorted by score, descending, with unscored results last.
func Deduplicate(results []Result) []Result {
	out := make([]Result, 0, len(results))
	index := make(map[string]int, len(results))
	scored := false

	for _, r := range results {
		if r.URL == "" {
			continue
		}
		if r.Score != nil {
			scored = true
		}

		key := utils.NormalizeURL(r.URL)
		if i, ok := index[key]; ok {
			if scoreOf(r) > scoreOf(out[i]) {
				out[i] = r
			}
			continue
		}
		index[key] = len(out)
		out = append(out, r)
	}

	if scored {
		sort.SliceStable(out, func(i, j int) bool {
			return scoreOf(out[i]) > scoreOf(out[j])
		})
	}

	return out
}

func scoreOf(r Result) float64 {
	if r.Score == nil {
		return -1
	}
	return *r.Score
}
