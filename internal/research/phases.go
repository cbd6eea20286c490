package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/extraction"
	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/internal/search"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/logger"
)

const followUpFacts = 30

// run carries one session's state from phase to phase.
type run struct {
	session *models.ResearchSession
	stats   models.SessionStats
	started time.Time
	phase   string

	results []search.Result
	sources []models.Source
	facts   []models.Fact
}

func newRun(session *models.ResearchSession) *run {
	return &run{session: session, started: time.Now(), phase: "search"}
}

type phase struct {
	name string
	fn   func(ctx context.Context, r *run) error
}

func (s *Service) phases() []phase {
	return []phase{
		{"search", s.searchPhase},
		{"extraction", s.extractionPhase},
		{"facts", s.factsPhase},
		{"verification", s.verificationPhase},
		{"graph", s.graphPhase},
		{"contradictions", s.contradictionPhase},
		{"synthesis", s.synthesisPhase},
	}
}

func (s *Service) execute(ctx context.Context, r *run) error {
	for _, p := range s.phases() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled before %s phase: %w", p.name, err)
		}

		r.phase = p.name
		start := time.Now()
		if err := p.fn(ctx, r); err != nil {
			return fmt.Errorf("%s phase: %w", p.name, err)
		}
		metrics.PhaseDuration.WithLabelValues(p.name).Observe(time.Since(start).Seconds())

		r.stats.DurationSeconds = time.Since(r.started).Seconds()
		if err := s.store.UpdateSessionStats(r.session.ID, r.stats); err != nil {
			return err
		}
		s.progress(ctx, r)
	}
	return nil
}

func (s *Service) progress(ctx context.Context, r *run) {
	if err := s.events.Emit(ctx, r.session.ID, models.EventProgress, map[string]interface{}{
		"phase": r.phase,
		"stats": r.stats,
	}); err != nil {
		logger.Warn("Failed to record progress", zap.String("session_id", r.session.ID), zap.Error(err))
	}
}

func (s *Service) transition(ctx context.Context, r *run, status models.SessionStatus) error {
	if err := s.store.UpdateSessionStatus(r.session.ID, status); err != nil {
		return err
	}
	r.session.Status = status
	if err := s.events.Emit(ctx, r.session.ID, models.EventStatusChange, map[string]interface{}{
		"status": string(status),
	}); err != nil {
		logger.Warn("Failed to record status change", zap.String("session_id", r.session.ID), zap.Error(err))
	}
	return nil
}

func (s *Service) searchPhase(ctx context.Context, r *run) error {
	cfg := r.session.Config
	results := s.searcher.SearchAll(ctx, r.session.Query, search.Options{
		MaxResults:     cfg.MaxSources,
		DateRange:      cfg.DateRange,
		IncludeDomains: cfg.IncludeDomains,
		Providers:      cfg.Providers,
	})

	for _, res := range results {
		if excluded(res.URL, cfg.ExcludedDomains) {
			continue
		}
		r.results = append(r.results, res)
		if len(r.results) == cfg.MaxSources {
			break
		}
	}
	r.stats.SourcesSearched = len(r.results)
	return nil
}

// excluded matches by substring, so "example.com" also excludes
// "blog.example.com" and "notexample.com".
func excluded(rawURL string, domains []string) bool {
	lower := strings.ToLower(rawURL)
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" && strings.Contains(lower, d) {
			return true
		}
	}
	return false
}

func (s *Service) extractionPhase(ctx context.Context, r *run) error {
	if err := s.transition(ctx, r, models.StatusAnalyzing); err != nil {
		return err
	}

	urls := make([]string, len(r.results))
	for i, res := range r.results {
		urls[i] = res.URL
	}
	contents := s.fetcher.ExtractBatch(ctx, urls, s.workers)

	for _, res := range r.results {
		c := contents[res.URL]
		if !usable(c) {
			continue
		}

		src := models.Source{
			ID:           uuid.New().String(),
			SessionID:    r.session.ID,
			URL:          res.URL,
			Title:        firstNonEmpty(c.Title, res.Title),
			Content:      c.Body,
			Excerpt:      firstNonEmpty(c.Excerpt, res.Snippet),
			Author:       firstNonEmpty(c.Author, res.Author),
			PublishDate:  c.PublishDate,
			Provider:     res.Provider,
			SourceType:   res.SourceType,
			QualityScore: c.QualityScore,
			WordCount:    c.WordCount,
			CreatedAt:    time.Now(),
		}
		if src.PublishDate == nil {
			src.PublishDate = res.PublishDate
		}
		src.Credibility = s.scorer.Score(src.URL, src.SourceType, src.PublishDate)

		inserted, err := s.store.InsertSource(&src)
		if err != nil {
			return err
		}
		if !inserted {
			continue
		}
		r.sources = append(r.sources, src)

		if err := s.events.Emit(ctx, r.session.ID, models.EventSourceFound, map[string]interface{}{
			"source_id":   src.ID,
			"url":         src.URL,
			"title":       src.Title,
			"source_type": src.SourceType,
			"credibility": src.Credibility.Overall,
		}); err != nil {
			logger.Warn("Failed to record source", zap.String("session_id", r.session.ID), zap.Error(err))
		}
	}

	r.stats.SourcesUsed = len(r.sources)
	logger.Info("Sources extracted",
		zap.String("session_id", r.session.ID),
		zap.Int("candidates", len(r.results)),
		zap.Int("used", len(r.sources)),
	)
	return nil
}

// usable rejects failed fetches, low quality pages and thin pages. Every
// real page under 100 words already scores 0.6 or less.
func usable(c *extraction.Content) bool {
	return c != nil && c.QualityScore >= minQualityScore && c.WordCount >= minSourceWords
}

func (s *Service) factsPhase(ctx context.Context, r *run) error {
	extracted, err := s.facts.Extract(ctx, r.session.ID, r.session.Query, r.sources)
	if err != nil {
		return err
	}
	r.facts = extracted
	r.stats.FactsExtracted = len(extracted)
	return nil
}

func (s *Service) verificationPhase(ctx context.Context, r *run) error {
	verified, err := s.facts.CrossVerify(ctx, r.session.ID, r.facts, r.sources)
	if err != nil {
		return err
	}
	r.stats.FactsVerified = verified
	return nil
}

func (s *Service) graphPhase(ctx context.Context, r *run) error {
	g, err := s.graph.Build(ctx, r.session.ID, r.session.Query, r.facts)
	if err != nil {
		return err
	}
	r.stats.EntitiesFound = len(g.Nodes)
	r.stats.RelationshipsFound = len(g.Relationships)
	return nil
}

func (s *Service) contradictionPhase(ctx context.Context, r *run) error {
	found, err := s.facts.DetectContradictions(ctx, r.session.ID, r.facts)
	if err != nil {
		return err
	}
	r.stats.ContradictionsFound = found
	if found > 0 {
		// Contradicted facts no longer count as verified.
		verified := 0
		for _, f := range r.facts {
			if f.Status == models.FactVerified {
				verified++
			}
		}
		r.stats.FactsVerified = verified
	}
	return nil
}

func (s *Service) synthesisPhase(ctx context.Context, r *run) error {
	top, err := s.store.TopFactsByConfidence(r.session.ID, followUpFacts)
	if err != nil {
		return err
	}
	questions, err := s.reports.FollowUps(ctx, r.session, top)
	if err != nil {
		return err
	}
	r.stats.FollowUps = len(questions)

	if err := s.transition(ctx, r, models.StatusSynthesizing); err != nil {
		return err
	}
	if !r.session.Config.GenerateReport {
		return nil
	}
	_, err = s.reports.Generate(ctx, r.session.ID)
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
