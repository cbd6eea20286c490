package research

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/credibility"
	"github.com/deepresearch/backend/internal/events"
	"github.com/deepresearch/backend/internal/extraction"
	"github.com/deepresearch/backend/internal/facts"
	"github.com/deepresearch/backend/internal/kg/builder"
	"github.com/deepresearch/backend/internal/llm"
	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/internal/report"
	"github.com/deepresearch/backend/internal/search"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/internal/storage/sqlite"
	"github.com/deepresearch/backend/pkg/config"
	"github.com/deepresearch/backend/pkg/logger"
)

var (
	ErrInvalidQuery = errors.New("query must not be empty")
	// ErrNotReady is returned when a report is requested before analysis
	// has finished.
	ErrNotReady = errors.New("research session is still gathering sources")
	// ErrInterrupted fails sessions that were still running when the
	// previous process stopped.
	ErrInterrupted = errors.New("interrupted by server restart")
)

const (
	minQualityScore    = 0.3
	minSourceWords     = 100
	minDeepDiveSources = 5

	defaultNeighborLimit = 25
)

// Searcher fans a query out to the search providers.
type Searcher interface {
	SearchAll(ctx context.Context, query string, opts search.Options) []search.Result
}

// Fetcher downloads and extracts page content. Missing entries in the
// returned map are failed fetches.
type Fetcher interface {
	ExtractBatch(ctx context.Context, urls []string, concurrency int) map[string]*extraction.Content
}

// NeighborFinder answers graph neighborhood queries from a graph database.
type NeighborFinder interface {
	Neighbors(ctx context.Context, sessionID, entity string, limit int) ([]models.Neighbor, error)
}

type Deps struct {
	Store     *sqlite.Client
	Searcher  Searcher
	Fetcher   Fetcher
	Generator llm.Generator
	Events    *events.Log
	// Concurrency bounds parallel page fetches per session.
	Concurrency int
	// Mirror and GraphQuery are optional.
	Mirror     builder.Mirror
	GraphQuery NeighborFinder
}

type Service struct {
	store    *sqlite.Client
	searcher Searcher
	fetcher  Fetcher
	events   *events.Log
	scorer   *credibility.Scorer
	facts    *facts.Pipeline
	graph    *builder.Builder
	reports  *report.Synthesizer
	neighbor NeighborFinder
	defaults config.ResearchConfig
	workers  int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewService(cfg config.ResearchConfig, deps Deps) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:    deps.Store,
		searcher: deps.Searcher,
		fetcher:  deps.Fetcher,
		events:   deps.Events,
		scorer:   credibility.NewScorer(),
		facts:    facts.NewPipeline(deps.Store, deps.Generator, deps.Events, cfg.MaxSourceChars),
		graph:    builder.NewBuilder(deps.Store, deps.Generator, deps.Mirror),
		reports:  report.NewSynthesizer(deps.Store, deps.Generator),
		neighbor: deps.GraphQuery,
		defaults: cfg,
		workers:  deps.Concurrency,
		ctx:      ctx,
		cancel:   cancel,
	}
}

type StartRequest struct {
	Query     string
	ProjectID string
	Config    models.ResearchConfig
}

// Start persists a new session and runs its pipeline in the background. The
// returned session is in the researching state.
func (s *Service) Start(ctx context.Context, req StartRequest) (*models.ResearchSession, error) {
	return s.start(ctx, req, "")
}

// DeepDive starts a nested session on question that inherits the parent's
// configuration with half its source budget, but never fewer than five.
func (s *Service) DeepDive(ctx context.Context, parentID, question string) (*models.ResearchSession, error) {
	parent, err := s.store.GetSession(parentID)
	if err != nil {
		return nil, err
	}

	cfg := parent.Config
	cfg.MaxSources = parent.Config.MaxSources / 2
	if cfg.MaxSources < minDeepDiveSources {
		cfg.MaxSources = minDeepDiveSources
	}

	return s.start(ctx, StartRequest{Query: question, ProjectID: parent.ProjectID, Config: cfg}, parent.ID)
}

func (s *Service) start(ctx context.Context, req StartRequest, parentID string) (*models.ResearchSession, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	now := time.Now()
	session := &models.ResearchSession{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		ParentID:  parentID,
		Query:     query,
		Config:    s.normalize(req.Config),
		Status:    models.StatusResearching,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateSession(session); err != nil {
		return nil, err
	}

	if err := s.events.Emit(ctx, session.ID, models.EventStatusChange, map[string]interface{}{
		"status": string(models.StatusResearching),
	}); err != nil {
		logger.Warn("Failed to record start event", zap.String("session_id", session.ID), zap.Error(err))
	}

	logger.Info("Research session started",
		zap.String("session_id", session.ID),
		zap.String("parent_id", parentID),
		zap.String("depth", string(session.Config.Depth)),
		zap.Int("max_sources", session.Config.MaxSources),
	)

	metrics.SessionsActive.Inc()
	s.wg.Add(1)
	go s.supervise(newRun(session))

	return session, nil
}

func (s *Service) normalize(cfg models.ResearchConfig) models.ResearchConfig {
	switch cfg.Depth {
	case models.DepthQuick, models.DepthStandard, models.DepthDeep, models.DepthExhaustive:
	default:
		cfg.Depth = models.Depth(s.defaults.DefaultDepth)
		if cfg.Depth == "" {
			cfg.Depth = models.DepthStandard
		}
	}
	if cfg.MaxSources <= 0 {
		cfg.MaxSources = cfg.Depth.MaxSources()
	}
	if cfg.CitationStyle == "" {
		cfg.CitationStyle = s.defaults.CitationStyle
	}
	cfg.CitationStyle = report.NormalizeStyle(cfg.CitationStyle)
	if cfg.ReportFormat == "" {
		cfg.ReportFormat = "md"
	}
	return cfg
}

// supervise runs one session to a terminal state. Panics inside a phase end
// the session as failed instead of crashing the process.
func (s *Service) supervise(r *run) {
	defer s.wg.Done()
	defer metrics.SessionsActive.Dec()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic in %s phase: %v", r.phase, p)
			}
		}()
		return s.execute(s.ctx, r)
	}()

	s.finish(r, err)
}

// RecoverInterrupted fails every session left in a running state by a
// previous process. Pipelines are not resumed. Call it before Start.
func (s *Service) RecoverInterrupted() (int, error) {
	sessions, err := s.store.ListUnfinishedSessions()
	if err != nil {
		return 0, err
	}
	for i := range sessions {
		r := newRun(&sessions[i])
		r.stats = sessions[i].Stats
		r.started = sessions[i].CreatedAt
		r.phase = string(sessions[i].Status)
		s.finish(r, ErrInterrupted)
	}
	return len(sessions), nil
}

func (s *Service) finish(r *run, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := r.session.ID
	r.stats.DurationSeconds = time.Since(r.started).Seconds()

	status := models.StatusCompleted
	errMsg := ""
	payload := map[string]interface{}{"status": string(models.StatusCompleted)}
	if runErr != nil {
		status = models.StatusFailed
		errMsg = runErr.Error()
		payload["status"] = string(models.StatusFailed)
		payload["error"] = errMsg
		logger.Error("Research session failed",
			zap.String("session_id", id),
			zap.String("phase", r.phase),
			zap.Error(runErr),
		)
	}

	// The terminal event goes in before the status flips so a streaming
	// client that observes the terminal status has already been able to
	// read it.
	if err := s.events.Emit(ctx, id, models.EventStatusChange, payload); err != nil {
		logger.Warn("Failed to record terminal event", zap.String("session_id", id), zap.Error(err))
	}
	if err := s.store.FinishSession(id, status, r.stats, errMsg); err != nil {
		logger.Error("Failed to finish session", zap.String("session_id", id), zap.Error(err))
	}
	s.events.Wake(ctx, id)

	metrics.SessionsTotal.WithLabelValues(string(status)).Inc()
	if status == models.StatusCompleted {
		logger.Info("Research session completed",
			zap.String("session_id", id),
			zap.Int("sources", r.stats.SourcesUsed),
			zap.Int("facts", r.stats.FactsExtracted),
			zap.Int("verified", r.stats.FactsVerified),
			zap.Int("contradictions", r.stats.ContradictionsFound),
			zap.Float64("duration_seconds", r.stats.DurationSeconds),
		)
	}
}

// Wait blocks until every running session has reached a terminal state.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown cancels running sessions and waits for them to record their
// final state, or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GenerateReport returns the session's report, synthesizing it if needed.
func (s *Service) GenerateReport(ctx context.Context, sessionID string) (*models.Report, error) {
	session, err := s.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.StatusResearching || session.Status == models.StatusAnalyzing {
		return nil, ErrNotReady
	}
	return s.reports.Generate(ctx, sessionID)
}

func (s *Service) Get(sessionID string) (*models.ResearchSession, error) {
	return s.store.GetSession(sessionID)
}

func (s *Service) List(projectID string, limit int) ([]models.ResearchSession, error) {
	return s.store.ListSessions(projectID, limit)
}

func (s *Service) Report(sessionID string) (*models.Report, error) {
	return s.store.GetReport(sessionID)
}

func (s *Service) Sources(sessionID string) ([]models.Source, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.store.ListSources(sessionID)
}

func (s *Service) Facts(sessionID string) ([]models.Fact, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.store.ListFacts(sessionID)
}

func (s *Service) Graph(sessionID string) ([]models.KnowledgeNode, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.store.GetKnowledgeGraph(sessionID)
}

// Neighbors lists the entities related to entity in the session's graph.
// The graph database answers when configured; the relational copy is used
// otherwise or when it fails.
func (s *Service) Neighbors(ctx context.Context, sessionID, entity string, limit int) ([]models.Neighbor, error) {
	nodes, err := s.Graph(sessionID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultNeighborLimit
	}

	if s.neighbor != nil {
		found, err := s.neighbor.Neighbors(ctx, sessionID, entity, limit)
		if err == nil {
			return found, nil
		}
		logger.Warn("Graph database query failed, using stored graph",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
	return neighborsOf(nodes, entity, limit), nil
}

func neighborsOf(nodes []models.KnowledgeNode, entity string, limit int) []models.Neighbor {
	byID := make(map[string]*models.KnowledgeNode, len(nodes))
	var target *models.KnowledgeNode
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
		if target == nil && strings.EqualFold(nodes[i].Entity, strings.TrimSpace(entity)) {
			target = &nodes[i]
		}
	}

	found := []models.Neighbor{}
	if target == nil {
		return found
	}
	for _, n := range nodes {
		for _, rel := range n.Relationships {
			var other string
			outgoing := false
			switch {
			case rel.SourceID == target.ID:
				other, outgoing = rel.TargetID, true
			case rel.TargetID == target.ID:
				other = rel.SourceID
			default:
				continue
			}
			if node, ok := byID[other]; ok {
				found = append(found, models.Neighbor{
					Entity:     node.Entity,
					EntityType: node.EntityType,
					Relation:   rel.Type,
					Outgoing:   outgoing,
				})
				if len(found) == limit {
					return found
				}
			}
		}
	}
	return found
}

func (s *Service) Contradictions(sessionID string) ([]models.Contradiction, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.store.ListContradictions(sessionID)
}

func (s *Service) FollowUps(sessionID string) ([]models.FollowUpQuestion, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.store.ListFollowUps(sessionID)
}

func (s *Service) Events(sessionID string, afterID int64, limit int) ([]models.Event, error) {
	if _, err := s.store.GetSession(sessionID); err != nil {
		return nil, err
	}
	return s.store.ListEventsAfter(sessionID, afterID, limit)
}

// Stream replays the session's events after afterID and follows new ones
// until the session ends or ctx is cancelled.
func (s *Service) Stream(ctx context.Context, sessionID string, afterID int64, yield func(models.Event) error) error {
	return s.events.Stream(ctx, sessionID, afterID, yield)
}
