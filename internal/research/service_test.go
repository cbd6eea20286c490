package research

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/deepresearch/backend/internal/events"
	"github.com/deepresearch/backend/internal/extraction"
	"github.com/deepresearch/backend/internal/llm"
	"github.com/deepresearch/backend/internal/search"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/internal/storage/sqlite"
	"github.com/deepresearch/backend/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Started in init by a transitive dependency of the LLM SDKs.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

type stubSearcher struct {
	mu      sync.Mutex
	results []search.Result
	opts    []search.Options
	panics  bool
}

func (s *stubSearcher) SearchAll(_ context.Context, _ string, opts search.Options) []search.Result {
	if s.panics {
		panic("provider registry corrupted")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = append(s.opts, opts)
	return s.results
}

func (s *stubSearcher) lastMax() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts[len(s.opts)-1].MaxResults
}

type stubFetcher map[string]*extraction.Content

func (f stubFetcher) ExtractBatch(_ context.Context, urls []string, _ int) map[string]*extraction.Content {
	out := make(map[string]*extraction.Content)
	for _, u := range urls {
		if c, ok := f[u]; ok {
			out[u] = c
		}
	}
	return out
}

var body = strings.Repeat("Researchers enrolled volunteers and measured outcomes over two years. ", 5)

func fixtures() (*stubSearcher, stubFetcher) {
	searcher := &stubSearcher{results: []search.Result{
		{URL: "https://study.org/a", Title: "Search title A", Provider: "academic", SourceType: search.TypeAcademic},
		{URL: "https://thin.org/b", Title: "Thin", Provider: "web", SourceType: search.TypeWeb},
		{URL: "https://gone.org/c", Title: "Gone", Provider: "web", SourceType: search.TypeWeb},
		{URL: "https://spam.example/d", Title: "Spam", Provider: "web", SourceType: search.TypeWeb},
		{URL: "https://news.org/e", Title: "Study B", Snippet: "snippet", Provider: "news", SourceType: search.TypeNews},
	}}
	fetcher := stubFetcher{
		"https://study.org/a":    {Title: "Study A", Body: body, QualityScore: 0.9, WordCount: 450},
		"https://thin.org/b":     {Title: "Thin", Body: body, QualityScore: 0.2, WordCount: 450},
		"https://spam.example/d": {Title: "Spam", Body: body, QualityScore: 1, WordCount: 450},
		"https://news.org/e":     {Body: body, QualityScore: 0.8, WordCount: 450},
	}
	return searcher, fetcher
}

func generator() llm.Generator {
	return llm.GeneratorFunc(func(_ context.Context, prompt string, _ int) (string, error) {
		switch {
		case strings.Contains(prompt, "Extract between"):
			if strings.Contains(prompt, "Source title: Study A") {
				return `["The study had 500 participants", "Qubits are fragile to thermal noise."]`, nil
			}
			return `["The study had 50 participants"]`, nil
		case strings.Contains(prompt, "Identify the key entities"):
			return `{"nodes": [{"entity": "Study", "type": "event"}, {"entity": "Qubit", "type": "concept"}],
				"relationships": [{"source": "Study", "target": "Qubit", "type": "MEASURES"}]}`, nil
		case strings.Contains(prompt, "contradict each other"):
			if strings.Contains(prompt, "500 participants") && strings.Contains(prompt, "had 50 participants") {
				return "The participant counts differ.", nil
			}
			return "NO", nil
		case strings.Contains(prompt, "follow-up research questions"):
			return `["Why did enrollment differ?", "Which cohort is correct?"]`, nil
		case strings.Contains(prompt, "structured research report"):
			return `{"title": "Participants", "abstract": "Counts disagree.",
				"sections": [{"title": "Enrollment", "content": "Reports differ [1][2]."}],
				"keyFindings": ["Counts disagree"], "limitations": ["Two sources"]}`, nil
		}
		return "", nil
	})
}

func newService(t *testing.T, searcher Searcher, fetcher Fetcher) (*Service, *sqlite.Client) {
	t.Helper()
	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())

	svc := NewService(config.ResearchConfig{DefaultDepth: "standard", CitationStyle: "apa"}, Deps{
		Store:     store,
		Searcher:  searcher,
		Fetcher:   fetcher,
		Generator: generator(),
		Events:    events.NewLog(store, events.NewBroker(), 10*time.Millisecond),
	})
	t.Cleanup(func() {
		svc.Wait()
		store.Close()
	})
	return svc, store
}

func TestRun_CompletesAllPhases(t *testing.T) {
	searcher, fetcher := fixtures()
	svc, _ := newService(t, searcher, fetcher)
	ctx := context.Background()

	session, err := svc.Start(ctx, StartRequest{
		Query:  "  trial enrollment  ",
		Config: models.ResearchConfig{Depth: models.DepthQuick, ExcludedDomains: []string{"SPAM.example"}, GenerateReport: true},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusResearching, session.Status)
	assert.Equal(t, "trial enrollment", session.Query)
	assert.Equal(t, 10, session.Config.MaxSources)

	svc.Wait()

	got, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status, got.Error)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 4, got.Stats.SourcesSearched)
	assert.Equal(t, 2, got.Stats.SourcesUsed)
	assert.Equal(t, 3, got.Stats.FactsExtracted)
	assert.Equal(t, 1, got.Stats.ContradictionsFound)
	assert.Equal(t, 2, got.Stats.EntitiesFound)
	assert.Equal(t, 1, got.Stats.RelationshipsFound)
	assert.Equal(t, 2, got.Stats.FollowUps)
	assert.Greater(t, got.Stats.DurationSeconds, 0.0)

	sources, err := svc.Sources(session.ID)
	require.NoError(t, err)
	require.Len(t, sources, 2, "low quality, missing and excluded pages are dropped")
	assert.Equal(t, "Study A", sources[0].Title)
	assert.Equal(t, "Study B", sources[1].Title, "search title fills in a missing page title")
	assert.Equal(t, "snippet", sources[1].Excerpt)
	assert.Greater(t, sources[0].Credibility.Overall, sources[1].Credibility.Overall)

	facts, err := svc.Facts(session.ID)
	require.NoError(t, err)
	status := map[string]models.VerificationStatus{}
	for _, f := range facts {
		status[f.Statement] = f.Status
	}
	assert.Equal(t, models.FactContradicted, status["The study had 500 participants"])
	assert.Equal(t, models.FactContradicted, status["The study had 50 participants"])
	assert.Equal(t, models.FactUnverified, status["Qubits are fragile to thermal noise."])

	contradictions, err := svc.Contradictions(session.ID)
	require.NoError(t, err)
	assert.Len(t, contradictions, 1)

	neighbors, err := svc.Neighbors(ctx, session.ID, "study", 0)
	require.NoError(t, err)
	assert.Equal(t, []models.Neighbor{{Entity: "Qubit", EntityType: "concept", Relation: "MEASURES", Outgoing: true}}, neighbors)
	neighbors, err = svc.Neighbors(ctx, session.ID, "Qubit", 0)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.False(t, neighbors[0].Outgoing)
	neighbors, err = svc.Neighbors(ctx, session.ID, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, neighbors)

	r, err := svc.Report(session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Participants", r.Title)
	assert.Len(t, r.Bibliography, 2)

	var types []models.EventType
	var statuses []string
	err = svc.Stream(ctx, session.ID, 0, func(e models.Event) error {
		types = append(types, e.Type)
		if e.Type == models.EventStatusChange {
			statuses = append(statuses, e.Payload["status"].(string))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"researching", "analyzing", "synthesizing", "completed"}, statuses)
	assert.Contains(t, types, models.EventSourceFound)
	assert.Contains(t, types, models.EventFactExtracted)
	assert.Contains(t, types, models.EventContradictionDetected)
	assert.Equal(t, models.EventStatusChange, types[len(types)-1])
}

func TestRun_ReportOnlyOnRequest(t *testing.T) {
	searcher, fetcher := fixtures()
	svc, _ := newService(t, searcher, fetcher)
	ctx := context.Background()

	session, err := svc.Start(ctx, StartRequest{Query: "trial enrollment"})
	require.NoError(t, err)
	svc.Wait()

	_, err = svc.Report(session.ID)
	assert.ErrorIs(t, err, sqlite.ErrNotFound)

	r, err := svc.GenerateReport(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Participants", r.Title)

	stored, err := svc.Report(session.ID)
	require.NoError(t, err)
	assert.Equal(t, r.Title, stored.Title)
}

func TestRun_ShortPageIsDropped(t *testing.T) {
	sentence := "Trial volunteers reported fewer symptoms after the treatment. "
	page := func(sentences int) string {
		return "<html><head><title>Trial</title></head><body><article>" +
			strings.Repeat(sentence, sentences) + "</article></body></html>"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/short", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, page(10))
	})
	mux.HandleFunc("/full", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, page(50))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	extractor := extraction.NewExtractor(extraction.Config{AllowPrivateHosts: true})
	short, err := extractor.Extract(context.Background(), srv.URL+"/short")
	require.NoError(t, err)
	assert.Equal(t, 80, short.WordCount)
	assert.LessOrEqual(t, short.QualityScore, 0.7)

	searcher := &stubSearcher{results: []search.Result{
		{URL: srv.URL + "/short", Title: "Short", Provider: "web", SourceType: search.TypeWeb},
		{URL: srv.URL + "/full", Title: "Full", Provider: "web", SourceType: search.TypeWeb},
	}}
	svc, _ := newService(t, searcher, extractor)

	session, err := svc.Start(context.Background(), StartRequest{Query: "trial symptoms"})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(session.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, got.Status, got.Error)
	assert.Equal(t, 2, got.Stats.SourcesSearched)

	sources, err := svc.Sources(session.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, srv.URL+"/full", sources[0].URL)
}

func TestRun_PanicFailsSession(t *testing.T) {
	svc, _ := newService(t, &stubSearcher{panics: true}, stubFetcher{})

	session, err := svc.Start(context.Background(), StartRequest{Query: "anything"})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "panic in search phase")

	evs, err := svc.Events(session.ID, 0, 100)
	require.NoError(t, err)
	last := evs[len(evs)-1]
	assert.Equal(t, models.EventStatusChange, last.Type)
	assert.Equal(t, "failed", last.Payload["status"])
}

func TestRun_NoSourcesStillCompletes(t *testing.T) {
	svc, _ := newService(t, &stubSearcher{}, stubFetcher{})

	session, err := svc.Start(context.Background(), StartRequest{Query: "obscure", Config: models.ResearchConfig{GenerateReport: true}})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status, got.Error)
	assert.Zero(t, got.Stats.SourcesUsed)
}

func TestStart_Validation(t *testing.T) {
	svc, _ := newService(t, &stubSearcher{}, stubFetcher{})

	_, err := svc.Start(context.Background(), StartRequest{Query: "   "})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	tests := []struct {
		name string
		cfg  models.ResearchConfig
		want int
	}{
		{"default depth", models.ResearchConfig{}, 20},
		{"unknown depth", models.ResearchConfig{Depth: "bottomless"}, 20},
		{"exhaustive", models.ResearchConfig{Depth: models.DepthExhaustive}, 100},
		{"override", models.ResearchConfig{Depth: models.DepthDeep, MaxSources: 3}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := svc.Start(context.Background(), StartRequest{Query: "q", Config: tt.cfg})
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Config.MaxSources)
			assert.Equal(t, "apa", s.Config.CitationStyle)
		})
	}
}

func TestDeepDive(t *testing.T) {
	searcher := &stubSearcher{}
	svc, _ := newService(t, searcher, stubFetcher{})
	ctx := context.Background()

	parent, err := svc.Start(ctx, StartRequest{Query: "parent", ProjectID: "p1", Config: models.ResearchConfig{Depth: models.DepthDeep, CitationStyle: "mla"}})
	require.NoError(t, err)
	svc.Wait()

	child, err := svc.DeepDive(ctx, parent.ID, "narrower question")
	require.NoError(t, err)
	svc.Wait()
	assert.Equal(t, parent.ID, child.ParentID)
	assert.Equal(t, "p1", child.ProjectID)
	assert.Equal(t, 20, child.Config.MaxSources)
	assert.Equal(t, "mla", child.Config.CitationStyle)
	assert.Equal(t, 20, searcher.lastMax())

	small, err := svc.Start(ctx, StartRequest{Query: "small", Config: models.ResearchConfig{MaxSources: 6}})
	require.NoError(t, err)
	grandchild, err := svc.DeepDive(ctx, small.ID, "tiny")
	require.NoError(t, err)
	assert.Equal(t, 5, grandchild.Config.MaxSources)

	_, err = svc.DeepDive(ctx, "missing", "q")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
	_, err = svc.DeepDive(ctx, parent.ID, "")
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestAccessors_UnknownSession(t *testing.T) {
	svc, store := newService(t, &stubSearcher{}, stubFetcher{})

	_, err := svc.Facts("nope")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
	_, err = svc.Graph("nope")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
	_, err = svc.FollowUps("nope")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)
	_, err = svc.GenerateReport(context.Background(), "nope")
	assert.ErrorIs(t, err, sqlite.ErrNotFound)

	now := time.Now()
	require.NoError(t, store.CreateSession(&models.ResearchSession{
		ID: "busy", Query: "q", Status: models.StatusAnalyzing,
		Config: models.ResearchConfig{Depth: models.DepthQuick, MaxSources: 10}, CreatedAt: now, UpdatedAt: now,
	}))
	_, err = svc.GenerateReport(context.Background(), "busy")
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestShutdownCancelsSessions(t *testing.T) {
	blocking := &blockingSearcher{entered: make(chan struct{})}
	svc, _ := newService(t, blocking, stubFetcher{})

	session, err := svc.Start(context.Background(), StartRequest{Query: "slow"})
	require.NoError(t, err)
	<-blocking.entered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))

	got, err := svc.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestRecoverInterrupted(t *testing.T) {
	svc, store := newService(t, &stubSearcher{}, stubFetcher{})

	now := time.Now()
	for id, status := range map[string]models.SessionStatus{
		"stuck-a": models.StatusResearching,
		"stuck-b": models.StatusSynthesizing,
		"done":    models.StatusCompleted,
	} {
		require.NoError(t, store.CreateSession(&models.ResearchSession{
			ID: id, Query: "q", Status: status,
			Config: models.ResearchConfig{Depth: models.DepthQuick, MaxSources: 10}, CreatedAt: now, UpdatedAt: now,
		}))
	}

	n, err := svc.RecoverInterrupted()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"stuck-a", "stuck-b"} {
		got, err := svc.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, got.Status)
		assert.Equal(t, ErrInterrupted.Error(), got.Error)
	}
	done, err := svc.Get("done")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)

	n, err = svc.RecoverInterrupted()
	require.NoError(t, err)
	assert.Zero(t, n)
}

type blockingSearcher struct {
	entered chan struct{}
}

func (b *blockingSearcher) SearchAll(ctx context.Context, _ string, _ search.Options) []search.Result {
	close(b.entered)
	<-ctx.Done()
	return nil
}
