package facts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/backend/internal/llm"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/internal/storage/sqlite"
)

type recorder struct {
	mu     sync.Mutex
	events []models.EventType
}

func (r *recorder) Emit(_ context.Context, _ string, t models.EventType, _ map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, t)
	return nil
}

func (r *recorder) count(t models.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == t {
			n++
		}
	}
	return n
}

func newTestPipeline(t *testing.T, gen llm.Generator) (*Pipeline, *sqlite.Client, *recorder) {
	t.Helper()
	store, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	now := time.Now()
	require.NoError(t, store.CreateSession(&models.ResearchSession{
		ID: "s1", Query: "q", Status: models.StatusAnalyzing,
		Config:    models.ResearchConfig{Depth: models.DepthQuick, MaxSources: 10},
		CreatedAt: now, UpdatedAt: now,
	}))

	rec := &recorder{}
	return NewPipeline(store, gen, rec, 0), store, rec
}

func addSource(t *testing.T, store *sqlite.Client, id, body string) models.Source {
	t.Helper()
	src := models.Source{
		ID: id, SessionID: "s1", URL: "https://example.com/" + id, Title: "Title " + id,
		Content: body, Provider: "web", SourceType: "web", CreatedAt: time.Now(),
	}
	inserted, err := store.InsertSource(&src)
	require.NoError(t, err)
	require.True(t, inserted)
	return src
}

func addFact(t *testing.T, store *sqlite.Client, id, statement, sourceID string) models.Fact {
	t.Helper()
	f := models.Fact{
		ID: id, SessionID: "s1", Statement: statement, Confidence: 0.7,
		Status: models.FactUnverified, VerificationCount: 1, SourceIDs: []string{sourceID}, CreatedAt: time.Now(),
	}
	require.NoError(t, store.InsertFact(&f))
	return f
}

func TestExtract(t *testing.T) {
	long := strings.Repeat("Long body text about qubits. ", 10)
	var calls int32
	gen := llm.GeneratorFunc(func(_ context.Context, prompt string, _ int) (string, error) {
		atomic.AddInt32(&calls, 1)
		switch {
		case strings.Contains(prompt, "Title broken"):
			return "", errors.New("backend down")
		case strings.Contains(prompt, "Title many"):
			var items []string
			for i := 0; i < 14; i++ {
				items = append(items, fmt.Sprintf("%q", fmt.Sprintf("Numbered statement %d about qubits", i)))
			}
			return "[" + strings.Join(items, ",") + "]", nil
		default:
			return `Here are the facts: ["short", "Qubits can exist in superposition states.", "` + strings.Repeat("x", 501) + `"]`, nil
		}
	})

	p, store, rec := newTestPipeline(t, gen)
	sources := []models.Source{
		addSource(t, store, "good", long),
		addSource(t, store, "tiny", "too short to bother"),
		addSource(t, store, "broken", long),
		addSource(t, store, "many", long),
	}

	facts, err := p.Extract(context.Background(), "s1", "qubits", sources)
	require.NoError(t, err)

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "short bodies are not sent for extraction")
	require.Len(t, facts, 11)
	assert.Equal(t, "Qubits can exist in superposition states.", facts[0].Statement)
	assert.Equal(t, []string{"good"}, facts[0].SourceIDs)
	for _, f := range facts[1:] {
		assert.Equal(t, []string{"many"}, f.SourceIDs)
	}
	assert.Equal(t, 11, rec.count(models.EventFactExtracted))

	stored, err := store.ListFacts("s1")
	require.NoError(t, err)
	require.Len(t, stored, 11)
	assert.Equal(t, models.FactUnverified, stored[0].Status)
	assert.InDelta(t, 0.7, stored[0].Confidence, 1e-9)
}

func TestExtract_SameStatementFromTwoSourcesLinksBoth(t *testing.T) {
	gen := llm.GeneratorFunc(func(_ context.Context, prompt string, _ int) (string, error) {
		if strings.Contains(prompt, "Title b") {
			return `["qubits can exist in  superposition states."]`, nil
		}
		return `["Qubits can exist in superposition states."]`, nil
	})
	p, store, rec := newTestPipeline(t, gen)
	body := strings.Repeat("An unrelated paragraph about laboratory budgets. ", 5)
	sources := []models.Source{
		addSource(t, store, "a", body),
		addSource(t, store, "b", body),
	}

	facts, err := p.Extract(context.Background(), "s1", "qubits", sources)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, []string{"a", "b"}, facts[0].SourceIDs)
	assert.Equal(t, 2, facts[0].VerificationCount)
	assert.Equal(t, 1, rec.count(models.EventFactExtracted))

	_, err = p.CrossVerify(context.Background(), "s1", facts, sources)
	require.NoError(t, err)
	assert.Equal(t, 2, facts[0].VerificationCount)
	assert.InDelta(t, 0.8, facts[0].Confidence, 1e-9)

	stored, err := store.GetFact(facts[0].ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, stored.SourceIDs)
	assert.Equal(t, 2, stored.VerificationCount)
}

func TestExtract_TruncatesSourceBody(t *testing.T) {
	var seen string
	gen := llm.GeneratorFunc(func(_ context.Context, prompt string, _ int) (string, error) {
		seen = prompt
		return "[]", nil
	})
	p, store, _ := newTestPipeline(t, gen)
	p.maxSourceChars = 150
	src := addSource(t, store, "a", strings.Repeat("a", 140)+strings.Repeat("b", 200))

	facts, err := p.Extract(context.Background(), "s1", "q", []models.Source{src})
	require.NoError(t, err)
	assert.Empty(t, facts)
	assert.Contains(t, seen, strings.Repeat("a", 140)+strings.Repeat("b", 10))
	assert.NotContains(t, seen, strings.Repeat("b", 11))
}

func TestCrossVerify(t *testing.T) {
	p, store, _ := newTestPipeline(t, llm.GeneratorFunc(func(context.Context, string, int) (string, error) { return "", nil }))

	statement := "Graphene conducts electricity better than copper"
	sources := []models.Source{
		addSource(t, store, "origin", "Some article. "+statement),
		addSource(t, store, "echo1", statement+"."),
		addSource(t, store, "echo2", "graphene CONDUCTS electricity better than copper!"),
		addSource(t, store, "other", "An unrelated article about medieval castles and their moats."),
	}
	facts := []models.Fact{
		addFact(t, store, "f1", statement, "origin"),
		addFact(t, store, "f2", "Castles were built with thick stone walls", "other"),
	}

	verified, err := p.CrossVerify(context.Background(), "s1", facts, sources)
	require.NoError(t, err)
	assert.Equal(t, 1, verified)

	assert.Equal(t, 3, facts[0].VerificationCount)
	assert.Equal(t, models.FactVerified, facts[0].Status)
	assert.InDelta(t, 0.95, facts[0].Confidence, 1e-9)
	assert.ElementsMatch(t, []string{"origin", "echo1", "echo2"}, facts[0].SourceIDs)

	assert.Equal(t, 1, facts[1].VerificationCount)
	assert.Equal(t, models.FactUnverified, facts[1].Status)
	assert.InDelta(t, 0.65, facts[1].Confidence, 1e-9)

	// A second pass never lowers the count nor duplicates links.
	_, err = p.CrossVerify(context.Background(), "s1", facts, sources)
	require.NoError(t, err)
	assert.Equal(t, 3, facts[0].VerificationCount)

	stored, err := store.GetFact("f1")
	require.NoError(t, err)
	assert.Len(t, stored.SourceIDs, 3)
	assert.Equal(t, models.FactVerified, stored.Status)
}

func TestConfidence(t *testing.T) {
	assert.InDelta(t, 0.65, Confidence(1), 1e-9)
	assert.InDelta(t, 0.8, Confidence(2), 1e-9)
	assert.InDelta(t, 0.95, Confidence(3), 1e-9)
	assert.InDelta(t, 0.95, Confidence(40), 1e-9)
}

func TestDetectContradictions_ParticipantCounts(t *testing.T) {
	gen := llm.GeneratorFunc(func(_ context.Context, prompt string, _ int) (string, error) {
		if strings.Contains(prompt, "had 500 participants") && strings.Contains(prompt, "had 50 participants") {
			return "The statements report different participant counts.", nil
		}
		return "NO", nil
	})
	p, store, rec := newTestPipeline(t, gen)
	addSource(t, store, "src", "body")

	facts := []models.Fact{
		addFact(t, store, "a", "The study had 500 participants", "src"),
		addFact(t, store, "b", "The study had 50 participants", "src"),
		addFact(t, store, "c", "The study was published in 2021", "src"),
	}
	require.NoError(t, store.UpdateFactVerification("a", models.FactVerified, 0.95, 3))
	facts[0].Status = models.FactVerified

	found, err := p.DetectContradictions(context.Background(), "s1", facts)
	require.NoError(t, err)
	assert.Equal(t, 1, found)

	for _, id := range []string{"a", "b"} {
		f, err := store.GetFact(id)
		require.NoError(t, err)
		assert.Equal(t, models.FactContradicted, f.Status, id)
	}
	c, err := store.GetFact("c")
	require.NoError(t, err)
	assert.Equal(t, models.FactUnverified, c.Status)

	records, err := store.ListContradictions("s1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].FactAID)
	assert.Equal(t, "b", records[0].FactBID)
	assert.Equal(t, 1, rec.count(models.EventContradictionDetected))

	// Running again records nothing new.
	found, err = p.DetectContradictions(context.Background(), "s1", facts)
	require.NoError(t, err)
	assert.Equal(t, 0, found)
}

func TestDetectContradictions_BoundedCalls(t *testing.T) {
	var calls int32
	gen := llm.GeneratorFunc(func(context.Context, string, int) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "No.", nil
	})
	p, _, _ := newTestPipeline(t, gen)

	n := 25
	facts := make([]models.Fact, n)
	for i := range facts {
		facts[i] = models.Fact{ID: fmt.Sprintf("f%d", i), Statement: fmt.Sprintf("statement %d", i)}
	}

	found, err := p.DetectContradictions(context.Background(), "s1", facts)
	require.NoError(t, err)
	assert.Zero(t, found)
	assert.Equal(t, int32(9*(n-9)+36), atomic.LoadInt32(&calls))
	assert.LessOrEqual(t, int(atomic.LoadInt32(&calls)), 9*n)
}

func TestIsContradiction(t *testing.T) {
	for _, negative := range []string{"NO", "no", "No.", " NO\n", "\"NO\"", "No, they are compatible.", "**No**", ""} {
		assert.False(t, isContradiction(negative), negative)
	}
	for _, positive := range []string{"Yes, the counts differ.", "The dates conflict.", "Nobody agrees on the count."} {
		assert.True(t, isContradiction(positive), positive)
	}
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("The cat sat.", "the CAT sat"))
	assert.InDelta(t, 0.5, Jaccard("a b", "a c b d"), 1e-9)
	assert.Equal(t, 0.0, Jaccard("", ""))
	assert.Equal(t, 0.0, Jaccard("alpha", "beta"))
}
