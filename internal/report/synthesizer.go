package report

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/deepresearch/backend/internal/llm"
	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/internal/storage/sqlite"
	"github.com/deepresearch/backend/pkg/logger"
)

const (
	reportFacts      = 30
	bibliographySize = 20
	followUpCount    = 5
	degradedFindings = 5
)

var citationRef = regexp.MustCompile(`\[(\d+)\]`)

type Synthesizer struct {
	store *sqlite.Client
	gen   llm.Generator
	group singleflight.Group
}

func NewSynthesizer(store *sqlite.Client, gen llm.Generator) *Synthesizer {
	return &Synthesizer{store: store, gen: gen}
}

// Generate returns the session's report, synthesizing it on first use.
// Concurrent and repeated calls get the same stored report; only the first
// call reaches the generator.
func (s *Synthesizer) Generate(ctx context.Context, sessionID string) (*models.Report, error) {
	v, err, _ := s.group.Do(sessionID, func() (interface{}, error) {
		existing, err := s.store.GetReport(sessionID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, sqlite.ErrNotFound) {
			return nil, err
		}

		session, err := s.store.GetSession(sessionID)
		if err != nil {
			return nil, err
		}
		facts, err := s.store.TopFactsByConfidence(sessionID, reportFacts)
		if err != nil {
			return nil, err
		}
		sources, err := s.store.TopSourcesByCredibility(sessionID, bibliographySize)
		if err != nil {
			return nil, err
		}

		report := s.synthesize(ctx, session, facts)
		report.CitationStyle = NormalizeStyle(session.Config.CitationStyle)
		report.Bibliography = Bibliography(report.CitationStyle, sources)
		report.CreatedAt = time.Now()

		if _, err := s.store.InsertReport(report); err != nil {
			return nil, err
		}
		// Re-read so a report stored by another process wins.
		return s.store.GetReport(sessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate report: %w", err)
	}
	return v.(*models.Report), nil
}

func (s *Synthesizer) synthesize(ctx context.Context, session *models.ResearchSession, facts []models.Fact) *models.Report {
	statements := make([]string, len(facts))
	for i, f := range facts {
		statements[i] = f.Statement
	}

	out, err := s.gen.Generate(ctx, llm.ReportPrompt(session.Query, statements), llm.ReportTokens)
	if err != nil {
		logger.Warn("Report synthesis failed", zap.String("session_id", session.ID), zap.Error(err))
		return degradedReport(session, statements, "Automated synthesis was unavailable.")
	}
	doc, ok := llm.ExtractJSON(out)
	if !ok || !doc.IsObject() {
		logger.Warn("Report response was not a JSON object", zap.String("session_id", session.ID))
		return degradedReport(session, statements, "The synthesis response could not be parsed.")
	}

	report := &models.Report{
		SessionID:   session.ID,
		Title:       strings.TrimSpace(doc.Get("title").String()),
		Abstract:    strings.TrimSpace(doc.Get("abstract").String()),
		KeyFindings: stringList(doc.Get("keyFindings")),
		Limitations: stringList(doc.Get("limitations")),
	}
	if report.Title == "" {
		report.Title = "Research Report: " + session.Query
	}
	doc.Get("sections").ForEach(func(_, sec gjson.Result) bool {
		content := strings.TrimSpace(sec.Get("content").String())
		if content == "" {
			return true
		}
		report.Sections = append(report.Sections, models.ReportSection{
			Title:     strings.TrimSpace(sec.Get("title").String()),
			Content:   content,
			Citations: citations(content, len(statements)),
		})
		return true
	})

	metrics.ReportsGenerated.WithLabelValues("ok").Inc()
	return report
}

// degradedReport lists the strongest facts verbatim when synthesis fails.
func degradedReport(session *models.ResearchSession, statements []string, reason string) *models.Report {
	metrics.ReportsGenerated.WithLabelValues("degraded").Inc()

	var sb strings.Builder
	for i, st := range statements {
		fmt.Fprintf(&sb, "- %s [%d]\n", st, i+1)
	}
	findings := statements
	if len(findings) > degradedFindings {
		findings = findings[:degradedFindings]
	}

	report := &models.Report{
		SessionID:   session.ID,
		Title:       "Research Report: " + session.Query,
		Abstract:    fmt.Sprintf("%d findings were collected for this question. %s", len(statements), reason),
		KeyFindings: append([]string(nil), findings...),
		Limitations: []string{reason + " Findings are listed without synthesis."},
	}
	if len(statements) > 0 {
		report.Sections = []models.ReportSection{{
			Title:     "Findings",
			Content:   strings.TrimRight(sb.String(), "\n"),
			Citations: citations(sb.String(), len(statements)),
		}}
	}
	return report
}

// citations returns the distinct in-range [n] references in content.
func citations(content string, max int) []int {
	seen := map[int]bool{}
	var refs []int
	for _, m := range citationRef.FindAllStringSubmatch(content, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > max || seen[n] {
			continue
		}
		seen[n] = true
		refs = append(refs, n)
	}
	return refs
}

func stringList(v gjson.Result) []string {
	var out []string
	for _, item := range v.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// FollowUps asks for the next research questions given the strongest facts
// and stores up to five, highest priority first.
func (s *Synthesizer) FollowUps(ctx context.Context, session *models.ResearchSession, facts []models.Fact) ([]models.FollowUpQuestion, error) {
	if len(facts) > reportFacts {
		facts = facts[:reportFacts]
	}
	statements := make([]string, len(facts))
	for i, f := range facts {
		statements[i] = f.Statement
	}

	out, err := s.gen.Generate(ctx, llm.FollowUpPrompt(session.Query, statements), llm.FollowUpTokens)
	if err != nil {
		logger.Warn("Follow-up generation failed", zap.String("session_id", session.ID), zap.Error(err))
		return nil, nil
	}

	questions := llm.ParseStringArray(out)
	if len(questions) > followUpCount {
		questions = questions[:followUpCount]
	}

	result := make([]models.FollowUpQuestion, 0, len(questions))
	for i, q := range questions {
		fq := models.FollowUpQuestion{
			ID:        uuid.New().String(),
			SessionID: session.ID,
			Question:  q,
			Priority:  followUpCount - i,
			CreatedAt: time.Now(),
		}
		if err := s.store.InsertFollowUp(&fq); err != nil {
			return result, err
		}
		result = append(result, fq)
	}
	return result, nil
}
