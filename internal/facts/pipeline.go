package facts

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/deepresearch/backend/internal/llm"
	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/internal/storage/sqlite"
	"github.com/deepresearch/backend/pkg/logger"
)

const (
	minSourceChars     = 100
	minStatementChars  = 10
	maxStatementChars  = 500
	maxFactsPerSource  = 10
	initialConfidence  = 0.7
	extractParallelism = 3

	DefaultMaxSourceChars = 4000
)

// Emitter records a session event.
type Emitter interface {
	Emit(ctx context.Context, sessionID string, eventType models.EventType, payload map[string]interface{}) error
}

// Pipeline turns source bodies into persisted facts and checks them against
// each other. Generation failures degrade output; store failures are
// returned.
type Pipeline struct {
	store          *sqlite.Client
	gen            llm.Generator
	emitter        Emitter
	maxSourceChars int
}

func NewPipeline(store *sqlite.Client, gen llm.Generator, emitter Emitter, maxSourceChars int) *Pipeline {
	if maxSourceChars <= 0 {
		maxSourceChars = DefaultMaxSourceChars
	}
	return &Pipeline{
		store:          store,
		gen:            gen,
		emitter:        emitter,
		maxSourceChars: maxSourceChars,
	}
}

// Extract asks the generator for candidate statements from every source
// with enough body text and persists the acceptable ones as unverified
// facts. Facts are created in source order.
func (p *Pipeline) Extract(ctx context.Context, sessionID, query string, sources []models.Source) ([]models.Fact, error) {
	candidates := make([][]string, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(extractParallelism)
	for i := range sources {
		src := sources[i]
		if len(src.Content) < minSourceChars {
			continue
		}
		g.Go(func() error {
			prompt := llm.FactExtractionPrompt(query, src.Title, truncate(src.Content, p.maxSourceChars))
			out, err := p.gen.Generate(gctx, prompt, llm.FactTokens)
			if err != nil {
				logger.Warn("Fact extraction failed",
					zap.String("session_id", sessionID),
					zap.String("source_id", src.ID),
					zap.Error(err),
				)
				return nil
			}
			candidates[i] = llm.ParseStringArray(out)
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var facts []models.Fact
	// seen maps a normalised statement to its index in facts.
	seen := make(map[string]int)
	for i, src := range sources {
		kept := 0
		for _, statement := range candidates[i] {
			if kept == maxFactsPerSource {
				break
			}
			statement = strings.Join(strings.Fields(statement), " ")
			n := utf8.RuneCountInString(statement)
			if n < minStatementChars || n > maxStatementChars {
				continue
			}
			key := strings.ToLower(statement)
			if idx, ok := seen[key]; ok {
				// The same statement from another source is support for the
				// existing fact, not a new one.
				if err := p.addSupport(&facts[idx], src.ID); err != nil {
					return facts, err
				}
				continue
			}
			seen[key] = len(facts)

			fact := models.Fact{
				ID:                uuid.New().String(),
				SessionID:         sessionID,
				Statement:         statement,
				Confidence:        initialConfidence,
				Status:            models.FactUnverified,
				VerificationCount: 1,
				SourceIDs:         []string{src.ID},
				CreatedAt:         time.Now(),
			}
			if err := p.store.InsertFact(&fact); err != nil {
				return facts, err
			}
			if err := p.emitter.Emit(ctx, sessionID, models.EventFactExtracted, map[string]interface{}{
				"fact_id":   fact.ID,
				"statement": fact.Statement,
				"source_id": src.ID,
			}); err != nil {
				return facts, err
			}
			metrics.Facts.WithLabelValues("extracted").Inc()
			facts = append(facts, fact)
			kept++
		}
	}

	logger.Info("Facts extracted",
		zap.String("session_id", sessionID),
		zap.Int("sources", len(sources)),
		zap.Int("facts", len(facts)),
	)
	return facts, nil
}

func (p *Pipeline) addSupport(fact *models.Fact, sourceID string) error {
	for _, id := range fact.SourceIDs {
		if id == sourceID {
			return nil
		}
	}
	added, err := p.store.LinkFactSource(fact.ID, sourceID)
	if err != nil {
		return err
	}
	if added {
		fact.SourceIDs = append(fact.SourceIDs, sourceID)
		fact.VerificationCount = len(fact.SourceIDs)
	}
	return nil
}

func truncate(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	return string([]rune(s)[:maxChars])
}
