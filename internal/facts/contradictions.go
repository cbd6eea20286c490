package facts

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/llm"
	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/logger"
)

// contradictionWindow is how many following facts each fact is compared to.
const contradictionWindow = 9

// DetectContradictions compares every fact with the next nine facts. A
// positive judgment is recorded once per pair and marks both facts
// contradicted, overriding verified. Returns the number of new records.
func (p *Pipeline) DetectContradictions(ctx context.Context, sessionID string, facts []models.Fact) (int, error) {
	found := 0
	for i := range facts {
		end := i + 1 + contradictionWindow
		if end > len(facts) {
			end = len(facts)
		}
		for j := i + 1; j < end; j++ {
			if err := ctx.Err(); err != nil {
				return found, err
			}

			out, err := p.gen.Generate(ctx, llm.ContradictionPrompt(facts[i].Statement, facts[j].Statement), llm.ContradictionTokens)
			if err != nil {
				logger.Warn("Contradiction judgment failed",
					zap.String("session_id", sessionID),
					zap.String("fact_a", facts[i].ID),
					zap.String("fact_b", facts[j].ID),
					zap.Error(err),
				)
				continue
			}
			explanation := strings.TrimSpace(out)
			if !isContradiction(explanation) {
				continue
			}

			recorded, err := p.recordContradiction(ctx, sessionID, &facts[i], &facts[j], explanation)
			if err != nil {
				return found, err
			}
			if recorded {
				found++
			}
		}
	}

	logger.Info("Contradiction detection completed",
		zap.String("session_id", sessionID),
		zap.Int("facts", len(facts)),
		zap.Int("contradictions", found),
	)
	return found, nil
}

func (p *Pipeline) recordContradiction(ctx context.Context, sessionID string, a, b *models.Fact, explanation string) (bool, error) {
	ct := &models.Contradiction{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		FactAID:     a.ID,
		FactBID:     b.ID,
		Explanation: explanation,
		CreatedAt:   time.Now(),
	}
	inserted, err := p.store.InsertContradiction(ct)
	if err != nil || !inserted {
		return false, err
	}

	for _, f := range []*models.Fact{a, b} {
		if err := p.store.SetFactStatus(f.ID, models.FactContradicted); err != nil {
			return true, err
		}
		f.Status = models.FactContradicted
	}
	metrics.Contradictions.Inc()

	err = p.emitter.Emit(ctx, sessionID, models.EventContradictionDetected, map[string]interface{}{
		"contradiction_id": ct.ID,
		"fact_a_id":        a.ID,
		"fact_b_id":        b.ID,
		"explanation":      explanation,
	})
	return true, err
}

// isContradiction reads a judgment; a plain "NO", with or without trailing
// punctuation or elaboration, means the statements are compatible.
func isContradiction(verdict string) bool {
	v := strings.ToUpper(strings.Trim(verdict, " \t\n\"'`*.!"))
	if v == "" || v == "NO" {
		return false
	}
	for _, prefix := range []string{"NO,", "NO.", "NO ", "NO\n", "NO;", "NO:"} {
		if strings.HasPrefix(v, prefix) {
			return false
		}
	}
	return true
}
