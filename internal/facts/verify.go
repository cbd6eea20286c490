package facts

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/logger"
)

const (
	supportThreshold  = 0.7
	verifiedThreshold = 3
	maxConfidence     = 0.95
)

// Confidence maps a supporting source count to a fact confidence.
func Confidence(count int) float64 {
	return math.Min(maxConfidence, 0.5+0.15*float64(count))
}

// CrossVerify looks for additional support for every fact in the other
// sources' bodies. A source supports a fact when the word-set Jaccard
// similarity exceeds 0.7. Facts are updated in place and in the store; the
// number of verified facts is returned.
func (p *Pipeline) CrossVerify(ctx context.Context, sessionID string, facts []models.Fact, sources []models.Source) (int, error) {
	bodies := make([]wordSet, len(sources))
	for i, src := range sources {
		bodies[i] = newWordSet(src.Content)
	}

	verified := 0
	for i := range facts {
		if err := ctx.Err(); err != nil {
			return verified, err
		}
		fact := &facts[i]

		linked := make(map[string]bool, len(fact.SourceIDs))
		for _, id := range fact.SourceIDs {
			linked[id] = true
		}
		count := fact.VerificationCount
		if count < len(fact.SourceIDs) {
			count = len(fact.SourceIDs)
		}

		statement := newWordSet(fact.Statement)
		for j, src := range sources {
			if linked[src.ID] || jaccard(statement, bodies[j]) <= supportThreshold {
				continue
			}
			added, err := p.store.LinkFactSource(fact.ID, src.ID)
			if err != nil {
				return verified, err
			}
			linked[src.ID] = true
			if added {
				fact.SourceIDs = append(fact.SourceIDs, src.ID)
				count++
			}
		}

		status := models.FactUnverified
		if count >= verifiedThreshold {
			status = models.FactVerified
		}
		if fact.Status == models.FactContradicted {
			status = models.FactContradicted
		}
		confidence := Confidence(count)

		if err := p.store.UpdateFactVerification(fact.ID, status, confidence, count); err != nil {
			return verified, err
		}
		fact.VerificationCount = count
		fact.Confidence = confidence
		fact.Status = status
		if status == models.FactVerified {
			verified++
			metrics.Facts.WithLabelValues("verified").Inc()
		}
	}

	logger.Info("Facts cross-verified",
		zap.String("session_id", sessionID),
		zap.Int("facts", len(facts)),
		zap.Int("verified", verified),
	)
	return verified, nil
}
