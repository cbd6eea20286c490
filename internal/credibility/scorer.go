package credibility

import (
	"math"
	"strings"
	"time"

	"github.com/deepresearch/backend/internal/search"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/utils"
)

const (
	authorityWeight = 0.5
	recencyWeight   = 0.25
	biasWeight      = 0.25

	recencyHalfLife = 3 * 365 * 24 * time.Hour
	unknownRecency  = 0.5
	trustedBoost    = 0.15
)

var authorityByType = map[string]float64{
	search.TypeAcademic:     0.85,
	search.TypeEncyclopedia: 0.75,
	search.TypePreprint:     0.7,
	search.TypeNews:         0.65,
	search.TypeWeb:          0.5,
	search.TypeSemantic:     0.5,
	search.TypeForum:        0.4,
}

var biasByType = map[string]float64{
	search.TypeAcademic:     0.1,
	search.TypeEncyclopedia: 0.15,
	search.TypePreprint:     0.2,
	search.TypeNews:         0.35,
	search.TypeWeb:          0.4,
	search.TypeSemantic:     0.4,
	search.TypeForum:        0.5,
}

var trustedSuffixes = []string{".gov", ".edu", ".ac.uk", ".int", ".mil"}

// Scorer turns source metadata into a composite credibility score.
type Scorer struct {
	now func() time.Time
}

func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

func (s *Scorer) Score(rawURL, sourceType string, published *time.Time) models.Credibility {
	c := models.Credibility{
		Authority: Authority(rawURL, sourceType),
		Recency:   Recency(published, s.now()),
		Bias:      Bias(sourceType),
	}
	c.Overall = clamp(authorityWeight*c.Authority + recencyWeight*c.Recency + biasWeight*(1-c.Bias))
	return c
}

// Authority rates the source type, with a boost for institutional domains.
func Authority(rawURL, sourceType string) float64 {
	score, ok := authorityByType[sourceType]
	if !ok {
		score = authorityByType[search.TypeWeb]
	}

	host := utils.Hostname(rawURL)
	for _, suffix := range trustedSuffixes {
		if strings.HasSuffix(host, suffix) {
			score += trustedBoost
			break
		}
	}
	return clamp(score)
}

// Recency halves every three years after publication. Undated sources get
// a neutral score and future dates count as fresh.
func Recency(published *time.Time, now time.Time) float64 {
	if published == nil || published.IsZero() {
		return unknownRecency
	}
	age := now.Sub(*published)
	if age <= 0 {
		return 1
	}
	return clamp(math.Pow(0.5, float64(age)/float64(recencyHalfLife)))
}

func Bias(sourceType string) float64 {
	if b, ok := biasByType[sourceType]; ok {
		return b
	}
	return biasByType[search.TypeWeb]
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
