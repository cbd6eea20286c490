package builder

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/llm"
	"github.com/deepresearch/backend/internal/metrics"
	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/internal/storage/sqlite"
	"github.com/deepresearch/backend/pkg/logger"
)

const (
	maxGraphFacts       = 50
	defaultEntityType   = "concept"
	defaultRelationType = "RELATED_TO"
)

// Mirror receives a copy of every graph the builder persists.
type Mirror interface {
	MirrorGraph(ctx context.Context, sessionID string, nodes []models.KnowledgeNode, relationships []models.Relationship) error
}

type Builder struct {
	db     *sqlite.Client
	gen    llm.Generator
	mirror Mirror
}

// NewBuilder returns a Builder. mirror may be nil.
func NewBuilder(db *sqlite.Client, gen llm.Generator, mirror Mirror) *Builder {
	return &Builder{db: db, gen: gen, mirror: mirror}
}

type Result struct {
	Nodes         []models.KnowledgeNode
	Relationships []models.Relationship
}

// Build extracts entities and relationships from the first 50 facts and
// persists them. Relationships whose endpoints are not among the returned
// entities are dropped. An unusable generation yields an empty graph.
func (b *Builder) Build(ctx context.Context, sessionID, query string, facts []models.Fact) (*Result, error) {
	result := &Result{}
	if len(facts) > maxGraphFacts {
		facts = facts[:maxGraphFacts]
	}
	if len(facts) == 0 {
		return result, nil
	}

	statements := make([]string, len(facts))
	for i, f := range facts {
		statements[i] = f.Statement
	}

	out, err := b.gen.Generate(ctx, llm.KnowledgeGraphPrompt(query, statements), llm.GraphTokens)
	if err != nil {
		logger.Warn("Knowledge graph extraction failed", zap.String("session_id", sessionID), zap.Error(err))
		return result, nil
	}
	doc, ok := llm.ExtractJSON(out)
	if !ok || !doc.IsObject() {
		logger.Warn("Knowledge graph response was not a JSON object", zap.String("session_id", sessionID))
		return result, nil
	}

	now := time.Now()
	byName := make(map[string]string)
	doc.Get("nodes").ForEach(func(_, n gjson.Result) bool {
		name := strings.TrimSpace(n.Get("entity").String())
		if name == "" || byName[entityKey(name)] != "" {
			return true
		}
		node := models.KnowledgeNode{
			ID:         uuid.New().String(),
			SessionID:  sessionID,
			Entity:     name,
			EntityType: orDefault(n.Get("type").String(), defaultEntityType),
			Properties: properties(n.Get("properties")),
			CreatedAt:  now,
		}
		byName[entityKey(name)] = node.ID
		result.Nodes = append(result.Nodes, node)
		return true
	})

	doc.Get("relationships").ForEach(func(_, r gjson.Result) bool {
		sourceID := byName[entityKey(r.Get("source").String())]
		targetID := byName[entityKey(r.Get("target").String())]
		if sourceID == "" || targetID == "" {
			return true
		}
		result.Relationships = append(result.Relationships, models.Relationship{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			SourceID:  sourceID,
			TargetID:  targetID,
			Type:      orDefault(r.Get("type").String(), defaultRelationType),
		})
		return true
	})

	for i := range result.Nodes {
		if err := b.db.InsertKnowledgeNode(&result.Nodes[i]); err != nil {
			return result, err
		}
	}
	for i := range result.Relationships {
		if err := b.db.InsertRelationship(&result.Relationships[i]); err != nil {
			return result, err
		}
	}
	metrics.GraphEntities.Add(float64(len(result.Nodes)))
	metrics.GraphRelationships.Add(float64(len(result.Relationships)))

	if b.mirror != nil && len(result.Nodes) > 0 {
		if err := b.mirror.MirrorGraph(ctx, sessionID, result.Nodes, result.Relationships); err != nil {
			logger.Warn("Failed to mirror knowledge graph", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	logger.Info("Knowledge graph built",
		zap.String("session_id", sessionID),
		zap.Int("facts", len(facts)),
		zap.Int("entities", len(result.Nodes)),
		zap.Int("relationships", len(result.Relationships)),
	)
	return result, nil
}

func entityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func properties(v gjson.Result) map[string]interface{} {
	if !v.IsObject() {
		return nil
	}
	props, _ := v.Value().(map[string]interface{})
	if len(props) == 0 {
		return nil
	}
	return props
}

func orDefault(s, fallback string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return fallback
}
