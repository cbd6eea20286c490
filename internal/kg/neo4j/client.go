package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/circuitbreaker"
	"github.com/deepresearch/backend/pkg/logger"
	"github.com/deepresearch/backend/pkg/retry"
)

// Client mirrors session knowledge graphs into Neo4j for ad-hoc graph
// queries. SQLite stays authoritative.
type Client struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(uri, username, password, database string) (*Client, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	if database == "" {
		database = "neo4j"
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          20 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j client initialized", zap.String("uri", uri), zap.String("database", database))

	return &Client{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (c *Client) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

func (c *Client) executeWithRetry(ctx context.Context, mode neo4j.AccessMode, operation func(neo4j.SessionWithContext) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database, AccessMode: mode})
			defer session.Close(ctx)
			return operation(session)
		})
	})
}

// MirrorGraph writes a session's nodes and relationships in one
// transaction. Writes are MERGEs keyed by id, so replays are harmless.
func (c *Client) MirrorGraph(ctx context.Context, sessionID string, nodes []models.KnowledgeNode, relationships []models.Relationship) error {
	nodeParams := make([]map[string]interface{}, 0, len(nodes))
	for _, n := range nodes {
		props := "{}"
		if len(n.Properties) > 0 {
			if b, err := json.Marshal(n.Properties); err == nil {
				props = string(b)
			}
		}
		nodeParams = append(nodeParams, map[string]interface{}{
			"id":         n.ID,
			"entity":     n.Entity,
			"type":       n.EntityType,
			"properties": props,
		})
	}

	relParams := make([]map[string]interface{}, 0, len(relationships))
	for _, r := range relationships {
		relParams = append(relParams, map[string]interface{}{
			"id":     r.ID,
			"source": r.SourceID,
			"target": r.TargetID,
			"type":   r.Type,
		})
	}

	err := c.executeWithRetry(ctx, neo4j.AccessModeWrite, func(session neo4j.SessionWithContext) error {
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
			if _, err := tx.Run(ctx, `
				UNWIND $nodes AS n
				MERGE (e:Entity {id: n.id})
				SET e.session_id = $session_id,
				    e.name = n.entity,
				    e.type = n.type,
				    e.properties = n.properties,
				    e.updated_at = timestamp()
			`, map[string]interface{}{"nodes": nodeParams, "session_id": sessionID}); err != nil {
				return nil, fmt.Errorf("failed to merge entities: %w", err)
			}

			if _, err := tx.Run(ctx, `
				UNWIND $rels AS r
				MATCH (s:Entity {id: r.source})
				MATCH (o:Entity {id: r.target})
				MERGE (s)-[rel:RELATES {id: r.id}]->(o)
				SET rel.type = r.type,
				    rel.session_id = $session_id
			`, map[string]interface{}{"rels": relParams, "session_id": sessionID}); err != nil {
				return nil, fmt.Errorf("failed to merge relations: %w", err)
			}
			return nil, nil
		})
		return err
	})
	if err != nil {
		return err
	}

	logger.Debug("Knowledge graph mirrored",
		zap.String("session_id", sessionID),
		zap.Int("entities", len(nodes)),
		zap.Int("relations", len(relationships)),
	)
	return nil
}

// Neighbors returns the entities directly related to entity within a
// session, in either direction.
func (c *Client) Neighbors(ctx context.Context, sessionID, entity string, limit int) ([]models.Neighbor, error) {
	if limit <= 0 {
		limit = 25
	}

	var neighbors []models.Neighbor
	err := c.executeWithRetry(ctx, neo4j.AccessModeRead, func(session neo4j.SessionWithContext) error {
		neighbors = neighbors[:0]
		result, err := session.Run(ctx, `
			MATCH (e:Entity {session_id: $session_id})-[r:RELATES]-(n:Entity)
			WHERE toLower(e.name) = toLower($entity)
			RETURN n.name AS name, n.type AS type, r.type AS relation, startNode(r) = e AS outgoing
			LIMIT $limit
		`, map[string]interface{}{"session_id": sessionID, "entity": entity, "limit": limit})
		if err != nil {
			return fmt.Errorf("failed to query neighbors: %w", err)
		}

		for result.Next(ctx) {
			record := result.Record()
			name, _ := record.Get("name")
			entityType, _ := record.Get("type")
			relation, _ := record.Get("relation")
			outgoing, _ := record.Get("outgoing")

			n := models.Neighbor{}
			n.Entity, _ = name.(string)
			n.EntityType, _ = entityType.(string)
			n.Relation, _ = relation.(string)
			n.Outgoing, _ = outgoing.(bool)
			neighbors = append(neighbors, n)
		}
		if err := result.Err(); err != nil {
			return fmt.Errorf("error iterating results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return neighbors, nil
}
