package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepresearch/backend/internal/storage/models"
)

func (c *Client) InsertKnowledgeNode(node *models.KnowledgeNode) error {
	propsJSON, err := json.Marshal(node.Properties)
	if err != nil {
		return fmt.Errorf("failed to marshal node properties: %w", err)
	}

	_, err = c.db.Exec(
		`INSERT INTO knowledge_nodes (id, session_id, entity, entity_type, properties, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		node.ID,
		node.SessionID,
		node.Entity,
		node.EntityType,
		string(propsJSON),
		node.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge node: %w", err)
	}
	return nil
}

func (c *Client) InsertRelationship(rel *models.Relationship) error {
	_, err := c.db.Exec(
		`INSERT INTO knowledge_relationships (id, session_id, source_id, target_id, relation_type) VALUES (?, ?, ?, ?, ?)`,
		rel.ID,
		rel.SessionID,
		rel.SourceID,
		rel.TargetID,
		rel.Type,
	)
	if err != nil {
		return fmt.Errorf("failed to insert relationship: %w", err)
	}
	return nil
}

// GetKnowledgeGraph returns the session's nodes in creation order, each
// carrying its outgoing relationships.
func (c *Client) GetKnowledgeGraph(sessionID string) ([]models.KnowledgeNode, error) {
	rows, err := c.db.Query(
		`SELECT id, session_id, entity, entity_type, properties, created_at
		FROM knowledge_nodes WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get knowledge nodes: %w", err)
	}

	nodes := []models.KnowledgeNode{}
	index := map[string]int{}
	for rows.Next() {
		var n models.KnowledgeNode
		var entityType, propsJSON sql.NullString
		var createdAt int64

		if err := rows.Scan(&n.ID, &n.SessionID, &n.Entity, &entityType, &propsJSON, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		n.EntityType = entityType.String
		n.CreatedAt = time.Unix(createdAt, 0)
		if propsJSON.Valid && propsJSON.String != "" {
			json.Unmarshal([]byte(propsJSON.String), &n.Properties)
		}
		index[n.ID] = len(nodes)
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate knowledge nodes: %w", err)
	}
	rows.Close()

	rels, err := c.db.Query(
		`SELECT id, session_id, source_id, target_id, relation_type
		FROM knowledge_relationships WHERE session_id = ? ORDER BY rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get relationships: %w", err)
	}
	defer rels.Close()

	for rels.Next() {
		var r models.Relationship
		if err := rels.Scan(&r.ID, &r.SessionID, &r.SourceID, &r.TargetID, &r.Type); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if i, ok := index[r.SourceID]; ok {
			nodes[i].Relationships = append(nodes[i].Relationships, r)
		}
	}

	return nodes, rels.Err()
}
