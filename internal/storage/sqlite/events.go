package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deepresearch/backend/internal/storage/models"
)

// AppendEvent writes an event and sets its ID to the assigned sequence number.
func (c *Client) AppendEvent(event *models.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	res, err := c.db.Exec(
		`INSERT INTO research_events (session_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.SessionID,
		string(event.Type),
		string(payload),
		event.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read event id: %w", err)
	}
	event.ID = id
	return nil
}

// ListEventsAfter returns up to limit events of a session with an id greater
// than afterID, oldest first.
func (c *Client) ListEventsAfter(sessionID string, afterID int64, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := c.db.Query(
		`SELECT id, session_id, event_type, payload, created_at
		FROM research_events WHERE session_id = ? AND id > ? ORDER BY id ASC LIMIT ?`,
		sessionID, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		var e models.Event
		var eventType string
		var payload sql.NullString
		var createdAt int64

		if err := rows.Scan(&e.ID, &e.SessionID, &eventType, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		e.Type = models.EventType(eventType)
		e.CreatedAt = time.Unix(createdAt, 0)
		if payload.Valid {
			json.Unmarshal([]byte(payload.String), &e.Payload)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}
