package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/logger"
)

const sessionColumns = `id, project_id, parent_id, query, config, status, stats, error, created_at, updated_at, completed_at`

func (c *Client) CreateSession(session *models.ResearchSession) error {
	configJSON, err := json.Marshal(session.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal session config: %w", err)
	}
	statsJSON, err := json.Marshal(session.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal session stats: %w", err)
	}

	query := `INSERT INTO research_sessions (` + sessionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = c.db.Exec(
		query,
		session.ID,
		nullString(session.ProjectID),
		nullString(session.ParentID),
		session.Query,
		string(configJSON),
		string(session.Status),
		string(statsJSON),
		nullString(session.Error),
		session.CreatedAt.Unix(),
		session.UpdatedAt.Unix(),
		unixOrNil(session.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert research session: %w", err)
	}

	logger.Info("Research session created",
		zap.String("session_id", session.ID),
		zap.String("query", session.Query),
		zap.String("parent_id", session.ParentID),
	)
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.ResearchSession, error) {
	var s models.ResearchSession
	var projectID, parentID, errMsg sql.NullString
	var configJSON, statsJSON, status string
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	err := row.Scan(
		&s.ID,
		&projectID,
		&parentID,
		&s.Query,
		&configJSON,
		&status,
		&statsJSON,
		&errMsg,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &s.Config); err != nil {
		return nil, fmt.Errorf("failed to decode session config: %w", err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &s.Stats); err != nil {
		return nil, fmt.Errorf("failed to decode session stats: %w", err)
	}

	s.ProjectID = projectID.String
	s.ParentID = parentID.String
	s.Error = errMsg.String
	s.Status = models.SessionStatus(status)
	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	s.CompletedAt = timeFromNull(completedAt)

	return &s, nil
}

func (c *Client) GetSession(id string) (*models.ResearchSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM research_sessions WHERE id = ?`

	session, err := scanSession(c.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get research session: %w", err)
	}
	return session, nil
}

// ListSessions returns the newest sessions first, optionally scoped to a
// project.
func (c *Client) ListSessions(projectID string, limit int) ([]models.ResearchSession, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + sessionColumns + ` FROM research_sessions`
	args := []interface{}{}
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list research sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.ResearchSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sessions = append(sessions, *s)
	}

	return sessions, rows.Err()
}

// ListUnfinishedSessions returns sessions that have not reached a terminal
// status, oldest first.
func (c *Client) ListUnfinishedSessions() ([]models.ResearchSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM research_sessions
		WHERE status NOT IN (?, ?) ORDER BY created_at ASC, rowid ASC`

	rows, err := c.db.Query(query, string(models.StatusCompleted), string(models.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to list unfinished sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.ResearchSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sessions = append(sessions, *s)
	}

	return sessions, rows.Err()
}

func (c *Client) UpdateSessionStatus(id string, status models.SessionStatus) error {
	query := `UPDATE research_sessions SET status = ?, updated_at = ? WHERE id = ?`

	res, err := c.db.Exec(query, string(status), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return expectOne(res)
}

func (c *Client) UpdateSessionStats(id string, stats models.SessionStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal session stats: %w", err)
	}

	query := `UPDATE research_sessions SET stats = ?, updated_at = ? WHERE id = ?`

	res, err := c.db.Exec(query, string(statsJSON), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update session stats: %w", err)
	}
	return expectOne(res)
}

// FinishSession moves a session into a terminal status, recording the final
// stats and, for failures, the error message.
func (c *Client) FinishSession(id string, status models.SessionStatus, stats models.SessionStats, errMsg string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal session stats: %w", err)
	}

	now := time.Now().Unix()
	query := `UPDATE research_sessions SET status = ?, stats = ?, error = ?, updated_at = ?, completed_at = ? WHERE id = ?`

	res, err := c.db.Exec(query, string(status), string(statsJSON), nullString(errMsg), now, now, id)
	if err != nil {
		return fmt.Errorf("failed to finish research session: %w", err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
