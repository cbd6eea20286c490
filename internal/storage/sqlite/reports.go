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

// InsertReport stores the session's report unless one already exists. The
// flag reports whether this call wrote it.
func (c *Client) InsertReport(report *models.Report) (bool, error) {
	sections, err := json.Marshal(report.Sections)
	if err != nil {
		return false, fmt.Errorf("failed to marshal report sections: %w", err)
	}
	findings, _ := json.Marshal(nonNil(report.KeyFindings))
	limitations, _ := json.Marshal(nonNil(report.Limitations))
	bibliography, _ := json.Marshal(nonNil(report.Bibliography))

	res, err := c.db.Exec(
		`INSERT OR IGNORE INTO reports (session_id, title, abstract, sections, key_findings, limitations, bibliography, citation_style, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.SessionID,
		report.Title,
		report.Abstract,
		string(sections),
		string(findings),
		string(limitations),
		string(bibliography),
		report.CitationStyle,
		report.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert report: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n > 0 {
		logger.Info("Report stored", zap.String("session_id", report.SessionID), zap.Int("sections", len(report.Sections)))
	}
	return n > 0, nil
}

func (c *Client) GetReport(sessionID string) (*models.Report, error) {
	var r models.Report
	var abstract sql.NullString
	var sections, findings, limitations, bibliography string
	var createdAt int64

	err := c.db.QueryRow(
		`SELECT session_id, title, abstract, sections, key_findings, limitations, bibliography, citation_style, created_at
		FROM reports WHERE session_id = ?`,
		sessionID,
	).Scan(&r.SessionID, &r.Title, &abstract, &sections, &findings, &limitations, &bibliography, &r.CitationStyle, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	r.Abstract = abstract.String
	r.CreatedAt = time.Unix(createdAt, 0)
	if err := json.Unmarshal([]byte(sections), &r.Sections); err != nil {
		return nil, fmt.Errorf("failed to decode report sections: %w", err)
	}
	json.Unmarshal([]byte(findings), &r.KeyFindings)
	json.Unmarshal([]byte(limitations), &r.Limitations)
	json.Unmarshal([]byte(bibliography), &r.Bibliography)

	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
