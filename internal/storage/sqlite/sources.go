package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/logger"
)

const sourceColumns = `id, session_id, url, title, content, excerpt, author, publish_date,
	authority, recency, bias, overall, provider, source_type, quality_score, word_count, created_at`

// InsertSource stores src unless the session already holds a source with the
// same URL. The returned flag reports whether a row was written.
func (c *Client) InsertSource(src *models.Source) (bool, error) {
	query := `INSERT OR IGNORE INTO sources (` + sourceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := c.db.Exec(
		query,
		src.ID,
		src.SessionID,
		src.URL,
		src.Title,
		src.Content,
		src.Excerpt,
		src.Author,
		unixOrNil(src.PublishDate),
		src.Credibility.Authority,
		src.Credibility.Recency,
		src.Credibility.Bias,
		src.Credibility.Overall,
		src.Provider,
		src.SourceType,
		src.QualityScore,
		src.WordCount,
		src.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert source: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if n > 0 {
		logger.Debug("Source inserted", zap.String("session_id", src.SessionID), zap.String("url", src.URL))
	}
	return n > 0, nil
}

func scanSource(row rowScanner) (*models.Source, error) {
	var s models.Source
	var title, content, excerpt, author, provider, sourceType sql.NullString
	var publishDate sql.NullInt64
	var quality sql.NullFloat64
	var wordCount sql.NullInt64
	var createdAt int64

	err := row.Scan(
		&s.ID,
		&s.SessionID,
		&s.URL,
		&title,
		&content,
		&excerpt,
		&author,
		&publishDate,
		&s.Credibility.Authority,
		&s.Credibility.Recency,
		&s.Credibility.Bias,
		&s.Credibility.Overall,
		&provider,
		&sourceType,
		&quality,
		&wordCount,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	s.Title = title.String
	s.Content = content.String
	s.Excerpt = excerpt.String
	s.Author = author.String
	s.PublishDate = timeFromNull(publishDate)
	s.Provider = provider.String
	s.SourceType = sourceType.String
	s.QualityScore = quality.Float64
	s.WordCount = int(wordCount.Int64)
	s.CreatedAt = time.Unix(createdAt, 0)

	return &s, nil
}

func (c *Client) GetSource(id string) (*models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = ?`

	src, err := scanSource(c.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

// ListSources returns a session's sources in insertion order.
func (c *Client) ListSources(sessionID string) ([]models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`
	return c.querySources(query, sessionID)
}

// TopSourcesByCredibility returns up to limit sources ordered by overall
// credibility, highest first.
func (c *Client) TopSourcesByCredibility(sessionID string, limit int) ([]models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE session_id = ?
		ORDER BY overall DESC, rowid ASC LIMIT ?`
	return c.querySources(query, sessionID, limit)
}

func (c *Client) querySources(query string, args ...interface{}) ([]models.Source, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get sources: %w", err)
	}
	defer rows.Close()

	sources := []models.Source{}
	for rows.Next() {
		s, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sources = append(sources, *s)
	}

	return sources, rows.Err()
}
