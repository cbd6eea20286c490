package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/deepresearch/backend/internal/storage/models"
	"github.com/deepresearch/backend/pkg/utils"
)

// InsertFact stores a fact together with its supporting source links. A fact
// without sources is rejected.
func (c *Client) InsertFact(fact *models.Fact) error {
	if len(fact.SourceIDs) == 0 {
		return fmt.Errorf("failed to insert fact %s: no supporting source", fact.ID)
	}

	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO facts (id, session_id, statement, confidence, verification_status, verification_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fact.ID,
		fact.SessionID,
		fact.Statement,
		clamp01(fact.Confidence),
		string(fact.Status),
		fact.VerificationCount,
		fact.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fact: %w", err)
	}

	for _, sourceID := range fact.SourceIDs {
		linked, err := linkFactSource(tx, fact.ID, sourceID)
		if err != nil {
			return err
		}
		if !linked {
			return fmt.Errorf("failed to link fact %s: source %s not in session %s", fact.ID, sourceID, fact.SessionID)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fact: %w", err)
	}
	return nil
}

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// linkFactSource only links sources belonging to the fact's own session.
func linkFactSource(db execer, factID, sourceID string) (bool, error) {
	res, err := db.Exec(
		`INSERT OR IGNORE INTO fact_sources (fact_id, source_id)
		SELECT f.id, s.id FROM facts f JOIN sources s ON s.session_id = f.session_id
		WHERE f.id = ? AND s.id = ?`,
		factID, sourceID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to link fact source: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// LinkFactSource adds a supporting source to a fact. It reports false when the
// link already exists or the source belongs to another session.
func (c *Client) LinkFactSource(factID, sourceID string) (bool, error) {
	return linkFactSource(c.db, factID, sourceID)
}

func (c *Client) UpdateFactVerification(factID string, status models.VerificationStatus, confidence float64, count int) error {
	query := `UPDATE facts SET verification_status = ?, confidence = ?, verification_count = ? WHERE id = ?`

	res, err := c.db.Exec(query, string(status), clamp01(confidence), count, factID)
	if err != nil {
		return fmt.Errorf("failed to update fact verification: %w", err)
	}
	return expectOne(res)
}

func (c *Client) SetFactStatus(factID string, status models.VerificationStatus) error {
	res, err := c.db.Exec(`UPDATE facts SET verification_status = ? WHERE id = ?`, string(status), factID)
	if err != nil {
		return fmt.Errorf("failed to update fact status: %w", err)
	}
	return expectOne(res)
}

func (c *Client) GetFact(id string) (*models.Fact, error) {
	facts, err := c.queryFacts(`SELECT id, session_id, statement, confidence, verification_status, verification_count, created_at
		FROM facts WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(facts) == 0 {
		return nil, ErrNotFound
	}
	return &facts[0], nil
}

// ListFacts returns a session's facts in creation order.
func (c *Client) ListFacts(sessionID string) ([]models.Fact, error) {
	return c.queryFacts(`SELECT id, session_id, statement, confidence, verification_status, verification_count, created_at
		FROM facts WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
}

func (c *Client) TopFactsByConfidence(sessionID string, limit int) ([]models.Fact, error) {
	return c.queryFacts(`SELECT id, session_id, statement, confidence, verification_status, verification_count, created_at
		FROM facts WHERE session_id = ? ORDER BY confidence DESC, rowid ASC LIMIT ?`, sessionID, limit)
}

func (c *Client) queryFacts(query string, args ...interface{}) ([]models.Fact, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get facts: %w", err)
	}

	facts := []models.Fact{}
	index := map[string]int{}
	for rows.Next() {
		var f models.Fact
		var status string
		var createdAt int64

		if err := rows.Scan(&f.ID, &f.SessionID, &f.Statement, &f.Confidence, &status, &f.VerificationCount, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		f.Status = models.VerificationStatus(status)
		f.CreatedAt = time.Unix(createdAt, 0)
		f.SourceIDs = []string{}
		index[f.ID] = len(facts)
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate facts: %w", err)
	}
	rows.Close()

	if len(facts) == 0 {
		return facts, nil
	}

	// The pool holds a single connection, so links are read only after the
	// fact cursor is closed.
	links, err := c.db.Query(
		`SELECT fs.fact_id, fs.source_id FROM fact_sources fs
		JOIN facts f ON f.id = fs.fact_id
		WHERE f.session_id = ? ORDER BY fs.rowid ASC`,
		facts[0].SessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get fact sources: %w", err)
	}
	defer links.Close()

	for links.Next() {
		var factID, sourceID string
		if err := links.Scan(&factID, &sourceID); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if i, ok := index[factID]; ok {
			facts[i].SourceIDs = append(facts[i].SourceIDs, sourceID)
		}
	}

	return facts, links.Err()
}

// InsertContradiction records a contradiction between two facts. A pair is
// stored at most once regardless of argument order; the flag reports whether
// this call wrote it.
func (c *Client) InsertContradiction(ct *models.Contradiction) (bool, error) {
	res, err := c.db.Exec(
		`INSERT OR IGNORE INTO fact_contradictions (id, session_id, fact_a_id, fact_b_id, pair_key, explanation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ct.ID,
		ct.SessionID,
		ct.FactAID,
		ct.FactBID,
		pairKey(ct.FactAID, ct.FactBID),
		ct.Explanation,
		ct.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert contradiction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

func (c *Client) ListContradictions(sessionID string) ([]models.Contradiction, error) {
	rows, err := c.db.Query(
		`SELECT id, session_id, fact_a_id, fact_b_id, explanation, created_at
		FROM fact_contradictions WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get contradictions: %w", err)
	}
	defer rows.Close()

	contradictions := []models.Contradiction{}
	for rows.Next() {
		var ct models.Contradiction
		var explanation sql.NullString
		var createdAt int64
		if err := rows.Scan(&ct.ID, &ct.SessionID, &ct.FactAID, &ct.FactBID, &explanation, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ct.Explanation = explanation.String
		ct.CreatedAt = time.Unix(createdAt, 0)
		contradictions = append(contradictions, ct)
	}

	return contradictions, rows.Err()
}

func (c *Client) InsertFollowUp(q *models.FollowUpQuestion) error {
	_, err := c.db.Exec(
		`INSERT INTO follow_up_questions (id, session_id, question, priority, created_at) VALUES (?, ?, ?, ?, ?)`,
		q.ID, q.SessionID, q.Question, q.Priority, q.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert follow-up question: %w", err)
	}
	return nil
}

func (c *Client) ListFollowUps(sessionID string) ([]models.FollowUpQuestion, error) {
	rows, err := c.db.Query(
		`SELECT id, session_id, question, priority, created_at
		FROM follow_up_questions WHERE session_id = ? ORDER BY priority DESC, rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get follow-up questions: %w", err)
	}
	defer rows.Close()

	questions := []models.FollowUpQuestion{}
	for rows.Next() {
		var q models.FollowUpQuestion
		var createdAt int64
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Question, &q.Priority, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		q.CreatedAt = time.Unix(createdAt, 0)
		questions = append(questions, q)
	}

	return questions, rows.Err()
}

// pairKey is order independent, so (a, b) and (b, a) collide on the unique
// index.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return utils.HashString(a + "|" + b)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
