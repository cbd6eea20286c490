package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/deepresearch/backend/pkg/logger"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps PRAGMAs and :memory: databases consistent across
	// callers; SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS research_sessions (
		id TEXT PRIMARY KEY,
		project_id TEXT,
		parent_id TEXT,
		query TEXT NOT NULL,
		config TEXT NOT NULL,
		status TEXT NOT NULL,
		stats TEXT NOT NULL,
		error TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_project ON research_sessions(project_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_parent ON research_sessions(parent_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_created ON research_sessions(created_at);

	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT,
		content TEXT,
		excerpt TEXT,
		author TEXT,
		publish_date INTEGER,
		authority REAL NOT NULL,
		recency REAL NOT NULL,
		bias REAL NOT NULL,
		overall REAL NOT NULL,
		provider TEXT,
		source_type TEXT,
		quality_score REAL,
		word_count INTEGER,
		created_at INTEGER NOT NULL,
		UNIQUE (session_id, url),
		FOREIGN KEY (session_id) REFERENCES research_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sources_session ON sources(session_id);
	CREATE INDEX IF NOT EXISTS idx_sources_overall ON sources(session_id, overall);

	CREATE TABLE IF NOT EXISTS facts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		statement TEXT NOT NULL,
		confidence REAL NOT NULL,
		verification_status TEXT NOT NULL,
		verification_count INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES research_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_facts_session ON facts(session_id);
	CREATE INDEX IF NOT EXISTS idx_facts_confidence ON facts(session_id, confidence);

	CREATE TABLE IF NOT EXISTS fact_sources (
		fact_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		PRIMARY KEY (fact_id, source_id),
		FOREIGN KEY (fact_id) REFERENCES facts(id) ON DELETE CASCADE,
		FOREIGN KEY (source_id) REFERENCES sources(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS fact_contradictions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		fact_a_id TEXT NOT NULL,
		fact_b_id TEXT NOT NULL,
		pair_key TEXT NOT NULL UNIQUE,
		explanation TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES research_sessions(id) ON DELETE CASCADE,
		FOREIGN KEY (fact_a_id) REFERENCES facts(id) ON DELETE CASCADE,
		FOREIGN KEY (fact_b_id) REFERENCES facts(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_contradictions_session ON fact_contradictions(session_id);

	CREATE TABLE IF NOT EXISTS knowledge_nodes (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		entity TEXT NOT NULL,
		entity_type TEXT,
		properties TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES research_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_nodes_session ON knowledge_nodes(session_id);

	CREATE TABLE IF NOT EXISTS knowledge_relationships (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		relation_type TEXT NOT NULL,
		FOREIGN KEY (source_id) REFERENCES knowledge_nodes(id) ON DELETE CASCADE,
		FOREIGN KEY (target_id) REFERENCES knowledge_nodes(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_relationships_session ON knowledge_relationships(session_id);

	CREATE TABLE IF NOT EXISTS follow_up_questions (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		question TEXT NOT NULL,
		priority INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES research_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_followups_session ON follow_up_questions(session_id);

	CREATE TABLE IF NOT EXISTS reports (
		session_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		abstract TEXT,
		sections TEXT NOT NULL,
		key_findings TEXT NOT NULL,
		limitations TEXT NOT NULL,
		bibliography TEXT NOT NULL,
		citation_style TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES research_sessions(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS research_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES research_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON research_events(session_id, id);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// Ping is used by the health endpoint.
func (c *Client) Ping() error {
	return c.db.Ping()
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

func timeFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
