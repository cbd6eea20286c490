package models

import "time"

type SessionStatus string

const (
	StatusResearching  SessionStatus = "researching"
	StatusAnalyzing    SessionStatus = "analyzing"
	StatusSynthesizing SessionStatus = "synthesizing"
	StatusCompleted    SessionStatus = "completed"
	StatusFailed       SessionStatus = "failed"
)

// IsTerminal reports whether no further phase transitions will happen.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type Depth string

const (
	DepthQuick      Depth = "quick"
	DepthStandard   Depth = "standard"
	DepthDeep       Depth = "deep"
	DepthExhaustive Depth = "exhaustive"
)

// MaxSources is the default source budget for a depth.
func (d Depth) MaxSources() int {
	switch d {
	case DepthQuick:
		return 10
	case DepthDeep:
		return 40
	case DepthExhaustive:
		return 100
	default:
		return 20
	}
}

type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

type ResearchConfig struct {
	Depth           Depth           `json:"depth"`
	MaxSources      int             `json:"max_sources"`
	Providers       map[string]bool `json:"providers,omitempty"`
	DateRange       *DateRange      `json:"date_range,omitempty"`
	IncludeDomains  []string        `json:"include_domains,omitempty"`
	ExcludedDomains []string        `json:"excluded_domains,omitempty"`
	CitationStyle   string          `json:"citation_style"`
	ReportFormat    string          `json:"report_format"`
	GenerateReport  bool            `json:"generate_report"`
}

type SessionStats struct {
	SourcesSearched     int     `json:"sources_searched"`
	SourcesUsed         int     `json:"sources_used"`
	FactsExtracted      int     `json:"facts_extracted"`
	FactsVerified       int     `json:"facts_verified"`
	ContradictionsFound int     `json:"contradictions_found"`
	EntitiesFound       int     `json:"entities_found"`
	RelationshipsFound  int     `json:"relationships_found"`
	FollowUps           int     `json:"follow_ups"`
	DurationSeconds     float64 `json:"duration_seconds"`
}

type ResearchSession struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"`
	Query       string         `json:"query"`
	Config      ResearchConfig `json:"config"`
	Status      SessionStatus  `json:"status"`
	Stats       SessionStats   `json:"stats"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

type Credibility struct {
	Authority float64 `json:"authority"`
	Recency   float64 `json:"recency"`
	Bias      float64 `json:"bias"`
	Overall   float64 `json:"overall"`
}

type Source struct {
	ID           string      `json:"id"`
	SessionID    string      `json:"session_id"`
	URL          string      `json:"url"`
	Title        string      `json:"title"`
	Content      string      `json:"content,omitempty"`
	Excerpt      string      `json:"excerpt"`
	Author       string      `json:"author,omitempty"`
	PublishDate  *time.Time  `json:"publish_date,omitempty"`
	Credibility  Credibility `json:"credibility"`
	Provider     string      `json:"provider"`
	SourceType   string      `json:"source_type"`
	QualityScore float64     `json:"quality_score"`
	WordCount    int         `json:"word_count"`
	CreatedAt    time.Time   `json:"created_at"`
}

type VerificationStatus string

const (
	FactUnverified   VerificationStatus = "unverified"
	FactVerified     VerificationStatus = "verified"
	FactContradicted VerificationStatus = "contradicted"
)

type Fact struct {
	ID                string             `json:"id"`
	SessionID         string             `json:"session_id"`
	Statement         string             `json:"statement"`
	Confidence        float64            `json:"confidence"`
	Status            VerificationStatus `json:"verification_status"`
	VerificationCount int                `json:"verification_count"`
	SourceIDs         []string           `json:"source_ids"`
	CreatedAt         time.Time          `json:"created_at"`
}

type Contradiction struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	FactAID     string    `json:"fact_a_id"`
	FactBID     string    `json:"fact_b_id"`
	Explanation string    `json:"explanation"`
	CreatedAt   time.Time `json:"created_at"`
}

type Relationship struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	SourceID  string `json:"source_id"`
	TargetID  string `json:"target_id"`
	Type      string `json:"type"`
}

type KnowledgeNode struct {
	ID            string                 `json:"id"`
	SessionID     string                 `json:"session_id"`
	Entity        string                 `json:"entity"`
	EntityType    string                 `json:"entity_type"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
	Relationships []Relationship         `json:"relationships,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Neighbor is an entity one relationship away from another entity.
type Neighbor struct {
	Entity     string `json:"entity"`
	EntityType string `json:"entity_type"`
	Relation   string `json:"relation"`
	Outgoing   bool   `json:"outgoing"`
}

type FollowUpQuestion struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Question  string    `json:"question"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

type ReportSection struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Citations []int  `json:"citations,omitempty"`
}

type Report struct {
	SessionID     string          `json:"session_id"`
	Title         string          `json:"title"`
	Abstract      string          `json:"abstract"`
	Sections      []ReportSection `json:"sections"`
	KeyFindings   []string        `json:"key_findings"`
	Limitations   []string        `json:"limitations"`
	Bibliography  []string        `json:"bibliography"`
	CitationStyle string          `json:"citation_style"`
	CreatedAt     time.Time       `json:"created_at"`
}

type EventType string

const (
	EventStatusChange          EventType = "status_change"
	EventSourceFound           EventType = "source_found"
	EventFactExtracted         EventType = "fact_extracted"
	EventContradictionDetected EventType = "contradiction_detected"
	EventProgress              EventType = "progress"
)

type Event struct {
	ID        int64                  `json:"id"`
	SessionID string                 `json:"session_id"`
	Type      EventType              `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	CreatedAt time.Time              `json:"created_at"`
}
